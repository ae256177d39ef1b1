package daemon

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/theirongolddev/furnace/internal/burn"
	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/notify"
)

func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	return body
}

// outcomeAlreadyActive reports a mutation refused because another run
// holds the slot.
const outcomeAlreadyActive = "already_active"

// handleSave replaces the slot. Bad fields are coerced to zero values
// rather than rejected; the timestamp is always server time. While the
// daemon's own run is active, snapshots of any other active run are refused.
func (s *Service) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	snap := coerceSnapshot(readBody(r))
	if own := s.controller.Session(); own.Status == burn.Active && snap.Active && snap.SessionID != own.ID {
		log.Info().Str("holder", own.ID).Str("session", snap.SessionID).Msg("save refused: daemon run is active")
		writeError(w, http.StatusConflict, outcomeAlreadyActive)
		return
	}
	if err := s.Publish(r.Context(), snap); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Service) handleLatest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	snap, err := s.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func coerceSnapshot(body []byte) model.Snapshot {
	res := gjson.ParseBytes(body)

	snap := model.ZeroSnapshot()
	snap.SessionID = res.Get("session_id").String()
	snap.Burned = res.Get("burned").Float()
	snap.Remaining = res.Get("remaining").Float()
	snap.Budget = res.Get("budget").Float()
	snap.Balance = res.Get("balance").Float()
	snap.PercentUsed = int(res.Get("percent_used").Int())
	snap.OverBudget = res.Get("over_budget").Bool()
	snap.Status = res.Get("status").String()
	snap.Active = res.Get("active").Bool()
	snap.Model = res.Get("model").String()
	snap.Action = res.Get("action").String()
	snap.TS = time.Now().UnixMilli()

	if results := res.Get("results"); results.IsArray() {
		results.ForEach(func(_, v gjson.Result) bool {
			snap.Results = append(snap.Results, coerceResult(v))
			return true
		})
	}
	if steps := res.Get("steps"); steps.IsArray() {
		steps.ForEach(func(_, v gjson.Result) bool {
			snap.Steps = append(snap.Steps, v.Float())
			return true
		})
	}
	return snap.Sanitize()
}

func coerceResult(v gjson.Result) model.Result {
	r := model.Result{
		I:                int(v.Get("i").Int()),
		Cost:             v.Get("cost").Float(),
		Info:             v.Get("info").String(),
		Model:            v.Get("model").String(),
		PromptTokens:     v.Get("prompt_tokens").Int(),
		CompletionTokens: v.Get("completion_tokens").Int(),
		Manual:           v.Get("manual").Bool(),
	}
	if ts, err := time.Parse(time.RFC3339Nano, v.Get("ts").String()); err == nil {
		r.TS = ts
	}
	return r
}

func (s *Service) handleSlackPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.slack == nil {
		writeError(w, http.StatusInternalServerError, "Slack env vars missing")
		return
	}

	text := gjson.GetBytes(readBody(r), "text").String()
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "Missing text")
		return
	}

	ts, err := s.slack.Post(r.Context(), text)
	if err != nil {
		writeSlackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": ts})
}

func (s *Service) handleSlackTest(w http.ResponseWriter, r *http.Request) {
	if s.slack == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": notify.ErrMissingConfig.Error()})
		return
	}
	ts, err := s.slack.Post(r.Context(), notify.TestMessage().Text)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ts": ts, "channel": s.slack.Channel()})
}

func writeSlackError(w http.ResponseWriter, err error) {
	var apiErr *notify.APIError
	switch {
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadRequest, apiErr.Code)
	case errors.Is(err, notify.ErrUnauthorized):
		writeError(w, http.StatusBadRequest, "invalid_auth")
	case errors.Is(err, notify.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "ratelimited")
	default:
		writeError(w, http.StatusInternalServerError, "network_error")
	}
}

func (s *Service) registerSessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/session", s.handleSession)
	mux.HandleFunc("/v1/session/start", s.post(s.exclusive(s.handleSessionStart)))
	mux.HandleFunc("/v1/session/add", s.post(s.exclusive(s.handleSessionAdd)))
	mux.HandleFunc("/v1/session/undo", s.post(s.exclusive(s.handleSessionUndo)))
	mux.HandleFunc("/v1/session/finish", s.post(s.exclusive(s.handleSessionFinish)))
	// Reset stays open: it is how a stale run left in the slot is cleared.
	mux.HandleFunc("/v1/session/reset", s.post(s.handleSessionReset))
}

func (s *Service) post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}
		h(w, r)
	}
}

// exclusive refuses the mutation while the slot holds another process's
// active run. The response carries that run's snapshot.
func (s *Service) exclusive(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if held, claimed := s.controller.Claimant(r.Context()); claimed {
			writeJSON(w, http.StatusOK, SessionResponse{Outcome: outcomeAlreadyActive, Snapshot: held})
			return
		}
		h(w, r)
	}
}

// SessionResponse is returned by the session mutation endpoints.
type SessionResponse struct {
	OK       bool           `json:"ok"`
	Outcome  string         `json:"outcome,omitempty"`
	Snapshot model.Snapshot `json:"snapshot"`
}

func (s *Service) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{OK: true, Snapshot: s.controller.Snapshot()})
}

// amountField reads a money field that may be a JSON number or a string
// like "$5.00". Absent fields return ok=false.
func amountField(res gjson.Result, key string) (decimal.Decimal, bool) {
	v := res.Get(key)
	if !v.Exists() {
		return decimal.Zero, false
	}
	return burn.ParseAmount(v.String()), true
}

func (s *Service) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	res := gjson.ParseBytes(readBody(r))
	balance, budget := s.controller.Defaults()
	if v, ok := amountField(res, "balance"); ok {
		balance = v
	}
	if v, ok := amountField(res, "budget"); ok {
		budget = v
	}

	snap, ok := s.controller.Start(r.Context(), balance, budget)
	resp := SessionResponse{OK: ok, Snapshot: snap}
	if !ok {
		resp.Outcome = outcomeAlreadyActive
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleSessionAdd(w http.ResponseWriter, r *http.Request) {
	res := gjson.ParseBytes(readBody(r))
	desc := res.Get("description").String()

	var charge burn.Charge
	if cost, ok := amountField(res, "cost"); ok {
		charge = burn.ManualCharge(cost, desc)
	} else {
		charge = burn.TokenCharge(
			res.Get("model").String(),
			float64(burn.ParseTokens(res.Get("prompt_tokens").String())),
			float64(burn.ParseTokens(res.Get("completion_tokens").String())),
			desc,
		)
	}

	snap, out := s.controller.Add(r.Context(), charge)
	writeJSON(w, http.StatusOK, SessionResponse{OK: out == burn.Accepted, Outcome: out.String(), Snapshot: snap})
}

func (s *Service) handleSessionUndo(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.controller.Undo(r.Context())
	writeJSON(w, http.StatusOK, SessionResponse{OK: ok, Snapshot: snap})
}

func (s *Service) handleSessionFinish(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.controller.Finish(r.Context())
	writeJSON(w, http.StatusOK, SessionResponse{OK: ok, Snapshot: snap})
}

func (s *Service) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	res := gjson.ParseBytes(readBody(r))
	balance, _ := amountField(res, "balance")
	budget, _ := amountField(res, "budget")
	snap := s.controller.Reset(r.Context(), balance, budget)
	writeJSON(w, http.StatusOK, SessionResponse{OK: true, Snapshot: snap})
}
