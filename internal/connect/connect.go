// Package connect redirects the user agent to an external authorization
// flow and handles the return callback. Nothing in the burn session
// depends on its outcome.
package connect

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrFlowURLMissing is returned when no authorization flow URL is configured.
var ErrFlowURLMissing = errors.New("connect: flow URL missing")

// RedirectURL appends returnUrl=<returnTo> to flowURL, using "&" if the
// URL already has a query and "?" otherwise.
func RedirectURL(flowURL, returnTo string) (string, error) {
	flowURL = strings.TrimSpace(flowURL)
	if flowURL == "" {
		return "", ErrFlowURLMissing
	}
	sep := "?"
	if strings.Contains(flowURL, "?") {
		sep = "&"
	}
	return flowURL + sep + "returnUrl=" + url.QueryEscape(returnTo), nil
}

// ReturnURL derives the app's external origin from the request. The scheme
// comes from X-Forwarded-Proto, defaulting to https, or http for loopback
// hosts.
func ReturnURL(r *http.Request) string {
	proto := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0])
	if proto == "" {
		proto = "https"
		if isLoopback(r.Host) {
			proto = "http"
		}
	}
	return proto + "://" + r.Host
}

func isLoopback(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// StartHandler redirects to the flow URL returned by flowURL. The lookup
// runs per request so env changes are picked up.
func StartHandler(flowURL func() string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target, err := RedirectURL(flowURL(), ReturnURL(r))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "DESCOPE_FLOW_URL missing in environment"})
			return
		}
		log.Debug().Str("target", target).Msg("connect: redirecting to auth flow")
		http.Redirect(w, r, target, http.StatusFound)
	})
}

// CallbackHandler accepts the flow's return and sends the user home.
func CallbackHandler(home string) http.Handler {
	if home == "" {
		home = "/"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, home, http.StatusFound)
	})
}
