package connect

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedirectURL(t *testing.T) {
	got, err := RedirectURL("https://auth.example/flow", "https://app.example")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/flow?returnUrl=https%3A%2F%2Fapp.example", got)

	got, err = RedirectURL("https://auth.example/flow?project=p1", "http://localhost:8787")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/flow?project=p1&returnUrl=http%3A%2F%2Flocalhost%3A8787", got)

	_, err = RedirectURL("  ", "x")
	assert.ErrorIs(t, err, ErrFlowURLMissing)
}

func TestReturnURL(t *testing.T) {
	tests := []struct {
		host, proto, want string
	}{
		{"app.example", "", "https://app.example"},
		{"app.example", "http", "http://app.example"},
		{"app.example", "https, http", "https://app.example"},
		{"127.0.0.1:8787", "", "http://127.0.0.1:8787"},
		{"localhost:3000", "", "http://localhost:3000"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = tt.host
		if tt.proto != "" {
			r.Header.Set("X-Forwarded-Proto", tt.proto)
		}
		assert.Equal(t, tt.want, ReturnURL(r), tt.host)
	}
}

func TestStartHandler(t *testing.T) {
	h := StartHandler(func() string { return "https://auth.example/flow" })
	r := httptest.NewRequest(http.MethodGet, "/api/connect/start", nil)
	r.Host = "app.example"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://auth.example/flow?returnUrl=https%3A%2F%2Fapp.example", w.Header().Get("Location"))
}

func TestStartHandlerMissingURL(t *testing.T) {
	h := StartHandler(func() string { return "" })
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/connect/start", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "missing")
}

func TestCallbackHandler(t *testing.T) {
	w := httptest.NewRecorder()
	CallbackHandler("").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/connect/callback?code=x", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}
