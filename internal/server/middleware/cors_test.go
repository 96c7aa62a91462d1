package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/marketsync/internal/server/middleware"
)

func TestCORS(t *testing.T) {
	testCases := []struct {
		name        string
		origins     []string
		method      string
		headers     map[string]string
		wantStatus  int
		wantOrigin  string
		wantMethods string
		wantNext    bool
	}{
		{
			name:       "no origin passes through",
			origins:    []string{"http://localhost:5173"},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "allowed origin",
			origins:    []string{"http://localhost:5173/"},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "http://localhost:5173"},
			wantStatus: http.StatusOK,
			wantOrigin: "http://localhost:5173",
			wantNext:   true,
		},
		{
			name:       "other origin gets no grant",
			origins:    []string{"http://localhost:5173"},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "http://evil.test"},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:    "preflight",
			origins: nil,
			method:  http.MethodOptions,
			headers: map[string]string{
				"Origin":                        "http://app.test",
				"Access-Control-Request-Method": "POST",
			},
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "http://app.test",
			wantMethods: "GET, POST, OPTIONS",
		},
		{
			name:    "preflight from other origin",
			origins: []string{"http://localhost:5173"},
			method:  http.MethodOptions,
			headers: map[string]string{
				"Origin":                        "http://evil.test",
				"Access-Control-Request-Method": "POST",
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name:    "websocket from other origin",
			origins: []string{"http://localhost:5173"},
			method:  http.MethodGet,
			headers: map[string]string{
				"Origin":     "http://evil.test",
				"Connection": "Upgrade",
				"Upgrade":    "websocket",
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name:    "websocket with wildcard",
			origins: []string{"*"},
			method:  http.MethodGet,
			headers: map[string]string{
				"Origin":  "http://evil.test",
				"Upgrade": "websocket",
			},
			wantStatus: http.StatusOK,
			wantOrigin: "http://evil.test",
			wantNext:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})
			h := middleware.CORS(tc.origins)(next)

			req := httptest.NewRequest(tc.method, "/api/orders", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantNext, called)
			assert.Equal(t, tc.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tc.wantMethods, rec.Header().Get("Access-Control-Allow-Methods"))
			if tc.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), middleware.RequestIDHeader)
			}
		})
	}
}
