package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		token  string
		path   string
		header string
		want   int
	}{
		{name: "disabled when no token", token: "", path: "/v1/runs", header: "", want: http.StatusOK},
		{name: "missing header", token: "secret", path: "/v1/runs", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", token: "secret", path: "/v1/runs", header: "Basic secret", want: http.StatusUnauthorized},
		{name: "wrong token", token: "secret", path: "/v1/runs", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", token: "secret", path: "/v1/runs", header: "Bearer secret", want: http.StatusOK},
		{name: "health exempt", token: "secret", path: "/v1/health", header: "", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := AuthMiddleware(tt.token, next)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
