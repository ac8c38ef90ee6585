package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowedHost(t *testing.T) {
	cases := []struct {
		name    string
		allowed string
		host    string
		want    int
	}{
		{"exact match", "okra.example.org", "okra.example.org", http.StatusOK},
		{"match with port", "okra.example.org", "okra.example.org:8080", http.StatusOK},
		{"case insensitive", "okra.example.org", "OKRA.example.ORG", http.StatusOK},
		{"mismatch", "okra.example.org", "evil.example.org", http.StatusBadRequest},
		{"ipv6 with port", "[::1]", "[::1]:8080", http.StatusOK},
		{"ipv6 bare", "[::1]", "[::1]", http.StatusOK},
		{"ipv6 mismatch", "[::1]", "[::2]:8080", http.StatusBadRequest},
		{"disabled", "", "anything.example.org", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := AllowedHost(tc.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tc.host
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("host %q against %q: expected %d, got %d", tc.host, tc.allowed, tc.want, rec.Code)
			}
		})
	}
}
