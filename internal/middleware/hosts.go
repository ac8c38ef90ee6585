package middleware

import (
	"net"
	"net/http"
	"strings"
)

// AllowedHost rejects requests whose Host header does not match the
// configured host. An empty host disables the check.
func AllowedHost(host string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if host == "" {
			return next
		}
		want := stripPort(host)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.EqualFold(stripPort(r.Host), want) {
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// stripPort drops a trailing port and IPv6 brackets so that hosts compare
// by name alone.
func stripPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	return strings.Trim(host, "[]")
}
