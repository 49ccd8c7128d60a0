package backend

import (
	"net/http"
	"strings"
)

// unauthenticatedPaths never carry a bearer credential.
var unauthenticatedPaths = []string{"/auth/login", "/auth/signup"}

// BearerTransport sets "Authorization: Bearer <token>" on outgoing requests
// that do not already carry an Authorization header.
type BearerTransport struct {
	Base  http.RoundTripper
	Token TokenSource
}

// RoundTrip implements http.RoundTripper.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Token == nil || skipsAuth(req.URL.Path) || req.Header.Get("Authorization") != "" {
		return base.RoundTrip(req)
	}
	token := t.Token()
	if token == "" {
		return base.RoundTrip(req)
	}
	authReq := req.Clone(req.Context())
	authReq.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(authReq)
}

func skipsAuth(path string) bool {
	for _, p := range unauthenticatedPaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}
