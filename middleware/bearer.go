package middleware

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/authflow"
)

// BearerTransport attaches the controller's credential to outgoing
// requests. Requests that already carry a bearer credential pass through
// unchanged. Without a credential the request fails with
// authflow.ErrNoSession and is not sent.
type BearerTransport struct {
	Controller *authflow.Controller
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if _, ok := bearerToken(req.Header.Get("Authorization")); ok {
		return base.RoundTrip(req)
	}

	var token string
	if t.Controller != nil {
		token = t.Controller.Token()
	}
	if token == "" {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, authflow.ErrNoSession
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(out)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
