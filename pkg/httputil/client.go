package httputil

import (
	"net/http"
	"time"

	"github.com/matzehuels/panelsync/pkg/buildinfo"
)

// DefaultTimeout bounds a single gateway request.
const DefaultTimeout = 10 * time.Second

// NewClient returns an HTTP client that times out after timeout (or
// [DefaultTimeout] when timeout is not positive) and identifies itself
// with a panelsync User-Agent.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: http.DefaultTransport},
	}
}

// UserAgent is the User-Agent header sent by [NewClient] clients.
func UserAgent() string {
	return "panelsync/" + buildinfo.Version
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", UserAgent())
	return t.base.RoundTrip(req)
}
