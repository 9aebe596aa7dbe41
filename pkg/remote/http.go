package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/httputil"
	"github.com/matzehuels/panelsync/pkg/observability"
	"github.com/matzehuels/panelsync/pkg/panel"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// ClientHeader carries the push origin of the client issuing a request.
const ClientHeader = "X-Panelsync-Client"

// HTTPClient talks to a panelsync server.
type HTTPClient struct {
	base     *url.URL
	http     *http.Client
	attempts int
	delay    time.Duration
	clientID string
}

// HTTPOption configures an [HTTPClient].
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithRetry sets the number of attempts and the initial backoff delay for
// transient failures.
func WithRetry(attempts int, delay time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		h.attempts = max(attempts, 1)
		h.delay = delay
	}
}

// WithClientID stamps requests with the push origin of this client, so a
// server that broadcasts accepted writes does not echo them back to it.
func WithClientID(id string) HTTPOption {
	return func(h *HTTPClient) { h.clientID = id }
}

// NewHTTPClient returns a gateway for the server at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	if err := errors.ValidateURL(baseURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse server url")
	}
	c := &HTTPClient{
		base:     u,
		http:     httputil.NewClient(0),
		attempts: 3,
		delay:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchLayout implements [Gateway].
func (c *HTTPClient) FetchLayout(ctx context.Context, projectID string) (*Layout, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	var doc LayoutDocument
	err := httputil.Retry(ctx, c.attempts, c.delay, func() error {
		doc = LayoutDocument{}
		return c.do(ctx, http.MethodGet, c.layoutPath(projectID), nil, &doc)
	})
	if err != nil {
		return nil, err
	}

	panels, invalid := panel.DecodeAll(doc.Panels)
	if doc.ProjectID == "" {
		doc.ProjectID = projectID
	}
	return &Layout{
		ProjectID:   doc.ProjectID,
		Panels:      panels,
		Invalid:     invalid,
		Width:       doc.Width,
		Height:      doc.Height,
		Scale:       doc.Scale,
		LastUpdated: doc.LastUpdated,
		Revision:    doc.Revision,
	}, nil
}

// PersistLayout implements [Gateway].
func (c *HTTPClient) PersistLayout(ctx context.Context, projectID string, req PersistRequest) (*Ack, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	panels := req.Panels
	if panels == nil {
		panels = []panel.Panel{}
	}
	body, err := json.Marshal(PersistBody{
		Panels:       panels,
		BaseRevision: req.BaseRevision,
		Width:        req.Width,
		Height:       req.Height,
		Scale:        req.Scale,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode layout")
	}

	// A PUT with a base revision is idempotent: a retried request that
	// already landed fails with CONFLICT instead of writing twice.
	var ack AckBody
	err = httputil.Retry(ctx, c.attempts, c.delay, func() error {
		return c.do(ctx, http.MethodPut, c.layoutPath(projectID), body, &ack)
	})
	if err != nil {
		return nil, err
	}
	return &Ack{Revision: ack.Revision, LastUpdated: ack.LastUpdated}, nil
}

func (c *HTTPClient) layoutPath(projectID string) string {
	return "/v1/projects/" + url.PathEscape(projectID) + "/layout"
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, v any) error {
	target := c.base.String() + path

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set(ClientHeader, c.clientID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hooks := observability.HTTP()
	hooks.OnRequest(ctx, method, c.base.Host, path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, method, c.base.Host, path, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(errors.ErrCodeTransport, err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	hooks.OnResponse(ctx, method, c.base.Host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.ErrCodeTransport, err, "decode %s response", path)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	msg := http.StatusText(code)
	var eb ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(data, &eb) == nil && eb.Message != "" {
		msg = eb.Message
	}

	switch {
	case code == http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, "%s", msg)
	case code == http.StatusConflict || code == http.StatusPreconditionFailed:
		return errors.New(errors.ErrCodeConflict, "%s", msg)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return errors.New(errors.ErrCodeValidation, "%s", msg)
	case code >= 500:
		return errors.New(errors.ErrCodeTransport, "status %d: %s", code, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", code, msg)
	}
}
