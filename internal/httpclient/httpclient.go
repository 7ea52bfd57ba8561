// Package httpclient is the capability boundary between the OTA service
// logic and the network: every outbound request to the backend goes
// through a Client, which is either the real net/http implementation or a
// scripted Test client for unit tests.
//
// Grounded in original_source/src/http_client/mod.rs and test_client.rs.
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/otaerr"
)

// Method is the HTTP method of a Request.
type Method int

const (
	Get Method = iota
	Post
	Put
)

func (m Method) String() string {
	switch m {
	case Get:
		return http.MethodGet
	case Post:
		return http.MethodPost
	case Put:
		return http.MethodPut
	default:
		return http.MethodGet
	}
}

// Request is one outbound HTTP call.
type Request struct {
	Method Method
	URL    string
	Body   []byte
}

// Client is the capability used by internal/otaservice to talk to the
// backend. IsTesting lets callers skip real-network assumptions (timeouts,
// retries) in scripted tests.
type Client interface {
	Send(ctx context.Context, req Request) ([]byte, error)
	IsTesting() bool
}

// Real is the production Client, decorating every request with a bearer
// token once Authorize has been called.
type Real struct {
	http *http.Client
}

// NewReal returns a Client with no authorization; requests are sent
// unauthenticated until Authorize is called.
func NewReal() *Real {
	return &Real{http: http.DefaultClient}
}

// Authorize decorates subsequent requests with tok as a bearer token,
// using oauth2's StaticTokenSource/transport instead of hand-rolling the
// Authorization header.
func (r *Real) Authorize(ctx context.Context, tok datatype.AccessToken) {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	})
	r.http = oauth2.NewClient(ctx, src)
}

func (r *Real) Send(ctx context.Context, req Request) ([]byte, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method.String(), req.URL, body)
	if err != nil {
		return nil, otaerr.Client(req.URL, err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return nil, otaerr.Client(req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, otaerr.IO(req.URL, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, otaerr.Authorization(req.URL, nil)
	}
	if resp.StatusCode >= 400 {
		return nil, otaerr.Client(req.URL, nil)
	}

	return data, nil
}

func (r *Real) IsTesting() bool { return false }

// Test is a scripted client for unit tests: each Send pops one reply off
// the end of Replies. An empty stack yields a ClientError, mirroring
// TestHttpClient's fall-through in the original.
type Test struct {
	Replies []string
}

// NewTest returns a Test client that will answer requests, in order
// popped last-first, with replies. Build replies back-to-front relative
// to the calls you expect: the final element is returned first.
func NewTest(replies ...string) *Test {
	return &Test{Replies: append([]string{}, replies...)}
}

func (t *Test) Send(_ context.Context, req Request) ([]byte, error) {
	if len(t.Replies) == 0 {
		return nil, otaerr.Client(req.URL, nil)
	}
	last := len(t.Replies) - 1
	reply := t.Replies[last]
	t.Replies = t.Replies[:last]
	return []byte(reply), nil
}

func (t *Test) IsTesting() bool { return true }
