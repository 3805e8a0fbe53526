// Package appbuilder is the HTTP transport shared by AppBuilder components. It
// owns authentication, request ids and the first two stages of response
// handling: the transport check and the {code, msg, data} envelope check.
package appbuilder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultGateway = "https://appbuilder.baidu.com"

	// ComponentPrefix is the path prefix of the component job endpoints.
	ComponentPrefix = "/api/v1/component/component"
	// CloudHubPrefix is the path prefix of synchronous cloud hub services.
	CloudHubPrefix = "/rpc/2.0/cloud_hub"

	AuthHeader      = "X-Appbuilder-Authorization"
	RequestIDHeader = "X-Appbuilder-Request-Id"
)

const maxResponseBodySize = 1 << 20 // 1MB

const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Sentinel errors for AppBuilder transport failures.
var (
	ErrUnreachable = errors.New("appbuilder unreachable")
	ErrTimeout     = errors.New("appbuilder request timeout")
	ErrHTTPStatus  = errors.New("appbuilder http status error")
	ErrEnvelope    = errors.New("appbuilder envelope error")
)

// HTTPStatusError is returned when the gateway answers with a non-200 status.
type HTTPStatusError struct {
	StatusCode int
	RequestID  string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("requestID=%s: HTTP %d: %s", e.RequestID, e.StatusCode, e.Body)
}

func (e *HTTPStatusError) Unwrap() error { return ErrHTTPStatus }

// EnvelopeError is returned when a 200 response carries a code or msg other
// than 200/"success", or a body that does not decode.
type EnvelopeError struct {
	Code      int
	Msg       string
	RequestID string
	Err       error
}

func (e *EnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("requestID=%s: malformed envelope: %v", e.RequestID, e.Err)
	}
	return fmt.Sprintf("requestID=%s: envelope code=%d msg=%q", e.RequestID, e.Code, e.Msg)
}

func (e *EnvelopeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrEnvelope, e.Err}
	}
	return []error{ErrEnvelope}
}

// Response is a transport-checked gateway response. Body is limited to 1MB.
type Response struct {
	StatusCode int
	RequestID  string
	Body       []byte
}

// Transport is the interface components use to reach the gateway.
type Transport interface {
	PostJSON(ctx context.Context, prefix, path string, body any) (*Response, error)
	PostForm(ctx context.Context, prefix, path string, form url.Values) (*Response, error)
	Get(ctx context.Context, prefix, path string, query url.Values) (*Response, error)
}

// Client implements Transport over net/http with a pooled connection set.
type Client struct {
	gateway string
	token   string
	client  *http.Client
}

// NewClient creates a gateway client. An empty gateway uses DefaultGateway;
// the token gets a "Bearer " prefix when it has none.
func NewClient(gateway, token string, timeout time.Duration) *Client {
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}
	return &Client{
		gateway: strings.TrimRight(gateway, "/"),
		token:   token,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// ServiceURL joins the gateway, a prefix and an endpoint path.
func (c *Client) ServiceURL(prefix, path string) string {
	return c.gateway + prefix + path
}

func (c *Client) PostJSON(ctx context.Context, prefix, path string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServiceURL(prefix, path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) PostForm(ctx context.Context, prefix, path string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServiceURL(prefix, path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) Get(ctx context.Context, prefix, path string, query url.Values) (*Response, error) {
	u := c.ServiceURL(prefix, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	requestID := uuid.NewString()
	c.setHeaders(req, requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(RequestIDHeader); id != "" {
		requestID = id
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, classifyError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, RequestID: requestID, Body: string(body)}
	}

	return &Response{StatusCode: resp.StatusCode, RequestID: requestID, Body: body}, nil
}

func (c *Client) setHeaders(req *http.Request, requestID string) {
	req.Header.Set(AuthHeader, c.token)
	req.Header.Set(RequestIDHeader, requestID)
}

// classifyError maps transport-level errors to sentinel errors. Cancellation
// by the caller is returned as is.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// envelope is the common body of component endpoints.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Envelope success values.
const (
	EnvelopeOK  = 200
	EnvelopeMsg = "success"
)

// DecodeEnvelope checks the {code, msg, data} envelope of resp and decodes data
// into v. v may be nil when only the check matters.
func DecodeEnvelope(resp *Response, v any) error {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return &EnvelopeError{RequestID: resp.RequestID, Err: err}
	}
	if env.Code != EnvelopeOK || env.Msg != EnvelopeMsg {
		return &EnvelopeError{Code: env.Code, Msg: env.Msg, RequestID: resp.RequestID}
	}
	if v == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &EnvelopeError{Code: env.Code, Msg: env.Msg, RequestID: resp.RequestID,
			Err: errors.New("missing data")}
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return &EnvelopeError{Code: env.Code, Msg: env.Msg, RequestID: resp.RequestID, Err: err}
	}
	return nil
}

// Compile-time check that Client implements Transport.
var _ Transport = (*Client)(nil)
