// Package transport signs and sends requests to the REST service.
//
// The HTTP transport is safe for concurrent use: it holds no per-request
// state, and connection pooling is left to the underlying http.Client.
// There are no retries; the caller owns retry policy.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/value"
)

// Version is reported in the User-Agent header.
const Version = "0.1.0"

// Request headers.
const (
	HeaderApplicationID = "X-Parse-Application-Id"
	HeaderAPIKey        = "X-Parse-REST-API-Key"
	HeaderMasterKey     = "X-Parse-Master-Key"
	HeaderSessionToken  = "X-Parse-Session-Token"
	HeaderRequestID     = "X-Parse-Request-Id"
)

// Request is one call to the service.
type Request struct {
	Method string
	// Path is relative to the base URL, e.g. "/classes/Post/abc".
	Path  string
	Query url.Values
	// Body is plain JSON data (value.ToJSON output, maps, slices) or nil.
	Body         any
	SessionToken string
}

// Transport sends a request and returns the decoded body of a 2xx response.
// Failures are *RemoteRequestError.
type Transport interface {
	Do(ctx context.Context, req Request) (value.Value, error)
}

// NewRequestID returns a time-sortable UUIDv7 request id.
func NewRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// HTTP is the Transport used against a real service.
type HTTP struct {
	baseURL       string
	applicationID string
	apiKey        string
	masterKey     string
	userAgent     string

	client       *http.Client
	logger       *slog.Logger
	newRequestID func() string
}

// Option configures an HTTP transport.
type Option func(*HTTP)

// WithHTTPClient replaces the pooled client. The configured timeout is not
// applied to a client passed this way.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTP) { t.client = c }
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *HTTP) { t.logger = l }
}

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(gen func() string) Option {
	return func(t *HTTP) { t.newRequestID = gen }
}

// NewHTTP creates a transport for cfg. Defaults are applied before the
// configuration is validated.
func NewHTTP(cfg config.Config, opts ...Option) (*HTTP, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("transport config: %w", err)
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = cfg.Timeout

	t := &HTTP{
		baseURL:       cfg.BaseURL,
		applicationID: cfg.ApplicationID,
		apiKey:        cfg.APIKey,
		masterKey:     cfg.MasterKey,
		userAgent:     "parsekit/" + Version,
		client:        client,
		logger:        slog.Default(),
		newRequestID:  NewRequestID,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Do implements Transport.
func (t *HTTP) Do(ctx context.Context, req Request) (value.Value, error) {
	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := value.MarshalCanonical(req.Body)
		if err != nil {
			return nil, &RemoteRequestError{
				Method:  req.Method,
				Path:    req.Path,
				Message: fmt.Sprintf("encode request body: %v", err),
				Err:     err,
			}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &RemoteRequestError{Method: req.Method, Path: req.Path, Message: err.Error(), Err: err}
	}

	requestID := t.newRequestID()
	t.sign(httpReq, req, requestID)

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Debug("request failed",
			"method", req.Method,
			"path", req.Path,
			"request_id", requestID,
			"error", err,
		)
		return nil, &RemoteRequestError{Method: req.Method, Path: req.Path, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	t.logger.Debug("request complete",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)
	if err != nil {
		return nil, &RemoteRequestError{
			Method:  req.Method,
			Path:    req.Path,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("read response body: %v", err),
			Err:     err,
		}
	}

	return DecodeResponse(req.Method, req.Path, resp.StatusCode, data)
}

func (t *HTTP) sign(httpReq *http.Request, req Request, requestID string) {
	h := httpReq.Header
	h.Set(HeaderApplicationID, t.applicationID)
	if t.masterKey != "" {
		h.Set(HeaderMasterKey, t.masterKey)
	} else {
		h.Set(HeaderAPIKey, t.apiKey)
	}
	if req.SessionToken != "" {
		h.Set(HeaderSessionToken, req.SessionToken)
	}
	h.Set(HeaderRequestID, requestID)
	h.Set("Accept", "application/json")
	h.Set("User-Agent", t.userAgent)
	if req.Body != nil {
		h.Set("Content-Type", "application/json")
	}
}

// DecodeResponse turns a status and body into a value or a
// *RemoteRequestError. An empty 2xx body decodes as an empty object.
func DecodeResponse(method, path string, status int, data []byte) (value.Value, error) {
	if status < 200 || status > 299 {
		code, message := parseErrorBody(status, data)
		return nil, &RemoteRequestError{
			Method:  method,
			Path:    path,
			Status:  status,
			Code:    code,
			Message: message,
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return value.Object{}, nil
	}
	v, err := value.Decode(data)
	if err != nil {
		return nil, &RemoteRequestError{
			Method:  method,
			Path:    path,
			Status:  status,
			Message: fmt.Sprintf("malformed response body: %v", err),
			Err:     err,
		}
	}
	return v, nil
}

// parseErrorBody extracts {"code": n, "error": "msg"}, falling back to the
// raw body or the status text.
func parseErrorBody(status int, data []byte) (int, string) {
	var body struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Code, body.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return body.Code, msg
	}
	return 0, http.StatusText(status)
}
