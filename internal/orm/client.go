// Package orm maps model records onto the REST service: attribute access,
// validation, queries, persistence, batches and user authentication.
//
// A Client is safe for concurrent use. Records are not: a Record must not be
// mutated or saved from more than one goroutine at a time.
package orm

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/transport"
)

// Client binds a model registry to a transport.
type Client struct {
	registry     *schema.Registry
	transport    transport.Transport
	logger       *slog.Logger
	sessionToken string
	// pathPrefix is the path of the base URL ("/1"), needed for batch
	// sub-request paths.
	pathPrefix string
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the HTTP transport built from the configuration.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLogger sets the client logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the models in registry. Unless a transport
// is supplied, an HTTP transport is built from cfg, which must then be valid.
func NewClient(cfg config.Config, registry *schema.Registry, opts ...Option) (*Client, error) {
	if registry == nil {
		return nil, fmt.Errorf("orm: registry is required")
	}

	cfg = cfg.WithDefaults()
	c := &Client{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if u, err := url.Parse(cfg.BaseURL); err == nil {
		c.pathPrefix = strings.TrimRight(u.Path, "/")
	}

	if c.transport == nil {
		t, err := transport.NewHTTP(cfg, transport.WithLogger(c.logger))
		if err != nil {
			return nil, err
		}
		c.transport = t
	}
	return c, nil
}

// WithSession returns a client that sends token as the session token.
// The receiver is unchanged.
func (c *Client) WithSession(token string) *Client {
	out := *c
	out.sessionToken = token
	return &out
}

// SessionToken returns the session token sent with each request, if any.
func (c *Client) SessionToken() string {
	return c.sessionToken
}

// Registry returns the client's models.
func (c *Client) Registry() *schema.Registry {
	return c.registry
}

func (c *Client) model(className string) (*schema.Model, error) {
	m, ok := c.registry.Lookup(className)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, className)
	}
	return m, nil
}

// New returns an empty, unsaved record of className.
func (c *Client) New(className string) (*Record, error) {
	m, err := c.model(className)
	if err != nil {
		return nil, err
	}
	return newRecord(c, m), nil
}

// classPath returns the collection path for m.
func classPath(m *schema.Model) string {
	if m.IsUser() {
		return "/users"
	}
	return "/classes/" + url.PathEscape(m.ClassName)
}

// objectPath returns the path of one object.
func objectPath(m *schema.Model, objectID string) string {
	return classPath(m) + "/" + url.PathEscape(objectID)
}

func (c *Client) request(method, path string) transport.Request {
	return transport.Request{
		Method:       method,
		Path:         path,
		SessionToken: c.sessionToken,
	}
}

// unexpectedResponse reports a 2xx answer to req whose body has the wrong
// shape. It is a *transport.RemoteRequestError with Code 0.
func unexpectedResponse(req transport.Request, format string, args ...any) error {
	return transport.NewServiceError(req.Method, req.Path, 0, fmt.Sprintf(format, args...))
}
