package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

const userClass = schema.UserClassName

// DefaultPrefix is the path the API is mounted under, matching the version
// segment of the hosted service's base URL.
const DefaultPrefix = "/1"

// Keys are the credentials clients must present.
// An empty RESTAPIKey accepts any REST key.
type Keys struct {
	ApplicationID string
	RESTAPIKey    string
	MasterKey     string
}

// Server emulates the REST API over a Store. It implements http.Handler.
type Server struct {
	store    *Store
	keys     Keys
	prefix   string
	registry *schema.Registry
	logger   *slog.Logger

	now             func() time.Time
	newObjectID     func() string
	newSessionToken func() string
	passwordCost    int

	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithPrefix mounts the API under prefix instead of DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Server) { s.prefix = strings.TrimRight(prefix, "/") }
}

// WithRegistry enables type checks of declared fields: writing a value of
// the wrong type fails with code 111. Classes outside the registry stay
// schemaless.
func WithRegistry(r *schema.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock replaces time.Now for createdAt and updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithObjectIDs replaces the object id generator.
func WithObjectIDs(gen func() string) Option {
	return func(s *Server) { s.newObjectID = gen }
}

// WithSessionTokens replaces the session token generator.
func WithSessionTokens(gen func() string) Option {
	return func(s *Server) { s.newSessionToken = gen }
}

// WithPasswordCost sets the bcrypt cost of stored password hashes.
func WithPasswordCost(cost int) Option {
	return func(s *Server) { s.passwordCost = cost }
}

// New creates a server over store.
func New(store *Store, keys Keys, opts ...Option) *Server {
	s := &Server{
		store:           store,
		keys:            keys,
		prefix:          DefaultPrefix,
		logger:          slog.Default(),
		now:             time.Now,
		newObjectID:     randomObjectID,
		newSessionToken: randomSessionToken,
		passwordCost:    bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// randomObjectID returns a 10 character id like the hosted service's.
func randomObjectID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func randomSessionToken() string {
	return "r:" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Prefix returns the path the API is mounted under.
func (s *Server) Prefix() string {
	return s.prefix
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(s.logRequests(), gin.CustomRecoveryWithWriter(io.Discard, s.recovered))

	api := router.Group(s.prefix, s.authenticate())
	api.POST("/classes/:class", s.handleCreate)
	api.GET("/classes/:class", s.handleFind)
	api.GET("/classes/:class/:id", s.handleGet)
	api.PUT("/classes/:class/:id", s.handleUpdate)
	api.DELETE("/classes/:class/:id", s.handleDelete)

	api.POST("/users", s.handleCreate)
	api.GET("/users", s.handleFind)
	api.GET("/users/:id", s.handleGet)
	api.PUT("/users/:id", s.handleUpdate)
	api.DELETE("/users/:id", s.handleDelete)

	api.GET("/login", s.handleLogin)
	api.POST("/batch", s.handleBatch)

	router.NoRoute(func(c *gin.Context) {
		s.fail(c, &apiError{Status: http.StatusNotFound, Message: "unknown route " + c.Request.URL.Path})
	})
	return router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	s.logger.Info("devserver listening", "addr", addr, "prefix", s.prefix)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Wait at most 5 seconds for pending requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("devserver stopped")
	return nil
}

// caller is who sent a request.
type caller struct {
	master bool
	userID string
}

const callerKey = "caller"

func callerOf(c *gin.Context) caller {
	if v, ok := c.Get(callerKey); ok {
		return v.(caller)
	}
	return caller{}
}

// authenticate checks the application id and key headers and resolves the
// session token, if any.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(transport.HeaderApplicationID) != s.keys.ApplicationID {
			s.fail(c, errUnauthorized)
			return
		}

		var who caller
		if key := c.GetHeader(transport.HeaderMasterKey); key != "" {
			if s.keys.MasterKey == "" || key != s.keys.MasterKey {
				s.fail(c, errUnauthorized)
				return
			}
			who.master = true
		} else if s.keys.RESTAPIKey != "" && c.GetHeader(transport.HeaderAPIKey) != s.keys.RESTAPIKey {
			s.fail(c, errUnauthorized)
			return
		}

		if token := c.GetHeader(transport.HeaderSessionToken); token != "" {
			userID, err := s.store.SessionUser(c.Request.Context(), token)
			if errors.Is(err, ErrNoObject) {
				s.fail(c, badRequest(transport.CodeInvalidSessionToken, "invalid session token"))
				return
			}
			if err != nil {
				s.fail(c, err)
				return
			}
			who.userID = userID
		}

		c.Set(callerKey, who)
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"request_id", c.GetHeader(transport.HeaderRequestID),
			"duration", time.Since(start),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("request failed", attrs...)
			return
		}
		s.logger.Debug("request", attrs...)
	}
}

func (s *Server) recovered(c *gin.Context, err any) {
	s.fail(c, internalError(fmt.Errorf("panic: %v", err)))
}

// respond writes v as canonical JSON.
func (s *Server) respond(c *gin.Context, status int, v any) {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}

// fail writes err as an error body and stops the handler chain.
func (s *Server) fail(c *gin.Context, err error) {
	ae := asAPIError(err)
	if ae.Status >= http.StatusInternalServerError {
		s.logger.Error("internal error", "path", c.Request.URL.Path, "error", err)
	}
	data, _ := value.MarshalCanonical(ae.body())
	c.Data(ae.Status, "application/json; charset=utf-8", data)
	c.Abort()
}
