package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/devserver"
	"github.com/roach88/parsekit/internal/orm"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/testutil"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// Keys are the credentials of the in-process emulator.
var Keys = devserver.Keys{
	ApplicationID: "harness-app",
	RESTAPIKey:    "harness-rest-key",
	MasterKey:     "harness-master-key",
}

// baseURL is never dialed; requests go straight to the emulator handler.
const baseURL = "http://devserver" + devserver.DefaultPrefix

// Harness runs one scenario against a fresh emulator.
type Harness struct {
	store   *devserver.Store
	client  *orm.Client
	tracer  *tracingTransport
	records map[string]*orm.Record
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Object
// ids, session tokens and timestamps are deterministic, so traces are
// identical across runs.
//
// Execution flow:
// 1. Compile the scenario's models
// 2. Start an emulator over an in-memory database
// 3. Execute setup steps, which must succeed
// 4. Execute steps and check their expectations
// 5. Evaluate assertions against the trace and final state
//
// The error is non-nil only when the scenario could not be run at all.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with the emulator and client logging to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	models, err := schema.CompileSource(scenario.Models, scenario.Name+".cue")
	if err != nil {
		return nil, fmt.Errorf("failed to compile models: %w", err)
	}
	registry, err := schema.NewRegistry(models...)
	if err != nil {
		return nil, fmt.Errorf("failed to register models: %w", err)
	}

	st, err := devserver.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewDeterministicClock(time.Time{}, time.Second)
	srv := devserver.New(st, Keys,
		devserver.WithRegistry(registry),
		devserver.WithLogger(logger),
		devserver.WithClock(clock.Now),
		devserver.WithObjectIDs(testutil.NewSequentialIDs("obj").Generate),
		devserver.WithSessionTokens(testutil.NewSequentialIDs("r:session").Generate),
		devserver.WithPasswordCost(bcrypt.MinCost),
	)

	cfg := config.Config{
		ApplicationID: Keys.ApplicationID,
		APIKey:        Keys.RESTAPIKey,
		BaseURL:       baseURL,
	}
	httpTransport, err := transport.NewHTTP(cfg,
		transport.WithHTTPClient(&http.Client{Transport: handlerTransport{handler: srv}}),
		transport.WithLogger(logger),
		transport.WithRequestIDs(testutil.NewSequentialIDs("req").Generate),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	tracer := &tracingTransport{next: httpTransport}
	client, err := orm.NewClient(cfg, registry, orm.WithTransport(tracer), orm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	h := &Harness{
		store:   st,
		client:  client,
		tracer:  tracer,
		records: make(map[string]*orm.Record),
		logger:  logger,
	}

	ctx := context.Background()
	result := NewResult()

	tracer.phase = "setup"
	for i, step := range scenario.Setup {
		tracer.step = i
		if problems := h.runStep(ctx, step); len(problems) > 0 {
			return nil, fmt.Errorf("failed to execute setup: setup[%d] %s: %s", i, step.Op, problems[0])
		}
	}

	tracer.phase = "steps"
	for i, step := range scenario.Steps {
		tracer.step = i
		for _, problem := range h.runStep(ctx, step) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Op, problem))
		}
		h.logger.Debug("step completed", "step", i, "op", step.Op)
	}
	result.Trace = append(result.Trace, tracer.events...)

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// handlerTransport serves requests with an in-process handler.
type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, req)
	return rec.Result(), nil
}

// redacted replaces passwords in the trace.
const redacted = "[redacted]"

// tracingTransport records every request with its outcome.
type tracingTransport struct {
	next   transport.Transport
	seq    int64
	phase  string
	step   int
	events []TraceEvent
}

func (t *tracingTransport) Do(ctx context.Context, req transport.Request) (value.Value, error) {
	resp, err := t.next.Do(ctx, req)

	t.seq++
	event := TraceEvent{
		Seq:    t.seq,
		Phase:  t.phase,
		Step:   t.step,
		Method: req.Method,
		Path:   req.Path,
		Body:   redactBody(req.Body),
		Status: "ok",
	}
	if len(req.Query) > 0 {
		event.Query = make(map[string]string, len(req.Query))
		for k := range req.Query {
			event.Query[k] = req.Query.Get(k)
		}
		if _, ok := event.Query[schema.FieldPassword]; ok {
			event.Query[schema.FieldPassword] = redacted
		}
	}
	if err != nil {
		event.Status = "error"
		var re *transport.RemoteRequestError
		if errors.As(err, &re) {
			event.Code = re.Code
		}
	}
	t.events = append(t.events, event)
	return resp, err
}

func redactBody(body any) any {
	m, ok := body.(map[string]any)
	if !ok {
		return body
	}
	if _, ok := m[schema.FieldPassword]; !ok {
		return body
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	out[schema.FieldPassword] = redacted
	return out
}
