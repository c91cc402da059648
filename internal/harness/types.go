package harness

// TraceEvent is one request the client sent during a scenario, with its
// outcome.
type TraceEvent struct {
	Seq int64 `json:"seq"`
	// Phase is "setup" or "steps"; Step indexes into it.
	Phase  string            `json:"phase"`
	Step   int               `json:"step"`
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query,omitempty"`
	Body   any               `json:"body,omitempty"`

	// Status is "ok" or "error".
	Status string `json:"status"`
	// Code is the service error code of a failed request.
	Code int `json:"code,omitempty"`
}

// Label returns "METHOD path", the form used by request_order.
func (e TraceEvent) Label() string {
	return e.Method + " " + e.Path
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every request in the order it was sent.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
