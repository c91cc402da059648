package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is an end-to-end test: models, a sequence of client operations
// with expectations, and assertions on the requests sent and the final
// emulator state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Models is CUE source with a top-level "model" struct, as accepted by
	// schema.CompileSource.
	Models string `yaml:"models"`

	// Setup steps run before Steps. Their requests are traced but they
	// must not fail.
	Setup []Step `yaml:"setup,omitempty"`

	// Steps are the operations under test.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step operations.
const (
	OpNew        = "new"
	OpSet        = "set"
	OpValid      = "valid"
	OpGet        = "get"
	OpSave       = "save"
	OpDestroy    = "destroy"
	OpReload     = "reload"
	OpFind       = "find"
	OpQuery      = "query"
	OpCount      = "count"
	OpFirst      = "first"
	OpSaveAll    = "save_all"
	OpDestroyAll = "destroy_all"
	OpLogin      = "login"
)

var stepOps = map[string]bool{
	OpNew: true, OpSet: true, OpValid: true, OpGet: true, OpSave: true,
	OpDestroy: true, OpReload: true, OpFind: true, OpQuery: true,
	OpCount: true, OpFirst: true, OpSaveAll: true, OpDestroyAll: true,
	OpLogin: true,
}

// Step is one client operation. Records are referred to by the name they
// were bound to with As.
type Step struct {
	Op string `yaml:"op"`

	// As binds the record a step produces (new, find, first, login). For
	// query, the results are bound as "<as>.0", "<as>.1", ...
	As string `yaml:"as,omitempty"`

	// Record names the record a step operates on.
	Record string `yaml:"record,omitempty"`

	// Records names the records of save_all and destroy_all.
	Records []string `yaml:"records,omitempty"`

	Class  string         `yaml:"class,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`

	// ID is the object id for find. IDOf takes it from a named record.
	ID   string `yaml:"id,omitempty"`
	IDOf string `yaml:"id_of,omitempty"`

	// Query criteria for query, count and first.
	Where map[string]any `yaml:"where,omitempty"`
	Near  *Near          `yaml:"near,omitempty"`
	Order []string       `yaml:"order,omitempty"`
	Limit *int           `yaml:"limit,omitempty"`
	Skip  int            `yaml:"skip,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Session names a user record whose session token the step sends.
	Session string `yaml:"session,omitempty"`

	// Expect checks the outcome. Without it the step must not fail.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Near is a $nearSphere criterion.
type Near struct {
	Field       string  `yaml:"field"`
	Latitude    float64 `yaml:"latitude"`
	Longitude   float64 `yaml:"longitude"`
	MaxDistance float64 `yaml:"max_distance,omitempty"`
	Unit        string  `yaml:"unit,omitempty"`
}

// Expect is the expected outcome of a step. Only the set fields are checked.
type Expect struct {
	// Error is the expected failure kind: invalid, not_found, destroyed,
	// not_persisted, unknown_field, reserved_field, unknown_class,
	// invalid_query or remote. Empty means success.
	Error string `yaml:"error,omitempty"`
	// Code is the expected service error code of a remote failure.
	Code int `yaml:"code,omitempty"`

	Valid  *bool               `yaml:"valid,omitempty"`
	Errors map[string][]string `yaml:"errors,omitempty"`

	// Fields are expected record values; null means unset.
	Fields map[string]any `yaml:"fields,omitempty"`
	State  string         `yaml:"state,omitempty"`
	Dirty  []string       `yaml:"dirty,omitempty"`
	HasID  *bool          `yaml:"has_id,omitempty"`

	Count *int  `yaml:"count,omitempty"`
	Found *bool `yaml:"found,omitempty"`

	Succeeded *int     `yaml:"succeeded,omitempty"`
	Failed    []string `yaml:"failed,omitempty"`

	// Requests is the number of requests the step sent.
	Requests *int `yaml:"requests,omitempty"`
}

// Assertion validates the trace or the final emulator state.
type Assertion struct {
	// Type is one of request_contains, request_order, request_count,
	// final_state.
	Type string `yaml:"type"`

	// Method and Path select requests (request_contains, request_count).
	// An empty Method matches any method.
	Method string `yaml:"method,omitempty"`
	Path   string `yaml:"path,omitempty"`

	// Query is matched exactly per parameter (request_contains).
	Query map[string]string `yaml:"query,omitempty"`

	// Body is a subset match on the request body (request_contains).
	Body map[string]any `yaml:"body,omitempty"`

	// Requests is the expected order of "METHOD path" labels
	// (request_order). Other requests may come between them.
	Requests []string `yaml:"requests,omitempty"`

	// Class and Where select stored objects (final_state).
	Class string         `yaml:"class,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset match on the single selected object (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matching requests (request_count) or
	// objects (final_state without expect).
	Count *int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertRequestContains = "request_contains"
	AssertRequestOrder    = "request_order"
	AssertRequestCount    = "request_count"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Models == "" {
		return fmt.Errorf("models is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep("setup", i, step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot have expect", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep("steps", i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(section string, i int, step Step) error {
	if !stepOps[step.Op] {
		return fmt.Errorf("%s[%d]: unknown op %q", section, i, step.Op)
	}
	// Records keep the client they were created or loaded with.
	if step.Session != "" && step.Record != "" {
		return fmt.Errorf("%s[%d]: session cannot be used with record", section, i)
	}

	switch step.Op {
	case OpNew:
		if step.Class == "" || step.As == "" {
			return fmt.Errorf("%s[%d]: new requires class and as", section, i)
		}
	case OpSet:
		if step.Record == "" || len(step.Fields) == 0 {
			return fmt.Errorf("%s[%d]: set requires record and fields", section, i)
		}
	case OpValid, OpGet, OpSave, OpDestroy, OpReload:
		if step.Record == "" {
			return fmt.Errorf("%s[%d]: %s requires record", section, i, step.Op)
		}
	case OpFind:
		if step.Class == "" || (step.ID == "") == (step.IDOf == "") {
			return fmt.Errorf("%s[%d]: find requires class and exactly one of id or id_of", section, i)
		}
	case OpQuery, OpCount, OpFirst:
		if step.Class == "" {
			return fmt.Errorf("%s[%d]: %s requires class", section, i, step.Op)
		}
	case OpSaveAll, OpDestroyAll:
		if len(step.Records) == 0 {
			return fmt.Errorf("%s[%d]: %s requires records", section, i, step.Op)
		}
	case OpLogin:
		if step.Username == "" {
			return fmt.Errorf("%s[%d]: login requires username", section, i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRequestContains:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for request_contains", index)
		}
	case AssertRequestOrder:
		if len(a.Requests) == 0 {
			return fmt.Errorf("assertions[%d]: requests list is required for request_order", index)
		}
	case AssertRequestCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for request_count", index)
		}
	case AssertFinalState:
		if a.Class == "" {
			return fmt.Errorf("assertions[%d]: class is required for final_state", index)
		}
		if len(a.Expect) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: expect or count is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
