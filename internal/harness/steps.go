package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/parsekit/internal/orm"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// outcome is what a step produced, for checking against its Expect.
type outcome struct {
	record *orm.Record
	count  *int
	found  *bool
	batch  *orm.BatchResult
}

// runStep executes one step and returns the expectations it broke.
func (h *Harness) runStep(ctx context.Context, step Step) []string {
	client := h.client
	if step.Session != "" {
		user, ok := h.records[step.Session]
		if !ok {
			return []string{fmt.Sprintf("unknown record %q", step.Session)}
		}
		client = client.WithSession(user.SessionToken())
	}

	var named *orm.Record
	if step.Record != "" {
		rec, ok := h.records[step.Record]
		if !ok {
			return []string{fmt.Sprintf("unknown record %q", step.Record)}
		}
		named = rec
	}

	before := len(h.tracer.events)
	out := outcome{record: named}
	var err error

	switch step.Op {
	case OpNew:
		var rec *orm.Record
		rec, err = client.New(step.Class)
		if err == nil {
			err = assign(rec, step.Fields)
			h.records[step.As] = rec
			out.record = rec
		}
	case OpSet:
		err = assign(named, step.Fields)
	case OpValid, OpGet:
		// checked by Expect
	case OpSave:
		err = named.Save(ctx)
	case OpDestroy:
		err = named.Destroy(ctx)
	case OpReload:
		err = named.Reload(ctx)
	case OpFind:
		id := step.ID
		if step.IDOf != "" {
			src, ok := h.records[step.IDOf]
			if !ok {
				return []string{fmt.Sprintf("unknown record %q", step.IDOf)}
			}
			id = src.ID()
		}
		out.record, err = client.Find(ctx, step.Class, id)
		h.bind(step.As, out.record)
		out.found = ptr(out.record != nil)
	case OpQuery:
		var q orm.Query
		if q, err = buildQuery(client, step); err == nil {
			var records []*orm.Record
			records, err = q.All(ctx)
			out.count = ptr(len(records))
			out.found = ptr(len(records) > 0)
			for i, rec := range records {
				if step.As != "" {
					h.records[step.As+"."+strconv.Itoa(i)] = rec
				}
			}
			if len(records) > 0 {
				out.record = records[0]
			}
		}
	case OpCount:
		var q orm.Query
		if q, err = buildQuery(client, step); err == nil {
			var n int
			n, err = q.Count(ctx)
			out.count = &n
		}
	case OpFirst:
		var q orm.Query
		if q, err = buildQuery(client, step); err == nil {
			out.record, err = q.First(ctx)
			out.found = ptr(out.record != nil)
			h.bind(step.As, out.record)
		}
	case OpSaveAll, OpDestroyAll:
		records := make([]*orm.Record, len(step.Records))
		for i, name := range step.Records {
			rec, ok := h.records[name]
			if !ok {
				return []string{fmt.Sprintf("unknown record %q", name)}
			}
			records[i] = rec
		}
		var res orm.BatchResult
		if step.Op == OpSaveAll {
			res, err = client.SaveAll(ctx, records...)
		} else {
			res, err = client.DestroyAll(ctx, records...)
		}
		out.batch = &res
	case OpLogin:
		out.record, err = client.Authenticate(ctx, step.Username, step.Password)
		out.found = ptr(out.record != nil)
		h.bind(step.As, out.record)
	default:
		return []string{fmt.Sprintf("unknown op %q", step.Op)}
	}

	return check(step, out, err, len(h.tracer.events)-before)
}

func (h *Harness) bind(name string, rec *orm.Record) {
	if name != "" && rec != nil {
		h.records[name] = rec
	}
}

func ptr[T any](v T) *T { return &v }

// assign sets fields in name order.
func assign(rec *orm.Record, fields map[string]any) error {
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		v, err := toValue(fields[name])
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		if err := rec.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// toValue converts YAML data to a Value. Tagged objects such as
// {__type: GeoPoint, latitude: 1, longitude: 2} decode as in JSON, and
// YAML timestamps become Dates.
func toValue(raw any) (value.Value, error) {
	return value.FromJSON(normalize(raw))
}

func normalize(raw any) any {
	switch v := raw.(type) {
	case time.Time:
		return map[string]any{"__type": value.TypeDate, "iso": value.FormatDate(v)}
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = normalize(elem)
		}
		return out
	default:
		return raw
	}
}

func buildQuery(client *orm.Client, step Step) (orm.Query, error) {
	q := client.Query(step.Class)
	for _, field := range slices.Sorted(maps.Keys(step.Where)) {
		v, err := toValue(step.Where[field])
		if err != nil {
			return q, fmt.Errorf("where %s: %w", field, err)
		}
		q = q.Where(field, v)
	}
	if n := step.Near; n != nil {
		p, err := value.NewGeoPoint(n.Latitude, n.Longitude)
		if err != nil {
			return q, fmt.Errorf("near: %w", err)
		}
		unit, err := value.ParseUnit(n.Unit)
		if err != nil {
			return q, fmt.Errorf("near: %w", err)
		}
		q = q.WhereNear(n.Field, p, n.MaxDistance, unit)
	}
	if len(step.Order) > 0 {
		q = q.Order(step.Order...)
	}
	if step.Limit != nil {
		q = q.Limit(*step.Limit)
	}
	if step.Skip > 0 {
		q = q.Skip(step.Skip)
	}
	return q, nil
}

// errorKind names the class of err for Expect.Error.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, orm.ErrInvalid):
		return "invalid"
	case errors.Is(err, orm.ErrNotFound):
		return "not_found"
	case errors.Is(err, orm.ErrDestroyed):
		return "destroyed"
	case errors.Is(err, orm.ErrNotPersisted):
		return "not_persisted"
	case errors.Is(err, orm.ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, orm.ErrReservedField):
		return "reserved_field"
	case errors.Is(err, orm.ErrUnknownClass):
		return "unknown_class"
	case errors.Is(err, orm.ErrInvalidQuery):
		return "invalid_query"
	}
	var re *transport.RemoteRequestError
	if errors.As(err, &re) {
		return "remote"
	}
	return "error"
}

// check compares a step's outcome with its Expect.
func check(step Step, out outcome, err error, sent int) []string {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	exp := step.Expect
	if exp == nil {
		if err != nil {
			fail("unexpected error: %v", err)
		}
		return problems
	}

	if kind := errorKind(err); kind != exp.Error {
		if err != nil {
			fail("expected error %q, got %q: %v", exp.Error, kind, err)
		} else {
			fail("expected error %q, got success", exp.Error)
		}
		return problems
	}
	if exp.Code != 0 && !transport.HasCode(err, exp.Code) {
		fail("expected code %d, got %v", exp.Code, err)
	}
	if exp.Requests != nil && *exp.Requests != sent {
		fail("expected %d requests, sent %d", *exp.Requests, sent)
	}

	if exp.Count != nil {
		if out.count == nil {
			fail("step has no count")
		} else if *out.count != *exp.Count {
			fail("expected count %d, got %d", *exp.Count, *out.count)
		}
	}
	if exp.Found != nil {
		if out.found == nil {
			fail("step does not find records")
		} else if *out.found != *exp.Found {
			fail("expected found=%t, got %t", *exp.Found, *out.found)
		}
	}

	if exp.Succeeded != nil || exp.Failed != nil {
		problems = append(problems, checkBatch(step, out.batch, exp)...)
	}

	if exp.Valid != nil || exp.Errors != nil || exp.Fields != nil || exp.State != "" || exp.Dirty != nil || exp.HasID != nil {
		if out.record == nil {
			fail("no record to check")
			return problems
		}
		problems = append(problems, checkRecord(out.record, exp)...)
	}
	return problems
}

func checkBatch(step Step, res *orm.BatchResult, exp *Expect) []string {
	if res == nil {
		return []string{"step is not a batch"}
	}

	var problems []string
	if exp.Succeeded != nil && res.Succeeded() != *exp.Succeeded {
		problems = append(problems, fmt.Sprintf("expected %d succeeded, got %d: %v", *exp.Succeeded, res.Succeeded(), res.Err()))
	}
	if exp.Failed != nil {
		failed := []string{}
		for i, err := range res.Errors {
			if err != nil {
				failed = append(failed, step.Records[i])
			}
		}
		if !slices.Equal(failed, exp.Failed) {
			problems = append(problems, fmt.Sprintf("expected failed %v, got %v", exp.Failed, failed))
		}
	}
	return problems
}

func checkRecord(rec *orm.Record, exp *Expect) []string {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if exp.Valid != nil || exp.Errors != nil {
		if valid := rec.Valid(); exp.Valid != nil && valid != *exp.Valid {
			fail("expected valid=%t, got %t (%v)", *exp.Valid, valid, rec.Errors().FullMessages())
		}
		for field, want := range exp.Errors {
			if got := rec.Errors().On(field); !slices.Equal(got, want) {
				fail("errors on %s: expected %q, got %q", field, want, got)
			}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(exp.Fields)) {
		want, err := toValue(exp.Fields[name])
		if err != nil {
			fail("field %s: %v", name, err)
			continue
		}
		got, err := rec.Get(name)
		if err != nil {
			fail("field %s: %v", name, err)
			continue
		}
		if !value.Equal(got, want) {
			fail("field %s: expected %s, got %s", name, describe(want), describe(got))
		}
	}

	if exp.State != "" && rec.State().String() != exp.State {
		fail("expected state %s, got %s", exp.State, rec.State())
	}
	if exp.Dirty != nil {
		want := slices.Sorted(slices.Values(exp.Dirty))
		if got := rec.Dirty(); !slices.Equal(got, want) {
			fail("expected dirty %v, got %v", want, got)
		}
	}
	if exp.HasID != nil && (rec.ID() != "") != *exp.HasID {
		fail("expected has_id=%t, got id %q", *exp.HasID, rec.ID())
	}
	return problems
}

func describe(v value.Value) string {
	data, err := value.Encode(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
