package orm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// Query is an immutable query over one class. Builder methods return a new
// Query and never perform I/O; All, Count and First each send exactly one
// request.
//
// Problems found while building (an unknown class, a value that cannot be
// converted, an undeclared field) are kept and returned by the terminal
// operation, still without any request.
type Query struct {
	client   *Client
	model    *schema.Model
	criteria query.Criteria
	err      error
}

// Query starts a query over className.
func (c *Client) Query(className string) Query {
	q := Query{client: c, criteria: query.New(className)}
	q.model, q.err = c.model(className)
	return q
}

func (q Query) with(c query.Criteria) Query {
	q.criteria = c
	return q
}

// Where constrains field to equal v, converted with value.Of. A second
// constraint on the same field replaces the first.
func (q Query) Where(field string, v any) Query {
	val, err := value.Of(v)
	if err != nil {
		if q.err == nil {
			q.err = fmt.Errorf("where %s: %w", field, err)
		}
		return q
	}
	return q.with(q.criteria.Where(field, val))
}

// WhereExists constrains field to be set (present) or unset.
func (q Query) WhereExists(field string, present bool) Query {
	return q.with(q.criteria.WhereExists(field, present))
}

// WhereNear constrains a GeoPoint field to within maxDistance of p, closest
// first. Zero maxDistance means unbounded.
func (q Query) WhereNear(field string, p value.GeoPoint, maxDistance float64, unit value.Unit) Query {
	return q.with(q.criteria.WhereNear(field, p, maxDistance, unit))
}

// WhereWithinBox constrains a GeoPoint field to a box.
func (q Query) WhereWithinBox(field string, southWest, northEast value.GeoPoint) Query {
	return q.with(q.criteria.WhereWithinBox(field, southWest, northEast))
}

// Order appends sort keys ("-field" or "field desc" for descending).
func (q Query) Order(keys ...string) Query { return q.with(q.criteria.Order(keys...)) }

// Limit caps the number of rows.
func (q Query) Limit(n int) Query { return q.with(q.criteria.Limit(n)) }

// Skip skips rows.
func (q Query) Skip(n int) Query { return q.with(q.criteria.Skip(n)) }

// Page selects a 1-based page of Per rows.
func (q Query) Page(n int) Query { return q.with(q.criteria.Page(n)) }

// Per sets the page size (default query.DefaultPer).
func (q Query) Per(n int) Query { return q.with(q.criteria.Per(n)) }

// Include embeds the objects behind pointer fields.
func (q Query) Include(fields ...string) Query { return q.with(q.criteria.Include(fields...)) }

// Keys restricts the returned fields.
func (q Query) Keys(fields ...string) Query { return q.with(q.criteria.Keys(fields...)) }

// Criteria returns the accumulated criteria.
func (q Query) Criteria() query.Criteria { return q.criteria }

// Params returns the query parameters a terminal operation would send.
func (q Query) Params() (url.Values, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	return query.Encode(q.criteria)
}

// check reports building problems. It performs no I/O.
func (q Query) check() error {
	if q.err != nil {
		return q.err
	}
	result := query.Validate(q.criteria, q.model.Readable)
	if result.Valid {
		return nil
	}
	if field, ok := result.FirstUnknown(); ok {
		return &UnknownFieldError{ClassName: q.model.ClassName, Field: field}
	}
	return &InvalidQueryError{ClassName: q.model.ClassName, Problems: result.Problems}
}

// fetch sends c and returns the response object.
func (q Query) fetch(ctx context.Context, c query.Criteria) (value.Object, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	params, err := query.Encode(c)
	if err != nil {
		return nil, err
	}

	req := q.listRequest()
	req.Query = params
	resp, err := q.client.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	obj, ok := resp.(value.Object)
	if !ok {
		return nil, unexpectedResponse(req, "%s: unexpected query response %s", q.model.ClassName, value.TypeName(resp))
	}
	return obj, nil
}

func (q Query) listRequest() transport.Request {
	return q.client.request(http.MethodGet, classPath(q.model))
}

// All runs the query and returns one persisted, clean record per row.
func (q Query) All(ctx context.Context) ([]*Record, error) {
	obj, err := q.fetch(ctx, q.criteria)
	if err != nil {
		return nil, err
	}

	rows, ok := obj["results"].(value.Array)
	if !ok {
		return nil, unexpectedResponse(q.listRequest(), "%s: query response has no results", q.model.ClassName)
	}

	records := make([]*Record, 0, len(rows))
	for i, row := range rows {
		rowObj, ok := row.(value.Object)
		if !ok {
			return nil, unexpectedResponse(q.listRequest(), "%s: results[%d] is %s", q.model.ClassName, i, value.TypeName(row))
		}
		rec := newRecord(q.client, q.model)
		if err := rec.load(rowObj); err != nil {
			return nil, fmt.Errorf("results[%d]: %w", i, err)
		}
		records = append(records, rec)
	}

	q.client.logger.Debug("query",
		"class", q.model.ClassName,
		"results", len(records),
	)
	return records, nil
}

// Count returns the number of matching rows without materializing them.
func (q Query) Count(ctx context.Context) (int, error) {
	obj, err := q.fetch(ctx, q.criteria.CountOnly())
	if err != nil {
		return 0, err
	}

	n, ok := obj["count"].(value.Number)
	if !ok {
		return 0, unexpectedResponse(q.listRequest(), "%s: count response has no count", q.model.ClassName)
	}
	return int(n), nil
}

// First returns the first matching record, or nil and no error when
// nothing matches.
func (q Query) First(ctx context.Context) (*Record, error) {
	records, err := q.with(q.criteria.First()).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}
