package orm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// MaxBatchSize is the service's limit on requests per batch. Larger batches
// are sent as sequential chunks.
const MaxBatchSize = 50

// BatchResult holds the per-record outcome of SaveAll or DestroyAll.
// Errors[i] is nil when Records[i] succeeded (or needed no request).
type BatchResult struct {
	Records []*Record
	Errors  []error
}

// Succeeded returns the number of records without an error.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, err := range b.Errors {
		if err == nil {
			n++
		}
	}
	return n
}

// Failed returns the records that have an error.
func (b BatchResult) Failed() []*Record {
	var out []*Record
	for i, err := range b.Errors {
		if err != nil {
			out = append(out, b.Records[i])
		}
	}
	return out
}

// Err aggregates the per-record errors, or returns nil when all succeeded.
func (b BatchResult) Err() error {
	var result *multierror.Error
	for i, err := range b.Errors {
		if err != nil {
			rec := b.Records[i]
			result = multierror.Append(result, fmt.Errorf("%s[%d]: %w", rec.ClassName(), i, err))
		}
	}
	return result.ErrorOrNil()
}

// batchOp is one sub-request tied to the record it came from.
type batchOp struct {
	index   int
	record  *Record
	method  string
	path    string
	body    map[string]any
	created bool
}

// SaveAll saves records with batch requests. Each record is validated
// first; invalid records get a *ValidationError and are not sent, clean
// persisted records are skipped.
//
// The batch response is assumed to hold one entry per sub-request, in
// request order, shaped {"success": {...}} or {"error": {"code": n,
// "error": "msg"}}. Each record is updated from its own entry. A failed
// entry leaves its record unchanged and sets LastError.
//
// When a batch request fails as a whole (transport failure, unreadable
// response) no record of that chunk or later chunks is modified and the
// error is returned.
func (c *Client) SaveAll(ctx context.Context, records ...*Record) (BatchResult, error) {
	result := BatchResult{Records: records, Errors: make([]error, len(records))}

	var ops []batchOp
	for i, r := range records {
		switch {
		case r.state == StateDestroyed:
			result.Errors[i] = ErrDestroyed
			continue
		case !r.Valid():
			result.Errors[i] = &ValidationError{ClassName: r.model.ClassName, Errors: r.Errors()}
			continue
		case r.state == StatePersisted && !r.IsDirty():
			continue
		}

		req := r.saveRequest()
		ops = append(ops, batchOp{
			index:   i,
			record:  r,
			method:  req.Method,
			path:    req.Path,
			body:    req.Body.(map[string]any),
			created: r.state == StateNew,
		})
	}

	err := c.runBatch(ctx, ops, &result, func(op batchOp, success value.Value) error {
		return op.record.applySaved(success, op.created)
	})
	return result, err
}

// DestroyAll deletes records with batch requests. Records never saved get
// ErrNotPersisted, destroyed records get ErrDestroyed; neither is sent.
// Failure handling matches SaveAll.
func (c *Client) DestroyAll(ctx context.Context, records ...*Record) (BatchResult, error) {
	result := BatchResult{Records: records, Errors: make([]error, len(records))}

	var ops []batchOp
	for i, r := range records {
		switch r.state {
		case StateNew:
			result.Errors[i] = ErrNotPersisted
			continue
		case StateDestroyed:
			result.Errors[i] = ErrDestroyed
			continue
		}
		ops = append(ops, batchOp{
			index:  i,
			record: r,
			method: http.MethodDelete,
			path:   objectPath(r.model, r.objectID),
		})
	}

	err := c.runBatch(ctx, ops, &result, func(op batchOp, _ value.Value) error {
		op.record.markDestroyed()
		return nil
	})
	return result, err
}

// runBatch sends ops in chunks of MaxBatchSize and hands each successful
// entry to apply.
func (c *Client) runBatch(ctx context.Context, ops []batchOp, result *BatchResult, apply func(batchOp, value.Value) error) error {
	for start := 0; start < len(ops); start += MaxBatchSize {
		chunk := ops[start:min(start+MaxBatchSize, len(ops))]

		entries, err := c.sendBatch(ctx, chunk)
		if err != nil {
			return err
		}

		for i, op := range chunk {
			if err := c.applyEntry(op, entries[i], apply); err != nil {
				result.Errors[op.index] = err
				op.record.lastErr = err
				c.logger.Warn("batch item failed",
					"class", op.record.model.ClassName,
					"object_id", op.record.objectID,
					"method", op.method,
					"error", err,
				)
			}
		}
	}
	return nil
}

// sendBatch posts one chunk and checks the response has one entry per op.
func (c *Client) sendBatch(ctx context.Context, chunk []batchOp) (value.Array, error) {
	requests := make([]any, len(chunk))
	for i, op := range chunk {
		sub := map[string]any{
			"method": op.method,
			"path":   c.pathPrefix + op.path,
		}
		if op.body != nil {
			sub["body"] = op.body
		}
		requests[i] = sub
	}

	req := c.request(http.MethodPost, "/batch")
	req.Body = map[string]any{"requests": requests}

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	entries, ok := resp.(value.Array)
	if !ok || len(entries) != len(chunk) {
		return nil, &transport.RemoteRequestError{
			Method:  http.MethodPost,
			Path:    "/batch",
			Status:  http.StatusOK,
			Message: fmt.Sprintf("batch response has %s entries for %d requests", describeEntries(resp), len(chunk)),
		}
	}
	return entries, nil
}

func describeEntries(v value.Value) string {
	if arr, ok := v.(value.Array); ok {
		return fmt.Sprintf("%d", len(arr))
	}
	return "no array of"
}

// applyEntry applies one {"success": ...} or {"error": ...} entry.
func (c *Client) applyEntry(op batchOp, entry value.Value, apply func(batchOp, value.Value) error) error {
	obj, ok := entry.(value.Object)
	if !ok {
		return transport.NewServiceError(op.method, op.path, 0, "unreadable batch entry")
	}

	if success, ok := obj["success"]; ok {
		return apply(op, success)
	}

	if failure, ok := obj["error"].(value.Object); ok {
		code, _ := failure["code"].(value.Number)
		message, _ := failure["error"].(value.String)
		return transport.NewServiceError(op.method, op.path, int(code), string(message))
	}
	return transport.NewServiceError(op.method, op.path, 0, "batch entry has neither success nor error")
}
