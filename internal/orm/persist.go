package orm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// Save validates the record and writes it to the service.
//
//   - New: POST with every attribute; assigns objectId and createdAt.
//   - Persisted with changes: PUT with the changed attributes only;
//     assigns updatedAt.
//   - Persisted without changes: no request, returns nil.
//
// Validation failure returns a *ValidationError without any request. A
// remote failure leaves the record in its previous state with its changes
// still dirty, and is also available from LastError.
func (r *Record) Save(ctx context.Context) error {
	if r.state == StateDestroyed || r.state == StateDestroying {
		return ErrDestroyed
	}
	if !r.Valid() {
		return &ValidationError{ClassName: r.model.ClassName, Errors: r.Errors()}
	}
	if r.state == StatePersisted && !r.IsDirty() {
		return nil
	}

	req := r.saveRequest()
	prev := r.state
	r.state = StateSaving

	resp, err := r.client.transport.Do(ctx, req)
	if err == nil {
		err = r.applySaved(resp, prev == StateNew)
	}
	if err != nil {
		r.state = prev
		r.lastErr = err
		r.client.logger.Debug("save failed",
			"class", r.model.ClassName,
			"object_id", r.objectID,
			"error", err,
		)
		return err
	}

	r.client.logger.Debug("saved",
		"class", r.model.ClassName,
		"object_id", r.objectID,
		"created", prev == StateNew,
	)
	return nil
}

// saveRequest builds the create or update request for the record's
// current state.
func (r *Record) saveRequest() transport.Request {
	if r.state == StateNew {
		req := r.client.request(http.MethodPost, classPath(r.model))
		req.Body = encodeFields(r.attrs, nil)
		return req
	}
	req := r.client.request(http.MethodPut, objectPath(r.model, r.objectID))
	req.Body = encodeFields(r.attrs, r.dirty)
	return req
}

// encodeFields converts attributes to plain JSON data. When only is non-nil
// just those fields are included.
func encodeFields(attrs map[string]value.Value, only map[string]bool) map[string]any {
	body := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if only != nil && !only[k] {
			continue
		}
		body[k] = value.ToJSON(v)
	}
	return body
}

// applySaved records the service's answer to a create or update and marks
// the record persisted and clean. Write-only fields are dropped.
func (r *Record) applySaved(resp value.Value, created bool) error {
	obj, ok := resp.(value.Object)
	if !ok {
		return fmt.Errorf("%s: unexpected save response %s", r.model.ClassName, value.TypeName(resp))
	}

	rf, err := r.parseRemote(obj)
	if err != nil {
		return err
	}
	if created {
		if rf.objectID == "" {
			return fmt.Errorf("%s: create response has no objectId", r.model.ClassName)
		}
		if _, ok := obj[schema.FieldUpdatedAt]; !ok {
			rf.updatedAt = rf.createdAt
		}
	}
	r.assignRemote(rf)

	for name := range r.attrs {
		if r.model.WriteOnly(name) {
			delete(r.attrs, name)
		}
	}
	r.dirty = make(map[string]bool)
	r.state = StatePersisted
	r.lastErr = nil
	return nil
}

// Destroy deletes the record remotely. On success every attribute is
// cleared and later reads return value.Null{}.
func (r *Record) Destroy(ctx context.Context) error {
	switch r.state {
	case StateNew:
		return ErrNotPersisted
	case StateDestroyed, StateDestroying:
		return ErrDestroyed
	}

	prev := r.state
	r.state = StateDestroying
	id := r.objectID

	if _, err := r.client.transport.Do(ctx, r.client.request(http.MethodDelete, objectPath(r.model, id))); err != nil {
		r.state = prev
		r.lastErr = err
		return err
	}

	r.markDestroyed()
	r.client.logger.Debug("destroyed", "class", r.model.ClassName, "object_id", id)
	return nil
}

func (r *Record) markDestroyed() {
	r.clear()
	r.errors = schema.Errors{}
	r.state = StateDestroyed
	r.lastErr = nil
}

// Reload replaces the record's attributes with the service's copy,
// discarding unsaved changes.
func (r *Record) Reload(ctx context.Context) error {
	if r.state != StatePersisted {
		return fmt.Errorf("reload %s: %w", r.model.ClassName, ErrNotPersisted)
	}

	fresh, err := r.client.find(ctx, r.model, r.objectID)
	if err != nil {
		r.lastErr = err
		return err
	}

	r.attrs = fresh.attrs
	r.dirty = fresh.dirty
	r.createdAt = fresh.createdAt
	r.updatedAt = fresh.updatedAt
	r.lastErr = nil
	return nil
}

// Find fetches one object by id. A missing object returns *NotFoundError.
func (c *Client) Find(ctx context.Context, className, objectID string) (*Record, error) {
	m, err := c.model(className)
	if err != nil {
		return nil, err
	}
	return c.find(ctx, m, objectID)
}

func (c *Client) find(ctx context.Context, m *schema.Model, objectID string) (*Record, error) {
	req := c.request(http.MethodGet, objectPath(m, objectID))
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		if transport.IsNotFound(err) {
			return nil, &NotFoundError{ClassName: m.ClassName, ObjectID: objectID, Err: err}
		}
		return nil, err
	}

	obj, ok := resp.(value.Object)
	if !ok {
		return nil, unexpectedResponse(req, "%s %s: unexpected response %s", m.ClassName, objectID, value.TypeName(resp))
	}
	rec := newRecord(c, m)
	if err := rec.load(obj); err != nil {
		return nil, err
	}
	return rec, nil
}
