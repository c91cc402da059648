package orm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// Authenticate logs a user in. Bad credentials return nil and no error;
// only transport and service failures return an error. The returned record
// carries the session token, see Client.WithSession.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Record, error) {
	m, err := c.model(schema.UserClassName)
	if err != nil {
		return nil, err
	}
	if username == "" || password == "" {
		return nil, nil
	}

	req := c.request(http.MethodGet, "/login")
	req.Query = url.Values{
		schema.FieldUsername: {username},
		schema.FieldPassword: {password},
	}

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		if transport.IsNotFound(err) ||
			transport.HasCode(err, transport.CodeUsernameMissing, transport.CodePasswordMissing) {
			c.logger.Debug("authentication rejected", "username", username)
			return nil, nil
		}
		return nil, err
	}

	obj, ok := resp.(value.Object)
	if !ok {
		return nil, unexpectedResponse(req, "login: unexpected response %s", value.TypeName(resp))
	}

	user := newRecord(c, m)
	if err := user.load(obj); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.logger.Debug("authenticated", "username", username, "object_id", user.ID())
	return user, nil
}
