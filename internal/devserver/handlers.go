package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// maxBatchRequests is the most sub-requests one batch may carry.
const maxBatchRequests = 50

// className returns the class a route addresses; /users routes have none.
func className(c *gin.Context) string {
	if class := c.Param("class"); class != "" {
		return class
	}
	return userClass
}

// readBody decodes a JSON object body. An empty body is an empty object.
func readBody(c *gin.Context) (value.Object, error) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, badRequest(transport.CodeInvalidJSON, "read body: %v", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return value.Object{}, nil
	}
	obj, err := value.DecodeObject(data)
	if err != nil {
		return nil, badRequest(transport.CodeInvalidJSON, "invalid JSON: %v", err)
	}
	return obj, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (s *Server) handleCreate(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.create(c.Request.Context(), className(c), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Location", c.Request.URL.Path+"/"+string(resp["objectId"].(value.String)))
	s.respond(c, http.StatusCreated, resp)
}

func (s *Server) handleGet(c *gin.Context) {
	resp, err := s.get(c.Request.Context(), className(c), c.Param("id"),
		splitList(c.Query(query.ParamInclude)), splitList(c.Query(query.ParamKeys)))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, resp)
}

func (s *Server) handleFind(c *gin.Context) {
	resp, err := s.find(c.Request.Context(), className(c), c.Request.URL.Query())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, resp)
}

func (s *Server) handleUpdate(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.update(c.Request.Context(), callerOf(c), className(c), c.Param("id"), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, resp)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.delete(c.Request.Context(), callerOf(c), className(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, value.Object{})
}

func (s *Server) handleLogin(c *gin.Context) {
	resp, err := s.login(c.Request.Context(), c.Query(schema.FieldUsername), c.Query(schema.FieldPassword))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, resp)
}

// handleBatch runs sub-requests in order and reports one entry per
// sub-request. Sub-requests are independent: a failure does not undo
// earlier ones.
func (s *Server) handleBatch(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	requests, ok := body["requests"].(value.Array)
	if !ok {
		s.fail(c, badRequest(transport.CodeInvalidJSON, "batch body needs a requests array"))
		return
	}
	if len(requests) > maxBatchRequests {
		s.fail(c, badRequest(transport.CodeInvalidJSON, "too many batch requests: %d > %d", len(requests), maxBatchRequests))
		return
	}

	ctx := c.Request.Context()
	who := callerOf(c)
	results := make(value.Array, len(requests))
	for i, raw := range requests {
		resp, err := s.dispatch(ctx, who, raw)
		if err != nil {
			ae := asAPIError(err)
			if ae.Status >= http.StatusInternalServerError {
				s.logger.Error("batch request failed", "index", i, "error", err)
			}
			results[i] = value.Object{"error": value.Object{
				"code":  value.Number(ae.Code),
				"error": value.String(ae.Message),
			}}
			continue
		}
		results[i] = value.Object{"success": resp}
	}
	s.respond(c, http.StatusOK, results)
}

// dispatch runs one batch sub-request. Only writes are supported.
func (s *Server) dispatch(ctx context.Context, who caller, raw value.Value) (value.Object, error) {
	req, ok := raw.(value.Object)
	if !ok {
		return nil, badRequest(transport.CodeInvalidJSON, "batch request must be an object")
	}
	method, _ := req["method"].(value.String)
	path, _ := req["path"].(value.String)
	body, _ := req["body"].(value.Object)
	if body == nil {
		body = value.Object{}
	}

	rest, ok := strings.CutPrefix(string(path), s.prefix+"/")
	if !ok {
		return nil, badRequest(transport.CodeInvalidJSON, "batch path %q is outside %s", path, s.prefix)
	}
	segments := strings.Split(rest, "/")

	var class, id string
	switch {
	case len(segments) == 2 && segments[0] == "classes":
		class = segments[1]
	case len(segments) == 3 && segments[0] == "classes":
		class, id = segments[1], segments[2]
	case len(segments) == 1 && segments[0] == "users":
		class = userClass
	case len(segments) == 2 && segments[0] == "users":
		class, id = userClass, segments[1]
	default:
		return nil, badRequest(transport.CodeInvalidJSON, "unsupported batch path %q", path)
	}
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}

	switch {
	case method == http.MethodPost && id == "":
		return s.create(ctx, class, body)
	case method == http.MethodPut && id != "":
		return s.update(ctx, who, class, id, body)
	case method == http.MethodDelete && id != "":
		if err := s.delete(ctx, who, class, id); err != nil {
			return nil, err
		}
		return value.Object{}, nil
	default:
		return nil, badRequest(transport.CodeInvalidJSON, "unsupported batch method %s %s", method, path)
	}
}

// checkFields rejects bodies with invalid or remote-assigned keys, and
// values of the wrong type for fields declared in the registry.
func (s *Server) checkFields(class string, body value.Object) error {
	var m *schema.Model
	if s.registry != nil {
		m, _ = s.registry.Lookup(class)
	}

	for _, key := range body.SortedKeys() {
		if !keyPattern.MatchString(key) || schema.ReservedFields[key] {
			return badRequest(transport.CodeInvalidKeyName, "invalid field name: %s", key)
		}
		if m == nil {
			continue
		}
		f, declared := m.Field(key)
		if declared && !typeMatches(f.Type, body[key]) {
			return badRequest(transport.CodeIncorrectType,
				"invalid type for key %s, expected %s, but got %s", key, f.Type, value.TypeName(body[key]))
		}
	}
	return nil
}

func typeMatches(t schema.FieldType, v value.Value) bool {
	if value.IsNull(v) {
		return true
	}
	switch t {
	case schema.TypeString:
		_, ok := v.(value.String)
		return ok
	case schema.TypeNumber:
		_, ok := v.(value.Number)
		return ok
	case schema.TypeBoolean:
		_, ok := v.(value.Bool)
		return ok
	case schema.TypeDate:
		_, ok := v.(value.Date)
		return ok
	case schema.TypeGeoPoint:
		_, ok := v.(value.GeoPoint)
		return ok
	case schema.TypeFile:
		_, ok := v.(value.File)
		return ok
	case schema.TypePointer:
		_, ok := v.(value.Pointer)
		return ok
	case schema.TypeArray:
		_, ok := v.(value.Array)
		return ok
	case schema.TypeObject:
		_, ok := v.(value.Object)
		return ok
	default:
		return true
	}
}

func checkClass(class string) error {
	if !keyPattern.MatchString(class) {
		return badRequest(transport.CodeInvalidClassName, "invalid class name: %s", class)
	}
	return nil
}

// create stores a new object. For users it checks credentials, stores the
// password hash outside the object and opens a session.
func (s *Server) create(ctx context.Context, class string, body value.Object) (value.Object, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}

	var password string
	if class == userClass {
		var err error
		if password, err = s.checkSignup(ctx, body); err != nil {
			return nil, err
		}
		delete(body, schema.FieldPassword)
	}
	if err := s.checkFields(class, body); err != nil {
		return nil, err
	}

	now := s.now()
	row := Row{
		ClassName: class,
		ObjectID:  s.newObjectID(),
		Data:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, row); err != nil {
		return nil, err
	}

	resp := value.Object{
		"objectId":  value.String(row.ObjectID),
		"createdAt": value.String(value.FormatDate(now)),
	}
	if class == userClass {
		if err := s.setPassword(ctx, row.ObjectID, password); err != nil {
			return nil, err
		}
		token, err := s.openSession(ctx, row.ObjectID)
		if err != nil {
			return nil, err
		}
		resp[schema.FieldSessionToken] = value.String(token)
	}

	s.logger.Debug("created", "class", class, "object_id", row.ObjectID)
	return resp, nil
}

// checkSignup validates username and password and returns the password.
func (s *Server) checkSignup(ctx context.Context, body value.Object) (string, error) {
	username, _ := body[schema.FieldUsername].(value.String)
	if strings.TrimSpace(string(username)) == "" {
		return "", badRequest(transport.CodeUsernameMissing, "bad or missing username")
	}
	password, _ := body[schema.FieldPassword].(value.String)
	if password == "" {
		return "", badRequest(transport.CodePasswordMissing, "password is required")
	}
	if err := s.checkUsernameFree(ctx, string(username), ""); err != nil {
		return "", err
	}
	return string(password), nil
}

// checkUsernameFree fails with code 202 when another user has username.
func (s *Server) checkUsernameFree(ctx context.Context, username, self string) error {
	existing, err := s.store.FindUser(ctx, username)
	if errors.Is(err, ErrNoObject) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ObjectID == self {
		return nil
	}
	return badRequest(transport.CodeUsernameTaken, "username %s already taken", username)
}

func (s *Server) setPassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return err
	}
	return s.store.SetPasswordHash(ctx, userID, string(hash))
}

func (s *Server) openSession(ctx context.Context, userID string) (string, error) {
	token := s.newSessionToken()
	if err := s.store.CreateSession(ctx, token, userID, s.now()); err != nil {
		return "", err
	}
	return token, nil
}

// get returns one object with pointer fields in include expanded and, when
// keys is non-empty, only those fields.
func (s *Server) get(ctx context.Context, class, id string, include, keys []string) (value.Object, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	row, err := s.store.Get(ctx, class, id)
	if errors.Is(err, ErrNoObject) {
		return nil, notFound("object not found for get")
	}
	if err != nil {
		return nil, err
	}
	return s.present(ctx, row, include, keys)
}

// find runs a query. The response holds "results" and, for count
// queries, "count": the number of matches before skip and limit.
func (s *Server) find(ctx context.Context, class string, params url.Values) (value.Object, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}
	crit, err := query.Decode(class, params)
	if err != nil {
		return nil, badRequest(transport.CodeInvalidQuery, "%v", err)
	}
	if result := query.Validate(crit, nil); !result.Valid {
		return nil, badRequest(transport.CodeInvalidQuery, "invalid query: %s", result.Problems[0])
	}
	f, err := compileCriteria(crit)
	if err != nil {
		return nil, badRequest(transport.CodeInvalidKeyName, "%v", err)
	}

	rows, err := s.store.Select(ctx, class, f)
	if err != nil {
		return nil, err
	}
	rows = applyResidual(rows, f, len(crit.OrderKeys()) > 0)
	total := len(rows)

	results := value.Array{}
	for _, row := range window(rows, crit) {
		obj, err := s.present(ctx, row, crit.Includes(), crit.SelectedKeys())
		if err != nil {
			return nil, err
		}
		results = append(results, obj)
	}

	resp := value.Object{"results": results}
	if crit.IsCount() {
		resp["count"] = value.Number(total)
	}
	return resp, nil
}

// present renders a row for a response.
func (s *Server) present(ctx context.Context, row Row, include, keys []string) (value.Object, error) {
	obj := row.Object()

	if len(keys) > 0 {
		keep := map[string]bool{"objectId": true, "createdAt": true, "updatedAt": true}
		for _, k := range keys {
			root, _, _ := strings.Cut(k, ".")
			keep[root] = true
		}
		for k := range obj {
			if !keep[k] {
				delete(obj, k)
			}
		}
	}

	for _, path := range include {
		root, _, _ := strings.Cut(path, ".")
		ptr, ok := obj[root].(value.Pointer)
		if !ok {
			continue
		}
		target, err := s.store.Get(ctx, ptr.ClassName, ptr.ObjectID)
		if errors.Is(err, ErrNoObject) {
			continue
		}
		if err != nil {
			return nil, err
		}
		embedded := target.Object()
		embedded["__type"] = value.String("Object")
		embedded["className"] = value.String(ptr.ClassName)
		obj[root] = embedded
	}
	return obj, nil
}

// update merges body into an object. Users may only be changed by
// themselves or with the master key.
func (s *Server) update(ctx context.Context, who caller, class, id string, body value.Object) (value.Object, error) {
	if err := checkClass(class); err != nil {
		return nil, err
	}

	var password string
	if class == userClass {
		if err := s.authorizeUser(who, id); err != nil {
			return nil, err
		}
		if username, ok := body[schema.FieldUsername].(value.String); ok {
			if err := s.checkUsernameFree(ctx, string(username), id); err != nil {
				return nil, err
			}
		}
		if p, ok := body[schema.FieldPassword].(value.String); ok {
			password = string(p)
			delete(body, schema.FieldPassword)
		}
	}
	if err := s.checkFields(class, body); err != nil {
		return nil, err
	}

	row, err := s.store.Update(ctx, class, id, body, s.now())
	if errors.Is(err, ErrNoObject) {
		return nil, notFound("object not found for update")
	}
	if err != nil {
		return nil, err
	}
	if password != "" {
		if err := s.setPassword(ctx, id, password); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("updated", "class", class, "object_id", id)
	return value.Object{"updatedAt": value.String(value.FormatDate(row.UpdatedAt))}, nil
}

func (s *Server) delete(ctx context.Context, who caller, class, id string) error {
	if err := checkClass(class); err != nil {
		return err
	}
	if class == userClass {
		if err := s.authorizeUser(who, id); err != nil {
			return err
		}
	}

	err := s.store.Delete(ctx, class, id)
	if errors.Is(err, ErrNoObject) {
		return notFound("object not found for delete")
	}
	if err != nil {
		return err
	}
	s.logger.Debug("deleted", "class", class, "object_id", id)
	return nil
}

func (s *Server) authorizeUser(who caller, id string) error {
	if who.master || who.userID == id {
		return nil
	}
	return badRequest(transport.CodeSessionMissing, "cannot modify user %s", id)
}

// login checks credentials and opens a session. Unknown users and wrong
// passwords both fail with code 101.
func (s *Server) login(ctx context.Context, username, password string) (value.Object, error) {
	if username == "" {
		return nil, badRequest(transport.CodeUsernameMissing, "username is required")
	}
	if password == "" {
		return nil, badRequest(transport.CodePasswordMissing, "password is required")
	}

	invalid := notFound("invalid username/password")
	row, err := s.store.FindUser(ctx, username)
	if errors.Is(err, ErrNoObject) {
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}
	hash, err := s.store.PasswordHash(ctx, row.ObjectID)
	if errors.Is(err, ErrNoObject) {
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, invalid
	}

	token, err := s.openSession(ctx, row.ObjectID)
	if err != nil {
		return nil, err
	}
	obj := row.Object()
	obj[schema.FieldSessionToken] = value.String(token)

	s.logger.Info("login", "username", username, "object_id", row.ObjectID)
	return obj, nil
}
