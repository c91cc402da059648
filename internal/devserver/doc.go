// Package devserver is a local emulator of the REST API, backed by SQLite.
//
// It implements the subset of the API the orm client speaks:
//
//	POST   /classes/{class}        create
//	GET    /classes/{class}        query (where, order, limit, skip, count, include, keys)
//	GET    /classes/{class}/{id}   fetch
//	PUT    /classes/{class}/{id}   update
//	DELETE /classes/{class}/{id}   delete
//	*      /users[/{id}]           the same for the user class, plus signup sessions
//	GET    /login                  log in
//	POST   /batch                  up to 50 writes
//
// All routes are mounted under a prefix ("/1" by default) so that client
// base URLs look like the hosted service's.
//
// # Storage
//
// Objects live in one table keyed by (class, object_id) with their fields as
// canonical JSON. Equality and $exists constraints compile to parameterized
// SQL over json_extract; geo constraints, composite equality, distance
// ordering and skip/limit are applied in Go. Default ordering is insertion
// order, so query results are deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - versioned migrations via PRAGMA user_version
package devserver
