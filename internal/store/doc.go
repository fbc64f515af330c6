// Package store provides persistent storage for the agent's permission data.
//
// # Architecture
//
// The store package uses small interfaces grouped into one Store:
//
//   - RoleStore: roles
//   - UserStore: users and their role membership
//   - PermissionStore: per-role custom action permissions and collection scopes
//   - AuditStore: append-only log of authorization decisions
//
// SQLiteStore implements all of them on a single database using the pure Go
// modernc.org/sqlite driver. MockStore is an in-memory implementation with the
// same semantics for tests.
//
// # Conditions
//
// Trigger, approval and scope conditions are condition trees in plain-object
// form. They are stored as JSON and returned as map[string]any, exactly as
// the authorization layer expects to parse them.
//
// # Timestamps
//
// Timestamps are stored as RFC 3339 strings in UTC.
package store
