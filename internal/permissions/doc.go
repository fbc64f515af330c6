// Package permissions answers custom action permission questions from the
// roles, users and action permissions kept in the store.
//
// A user's permissions are those of their role. Lookups are cached for a
// short TTL and concurrent misses for the same key share a single load.
package permissions
