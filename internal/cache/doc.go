// Package cache provides a thread-safe TTL cache with a size limit, used to
// keep permission lookups off the store for a configurable window.
package cache
