// Package authorization decides whether a custom action may be triggered,
// whether triggering it needs approval, and who may approve it.
//
// Coarse permissions come from an Oracle. Row-level conditions are checked
// by comparing two counts over the rows a request targets: the rows matched
// by the request filter alone, and the rows matched by the filter AND the
// condition. The condition only narrows the filter, so equal counts mean
// every targeted row satisfies it.
//
// Denials are returned as *toolkit.ForbiddenError values. Compare them with
// errors.Is against the Err* sentinels of this package.
package authorization
