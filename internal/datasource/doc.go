// Package datasource holds the data-source adapters. Each adapter turns a
// resolved toolkit.ConditionTree into its backend's query language and answers
// aggregations, which is all the authorization engine needs from rows.
package datasource
