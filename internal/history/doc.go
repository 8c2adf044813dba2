// Package history holds the activity history model and the reports computed
// over it: the simple listing, the windowed maximum activity and byte counts,
// and the result-code breakdown. Stores filter rows; this package aggregates,
// sorts and pages them.
package history
