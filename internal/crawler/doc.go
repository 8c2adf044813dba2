// Package crawler defines the contracts shared by repository connectors and
// the job runner: connection parameters, document specifications, the
// activity interfaces a connector reports through, the job model, and the
// error types that drive retry decisions.
package crawler
