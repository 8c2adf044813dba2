// Package progress carries job lifecycle, document and history activity events
// from running jobs to pluggable sinks. The Hub batches events on a
// background goroutine so emitters never block on history writes or metrics.
package progress
