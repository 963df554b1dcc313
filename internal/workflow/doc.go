// Package workflow queues image files and drives each one through upload,
// download and in-place replacement against the TinyPNG service.
//
// The Engine owns the list of work items and the registry of in-flight
// network tasks. It never runs more than MaxConcurrent tasks; items beyond
// that stay Waiting until a completed task frees a slot and the admission
// sweep picks them up in submission order. Each item follows the lifecycle
//
//	Waiting -> Started -> Uploading -> Downloading -> Complete
//
// and may move to Error from any non-terminal stage. Every transition is
// published to the single registered StatusHandler, which is called from one
// goroutine, one snapshot at a time, in transition order.
package workflow
