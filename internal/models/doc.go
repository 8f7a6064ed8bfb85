// Package models defines the domain entities of the dlx media retrieval service.
//
// The central entity is [Task], a tracked unit of asynchronous work:
//   - [Kind] : the operation (download a track, save metadata, resolve URLs, ...)
//   - [Request] : immutable validated parameters supplied by the caller
//   - [State] : lifecycle position; pending → running → completed | failed
//   - [Result] : set exactly once on completion, references the produced artifact
//   - [TaskError] : set exactly once on failure, carries a [Category] and message
//
// Result and TaskError are mutually exclusive. Tasks handed out by the registry are
// deep copies (see [Task.Clone]) so callers never observe a partially updated record.
package models
