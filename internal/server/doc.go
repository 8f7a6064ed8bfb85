// Package server provides HTTP routing, middleware and the dlx API handlers.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation registers [http.ServeMux] method patterns, so unknown methods
// get 405 and path wildcards are read with [http.Request.PathValue].
//
// # API
//
// [API] implements [Handler]. Submission endpoints answer 202 with a task id and never wait on the
// retrieval engine. Status, list, download and delete endpoints read the task registry. The resolve
// endpoints answer inline: /get/download-link returns source URLs and /get/audio-download-link
// materializes the track and returns a time-limited /temp-download link.
//
// Every error is rendered as {"error": {"category", "message"}} with a status chosen by [StatusFor].
// Messages never carry filesystem paths.
package server
