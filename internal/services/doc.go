// Package services is the HTTP client for a running dlx server.
//
// [APIService] exposes raw Get/Post/Delete calls returning an [APIResponse], used by
// `dlx api`, and typed helpers ([APIService.Submit], [APIService.Task],
// [APIService.Tasks], [APIService.DeleteTask], [APIService.Wait]) used by `dlx tasks`.
//
// Non-2xx responses are decoded from the server's `{"error": {...}}` body into an
// [APIError], which wraps [shared.ErrAPIRequest] (or [shared.ErrTaskNotFound] for 404s).
package services
