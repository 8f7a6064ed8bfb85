// Package tasks runs media retrieval jobs asynchronously.
//
// # Registry
//
// [Registry] is the in-memory store of task records and the only writer of
// task state. A task moves pending → running → completed|failed and never
// backwards. A completed task always carries a non-empty result and a failed
// task always carries a categorized error; readers only ever see copies.
//
// # Orchestrator
//
// [Orchestrator] validates submissions, registers them and queues them for a
// fixed pool of workers. Submissions return immediately. When the queue is
// full they are refused with [shared.ErrQueueFull] instead of piling up.
//
// Each artifact-producing task writes into its own slot reserved from the
// [artifacts.Store], so two tasks for the same source never share an output
// path. A task that times out, fails or panics has its slot purged and is
// recorded as failed; the worker moves on to the next task.
//
// # Events
//
// Lifecycle [Event] values can be observed through [WithEvents]. Sends never
// block the worker.
package tasks
