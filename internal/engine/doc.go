// Package engine wraps the external media-retrieval engine (spotdl) behind a
// narrow synchronous interface.
//
// Every call blocks until the engine process exits and translates its exit
// status and stderr into an [*Error] carrying a [models.Category]. Calls are
// independent: each one starts its own process, so a hung invocation only
// holds up the worker that made it. Cancelling the context kills the whole
// process group.
package engine
