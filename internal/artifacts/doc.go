// Package artifacts owns the managed output directory: reserving collision-free
// slots for the retrieval engine, finalizing and sizing what it wrote, exposing
// finished artifacts through expiring links, and purging them either on task
// deletion or through the scheduled expiry sweep.
//
// Lifecycle of a slot:
//
//	Reserve → (engine writes) → Finalize → Expose/Claim → Purge
//	                                   ↘ Sweep after TTL when unpinned
//
// A slot that has been reserved but not finalized is in flight and is never
// swept. Claims and live links pin a finalized slot until they lapse.
package artifacts
