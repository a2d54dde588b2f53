/*
Package session implements the in-process session cache and its write-behind
reconciliation with the durable store.

The Cache is the authoritative view of every active session for in-process
readers; the durable store is a lagging, best-effort replica. Mutations apply
to the cache synchronously under a per-session lock and return immediately;
the corresponding durable write is scheduled on a bounded worker pool whose
failures are retried, then dead-lettered into logs and metrics. A process
crash between a cache mutation and its flush loses that mutation: session
state is conversational and reconstructible, and blocking user-facing latency
on a third-party store is judged worse than occasional loss.
*/
package session
