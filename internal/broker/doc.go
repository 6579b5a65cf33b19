// Package broker implements the job queue broker: the queue manager that owns the
// ready queue and the lease table, the per-connection line protocol handler, and the
// TCP accept loop.
//
// Every state change that must survive a crash (a new job, an acknowledgment) is
// appended to the journal inside the manager's critical section, so what a client
// can observe never runs ahead of what is on disk.
package broker
