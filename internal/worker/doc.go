// Package worker contains the job consumers of the outreach engine: the
// campaign dispatcher, the per-contact message dispatch handler, and the
// sequence step processor.
//
// Each consumer processes exactly one job to completion with blocking I/O
// against the store and, where a send happens, the message provider. Store
// and queue dependencies are interfaces defined here; Postgres and Redis
// implementations are wired in at process startup.
package worker
