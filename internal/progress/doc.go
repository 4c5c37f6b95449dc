// Package progress owns run accounting. Tracker keeps the processed,
// successful and failed counters behind a single critical section so every
// Snapshot is consistent. Hub batches unit and run events on a background
// goroutine and fans them out to pluggable sinks such as structured logs,
// Prometheus collectors or the run store.
package progress
