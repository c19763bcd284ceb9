// Package ingest drives the ingestion of match-history records.
//
// The Controller is a single-writer event loop. It asks the sequencer for
// IDs, hands them to a fixed pool of fetch workers, and applies every
// outcome on its own goroutine: committing records to the raw store,
// recording absences, scheduling retries, and flushing the progress ledger
// after each change. Workers never touch storage or progress state.
//
// Per ID the controller moves through
//
//	Pending → InFlight → Committed
//	                   → Absent
//	                   → Retrying → InFlight
//	                   → Failed
//
// Per-ID failures never stop a run (unless the halt policy is selected).
// Storage failures always do: the controller attempts a final ledger flush
// and returns a StorageError.
package ingest
