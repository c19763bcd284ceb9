// Package progress holds the durable ingestion progress: the contiguous
// frontier, the scan cursor, the IDs awaiting retry and the IDs known to be
// permanently absent.
//
// # Frontier and cursor
//
// Every ID ≤ Frontier is either stored in the raw store or listed in Absent.
// Every ID ≤ Cursor is either resolved or listed in Pending. IDs between
// Frontier and Cursor that are not pending were resolved out of order; a
// restart resumes from Pending and Cursor+1 and never rescans them.
//
// # Ledgers
//
// A Ledger persists State atomically: a crash during Save leaves either the
// previous or the new state readable, never a mix.
//   - FileLedger: YAML document replaced via write-temp, fsync, rename
//   - SQLiteLedger: single transaction in a WAL-mode database
//   - MemoryLedger: in-process, for tests and dry runs
package progress
