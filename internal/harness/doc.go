// Package harness runs scripted ingestion scenarios.
//
// A scenario fixes everything outside the controller: the remote replies
// per ID, the starting ledger, and records already in the raw store. The
// harness runs the real controller, governor and worker pool against those
// scripts and then checks assertions against the final ledger.
//
// # Scenario Format
//
//	name: rate_limited_once
//	description: "One 429 costs one extra attempt and no retry budget"
//	options:
//	  start: 100
//	  end: 105
//	  workers: 1
//	replies:
//	  103:
//	    - kind: throttled
//	      retry_after: 10ms
//	    - kind: found
//	assertions:
//	  - type: frontier
//	    id: 105
//	  - type: calls
//	    id: 103
//	    count: 2
//
// Reply kinds are found, missing, throttled, unavailable, forbidden,
// garbled and reset. Replies for an ID are consumed in order and the last
// one repeats. Unscripted IDs get the default reply (found).
//
// # Assertion Types
//
//   - frontier: the final frontier equals id
//   - stored: the raw store holds exactly ids
//   - absent: id is absent with reason
//   - pending: the pending set is exactly ids
//   - calls: id was requested count times
//   - stopped_by: the run stopped for value
//
// # Deterministic Testing
//
// Runs use a fixed run ID, zero jitter and millisecond backoff so the
// final snapshot is reproducible for golden comparison. Scenarios with
// more than one worker produce the same final ledger, though not the same
// call order.
package harness
