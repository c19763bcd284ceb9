// Package record defines the unit of ingestion: a match-history record
// addressed by a positive integer ID.
//
// Every record carries a content hash computed over its RFC 8785 canonical
// JSON form, so two payloads that differ only in key order or insignificant
// whitespace hash identically. Hashes use SHA-256 with domain separation.
package record
