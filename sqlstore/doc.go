// Package sqlstore keeps documents in a sqlite database, as an
// alternative to the pebble-backed store package.
//
// # Schema
//
// One registry table holds the document tables and their key fields:
//
//	_tables (name TEXT PRIMARY KEY, pk TEXT NOT NULL)
//
// Each document table then lives in its own sqlite table named
// doc_<name>, one JSON text row per document:
//
//	doc_<name> (pk TEXT PRIMARY KEY, doc TEXT NOT NULL)
//
// Table names come from user schemas, so they always travel as quoted
// identifiers and never as interpolated SQL text.
//
// # Operation semantics
//
// Semantics match the store package: failures an operation itself
// causes land in the WriteResult, generated keys are UUIDv7, an update
// to identical content counts as unchanged, a delete of a missing
// document counts as skipped. Filtering, ordering and windowing run on
// the decoded rows, so scans behave identically on both backends.
//
// JSON makes every number a float; rows fold integral numbers back to
// int64 on decode to keep the two backends interchangeable.
package sqlstore
