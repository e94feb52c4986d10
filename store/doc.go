// Package store is the embedded document backend. It keeps whole
// tables of wire documents in a single pebble keyspace and implements
// rethinkengine.Conn, so a process can persist registered classes
// without running a database server.
//
// # Key layout in Pebble
//
//   - Table registry:  'T' + table_name -> TLV 'K' record holding the
//     primary key field name. Loaded into memory on Open; TableCreate
//     and TableDrop keep the two in sync under a mutex.
//
//   - Documents:       'D' + table_name + 0x00 + primary_key -> TLV
//     document record (see codec.go). The 0x00 separator keeps tables
//     with a shared name prefix apart, so a table scan is one bounded
//     prefix iteration.
//
// # Operation semantics
//
// Writes never report storage-level outcomes as Go errors: a missing
// table, a duplicate primary key on insert or an update of an absent
// document all come back inside the WriteResult (Errors / FirstError),
// matching what the document layer expects to inspect. Go errors are
// reserved for malformed operations and engine failures.
//
// Inserts with no primary key in the document get a UUIDv7 assigned and
// reported via GeneratedKeys. Updates replace the stored document
// wholesale; an update that decodes to the stored bytes counts as
// Unchanged. Deletes of absent keys count as Skipped.
//
// Reads run eagerly: point lookups go through a fixed-size LRU document
// cache (invalidated by any write to the same key), scans decode the
// table prefix and apply the operation's filter, order and window
// before handing rows out.
package store
