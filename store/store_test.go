package store

import (
	"context"
	"os"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/RethinkEngine/rethinkengine"
)

func testdir(name string) (string, func()) {
	_ = os.RemoveAll(name)
	return name, func() { _ = os.RemoveAll(name) }
}

func mustOpen(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, Options{})
	assert.Nil(t, err)
	assert.NotNil(t, s)
	return s
}

func write(t *testing.T, s *Store, op rethinkengine.Operation) rethinkengine.WriteResult {
	t.Helper()
	wr, err := s.RunWrite(context.Background(), op)
	assert.Nil(t, err)
	return wr
}

func readAll(t *testing.T, s *Store, op rethinkengine.Operation) []rethinkengine.D {
	t.Helper()
	cur, err := s.Run(context.Background(), op)
	assert.Nil(t, err)
	defer cur.Close()
	var rows []rethinkengine.D
	var row rethinkengine.D
	for cur.Next(&row) {
		rows = append(rows, row)
	}
	assert.Nil(t, cur.Err())
	return rows
}

func TestStore_Create(t *testing.T) {
	dir, clear := testdir("st_create")
	defer clear()

	s, err := Open(dir, Options{Options: pebble.Options{ErrorIfExists: true}})
	assert.Nil(t, err)
	assert.NotNil(t, s)

	assert.Nil(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrClosed)
}

func TestStore_Tables(t *testing.T) {
	dir, clear := testdir("st_tables")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	wr := write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})
	assert.Equal(t, int64(1), wr.TablesCreated)

	wr = write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})
	assert.Equal(t, 1, wr.Errors)
	assert.Contains(t, wr.FirstError, "already exists")

	wr = write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpTableCreate, Table: "users", PrimaryKey: "email",
	})
	assert.Equal(t, int64(1), wr.TablesCreated)

	rows := readAll(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableList})
	assert.Equal(t, []rethinkengine.D{{"name": "posts"}, {"name": "users"}}, rows)

	wr = write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableDrop, Table: "posts"})
	assert.Equal(t, int64(1), wr.TablesDropped)

	wr = write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableDrop, Table: "posts"})
	assert.Equal(t, 1, wr.Errors)
	assert.Contains(t, wr.FirstError, "does not exist")

	rows = readAll(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableList})
	assert.Equal(t, []rethinkengine.D{{"name": "users"}}, rows)

	_, err := s.RunWrite(context.Background(),
		rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: ""})
	assert.ErrorIs(t, err, rethinkengine.ErrBadOperation)
	_, err = s.RunWrite(context.Background(),
		rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "bad\x00name"})
	assert.ErrorIs(t, err, rethinkengine.ErrBadOperation)
}

func TestStore_InsertGet(t *testing.T) {
	dir, clear := testdir("st_insert")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})

	wr := write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
		Doc: rethinkengine.D{"title": "hello"},
	})
	assert.Equal(t, int64(1), wr.Inserted)
	assert.Len(t, wr.GeneratedKeys, 1)
	_, err := uuid.Parse(wr.GeneratedKeys[0])
	assert.Nil(t, err)

	rows := readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: wr.GeneratedKeys[0],
	})
	assert.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0]["title"])
	assert.Equal(t, wr.GeneratedKeys[0], rows[0]["id"])

	wr = write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
		Doc: rethinkengine.D{"id": "p1", "title": "pinned"},
	})
	assert.Equal(t, int64(1), wr.Inserted)
	assert.Empty(t, wr.GeneratedKeys)

	wr = write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
		Doc: rethinkengine.D{"id": "p1", "title": "again"},
	})
	assert.Equal(t, 1, wr.Errors)
	assert.Contains(t, wr.FirstError, "Duplicate primary key")

	rows = readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: "nope",
	})
	assert.Empty(t, rows)

	_, err = s.Run(context.Background(), rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "ghosts", Key: "p1",
	})
	assert.ErrorIs(t, err, rethinkengine.ErrTableUnknown)

	wr = write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "ghosts",
		Doc: rethinkengine.D{"id": "p1"},
	})
	assert.Equal(t, 1, wr.Errors)
	assert.Contains(t, wr.FirstError, "does not exist")
}

func TestStore_CustomPrimaryKey(t *testing.T) {
	dir, clear := testdir("st_pk")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpTableCreate, Table: "users", PrimaryKey: "email",
	})
	wr := write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "users",
		Doc: rethinkengine.D{"email": "ada@example.com", "name": "Ada"},
	})
	assert.Equal(t, int64(1), wr.Inserted)
	assert.Empty(t, wr.GeneratedKeys)

	rows := readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "users", Key: "ada@example.com",
	})
	assert.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["name"])
}

func TestStore_UpdateDelete(t *testing.T) {
	dir, clear := testdir("st_update")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})

	wr := write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpUpdate, Table: "posts", Key: "p1",
		Doc: rethinkengine.D{"n": 1},
	})
	assert.Equal(t, 1, wr.Errors)
	assert.Contains(t, wr.FirstError, "not found")

	write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
		Doc: rethinkengine.D{"id": "p1", "n": 1},
	})

	// same content, only the key field spelling differs
	wr = write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpUpdate, Table: "posts", Key: "p1",
		Doc: rethinkengine.D{"n": int64(1)},
	})
	assert.Equal(t, int64(1), wr.Unchanged)
	assert.Equal(t, int64(0), wr.Replaced)

	wr = write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpUpdate, Table: "posts", Key: "p1",
		Doc: rethinkengine.D{"n": 2},
	})
	assert.Equal(t, int64(1), wr.Replaced)

	rows := readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: "p1",
	})
	assert.Equal(t, int64(2), rows[0]["n"])

	wr = write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpDelete, Table: "posts", Key: "p1",
	})
	assert.Equal(t, int64(1), wr.Deleted)

	rows = readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: "p1",
	})
	assert.Empty(t, rows)

	wr = write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpDelete, Table: "posts", Key: "p1",
	})
	assert.Equal(t, int64(1), wr.Skipped)
	assert.Equal(t, int64(0), wr.Deleted)

	_, err := s.RunWrite(context.Background(), rethinkengine.Operation{
		Kind: rethinkengine.OpUpdate, Table: "posts",
		Doc: rethinkengine.D{"n": 3},
	})
	assert.ErrorIs(t, err, rethinkengine.ErrBadOperation)
}

func TestStore_Scan(t *testing.T) {
	dir, clear := testdir("st_scan")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})
	authors := []string{"alice", "bob", "alice", "bob", "alice"}
	for i, a := range authors {
		write(t, s, rethinkengine.Operation{
			Kind: rethinkengine.OpInsert, Table: "posts",
			Doc: rethinkengine.D{"author": a, "rank": i + 1},
		})
	}

	rows := readAll(t, s, rethinkengine.Operation{Kind: rethinkengine.OpScan, Table: "posts"})
	assert.Len(t, rows, 5)

	rows = readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpScan, Table: "posts",
		Filter: rethinkengine.D{"author": "alice"},
	})
	assert.Len(t, rows, 3)

	// numeric filters match across integer widths
	rows = readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpScan, Table: "posts",
		Filter: rethinkengine.D{"rank": 2},
	})
	assert.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["author"])

	rows = readAll(t, s, rethinkengine.Operation{
		Kind:    rethinkengine.OpScan,
		Table:   "posts",
		OrderBy: []rethinkengine.Order{{Field: "rank", Desc: true}},
	})
	assert.Equal(t, int64(5), rows[0]["rank"])
	assert.Equal(t, int64(1), rows[4]["rank"])

	rows = readAll(t, s, rethinkengine.Operation{
		Kind:    rethinkengine.OpScan,
		Table:   "posts",
		OrderBy: []rethinkengine.Order{{Field: "rank"}},
		Skip:    1,
		Limit:   2,
	})
	assert.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0]["rank"])
	assert.Equal(t, int64(3), rows[1]["rank"])

	rows = readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpScan, Table: "posts",
		Filter: rethinkengine.D{"author": "carol"},
	})
	assert.Empty(t, rows)

	_, err := s.Run(context.Background(), rethinkengine.Operation{
		Kind: rethinkengine.OpScan, Table: "ghosts",
	})
	assert.ErrorIs(t, err, rethinkengine.ErrTableUnknown)
}

func TestStore_DropClearsDocuments(t *testing.T) {
	dir, clear := testdir("st_drop")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})
	write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
		Doc: rethinkengine.D{"id": "p1", "title": "old"},
	})
	write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableDrop, Table: "posts"})
	write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})

	rows := readAll(t, s, rethinkengine.Operation{Kind: rethinkengine.OpScan, Table: "posts"})
	assert.Empty(t, rows)
	rows = readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: "p1",
	})
	assert.Empty(t, rows)
}

func TestStore_Reopen(t *testing.T) {
	dir, clear := testdir("st_reopen")
	defer clear()

	s := mustOpen(t, dir)
	write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpTableCreate, Table: "posts", PrimaryKey: "slug",
	})
	write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
		Doc: rethinkengine.D{"slug": "s1", "title": "durable"},
	})
	assert.Nil(t, s.Close())

	s = mustOpen(t, dir)
	defer s.Close()

	rows := readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: "s1",
	})
	assert.Len(t, rows, 1)
	assert.Equal(t, "durable", rows[0]["title"])

	// the reloaded registry still knows the custom key field
	wr := write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
		Doc: rethinkengine.D{"title": "fresh"},
	})
	assert.Len(t, wr.GeneratedKeys, 1)
	rows = readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: wr.GeneratedKeys[0],
	})
	assert.Equal(t, wr.GeneratedKeys[0], rows[0]["slug"])
}

func TestStore_RowsAreCopies(t *testing.T) {
	dir, clear := testdir("st_copies")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})
	write(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
		Doc: rethinkengine.D{"id": "p1", "title": "original"},
	})

	rows := readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: "p1",
	})
	rows[0]["title"] = "mutated"

	rows = readAll(t, s, rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: "p1",
	})
	assert.Equal(t, "original", rows[0]["title"])
}

func TestStore_KindMismatch(t *testing.T) {
	dir, clear := testdir("st_kinds")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	_, err := s.Run(context.Background(), rethinkengine.Operation{
		Kind: rethinkengine.OpInsert, Table: "posts",
	})
	assert.ErrorIs(t, err, rethinkengine.ErrBadOperation)

	_, err = s.RunWrite(context.Background(), rethinkengine.Operation{
		Kind: rethinkengine.OpGet, Table: "posts", Key: "p1",
	})
	assert.ErrorIs(t, err, rethinkengine.ErrBadOperation)
}

func TestStore_ContextCancelled(t *testing.T) {
	dir, clear := testdir("st_ctx")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, rethinkengine.Operation{Kind: rethinkengine.OpTableList})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.RunWrite(ctx, rethinkengine.Operation{
		Kind: rethinkengine.OpTableCreate, Table: "posts",
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_ClosedCursor(t *testing.T) {
	dir, clear := testdir("st_cursor")
	defer clear()
	s := mustOpen(t, dir)
	defer s.Close()

	write(t, s, rethinkengine.Operation{Kind: rethinkengine.OpTableCreate, Table: "posts"})
	cur, err := s.Run(context.Background(), rethinkengine.Operation{
		Kind: rethinkengine.OpScan, Table: "posts",
	})
	assert.Nil(t, err)
	assert.Nil(t, cur.Close())

	var row rethinkengine.D
	assert.False(t, cur.Next(&row))
	assert.ErrorIs(t, cur.Err(), rethinkengine.ErrClosedCursor)
}
