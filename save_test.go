package rethinkengine

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/RethinkEngine/rethinkengine/fields"
)

var savSchema = MustRegister(ClassSpec{
	Name: "SavNote",
	Fields: Decl{
		"text": fields.String(fields.Required()),
		"rank": fields.Int(),
	},
	Meta: &Meta{TableName: "sav_notes"},
})

func TestSave_Insert(t *testing.T) {
	stub := &stubConn{result: WriteResult{Inserted: 1, GeneratedKeys: []string{"gen-1"}}}
	connect(t, stub)

	d := savSchema.New(D{"text": "hello", "rank": 3})
	assert.Nil(t, d.Save(context.Background()))

	assert.Len(t, stub.writes, 1)
	op := stub.writes[0]
	assert.Equal(t, OpInsert, op.Kind)
	assert.Equal(t, "sav_notes", op.Table)
	_, hasID := op.Doc["id"]
	assert.False(t, hasID, "inserts carry no placeholder key")
	assert.Equal(t, "hello", op.Doc["text"])
	assert.Equal(t, int64(3), op.Doc["rank"])

	// the generated key becomes the identifier and the document is clean
	assert.Equal(t, "gen-1", d.ID())
	assert.False(t, d.Dirty())

	// saving again sends nothing
	assert.Nil(t, d.Save(context.Background()))
	assert.Len(t, stub.writes, 1)
}

func TestSave_Update(t *testing.T) {
	stub := &stubConn{result: WriteResult{Replaced: 1}}
	connect(t, stub)

	d := savSchema.New(D{"id": "n1", "text": "hello"})
	assert.Nil(t, d.Save(context.Background()))

	op := stub.writes[0]
	assert.Equal(t, OpUpdate, op.Kind)
	assert.Equal(t, "n1", op.Key)
	assert.Equal(t, "n1", op.Doc["id"], "updates carry the key field")
	assert.False(t, d.Dirty())
}

func TestSave_EmptyIDInserts(t *testing.T) {
	stub := &stubConn{result: WriteResult{Inserted: 1, GeneratedKeys: []string{"gen-2"}}}
	connect(t, stub)

	d := savSchema.New(D{"id": "", "text": "hello"})
	assert.Nil(t, d.Save(context.Background()))
	assert.Equal(t, OpInsert, stub.writes[0].Kind)
	assert.Equal(t, "gen-2", d.ID())
}

func TestSave_StorageError(t *testing.T) {
	stub := &stubConn{result: WriteResult{Errors: 1, FirstError: "Duplicate primary key `id`"}}
	connect(t, stub)

	d := savSchema.New(D{"text": "hello"})
	err := d.Save(context.Background())

	var operr *OperationError
	assert.ErrorAs(t, err, &operr)
	assert.Contains(t, operr.Detail, "Duplicate primary key")
	assert.True(t, d.Dirty(), "a failed save stays pending")
}

func TestSave_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	stub := &stubConn{writeErr: boom}
	connect(t, stub)

	d := savSchema.New(D{"text": "hello"})
	assert.ErrorIs(t, d.Save(context.Background()), boom)
	assert.True(t, d.Dirty())
}

func TestSave_ValidatesFirst(t *testing.T) {
	stub := &stubConn{}
	connect(t, stub)

	d := savSchema.New(nil) // required text missing
	err := d.Save(context.Background())

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)
	assert.Empty(t, stub.writes, "invalid documents never reach the wire")
}

func TestSave_NotConnected(t *testing.T) {
	d := savSchema.New(D{"text": "hello"})
	assert.ErrorIs(t, d.Save(context.Background()), ErrNotConnected)
}

func TestSave_CleanLoadedNoop(t *testing.T) {
	stub := &stubConn{}
	connect(t, stub)

	d := savSchema.FromDoc(D{"id": "n1", "text": "hello"})
	assert.Nil(t, d.Save(context.Background()))
	assert.Empty(t, stub.writes)

	// one change, one write
	d.Set("rank", 8)
	stub.result = WriteResult{Replaced: 1}
	assert.Nil(t, d.Save(context.Background()))
	assert.Len(t, stub.writes, 1)
}

func TestDelete(t *testing.T) {
	stub := &stubConn{result: WriteResult{Deleted: 1}}
	connect(t, stub)

	// no identifier, nothing stored, nothing sent
	d := savSchema.New(D{"text": "hello"})
	res, err := d.Delete(context.Background())
	assert.Nil(t, err)
	assert.Nil(t, res)
	assert.Empty(t, stub.writes)

	d.Set("id", "n1")
	res, err = d.Delete(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, int64(1), res.Deleted)
	assert.Equal(t, Operation{Kind: OpDelete, Table: "sav_notes", Key: "n1"}, stub.writes[0])
}

func TestDelete_SkippedPassthrough(t *testing.T) {
	stub := &stubConn{result: WriteResult{Skipped: 1}}
	connect(t, stub)

	d := savSchema.New(D{"id": "ghost", "text": "x"})
	res, err := d.Delete(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, int64(1), res.Skipped)
	assert.Equal(t, int64(0), res.Deleted)
}
