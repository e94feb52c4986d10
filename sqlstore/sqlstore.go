package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/RethinkEngine/rethinkengine"
	"github.com/RethinkEngine/rethinkengine/utils"
)

var (
	ErrClosed     = errors.New("sqlstore: already closed")
	ErrRowCorrupt = errors.New("sqlstore: corrupt document row")
	ErrRowValue   = errors.New("sqlstore: value not representable as JSON")
)

const registrySchema = `CREATE TABLE IF NOT EXISTS _tables (
	name TEXT PRIMARY KEY,
	pk   TEXT NOT NULL
) WITHOUT ROWID`

type Options struct {
	Logger utils.Logger
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
}

// Store keeps documents as JSON rows in sqlite. It implements
// rethinkengine.Conn.
type Store struct {
	db  *sql.DB
	log utils.Logger

	tlock  sync.Mutex
	tables map[string]string // table name -> primary key field
}

var _ rethinkengine.Conn = (*Store)(nil)

// Open opens, creating as needed, a sqlite document store at path.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	opts.SetDefaults()
	if path == "" {
		return nil, errors.Wrap(rethinkengine.ErrBadOperation, "sqlstore: empty path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: open")
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlstore: ping")
	}
	if err = applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err = db.ExecContext(ctx, registrySchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlstore: registry")
	}
	s := &Store{db: db, log: opts.Logger, tables: make(map[string]string)}
	if err = s.loadTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("sqlstore open", "path", path, "tables", len(s.tables))
	return s, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "sqlstore: apply %q", stmt)
		}
	}
	return nil
}

func (s *Store) loadTables(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, pk FROM _tables`)
	if err != nil {
		return errors.Wrap(err, "sqlstore: table registry")
	}
	defer rows.Close()
	for rows.Next() {
		var name, pk string
		if err = rows.Scan(&name, &pk); err != nil {
			return errors.Wrap(err, "sqlstore: table registry")
		}
		s.tables[name] = pk
	}
	return errors.Wrap(rows.Err(), "sqlstore: table registry")
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) pkOf(table string) (string, bool) {
	s.tlock.Lock()
	defer s.tlock.Unlock()
	pk, ok := s.tables[table]
	return pk, ok
}

// quoteIdent makes a name safe to splice into SQL as an identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func docTable(table string) string {
	return quoteIdent("doc_" + table)
}

func (s *Store) Run(ctx context.Context, op rethinkengine.Operation) (rethinkengine.Cursor, error) {
	switch op.Kind {
	case rethinkengine.OpGet:
		return s.get(ctx, op)
	case rethinkengine.OpScan:
		return s.scan(ctx, op)
	case rethinkengine.OpTableList:
		return s.tableList(ctx)
	}
	return nil, errors.Wrapf(rethinkengine.ErrBadOperation, "sqlstore: %s is not a read", op.Kind)
}

func (s *Store) RunWrite(ctx context.Context, op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	switch op.Kind {
	case rethinkengine.OpInsert:
		return s.insert(ctx, op)
	case rethinkengine.OpUpdate:
		return s.update(ctx, op)
	case rethinkengine.OpDelete:
		return s.remove(ctx, op)
	case rethinkengine.OpTableCreate:
		return s.tableCreate(ctx, op)
	case rethinkengine.OpTableDrop:
		return s.tableDrop(ctx, op)
	}
	return rethinkengine.WriteResult{}, errors.Wrapf(rethinkengine.ErrBadOperation, "sqlstore: %s is not a write", op.Kind)
}

func (s *Store) get(ctx context.Context, op rethinkengine.Operation) (rethinkengine.Cursor, error) {
	if _, ok := s.pkOf(op.Table); !ok {
		return nil, errors.Wrapf(rethinkengine.ErrTableUnknown, "sqlstore: %q", op.Table)
	}
	if op.Key == "" {
		return nil, errors.Wrap(rethinkengine.ErrBadOperation, "sqlstore: get without a key")
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM `+docTable(op.Table)+` WHERE pk = ?`, op.Key).Scan(&raw)
	if err == sql.ErrNoRows {
		return rethinkengine.NewRowsCursor(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: get")
	}
	doc, err := decodeRow(raw)
	if err != nil {
		return nil, err
	}
	return rethinkengine.NewRowsCursor(doc), nil
}

func (s *Store) scan(ctx context.Context, op rethinkengine.Operation) (rethinkengine.Cursor, error) {
	if _, ok := s.pkOf(op.Table); !ok {
		return nil, errors.Wrapf(rethinkengine.ErrTableUnknown, "sqlstore: %q", op.Table)
	}
	res, err := s.db.QueryContext(ctx,
		`SELECT doc FROM `+docTable(op.Table)+` ORDER BY pk`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: scan")
	}
	defer res.Close()
	var rows []rethinkengine.D
	for res.Next() {
		var raw string
		if err = res.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "sqlstore: scan")
		}
		doc, err := decodeRow(raw)
		if err != nil {
			return nil, err
		}
		if op.Matches(doc) {
			rows = append(rows, doc)
		}
	}
	if err = res.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlstore: scan")
	}
	op.SortRows(rows)
	rows = op.Window(rows)
	return rethinkengine.NewRowsCursor(rows...), nil
}

func (s *Store) tableList(ctx context.Context) (rethinkengine.Cursor, error) {
	res, err := s.db.QueryContext(ctx, `SELECT name FROM _tables ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: table list")
	}
	defer res.Close()
	var rows []rethinkengine.D
	for res.Next() {
		var name string
		if err = res.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "sqlstore: table list")
		}
		rows = append(rows, rethinkengine.D{"name": name})
	}
	if err = res.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlstore: table list")
	}
	return rethinkengine.NewRowsCursor(rows...), nil
}

func (s *Store) insert(ctx context.Context, op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	pkField, ok := s.pkOf(op.Table)
	if !ok {
		return rethinkengine.Failed("Table `%s` does not exist.", op.Table), nil
	}
	var res rethinkengine.WriteResult
	key, ok := op.DocKey(pkField)
	if !ok {
		key = uuid.Must(uuid.NewV7()).String()
		res.GeneratedKeys = []string{key}
	}
	enc, err := encodeRow(op.Doc, pkField, key)
	if err != nil {
		return rethinkengine.WriteResult{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+docTable(op.Table)+` (pk, doc) VALUES (?, ?)`, key, enc)
	if isConstraint(err) {
		return rethinkengine.Failed("Duplicate primary key `%s`: %s already in table `%s`.",
			pkField, key, op.Table), nil
	}
	if err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: insert")
	}
	res.Inserted = 1
	return res, nil
}

func (s *Store) update(ctx context.Context, op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	pkField, ok := s.pkOf(op.Table)
	if !ok {
		return rethinkengine.Failed("Table `%s` does not exist.", op.Table), nil
	}
	if op.Key == "" {
		return rethinkengine.WriteResult{}, errors.Wrap(rethinkengine.ErrBadOperation, "sqlstore: update without a key")
	}
	var old string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM `+docTable(op.Table)+` WHERE pk = ?`, op.Key).Scan(&old)
	if err == sql.ErrNoRows {
		return rethinkengine.Failed("Document with primary key `%s` not found in table `%s`.",
			op.Key, op.Table), nil
	}
	if err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: update")
	}
	enc, err := encodeRow(op.Doc, pkField, op.Key)
	if err != nil {
		return rethinkengine.WriteResult{}, err
	}
	if enc == old {
		return rethinkengine.WriteResult{Unchanged: 1}, nil
	}
	if _, err = s.db.ExecContext(ctx,
		`UPDATE `+docTable(op.Table)+` SET doc = ? WHERE pk = ?`, enc, op.Key); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: update")
	}
	return rethinkengine.WriteResult{Replaced: 1}, nil
}

func (s *Store) remove(ctx context.Context, op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	if _, ok := s.pkOf(op.Table); !ok {
		return rethinkengine.Failed("Table `%s` does not exist.", op.Table), nil
	}
	if op.Key == "" {
		return rethinkengine.WriteResult{}, errors.Wrap(rethinkengine.ErrBadOperation, "sqlstore: delete without a key")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+docTable(op.Table)+` WHERE pk = ?`, op.Key)
	if err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: delete")
	}
	if n == 0 {
		return rethinkengine.WriteResult{Skipped: 1}, nil
	}
	return rethinkengine.WriteResult{Deleted: 1}, nil
}

func (s *Store) tableCreate(ctx context.Context, op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	if !rethinkengine.ValidTableName(op.Table) {
		return rethinkengine.WriteResult{}, errors.Wrapf(rethinkengine.ErrBadOperation, "sqlstore: bad table name %q", op.Table)
	}
	pk := op.PrimaryKey
	if pk == "" {
		pk = "id"
	}
	s.tlock.Lock()
	defer s.tlock.Unlock()
	if _, ok := s.tables[op.Table]; ok {
		return rethinkengine.Failed("Table `%s` already exists.", op.Table), nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: table create")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO _tables (name, pk) VALUES (?, ?)`, op.Table, pk); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: table create")
	}
	if _, err = tx.ExecContext(ctx,
		`CREATE TABLE `+docTable(op.Table)+` (pk TEXT PRIMARY KEY, doc TEXT NOT NULL) WITHOUT ROWID`); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: table create")
	}
	if err = tx.Commit(); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: table create")
	}
	committed = true

	s.tables[op.Table] = pk
	s.log.Debug("table created", "table", op.Table, "pk", pk)
	return rethinkengine.WriteResult{TablesCreated: 1}, nil
}

func (s *Store) tableDrop(ctx context.Context, op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	s.tlock.Lock()
	defer s.tlock.Unlock()
	if _, ok := s.tables[op.Table]; !ok {
		return rethinkengine.Failed("Table `%s` does not exist.", op.Table), nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: table drop")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM _tables WHERE name = ?`, op.Table); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: table drop")
	}
	if _, err = tx.ExecContext(ctx,
		`DROP TABLE IF EXISTS `+docTable(op.Table)); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: table drop")
	}
	if err = tx.Commit(); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "sqlstore: table drop")
	}
	committed = true

	delete(s.tables, op.Table)
	s.log.Debug("table dropped", "table", op.Table)
	return rethinkengine.WriteResult{TablesDropped: 1}, nil
}

func isConstraint(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// encodeRow marshals a document with its key field pinned. Go sorts
// map keys when marshaling, so equal documents produce equal text and
// the update path can detect unchanged content by comparison.
func encodeRow(doc rethinkengine.D, pkField, key string) (string, error) {
	row := make(rethinkengine.D, len(doc)+1)
	for k, v := range doc {
		row[k] = v
	}
	row[pkField] = key
	b, err := json.Marshal(row)
	if err != nil {
		return "", errors.Wrap(ErrRowValue, err.Error())
	}
	return string(b), nil
}

func decodeRow(raw string) (rethinkengine.D, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc rethinkengine.D
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(ErrRowCorrupt, err.Error())
	}
	return jsonNorm(doc).(rethinkengine.D), nil
}

// jsonNorm folds json.Number onto int64 where the value is integral
// and float64 otherwise, recursing into rows and lists.
func jsonNorm(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = jsonNorm(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = jsonNorm(e)
		}
		return t
	}
	return v
}
