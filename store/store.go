package store

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/pkg/errors"

	"github.com/RethinkEngine/rethinkengine"
	"github.com/RethinkEngine/rethinkengine/utils"
)

var ErrClosed = errors.New("store: already closed")

type Options struct {
	pebble.Options

	// Logger gets lifecycle and DDL messages.
	Logger utils.Logger
	// CacheSize caps the point-read cache, in documents.
	CacheSize int
	// WriteOptions applies to every engine write.
	WriteOptions *pebble.WriteOptions
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.CacheSize == 0 {
		o.CacheSize = 4096
	}
	if o.WriteOptions == nil {
		o.WriteOptions = pebble.Sync
	}
}

// Store keeps documents in a pebble keyspace, one table per key
// prefix. It implements rethinkengine.Conn.
type Store struct {
	db    *pebble.DB
	dir   string
	log   utils.Logger
	wo    *pebble.WriteOptions
	cache *lru.Cache[string, rethinkengine.D]

	tlock  sync.Mutex
	tables map[string]string // table name -> primary key field
}

var _ rethinkengine.Conn = (*Store)(nil)

// Open opens, creating as needed, a document store in dir.
func Open(dir string, opts Options) (*Store, error) {
	opts.SetDefaults()
	db, err := pebble.Open(dir, &opts.Options)
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	cache, err := lru.New[string, rethinkengine.D](opts.CacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{
		db:     db,
		dir:    dir,
		log:    opts.Logger,
		wo:     opts.WriteOptions,
		cache:  cache,
		tables: make(map[string]string),
	}
	if err = s.loadTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("store open", "dir", dir, "tables", len(s.tables))
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Close()
	s.db = nil
	s.cache.Purge()
	return err
}

// Metrics exports the pebble engine gauges of this store.
func (s *Store) Metrics() *Collector {
	return NewCollector(s.db)
}

func tableKey(table string) []byte {
	return append([]byte{'T'}, table...)
}

func docKey(table, pk string) []byte {
	key := make([]byte, 0, len(table)+len(pk)+2)
	key = append(key, 'D')
	key = append(key, table...)
	key = append(key, 0)
	return append(key, pk...)
}

// docKeyRange bounds every document of one table. The 0x00 separator
// after the name keeps sibling tables with a shared prefix out.
func docKeyRange(table string) (lo, hi []byte) {
	lo = docKey(table, "")
	hi = append([]byte{'D'}, table...)
	hi = append(hi, 1)
	return
}

func cacheKey(table, pk string) string { return table + "\x00" + pk }

func (s *Store) loadTables() error {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'T'},
		UpperBound: []byte{'U'},
	})
	if err != nil {
		return errors.Wrap(err, "store: table registry")
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		name := string(it.Key()[1:])
		pk, _ := toytlv.Take(litKey, it.Value())
		if pk == nil {
			return errors.Wrapf(ErrDocCorrupt, "table %q registration", name)
		}
		s.tables[name] = string(pk)
	}
	return it.Error()
}

func (s *Store) pkOf(table string) (string, bool) {
	s.tlock.Lock()
	defer s.tlock.Unlock()
	pk, ok := s.tables[table]
	return pk, ok
}

func (s *Store) Run(ctx context.Context, op rethinkengine.Operation) (rethinkengine.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch op.Kind {
	case rethinkengine.OpGet:
		return s.get(op)
	case rethinkengine.OpScan:
		return s.scan(op)
	case rethinkengine.OpTableList:
		return s.tableList(), nil
	}
	return nil, errors.Wrapf(rethinkengine.ErrBadOperation, "store: %s is not a read", op.Kind)
}

func (s *Store) RunWrite(ctx context.Context, op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return rethinkengine.WriteResult{}, err
	}
	switch op.Kind {
	case rethinkengine.OpInsert:
		return s.insert(op)
	case rethinkengine.OpUpdate:
		return s.update(op)
	case rethinkengine.OpDelete:
		return s.remove(op)
	case rethinkengine.OpTableCreate:
		return s.tableCreate(op)
	case rethinkengine.OpTableDrop:
		return s.tableDrop(op)
	}
	return rethinkengine.WriteResult{}, errors.Wrapf(rethinkengine.ErrBadOperation, "store: %s is not a write", op.Kind)
}

func (s *Store) get(op rethinkengine.Operation) (rethinkengine.Cursor, error) {
	if _, ok := s.pkOf(op.Table); !ok {
		return nil, errors.Wrapf(rethinkengine.ErrTableUnknown, "store: %q", op.Table)
	}
	if op.Key == "" {
		return nil, errors.Wrap(rethinkengine.ErrBadOperation, "store: get without a key")
	}
	ck := cacheKey(op.Table, op.Key)
	if doc, ok := s.cache.Get(ck); ok {
		return rethinkengine.NewRowsCursor(copyDoc(doc)), nil
	}
	val, closer, err := s.db.Get(docKey(op.Table, op.Key))
	if err == pebble.ErrNotFound {
		return rethinkengine.NewRowsCursor(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get")
	}
	doc, err := DecodeDoc(val)
	_ = closer.Close()
	if err != nil {
		return nil, err
	}
	s.cache.Add(ck, doc)
	return rethinkengine.NewRowsCursor(copyDoc(doc)), nil
}

func (s *Store) scan(op rethinkengine.Operation) (rethinkengine.Cursor, error) {
	if _, ok := s.pkOf(op.Table); !ok {
		return nil, errors.Wrapf(rethinkengine.ErrTableUnknown, "store: %q", op.Table)
	}
	lo, hi := docKeyRange(op.Table)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, errors.Wrap(err, "store: scan")
	}
	defer it.Close()
	var rows []rethinkengine.D
	for valid := it.First(); valid; valid = it.Next() {
		doc, err := DecodeDoc(it.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", it.Key())
		}
		if op.Matches(doc) {
			rows = append(rows, doc)
		}
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "store: scan")
	}
	op.SortRows(rows)
	rows = op.Window(rows)
	return rethinkengine.NewRowsCursor(rows...), nil
}

func (s *Store) tableList() rethinkengine.Cursor {
	s.tlock.Lock()
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	s.tlock.Unlock()
	sort.Strings(names)
	rows := make([]rethinkengine.D, len(names))
	for i, n := range names {
		rows[i] = rethinkengine.D{"name": n}
	}
	return rethinkengine.NewRowsCursor(rows...)
}

func (s *Store) insert(op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	pkField, ok := s.pkOf(op.Table)
	if !ok {
		return rethinkengine.Failed("Table `%s` does not exist.", op.Table), nil
	}
	var res rethinkengine.WriteResult
	doc := copyDoc(op.Doc)
	key, ok := op.DocKey(pkField)
	if !ok {
		key = uuid.Must(uuid.NewV7()).String()
		res.GeneratedKeys = []string{key}
	}
	doc[pkField] = key
	dk := docKey(op.Table, key)
	if s.exists(dk) {
		return rethinkengine.Failed("Duplicate primary key `%s`: %s already in table `%s`.", pkField, key, op.Table), nil
	}
	enc, err := EncodeDoc(doc)
	if err != nil {
		return rethinkengine.WriteResult{}, err
	}
	if err = s.db.Set(dk, enc, s.wo); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "store: insert")
	}
	s.cache.Remove(cacheKey(op.Table, key))
	res.Inserted = 1
	return res, nil
}

func (s *Store) update(op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	pkField, ok := s.pkOf(op.Table)
	if !ok {
		return rethinkengine.Failed("Table `%s` does not exist.", op.Table), nil
	}
	if op.Key == "" {
		return rethinkengine.WriteResult{}, errors.Wrap(rethinkengine.ErrBadOperation, "store: update without a key")
	}
	dk := docKey(op.Table, op.Key)
	old, closer, err := s.db.Get(dk)
	if err == pebble.ErrNotFound {
		return rethinkengine.Failed("Document with primary key `%s` not found in table `%s`.", op.Key, op.Table), nil
	}
	if err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "store: update")
	}
	doc := copyDoc(op.Doc)
	doc[pkField] = op.Key
	enc, encErr := EncodeDoc(doc)
	same := encErr == nil && bytes.Equal(old, enc)
	_ = closer.Close()
	if encErr != nil {
		return rethinkengine.WriteResult{}, encErr
	}
	if same {
		return rethinkengine.WriteResult{Unchanged: 1}, nil
	}
	if err = s.db.Set(dk, enc, s.wo); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "store: update")
	}
	s.cache.Remove(cacheKey(op.Table, op.Key))
	return rethinkengine.WriteResult{Replaced: 1}, nil
}

func (s *Store) remove(op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	if _, ok := s.pkOf(op.Table); !ok {
		return rethinkengine.Failed("Table `%s` does not exist.", op.Table), nil
	}
	if op.Key == "" {
		return rethinkengine.WriteResult{}, errors.Wrap(rethinkengine.ErrBadOperation, "store: delete without a key")
	}
	dk := docKey(op.Table, op.Key)
	if !s.exists(dk) {
		return rethinkengine.WriteResult{Skipped: 1}, nil
	}
	if err := s.db.Delete(dk, s.wo); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "store: delete")
	}
	s.cache.Remove(cacheKey(op.Table, op.Key))
	return rethinkengine.WriteResult{Deleted: 1}, nil
}

func (s *Store) tableCreate(op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	if !rethinkengine.ValidTableName(op.Table) {
		return rethinkengine.WriteResult{}, errors.Wrapf(rethinkengine.ErrBadOperation, "store: bad table name %q", op.Table)
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
	if err := s.db.Set(tableKey(op.Table), toytlv.Record(litKey, []byte(pk)), s.wo); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "store: table create")
	}
	s.tables[op.Table] = pk
	s.log.Debug("table created", "table", op.Table, "pk", pk)
	return rethinkengine.WriteResult{TablesCreated: 1}, nil
}

func (s *Store) tableDrop(op rethinkengine.Operation) (rethinkengine.WriteResult, error) {
	s.tlock.Lock()
	defer s.tlock.Unlock()
	if _, ok := s.tables[op.Table]; !ok {
		return rethinkengine.Failed("Table `%s` does not exist.", op.Table), nil
	}
	if err := s.db.Delete(tableKey(op.Table), s.wo); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "store: table drop")
	}
	lo, hi := docKeyRange(op.Table)
	if err := s.db.DeleteRange(lo, hi, s.wo); err != nil {
		return rethinkengine.WriteResult{}, errors.Wrap(err, "store: table drop")
	}
	delete(s.tables, op.Table)
	s.cache.Purge()
	s.log.Debug("table dropped", "table", op.Table)
	return rethinkengine.WriteResult{TablesDropped: 1}, nil
}

func (s *Store) exists(key []byte) bool {
	_, closer, err := s.db.Get(key)
	if err != nil {
		return false
	}
	_ = closer.Close()
	return true
}

// copyDoc shields the cache and callers from each other: rows handed
// out are never the cached map itself.
func copyDoc(doc rethinkengine.D) rethinkengine.D {
	out := make(rethinkengine.D, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
