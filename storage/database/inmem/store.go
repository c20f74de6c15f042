// Package inmem is a process-local record.Store, used in tests, in development and by the admin CLI dry runs.
package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

var (
	nowFunc = time.Now // mockable

	errNoCollection = errors.New("collection name is required")
	errNoID         = errors.New("record id is required")
)

type (
	entry struct {
		rec record.Record
		seq uint64
	}

	subscription struct {
		collection string
		conds      []record.Condition
		onChange   func([]record.Record)
		closed     int32
	}

	// change is a write applied under lock, whose subscribers are notified after unlocking.
	change struct {
		collection    string
		before, after *record.Record
	}

	Store struct {
		mu          sync.RWMutex
		collections map[string]map[string]entry
		seq         uint64

		subsMu sync.Mutex
		subs   map[*subscription]struct{}

		enforceIndexes bool
		indexes        map[string][]string // {collection: [sorted, comma-joined field sets]}
	}

	Option func(*Store)
)

var _ record.Store = (*Store)(nil) // interface compliance check

// WithIndexEnforcement makes multi-field range or ordered queries fail with an index-required
// core.QueryError unless a matching composite index was declared with DeclareIndex.
func WithIndexEnforcement() Option {
	return func(s *Store) { s.enforceIndexes = true }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]entry),
		subs:        make(map[*subscription]struct{}),
		indexes:     make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeclareIndex registers a composite index over fields of collection.
func (s *Store) DeclareIndex(collection string, fields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[collection] = append(s.indexes[collection], indexKey(fields))
}

// Reset drops every record; subscriptions are kept.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]map[string]entry)
}

func (s *Store) Create(ctx context.Context, collection string, data record.Document) (string, error) {
	ids, err := s.apply("create", []record.Write{{Collection: collection, Data: data}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data record.Document) error {
	if id == "" {
		return core.NewWriteError("set", collection, errNoID)
	}
	_, err := s.apply("set", []record.Write{{Collection: collection, ID: id, Data: data}})
	return err
}

func (s *Store) Get(ctx context.Context, collection, id string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.collections[collection][id]
	if !ok {
		return record.Record{}, core.NewNotFoundError(collection, id)
	}
	return e.rec.Clone(), nil
}

func (s *Store) Update(ctx context.Context, collection, id string, data record.Document) error {
	if collection == "" {
		return core.NewWriteError("update", collection, errNoCollection)
	}
	doc, err := record.NormalizeDocument(data)
	if err != nil {
		return core.NewWriteError("update", collection, err)
	}

	s.mu.Lock()
	e, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return core.NewNotFoundError(collection, id)
	}
	before := e.rec.Clone()
	after := e.rec.Clone()
	for k, v := range doc {
		after.Data[k] = v
	}
	after.UpdatedAt = nowFunc().UTC()
	s.collections[collection][id] = entry{rec: after, seq: e.seq}
	s.mu.Unlock()

	s.notify([]change{{collection: collection, before: &before, after: &after}})
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.apply("delete", []record.Write{{Collection: collection, ID: id, Delete: true}})
	return err
}

func (s *Store) Query(ctx context.Context, collection string, conds []record.Condition, ordering ...core.DBOrdering) ([]record.Record, error) {
	normConds, err := record.NormalizeConditions(collection, conds)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkIndex(collection, normConds, ordering); err != nil {
		return nil, err
	}
	return s.query(collection, normConds, ordering), nil
}

// query must be called with s.mu held.
func (s *Store) query(collection string, conds []record.Condition, ordering []core.DBOrdering) []record.Record {
	entries := make([]entry, 0)
	for _, e := range s.collections[collection] {
		if record.Match(e.rec, conds) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	records := make([]record.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.rec.Clone())
	}
	if len(ordering) > 0 {
		record.Sort(records, ordering)
	}
	return records
}

func (s *Store) Batch(ctx context.Context, writes []record.Write) ([]string, error) {
	return s.apply("batch", writes)
}

func (s *Store) apply(op string, writes []record.Write) ([]string, error) {
	// validate everything before touching any collection
	docs := make([]record.Document, len(writes))
	for i, w := range writes {
		if w.Collection == "" {
			return nil, core.NewWriteError(op, w.Collection, errNoCollection)
		}
		if w.Delete {
			if w.ID == "" {
				return nil, core.NewWriteError(op, w.Collection, errNoID)
			}
			continue
		}
		doc, err := record.NormalizeDocument(w.Data)
		if err != nil {
			return nil, core.NewWriteError(op, w.Collection, err)
		}
		docs[i] = doc
	}

	ids := make([]string, len(writes))
	changes := make([]change, 0, len(writes))
	now := nowFunc().UTC()

	s.mu.Lock()
	for i, w := range writes {
		coll, ok := s.collections[w.Collection]
		if !ok {
			coll = make(map[string]entry)
			s.collections[w.Collection] = coll
		}

		id := w.ID
		if id == "" {
			id = uuid.New().String()
		}
		ids[i] = id

		var before *record.Record
		old, exists := coll[id]
		if exists {
			b := old.rec.Clone()
			before = &b
		}

		if w.Delete {
			if exists {
				delete(coll, id)
				changes = append(changes, change{collection: w.Collection, before: before})
			}
			continue
		}

		rec := record.Record{ID: id, Data: docs[i], CreatedAt: now}
		seq := old.seq
		if exists {
			rec.CreatedAt = old.rec.CreatedAt
			rec.UpdatedAt = now
		} else {
			s.seq++
			seq = s.seq
		}
		coll[id] = entry{rec: rec, seq: seq}
		after := rec.Clone()
		changes = append(changes, change{collection: w.Collection, before: before, after: &after})
	}
	s.mu.Unlock()

	s.notify(changes)
	return ids, nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, conds []record.Condition, onChange func([]record.Record)) (record.Unsubscribe, error) {
	normConds, err := record.NormalizeConditions(collection, conds)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	if err := s.checkIndex(collection, normConds, nil); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	snapshot := s.query(collection, normConds, nil)
	s.mu.RUnlock()

	sub := &subscription{collection: collection, conds: normConds, onChange: onChange}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			atomic.StoreInt32(&sub.closed, 1)
			s.subsMu.Lock()
			delete(s.subs, sub)
			s.subsMu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			unsubscribe()
		}()
	}

	onChange(snapshot)
	return unsubscribe, nil
}

// notify delivers a fresh snapshot to every subscription whose match set a change touched.
func (s *Store) notify(changes []change) {
	if len(changes) == 0 {
		return
	}

	s.subsMu.Lock()
	affected := make([]*subscription, 0)
	for sub := range s.subs {
		for _, c := range changes {
			if c.collection != sub.collection {
				continue
			}
			if (c.before != nil && record.Match(*c.before, sub.conds)) || (c.after != nil && record.Match(*c.after, sub.conds)) {
				affected = append(affected, sub)
				break
			}
		}
	}
	s.subsMu.Unlock()

	for _, sub := range affected {
		if atomic.LoadInt32(&sub.closed) == 1 {
			continue
		}
		s.mu.RLock()
		snapshot := s.query(sub.collection, sub.conds, nil)
		s.mu.RUnlock()
		sub.onChange(snapshot)
	}
}

// checkIndex must be called with s.mu held.
func (s *Store) checkIndex(collection string, conds []record.Condition, ordering []core.DBOrdering) error {
	if !s.enforceIndexes {
		return nil
	}

	fields := make(map[string]struct{})
	var needsOrder bool
	for _, c := range conds {
		fields[c.Field] = struct{}{}
		if c.Op.IsRange() {
			needsOrder = true
		}
	}
	for _, o := range ordering {
		fields[o.Field] = struct{}{}
		needsOrder = true
	}
	if len(fields) < 2 || !needsOrder {
		return nil
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	key := indexKey(names)
	for _, idx := range s.indexes[collection] {
		if idx == key {
			return nil
		}
	}
	return core.NewIndexRequiredError(collection, strings.Split(key, ","))
}

func indexKey(fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
