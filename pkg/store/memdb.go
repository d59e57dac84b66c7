package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"
)

const factsTable = "facts"

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			factsTable: {
				Name: factsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"name": {
						Name:    "name",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
		},
	}
}

// MemStore is the reference FactStore adapter: an in-process, transactional
// fact store built on github.com/hashicorp/go-memdb, exercising its write
// transactions and TrackChanges machinery the way hashicorp-nomad's state
// store exercises the same library for its FSM.
type MemStore struct {
	mu      sync.Mutex
	db      *memdb.MemDB
	txStack []*memdb.Txn

	nextFactID int64

	seq       int64
	changeLog []loggedChange
}

type loggedChange struct {
	seq      int64
	factName string
	factID   string
}

// NewMemStore creates an empty fact store.
func NewMemStore() (*MemStore, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("store: creating memdb: %w", err)
	}
	return &MemStore{db: db}, nil
}

func (s *MemStore) activeTxn() (*memdb.Txn, error) {
	if len(s.txStack) == 0 {
		return nil, fmt.Errorf("store: no active transaction; call TransactionPush first")
	}
	return s.txStack[len(s.txStack)-1], nil
}

// TransactionPush opens a new write transaction, pushing it onto the
// adapter's transaction stack (spec.md §6.1: transaction_push).
func (s *MemStore) TransactionPush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn := s.db.Txn(true)
	txn.TrackChanges()
	s.txStack = append(s.txStack, txn)
	return nil
}

// TransactionPop closes the innermost transaction, committing it or rolling
// it back (spec.md §6.1: transaction_pop). Rolled-back mutations never
// reach the change log, so rollback is invisible to staleness detection.
func (s *MemStore) TransactionPop(rollback bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txStack) == 0 {
		return fmt.Errorf("store: TransactionPop called with no active transaction")
	}
	txn := s.txStack[len(s.txStack)-1]
	s.txStack = s.txStack[:len(s.txStack)-1]

	if rollback {
		txn.Abort()
		return nil
	}

	changes := txn.Changes()
	txn.Commit()

	for _, c := range changes {
		name := factNameOf(c)
		id := factIDOf(c)
		if name == "" {
			continue
		}
		s.seq++
		s.changeLog = append(s.changeLog, loggedChange{seq: s.seq, factName: name, factID: id})
	}
	return nil
}

func factNameOf(c memdb.Change) string {
	if f, ok := c.After.(*Fact); ok && f != nil {
		return f.Name
	}
	if f, ok := c.Before.(*Fact); ok && f != nil {
		return f.Name
	}
	return ""
}

func factIDOf(c memdb.Change) string {
	if f, ok := c.After.(*Fact); ok && f != nil {
		return f.ID
	}
	if f, ok := c.Before.(*Fact); ok && f != nil {
		return f.ID
	}
	return ""
}

// LookupByName returns every fact currently stored under name. Reads use
// their own read-only snapshot so they see the database as of the last
// commit, independent of any in-flight write transaction — matching
// spec.md §5's "reads by other subsystems ... may see intermediate state
// until commit" caveat from the other direction: writers never leak
// uncommitted state to these reads.
func (s *MemStore) LookupByName(name string) ([]*Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(factsTable, "name", name)
	if err != nil {
		return nil, fmt.Errorf("store: lookup %q: %w", name, err)
	}
	var out []*Fact
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*Fact))
	}
	return out, nil
}

// NewFact allocates an unattached fact under name. It is not visible to
// LookupByName until it is inserted and the transaction commits.
func (s *MemStore) NewFact(name string) (*Fact, error) {
	id := atomic.AddInt64(&s.nextFactID, 1)
	return &Fact{
		ID:     fmt.Sprintf("f%d", id),
		Name:   name,
		Fields: make(map[string]Value),
	}, nil
}

// Insert writes f into the active transaction.
func (s *MemStore) Insert(f *Fact) error {
	txn, err := s.activeTxn()
	if err != nil {
		return err
	}
	if err := txn.Insert(factsTable, f); err != nil {
		return fmt.Errorf("store: insert %s: %w", f.ID, err)
	}
	return nil
}

// Remove deletes f within the active transaction.
func (s *MemStore) Remove(f *Fact) error {
	txn, err := s.activeTxn()
	if err != nil {
		return err
	}
	if err := txn.Delete(factsTable, f); err != nil {
		return fmt.Errorf("store: remove %s: %w", f.ID, err)
	}
	return nil
}

// RemoveByName deletes every fact currently stored under name.
func (s *MemStore) RemoveByName(name string) error {
	txn, err := s.activeTxn()
	if err != nil {
		return err
	}
	it, err := txn.Get(factsTable, "name", name)
	if err != nil {
		return fmt.Errorf("store: removeByName %q: %w", name, err)
	}
	var toDelete []*Fact
	for obj := it.Next(); obj != nil; obj = it.Next() {
		toDelete = append(toDelete, obj.(*Fact))
	}
	for _, f := range toDelete {
		if err := txn.Delete(factsTable, f); err != nil {
			return fmt.Errorf("store: removeByName %q: %w", name, err)
		}
	}
	return nil
}

// GetField reads a field from f as last written to the store (i.e. it does
// not see uncommitted writes made outside the fact value passed in).
func (s *MemStore) GetField(f *Fact, field string) (Value, bool) {
	v, ok := f.Fields[field]
	return v, ok
}

// SetField writes field on a clone of f within the active transaction and
// inserts the clone, leaving f itself untouched. f may already be reachable
// from a previously committed snapshot (LookupByName hands out the exact
// pointer memdb's radix tree holds), and memdb's copy-on-write versions
// only the pointer-to-object mapping, never the pointee's contents — so
// mutating f in place here would corrupt that earlier snapshot permanently,
// abort or no abort. The returned Fact is the one subsequent reads/writes
// must use. This also promotes an orphan fact: once named and inserted it
// is no longer an orphan.
func (s *MemStore) SetField(f *Fact, field string, v Value) (*Fact, error) {
	nf := CloneFact(f)
	nf.Fields[field] = v
	txn, err := s.activeTxn()
	if err != nil {
		return nil, err
	}
	if err := txn.Insert(factsTable, nf); err != nil {
		return nil, fmt.Errorf("store: setField %s.%s: %w", f.ID, field, err)
	}
	return nf, nil
}

// TransparentView returns a change-tracking view over patterns, beginning
// at the store's current change sequence (spec.md §6.1: transparent_view).
func (s *MemStore) TransparentView(patterns []Pattern) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memView{store: s, patterns: patterns, lastSeq: s.seq}, nil
}

type memView struct {
	store    *MemStore
	patterns []Pattern
	lastSeq  int64
}

func (v *memView) matches(name string) (Pattern, bool) {
	for _, p := range v.patterns {
		if p.Name == name {
			return p, true
		}
	}
	return Pattern{}, false
}

// Changes returns every logged mutation against this view's patterns since
// the view was created or last Reset.
func (v *memView) Changes() []Change {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()

	var out []Change
	for _, lc := range v.store.changeLog {
		if lc.seq <= v.lastSeq {
			continue
		}
		if p, ok := v.matches(lc.factName); ok {
			out = append(out, Change{Pattern: p, FactID: lc.factID})
		}
	}
	return out
}

// Reset advances the view's watermark to the store's current tip.
func (v *memView) Reset() {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	v.lastSeq = v.store.seq
}
