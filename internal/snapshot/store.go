// Package snapshot holds the latest known state of each domain.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Source records which input produced an entry.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Op is a merge instruction.
type Op int

const (
	// ReplaceDomain overwrites the whole entry.
	ReplaceDomain Op = iota
	// ReplaceItem overwrites one keyed item, inserting it when absent.
	ReplaceItem
	// UpsertItem inserts or updates keyed items.
	UpsertItem
	// RemoveItem deletes one keyed item. Unknown keys are a no-op.
	RemoveItem
)

func (o Op) String() string {
	switch o {
	case ReplaceDomain:
		return "replace_domain"
	case ReplaceItem:
		return "replace_item"
	case UpsertItem:
		return "upsert_item"
	case RemoveItem:
		return "remove_item"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

var (
	// ErrNotList is returned for item operations against a scalar entry.
	ErrNotList = errors.New("snapshot: item operation on non-list domain")
	// ErrEmptyKey is returned for item operations without a key.
	ErrEmptyKey = errors.New("snapshot: item key is required")
)

// Item is one keyed element of a list domain.
type Item struct {
	Key   string
	Value any
}

// Mutation describes one atomic change to a domain.
type Mutation struct {
	Op    Op
	Value any
	// Items carries the list for ReplaceDomain on list domains, or the
	// affected items for item operations. All items are applied in one commit.
	Items []Item
	List  bool
}

// Replace builds a ReplaceDomain mutation for a scalar domain.
func Replace(value any) Mutation {
	return Mutation{Op: ReplaceDomain, Value: value}
}

// ReplaceList builds a ReplaceDomain mutation for a list domain.
func ReplaceList(items []Item) Mutation {
	return Mutation{Op: ReplaceDomain, Items: items, List: true}
}

// Upsert builds an UpsertItem mutation covering all given items.
func Upsert(items ...Item) Mutation {
	return Mutation{Op: UpsertItem, Items: items, List: true}
}

// ReplaceOne builds a ReplaceItem mutation.
func ReplaceOne(item Item) Mutation {
	return Mutation{Op: ReplaceItem, Items: []Item{item}, List: true}
}

// Remove builds a RemoveItem mutation.
func Remove(key string) Mutation {
	return Mutation{Op: RemoveItem, Items: []Item{{Key: key}}, List: true}
}

// Entry is the committed state of one domain. Entries handed out by the
// store are copies; callers must not mutate the values they reference.
type Entry struct {
	Value     any
	Items     []Item
	List      bool
	UpdatedAt time.Time
	Source    Source
}

// Lookup returns the item with the given key.
func (e Entry) Lookup(key string) (Item, bool) {
	for _, it := range e.Items {
		if it.Key == key {
			return it, true
		}
	}
	return Item{}, false
}

// Store is a concurrency safe map of domain name to Entry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time

	notifyMu sync.RWMutex
	notify   func(domain string)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// OnCommit registers the callback run after every successful commit.
// It is invoked outside the store lock with the domain name only.
func (s *Store) OnCommit(fn func(domain string)) {
	s.notifyMu.Lock()
	s.notify = fn
	s.notifyMu.Unlock()
}

// Get returns a copy of the latest committed entry for domain.
func (s *Store) Get(domain string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[domain]
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

// Domains returns the names of all present domains, sorted.
func (s *Store) Domains() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// All returns a copy of every entry.
func (s *Store) All() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for name, e := range s.entries {
		out[name] = e.copy()
	}
	return out
}

// Commit applies m to domain atomically. It reports whether the store changed.
func (s *Store) Commit(domain string, m Mutation, source Source) (bool, error) {
	changed, err := s.apply(domain, m, source)
	if err != nil || !changed {
		return changed, err
	}
	s.fire(domain)
	return true, nil
}

// Clear removes domain. It reports whether the domain was present.
func (s *Store) Clear(domain string) bool {
	s.mu.Lock()
	_, ok := s.entries[domain]
	delete(s.entries, domain)
	s.mu.Unlock()
	if ok {
		s.fire(domain)
	}
	return ok
}

func (s *Store) fire(domain string) {
	s.notifyMu.RLock()
	fn := s.notify
	s.notifyMu.RUnlock()
	if fn != nil {
		fn(domain)
	}
}

func (s *Store) apply(domain string, m Mutation, source Source) (bool, error) {
	if m.Op != ReplaceDomain {
		for _, it := range m.Items {
			if it.Key == "" {
				return false, ErrEmptyKey
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.entries[domain]
	if exists && !current.List && m.Op != ReplaceDomain {
		return false, fmt.Errorf("%w: %s", ErrNotList, domain)
	}

	next := &Entry{UpdatedAt: s.now(), Source: source}

	switch m.Op {
	case ReplaceDomain:
		next.List = m.List
		if m.List {
			next.Items = dedupe(m.Items)
		} else {
			next.Value = m.Value
		}

	case ReplaceItem, UpsertItem:
		next.List = true
		var base []Item
		if exists {
			base = current.Items
		}
		next.Items = upsert(base, m.Items)

	case RemoveItem:
		if !exists {
			return false, nil
		}
		items, removed := remove(current.Items, m.Items)
		if !removed {
			return false, nil
		}
		next.List = true
		next.Items = items

	default:
		return false, fmt.Errorf("snapshot: unknown op %s", m.Op)
	}

	s.entries[domain] = next
	return true, nil
}

// upsert returns a new slice; base is never written to.
func upsert(base []Item, items []Item) []Item {
	out := make([]Item, len(base), len(base)+len(items))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, it := range out {
		index[it.Key] = i
	}
	for _, it := range items {
		if i, ok := index[it.Key]; ok {
			out[i] = it
			continue
		}
		index[it.Key] = len(out)
		out = append(out, it)
	}
	return out
}

func remove(base []Item, items []Item) ([]Item, bool) {
	drop := make(map[string]struct{}, len(items))
	for _, it := range items {
		drop[it.Key] = struct{}{}
	}
	out := make([]Item, 0, len(base))
	for _, it := range base {
		if _, ok := drop[it.Key]; ok {
			continue
		}
		out = append(out, it)
	}
	return out, len(out) != len(base)
}

// dedupe keeps the last occurrence of each key, in first-seen order.
func dedupe(items []Item) []Item {
	return upsert(nil, items)
}

func (e *Entry) copy() Entry {
	out := *e
	if e.Items != nil {
		out.Items = make([]Item, len(e.Items))
		copy(out.Items, e.Items)
	}
	return out
}
