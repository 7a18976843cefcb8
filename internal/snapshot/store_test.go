package snapshot

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string
	State string
}

func items(recs ...record) []Item {
	out := make([]Item, 0, len(recs))
	for _, r := range recs {
		out = append(out, Item{Key: r.ID, Value: r})
	}
	return out
}

func TestCommitReplaceDomainScalar(t *testing.T) {
	s := NewStore()
	var notified []string
	s.OnCommit(func(d string) { notified = append(notified, d) })

	changed, err := s.Commit("system", Replace(record{ID: "tower"}), SourcePoll)
	require.NoError(t, err)
	assert.True(t, changed)

	e, ok := s.Get("system")
	require.True(t, ok)
	assert.False(t, e.List)
	assert.Equal(t, SourcePoll, e.Source)
	assert.False(t, e.UpdatedAt.IsZero())

	v, ok := Value[record](s, "system")
	require.True(t, ok)
	assert.Equal(t, "tower", v.ID)
	assert.Equal(t, []string{"system"}, notified)

	_, ok = Value[string](s, "system")
	assert.False(t, ok)
}

func TestReplaceDomainIsIdempotent(t *testing.T) {
	s := NewStore()
	m := ReplaceList(items(record{ID: "a"}, record{ID: "b"}))

	_, err := s.Commit("containers", m, SourcePoll)
	require.NoError(t, err)
	first, _ := s.Get("containers")

	_, err = s.Commit("containers", m, SourcePoll)
	require.NoError(t, err)
	second, _ := s.Get("containers")

	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.Export(), second.Export())
}

func TestUpsertPreservesUnmentionedItems(t *testing.T) {
	s := NewStore()
	_, err := s.Commit("containers", ReplaceList(items(
		record{ID: "a", State: "running"},
		record{ID: "b", State: "running"},
		record{ID: "c", State: "exited"},
	)), SourcePoll)
	require.NoError(t, err)

	_, err = s.Commit("containers", Upsert(items(record{ID: "b", State: "paused"}, record{ID: "d", State: "running"})...), SourcePush)
	require.NoError(t, err)

	got, ok := Items[record](s, "containers")
	require.True(t, ok)
	assert.Equal(t, []record{
		{ID: "a", State: "running"},
		{ID: "b", State: "paused"},
		{ID: "c", State: "exited"},
		{ID: "d", State: "running"},
	}, got)

	e, _ := s.Get("containers")
	assert.Equal(t, SourcePush, e.Source)
}

func TestReplaceItemInsertsUnknownKey(t *testing.T) {
	s := NewStore()
	_, err := s.Commit("vms", ReplaceOne(Item{Key: "win11", Value: record{ID: "win11"}}), SourcePush)
	require.NoError(t, err)

	e, ok := s.Get("vms")
	require.True(t, ok)
	assert.True(t, e.List)
	_, found := e.Lookup("win11")
	assert.True(t, found)
}

func TestRemoveItem(t *testing.T) {
	s := NewStore()
	notifications := 0
	s.OnCommit(func(string) { notifications++ })

	_, err := s.Commit("containers", ReplaceList(items(record{ID: "a"}, record{ID: "b"})), SourcePoll)
	require.NoError(t, err)
	require.Equal(t, 1, notifications)

	changed, err := s.Commit("containers", Remove("missing"), SourcePush)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, notifications, "unknown key must not notify")

	changed, err = s.Commit("containers", Remove("a"), SourcePush)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, notifications)

	got, _ := Items[record](s, "containers")
	assert.Equal(t, []record{{ID: "b"}}, got)

	changed, err = s.Commit("absent", Remove("a"), SourcePush)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestItemOpsRejectedOnScalarDomain(t *testing.T) {
	s := NewStore()
	_, err := s.Commit("ups", Replace(record{ID: "ups"}), SourcePoll)
	require.NoError(t, err)

	_, err = s.Commit("ups", Upsert(Item{Key: "x", Value: 1}), SourcePush)
	assert.ErrorIs(t, err, ErrNotList)

	_, err = s.Commit("disks", Upsert(Item{Value: 1}), SourcePush)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestReadersReceiveCopies(t *testing.T) {
	s := NewStore()
	_, err := s.Commit("disks", ReplaceList(items(record{ID: "disk1"})), SourcePoll)
	require.NoError(t, err)

	e, _ := s.Get("disks")
	e.Items[0] = Item{Key: "tampered"}

	again, _ := s.Get("disks")
	assert.Equal(t, "disk1", again.Items[0].Key)
}

func TestReplaceListDedupesKeys(t *testing.T) {
	s := NewStore()
	_, err := s.Commit("disks", ReplaceList(items(record{ID: "a", State: "old"}, record{ID: "a", State: "new"})), SourcePoll)
	require.NoError(t, err)

	got, _ := Items[record](s, "disks")
	assert.Equal(t, []record{{ID: "a", State: "new"}}, got)
}

func TestClear(t *testing.T) {
	s := NewStore()
	var notified []string
	s.OnCommit(func(d string) { notified = append(notified, d) })

	assert.False(t, s.Clear("gpu"))
	_, _ = s.Commit("gpu", ReplaceList(nil), SourcePoll)
	assert.True(t, s.Clear("gpu"))
	_, ok := s.Get("gpu")
	assert.False(t, ok)
	assert.Equal(t, []string{"gpu", "gpu"}, notified)
}

func TestEntryPersistsWithTimestamp(t *testing.T) {
	s := NewStore()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Commit("array", Replace(record{ID: "array"}), SourcePoll)
	require.NoError(t, err)

	e, _ := s.Get("array")
	assert.Equal(t, fixed, e.UpdatedAt)
	assert.Equal(t, []string{"array"}, s.Domains())
	assert.Len(t, s.All(), 1)
}

func TestConcurrentCommitsAndReads(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i%10)
				_, err := s.Commit("containers", Upsert(Item{Key: key, Value: i}), SourcePush)
				assert.NoError(t, err)
				if e, ok := s.Get("containers"); ok {
					assert.True(t, e.List)
				}
			}
		}(w)
	}
	wg.Wait()

	e, ok := s.Get("containers")
	require.True(t, ok)
	assert.Len(t, e.Items, 80)
}
