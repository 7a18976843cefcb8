package issues

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/domains"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/monitoring"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/snapshot"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

type fakeSource struct {
	store *snapshot.Store

	mu     sync.Mutex
	status monitoring.Status
}

func (f *fakeSource) Snapshot() *snapshot.Store { return f.store }

func (f *fakeSource) Status() monitoring.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) setStatus(s monitoring.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func newSource() *fakeSource {
	return &fakeSource{
		store:  snapshot.NewStore(),
		status: monitoring.Status{Instance: "tower", Availability: monitoring.Available, LastPoll: time.Now()},
	}
}

func ptr[T any](v T) *T { return &v }

func commitDisks(t *testing.T, src *fakeSource, disks ...unraid.Disk) {
	t.Helper()
	items := make([]snapshot.Item, 0, len(disks))
	for _, d := range disks {
		items = append(items, snapshot.Item{Key: d.ID, Value: d})
	}
	_, err := src.store.Commit(domains.Disks, snapshot.ReplaceList(items), snapshot.SourcePoll)
	require.NoError(t, err)
}

func ids(issues []Issue) []string {
	var out []string
	for _, is := range issues {
		out = append(out, is.ID)
	}
	return out
}

func TestDiskTemperatureThresholds(t *testing.T) {
	tests := []struct {
		name string
		disk unraid.Disk
		want []string
	}{
		{name: "hdd normal", disk: unraid.Disk{ID: "disk1", TemperatureCelsius: ptr(40.0)}},
		{name: "hdd warning", disk: unraid.Disk{ID: "disk1", TemperatureCelsius: ptr(45.0)}, want: []string{"disk_health_disk1_high_temp"}},
		{name: "hdd critical", disk: unraid.Disk{ID: "disk1", TemperatureCelsius: ptr(55.0)}, want: []string{"disk_health_disk1_critical_temp"}},
		{name: "ssd below warning", disk: unraid.Disk{ID: "cache", Rotational: ptr(false), TemperatureCelsius: ptr(55.0)}},
		{name: "nvme warning", disk: unraid.Disk{ID: "nvme0", Device: "nvme0n1", TemperatureCelsius: ptr(61.0)}, want: []string{"disk_health_nvme0_high_temp"}},
		{name: "ssd critical", disk: unraid.Disk{ID: "ssd1", DiskType: "ssd", TemperatureCelsius: ptr(70.0)}, want: []string{"disk_health_ssd1_critical_temp"}},
		{name: "cache role is ssd", disk: unraid.Disk{ID: "c1", Role: "cache", TemperatureCelsius: ptr(50.0)}},
		{name: "no reading", disk: unraid.Disk{ID: "disk1"}},
		{name: "zero reading", disk: unraid.Disk{ID: "disk1", TemperatureCelsius: ptr(0.0)}},
		{name: "smart errors", disk: unraid.Disk{ID: "disk2", Name: "Disk 2", SMARTErrors: 3}, want: []string{"disk_health_disk2_smart_errors"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(checkDisk(tt.disk)))
		})
	}
}

func TestArrayChecks(t *testing.T) {
	assert.Empty(t, checkArray(unraid.ArrayStatus{State: "STARTED"}), "unknown parity is not an issue")
	assert.Empty(t, checkArray(unraid.ArrayStatus{ParityValid: ptr(true)}))
	assert.Equal(t, []string{"array_parity_invalid"}, ids(checkArray(unraid.ArrayStatus{ParityValid: ptr(false)})))

	assert.Equal(t, []string{"parity_check_stuck"},
		ids(checkArray(unraid.ArrayStatus{ParityCheckStatus: "running", ParityCheckProgress: 97.5})))
	assert.Empty(t, checkArray(unraid.ArrayStatus{ParityCheckStatus: "running", ParityCheckProgress: 95}))
	assert.Empty(t, checkArray(unraid.ArrayStatus{ParityCheckStatus: "running", ParityCheckProgress: 100}))
	assert.Empty(t, checkArray(unraid.ArrayStatus{ParityCheckStatus: "idle", ParityCheckProgress: 99}))
}

func TestEvaluateRaisesAndClearsIdempotently(t *testing.T) {
	src := newSource()
	c := NewChecker(src)

	commitDisks(t, src, unraid.Disk{ID: "disk1", TemperatureCelsius: ptr(50.0)})
	raised, cleared := c.Evaluate()
	assert.Equal(t, []string{"disk_health_disk1_high_temp"}, raised)
	assert.Empty(t, cleared)
	since := c.Issues()[0].Since

	raised, cleared = c.Evaluate()
	assert.Empty(t, raised)
	assert.Empty(t, cleared)
	assert.Equal(t, since, c.Issues()[0].Since, "re-evaluation keeps the original timestamp")

	commitDisks(t, src, unraid.Disk{ID: "disk1", TemperatureCelsius: ptr(58.0)})
	raised, cleared = c.Evaluate()
	assert.Equal(t, []string{"disk_health_disk1_critical_temp"}, raised)
	assert.Equal(t, []string{"disk_health_disk1_high_temp"}, cleared)

	commitDisks(t, src, unraid.Disk{ID: "disk1", TemperatureCelsius: ptr(35.0)})
	_, cleared = c.Evaluate()
	assert.Equal(t, []string{"disk_health_disk1_critical_temp"}, cleared)
	assert.Empty(t, c.Issues())
}

func TestConnectionIssue(t *testing.T) {
	src := newSource()
	src.setStatus(monitoring.Status{Instance: "tower", Availability: monitoring.Unavailable})
	c := NewChecker(src)

	raised, _ := c.Evaluate()
	assert.Empty(t, raised, "no issue before the first poll")

	src.setStatus(monitoring.Status{Instance: "tower", Availability: monitoring.Unavailable, LastPoll: time.Now()})
	raised, _ = c.Evaluate()
	assert.Equal(t, []string{"connection_tower"}, raised)
	assert.Equal(t, SeverityError, c.Issues()[0].Severity)

	src.setStatus(monitoring.Status{Instance: "tower", Availability: monitoring.Degraded, LastPoll: time.Now()})
	_, cleared := c.Evaluate()
	assert.Equal(t, []string{"connection_tower"}, cleared)
}

type fakeChanges struct {
	ch     chan struct{}
	mu     sync.Mutex
	topics []string
}

func (f *fakeChanges) C() <-chan struct{} { return f.ch }

func (f *fakeChanges) Drain() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.topics
	f.topics = nil
	return out
}

func (f *fakeChanges) push(topics ...string) {
	f.mu.Lock()
	f.topics = append(f.topics, topics...)
	f.mu.Unlock()
	f.ch <- struct{}{}
}

func TestRunReevaluatesOnRelevantTopics(t *testing.T) {
	src := newSource()
	c := NewChecker(src)
	changes := &fakeChanges{ch: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, changes)
	}()

	_, err := src.store.Commit(domains.Array, snapshot.Replace(unraid.ArrayStatus{ParityValid: ptr(false)}), snapshot.SourcePush)
	require.NoError(t, err)
	changes.push(domains.Array)

	require.Eventually(t, func() bool { return len(c.Issues()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, KindArrayParityInvalid, c.Issues()[0].Kind)

	close(changes.ch)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit when the feed closed")
	}
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant([]string{"containers", domains.Disks}))
	assert.True(t, relevant([]string{monitoring.TopicAvailability}))
	assert.False(t, relevant([]string{domains.Containers, domains.VMs}))
}
