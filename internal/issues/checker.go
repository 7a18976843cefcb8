// Package issues derives actionable problems from the synchronized state:
// disk health, array parity and loss of connectivity.
package issues

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/domains"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/monitoring"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/snapshot"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

// Temperature thresholds in °C, matching Unraid's defaults.
const (
	HDDTempWarning  = 45
	HDDTempCritical = 55
	SSDTempWarning  = 60
	SSDTempCritical = 70
)

// Severity of an issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Kind identifies the check that raised an issue.
type Kind string

const (
	KindConnectionFailed    Kind = "connection_failed"
	KindDiskSMARTErrors     Kind = "disk_smart_errors"
	KindDiskHighTemperature Kind = "disk_high_temperature"
	KindDiskCriticalTemp    Kind = "disk_critical_temperature"
	KindArrayParityInvalid  Kind = "array_parity_invalid"
	KindParityCheckStuck    Kind = "parity_check_stuck"
)

// Issue is one active problem.
type Issue struct {
	ID       string            `json:"id"`
	Kind     Kind              `json:"kind"`
	Severity Severity          `json:"severity"`
	Summary  string            `json:"summary"`
	Details  map[string]string `json:"details,omitempty"`
	Since    time.Time         `json:"since"`
}

// Source is the coordinator surface the checker reads.
type Source interface {
	Snapshot() *snapshot.Store
	Status() monitoring.Status
}

// Changes is a coalescing change feed, such as a coordinator subscription.
type Changes interface {
	C() <-chan struct{}
	Drain() []string
}

// Checker re-evaluates issues whenever disks, the array or availability
// change. Creating and clearing are idempotent.
type Checker struct {
	source Source
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	issues map[string]Issue
}

// NewChecker builds a checker over source.
func NewChecker(source Source) *Checker {
	return &Checker{
		source: source,
		logger: log.With().Str("component", "issue_checker").Logger(),
		now:    time.Now,
		issues: make(map[string]Issue),
	}
}

// Run evaluates once, then on every relevant change until ctx is done or
// the feed closes.
func (c *Checker) Run(ctx context.Context, sub Changes) {
	c.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			if relevant(sub.Drain()) {
				c.Evaluate()
			}
		}
	}
}

func relevant(topics []string) bool {
	for _, t := range topics {
		switch t {
		case domains.Disks, domains.Array, monitoring.TopicAvailability:
			return true
		}
	}
	return false
}

// Issues returns the active issues sorted by ID.
func (c *Checker) Issues() []Issue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Issue, 0, len(c.issues))
	for _, is := range c.issues {
		out = append(out, is)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate recomputes every check and returns the IDs that were raised and
// cleared by this pass.
func (c *Checker) Evaluate() (raised, cleared []string) {
	status := c.source.Status()
	store := c.source.Snapshot()

	next := make(map[string]Issue)
	add := func(is Issue) { next[is.ID] = is }

	if status.Availability == monitoring.Unavailable && !status.LastPoll.IsZero() {
		add(Issue{
			ID:       "connection_" + status.Instance,
			Kind:     KindConnectionFailed,
			Severity: SeverityError,
			Summary:  fmt.Sprintf("Unable to reach Unraid server %s", status.Instance),
			Details:  map[string]string{"host": status.Instance},
		})
	}

	if disks, ok := snapshot.Items[unraid.Disk](store, domains.Disks); ok {
		for _, d := range disks {
			for _, is := range checkDisk(d) {
				add(is)
			}
		}
	}

	if array, ok := snapshot.Value[unraid.ArrayStatus](store, domains.Array); ok {
		for _, is := range checkArray(array) {
			add(is)
		}
	}

	c.mu.Lock()
	now := c.now()
	for id, is := range next {
		if prev, exists := c.issues[id]; exists {
			is.Since = prev.Since
		} else {
			is.Since = now
			raised = append(raised, id)
		}
		next[id] = is
	}
	for id := range c.issues {
		if _, still := next[id]; !still {
			cleared = append(cleared, id)
		}
	}
	c.issues = next
	c.mu.Unlock()

	sort.Strings(raised)
	sort.Strings(cleared)
	for _, id := range raised {
		is := next[id]
		c.logger.Warn().Str("issue", id).Str("severity", string(is.Severity)).Msg(is.Summary)
	}
	for _, id := range cleared {
		c.logger.Info().Str("issue", id).Msg("Issue resolved")
	}
	return raised, cleared
}

func checkDisk(d unraid.Disk) []Issue {
	diskID := firstNonEmpty(d.ID, d.Name, "unknown")
	name := firstNonEmpty(d.Name, diskID)
	var out []Issue

	if d.SMARTErrors > 0 {
		out = append(out, Issue{
			ID:       fmt.Sprintf("disk_health_%s_smart_errors", diskID),
			Kind:     KindDiskSMARTErrors,
			Severity: SeverityWarning,
			Summary:  fmt.Sprintf("Disk %s reports %d SMART errors", name, d.SMARTErrors),
			Details: map[string]string{
				"disk_name":    name,
				"smart_errors": fmt.Sprint(d.SMARTErrors),
				"smart_status": firstNonEmpty(d.SMARTStatus, "UNKNOWN"),
			},
		})
	}

	if d.TemperatureCelsius == nil || *d.TemperatureCelsius <= 0 {
		return out
	}
	temp := *d.TemperatureCelsius
	warning, critical := HDDTempWarning, HDDTempCritical
	if isSSD(d) {
		warning, critical = SSDTempWarning, SSDTempCritical
	}

	switch {
	case temp >= float64(critical):
		out = append(out, Issue{
			ID:       fmt.Sprintf("disk_health_%s_critical_temp", diskID),
			Kind:     KindDiskCriticalTemp,
			Severity: SeverityError,
			Summary:  fmt.Sprintf("Disk %s is at %.0f°C, at or above the critical threshold of %d°C", name, temp, critical),
			Details:  tempDetails(name, temp, critical),
		})
	case temp >= float64(warning):
		out = append(out, Issue{
			ID:       fmt.Sprintf("disk_health_%s_high_temp", diskID),
			Kind:     KindDiskHighTemperature,
			Severity: SeverityWarning,
			Summary:  fmt.Sprintf("Disk %s is at %.0f°C, at or above the warning threshold of %d°C", name, temp, warning),
			Details:  tempDetails(name, temp, warning),
		})
	}
	return out
}

func tempDetails(name string, temp float64, threshold int) map[string]string {
	return map[string]string{
		"disk_name":   name,
		"temperature": fmt.Sprintf("%.0f", temp),
		"threshold":   fmt.Sprint(threshold),
	}
}

// isSSD prefers explicit agent hints and falls back to naming heuristics.
func isSSD(d unraid.Disk) bool {
	if d.Rotational != nil {
		return !*d.Rotational
	}
	switch strings.ToLower(d.DiskType) {
	case "ssd", "nvme":
		return true
	case "hdd":
		return false
	}
	device := strings.ToLower(d.Device)
	id := strings.ToLower(d.ID)
	if strings.Contains(device, "nvme") {
		return true
	}
	if strings.EqualFold(d.Role, "cache") || strings.Contains(strings.ToLower(d.Name), "cache") {
		return true
	}
	return strings.Contains(id, "ssd") || strings.Contains(id, "nvme")
}

func checkArray(a unraid.ArrayStatus) []Issue {
	var out []Issue
	// Unknown parity is not an issue.
	if a.ParityValid != nil && !*a.ParityValid {
		out = append(out, Issue{
			ID:       "array_parity_invalid",
			Kind:     KindArrayParityInvalid,
			Severity: SeverityError,
			Summary:  "Array parity is invalid",
			Details:  map[string]string{"array_state": firstNonEmpty(a.State, "Unknown")},
		})
	}
	if strings.EqualFold(a.ParityCheckStatus, "running") && a.ParityCheckProgress > 95 && a.ParityCheckProgress < 100 {
		out = append(out, Issue{
			ID:       "parity_check_stuck",
			Kind:     KindParityCheckStuck,
			Severity: SeverityWarning,
			Summary:  fmt.Sprintf("Parity check appears stuck at %.1f%%", a.ParityCheckProgress),
			Details:  map[string]string{"sync_percent": fmt.Sprintf("%.1f", a.ParityCheckProgress)},
		})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
