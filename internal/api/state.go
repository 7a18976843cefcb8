package api

import (
	"time"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/monitoring"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/snapshot"
)

// StateSource is the coordinator surface needed to render state.
type StateSource interface {
	Snapshot() *snapshot.Store
	Status() monitoring.Status
}

// DomainState is one domain as served to clients. Data is nil once the
// domain has been cleared.
type DomainState struct {
	Domain    string          `json:"domain"`
	Data      any             `json:"data"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
	Source    snapshot.Source `json:"source,omitempty"`
}

// State is the full view returned by /api/state and sent as the websocket
// initial state.
type State struct {
	Status  monitoring.Status      `json:"status"`
	Domains map[string]DomainState `json:"domains"`
}

// CurrentState renders src.
func CurrentState(src StateSource) State {
	all := src.Snapshot().All()
	domains := make(map[string]DomainState, len(all))
	for name, entry := range all {
		domains[name] = domainState(name, entry)
	}
	return State{Status: src.Status(), Domains: domains}
}

func domainState(name string, entry snapshot.Entry) DomainState {
	return DomainState{
		Domain:    name,
		Data:      entry.Export(),
		UpdatedAt: entry.UpdatedAt,
		Source:    entry.Source,
	}
}
