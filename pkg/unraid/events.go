package unraid

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType is the structural identity of a push message payload.
type EventType string

const (
	EventSystemUpdate        EventType = "system_update"
	EventArrayStatusUpdate   EventType = "array_status_update"
	EventUPSStatusUpdate     EventType = "ups_status_update"
	EventNotificationsUpdate EventType = "notifications_update"
	EventZFSArcUpdate        EventType = "zfs_arc_update"

	EventDiskListUpdate        EventType = "disk_list_update"
	EventContainerListUpdate   EventType = "container_list_update"
	EventVMListUpdate          EventType = "vm_list_update"
	EventNetworkListUpdate     EventType = "network_list_update"
	EventShareListUpdate       EventType = "share_list_update"
	EventGPUUpdate             EventType = "gpu_update"
	EventZFSPoolListUpdate     EventType = "zfs_pool_list_update"
	EventZFSDatasetListUpdate  EventType = "zfs_dataset_list_update"
	EventZFSSnapshotListUpdate EventType = "zfs_snapshot_list_update"

	// EventEmptyList is an empty array payload. It cannot be attributed to a domain.
	EventEmptyList EventType = "empty_list"
	// EventUnknown is a payload no rule matched.
	EventUnknown EventType = "unknown"
)

// ErrNoData is returned by DecodeEvent for messages without a data field.
var ErrNoData = errors.New("unraid event has no data")

// Event is one decoded push message.
type Event struct {
	Type      EventType
	Name      string
	Timestamp time.Time
	Data      json.RawMessage

	// List is true when Data is a JSON array.
	List bool
	// Keys lists the top-level keys of the payload object, or of the first
	// element for list payloads. Used for debug logging of unknown events.
	Keys []string
}

type envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DecodeEvent parses a raw websocket frame and identifies its type.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode unraid event: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Event{}, ErrNoData
	}

	ev := Event{Name: env.Event, Data: json.RawMessage(data)}
	if env.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
			ev.Timestamp = ts
		}
	}
	ev.Type, ev.List, ev.Keys = identify(ev.Data)
	return ev, nil
}

// IdentifyEventType inspects the shape of a payload to determine its type.
// Lists are identified by their first element.
func IdentifyEventType(data json.RawMessage) EventType {
	t, _, _ := identify(data)
	return t
}

type keySet map[string]json.RawMessage

func (k keySet) has(keys ...string) bool {
	for _, key := range keys {
		if _, ok := k[key]; !ok {
			return false
		}
	}
	return true
}

func (k keySet) names() []string {
	out := make([]string, 0, len(k))
	for key := range k {
		out = append(out, key)
	}
	return out
}

func identify(data json.RawMessage) (EventType, bool, []string) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return EventUnknown, false, nil
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return EventUnknown, true, nil
		}
		if len(items) == 0 {
			return EventEmptyList, true, nil
		}
		var first keySet
		if err := json.Unmarshal(items[0], &first); err != nil || first == nil {
			return EventUnknown, true, nil
		}
		return identifyListItem(first), true, first.names()
	case '{':
		var obj keySet
		if err := json.Unmarshal(data, &obj); err != nil {
			return EventUnknown, false, nil
		}
		if t := identifyObject(obj); t != EventUnknown {
			return t, false, obj.names()
		}
		// A single record of a list domain.
		return identifyListItem(obj), false, obj.names()
	default:
		return EventUnknown, false, nil
	}
}

func identifyObject(obj keySet) EventType {
	switch {
	case obj.has("hostname", "cpu_usage_percent"):
		return EventSystemUpdate
	case obj.has("state", "parity_check_status", "num_disks"):
		return EventArrayStatusUpdate
	case obj.has("connected", "battery_charge_percent"):
		return EventUPSStatusUpdate
	case obj.has("notifications", "overview"):
		return EventNotificationsUpdate
	case obj.has("hit_ratio_percent", "size_bytes"):
		return EventZFSArcUpdate
	}
	return EventUnknown
}

func identifyListItem(item keySet) EventType {
	switch {
	case item.has("device", "status", "filesystem"):
		return EventDiskListUpdate
	case item.has("image", "ports") && (item.has("id") || item.has("container_id")):
		return EventContainerListUpdate
	case item.has("state", "cpu_count"):
		return EventVMListUpdate
	case item.has("mac_address", "bytes_received"):
		return EventNetworkListUpdate
	case item.has("name", "path", "total_bytes"):
		return EventShareListUpdate
	case item.has("available", "driver_version", "utilization_gpu_percent"):
		return EventGPUUpdate
	case item.has("health", "size_bytes", "allocated_bytes"):
		return EventZFSPoolListUpdate
	case item.has("mountpoint", "used_bytes", "available_bytes"):
		return EventZFSDatasetListUpdate
	case item.has("dataset", "creation_time"):
		return EventZFSSnapshotListUpdate
	}
	return EventUnknown
}

// DecodeItems decodes a list payload, or a single object as a one-element list.
func DecodeItems[T any](data json.RawMessage) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoData
	}
	if data[0] == '[' {
		var out []T
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode unraid list payload: %w", err)
		}
		return out, nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decode unraid object payload: %w", err)
	}
	return []T{one}, nil
}

// DecodeObject decodes a single-object payload.
func DecodeObject[T any](data json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode unraid object payload: %w", err)
	}
	return out, nil
}
