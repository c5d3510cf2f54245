// Package db pkg/db/interfaces.go
package db

import (
	"encoding/json"
	"time"
)

//go:generate mockgen -destination=mock_db.go -package=db github.com/bfdwatch/bfdmon/pkg/db Service

// Event is a single immutable audit record. Events are never updated or
// individually deleted; retention is enforced by pruning from the oldest end.
type Event struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"ts"`
	Device    string          `json:"device"`
	EventType string          `json:"event_type"`
	Details   json.RawMessage `json:"details"`
}

// Event types recorded in the audit log.
const (
	EventSNMPPoll       = "snmp_poll"
	EventBFDFailure     = "bfd_failure"
	EventWebhookFailure = "webhook_failure"
	EventDeviceAdded    = "device_added"
	EventDeviceRemoved  = "device_removed"
	EventShutdown       = "shutdown"
)

// Service represents all audit store operations.
type Service interface {
	// Insert appends an event with a store-assigned id and UTC timestamp
	// and returns the id. Safe under concurrent invocation.
	Insert(device, eventType string, details map[string]interface{}) (int64, error)

	// FetchRecent returns up to limit events, newest first. It returns an
	// empty slice, never an error, when no events exist.
	FetchRecent(limit int) ([]Event, error)

	// Prune deletes the oldest rows until the count is at most maxRows.
	Prune(maxRows int) error

	// Count returns the number of retained events.
	Count() (int, error)

	Close() error
}
