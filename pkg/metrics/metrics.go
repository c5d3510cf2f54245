// Package metrics pkg/metrics/metrics.go provides the process-wide counter
// registry. Counters are monotonically increasing and reset only by process
// restart; increments use atomics so no update is lost under concurrency.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Counter names incremented by the poller, webhook receiver, and API layer.
const (
	Polls                    = "polls"
	PollErrors               = "poll_errors"
	BFDFailures              = "bfd_failures"
	WebhooksReceived         = "webhooks_received"
	WebhookSignatureFailures = "webhook_signature_failures"
	DevicesAdded             = "devices_added"
	DevicesRemoved           = "devices_removed"
	AuditEvents              = "audit_events"
)

// Registry holds named integer counters.
type Registry struct {
	counters sync.Map // map[string]*int64
}

// NewRegistry creates a registry with all known counters pre-registered at
// zero so Snapshot always reports the full set.
func NewRegistry() *Registry {
	r := &Registry{}

	for _, name := range []string{
		Polls,
		PollErrors,
		BFDFailures,
		WebhooksReceived,
		WebhookSignatureFailures,
		DevicesAdded,
		DevicesRemoved,
		AuditEvents,
	} {
		r.counters.Store(name, new(int64))
	}

	return r
}

func (r *Registry) counter(name string) *int64 {
	if v, ok := r.counters.Load(name); ok {
		return v.(*int64)
	}

	v, _ := r.counters.LoadOrStore(name, new(int64))

	return v.(*int64)
}

// Inc increments the named counter by one.
func (r *Registry) Inc(name string) {
	atomic.AddInt64(r.counter(name), 1)
}

// Add increments the named counter by n.
func (r *Registry) Add(name string, n int64) {
	atomic.AddInt64(r.counter(name), n)
}

// Get returns the current value of the named counter.
func (r *Registry) Get(name string) int64 {
	return atomic.LoadInt64(r.counter(name))
}

// Snapshot returns a copy of every counter as a flat map.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)

	r.counters.Range(func(key, value interface{}) bool {
		out[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})

	return out
}
