// Package poller pkg/poller/poller.go implements the background SNMP polling
// loop. Exactly one loop instance runs per process; it reads inventory
// snapshots, issues one status query per device with a bounded timeout, and
// writes the results to the audit store. Cancellation is cooperative: a stop
// request is observed at the top of each cycle and between devices, never
// mid-query.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bfdwatch/bfdmon/pkg/db"
	"github.com/bfdwatch/bfdmon/pkg/inventory"
	"github.com/bfdwatch/bfdmon/pkg/metrics"
	"github.com/bfdwatch/bfdmon/pkg/snmp"
)

// Config represents the polling parameters shared by all devices. Per-device
// fields on an inventory entry override the defaults here.
type Config struct {
	PollInterval     time.Duration
	QueryTimeout     time.Duration
	Retries          int
	SNMPPort         uint16
	Community        string
	BFDOperStatusOID string
	MaxAuditRows     int
}

// Poller is the monitoring loop. All collaborators are injected so the loop
// can be tested against substitute clients and stores.
type Poller struct {
	client   snmp.Client
	store    db.Service
	registry *inventory.Registry
	counters *metrics.Registry
	config   Config

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a poller in the Stopped state.
func New(client snmp.Client, store db.Service, registry *inventory.Registry, counters *metrics.Registry, config Config) *Poller {
	return &Poller{
		client:   client,
		store:    store,
		registry: registry,
		counters: counters,
		config:   config,
		state:    StateStopped,
	}
}

// State returns the current loop state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// IsRunning reports whether the loop is active.
func (p *Poller) IsRunning() bool {
	return p.State() == StateRunning
}

// Start transitions Stopped -> Running and blocks in the polling loop until
// a stop request or context cancellation. It returns ErrAlreadyRunning if
// the loop is active.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()

	if p.state != StateStopped {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}

	p.state = StateRunning
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	log.Printf("Starting BFD poller with interval %v", p.config.PollInterval)

	defer func() {
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()

		close(doneCh)
		log.Printf("BFD poller stopped")
	}()

	for {
		p.cycle(ctx, stopCh)

		if err := p.store.Prune(p.config.MaxAuditRows); err != nil {
			log.Printf("Failed to prune audit store: %v", err)
		}

		select {
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.config.PollInterval):
		}
	}
}

// Stop requests a cooperative halt and waits for the loop to exit or the
// context to expire. A stop request while already StopRequested or Stopped
// is a no-op.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()

	if p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}

	p.state = StateStopRequested
	close(p.stopCh)

	doneCh := p.doneCh
	p.mu.Unlock()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cycle polls every device in the current inventory snapshot. The snapshot is
// taken once, so mutations during the cycle affect only the next one. The
// device in flight always finishes before a stop request is honored.
func (p *Poller) cycle(ctx context.Context, stopCh <-chan struct{}) {
	for _, device := range p.registry.Snapshot() {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.pollDevice(ctx, device)
	}
}

// pollDevice issues one status query and records the outcome. One device's
// failure never prevents polling the rest.
func (p *Poller) pollDevice(ctx context.Context, device inventory.Device) {
	target := p.targetFor(device)

	queryCtx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	raw, err := p.client.Get(queryCtx, target)
	if err != nil {
		p.counters.Inc(metrics.PollErrors)
		log.Printf("SNMP poll failed for device %s: %v", device.Name, err)
		p.audit(device.Name, db.EventSNMPPoll, map[string]interface{}{
			"error": err.Error(),
		})

		return
	}

	status := snmp.InterpretStatus(raw)

	p.counters.Inc(metrics.Polls)
	p.audit(device.Name, db.EventSNMPPoll, map[string]interface{}{
		"oper_status_raw": raw,
		"oper_status":     string(status),
	})

	if status == snmp.StatusDown {
		// Failures are recorded twice: once as the raw poll above, once
		// as a distinguished failure event, so consumers can filter on
		// event type alone.
		log.Printf("BFD failure detected on %s (status=%s)", device.Name, raw)
		p.counters.Inc(metrics.BFDFailures)
		p.audit(device.Name, db.EventBFDFailure, map[string]interface{}{
			"status_raw": raw,
			"status":     string(status),
		})
	}
}

func (p *Poller) targetFor(device inventory.Device) *snmp.Target {
	target := &snmp.Target{
		Name:      device.Name,
		Host:      device.Host,
		Port:      device.Port,
		Community: device.Community,
		OID:       device.OID,
		Timeout:   p.config.QueryTimeout,
		Retries:   p.config.Retries,
	}

	if target.Port == 0 {
		target.Port = p.config.SNMPPort
	}

	if target.Community == "" {
		target.Community = p.config.Community
	}

	if target.OID == "" {
		target.OID = p.config.BFDOperStatusOID
	}

	return target
}

// audit writes an event; a persistence failure is logged and polling
// continues, it is never fatal to the loop.
func (p *Poller) audit(device, eventType string, details map[string]interface{}) {
	if _, err := p.store.Insert(device, eventType, details); err != nil {
		log.Printf("Failed to write audit record for %s: %v", device, err)
		return
	}

	p.counters.Inc(metrics.AuditEvents)
}
