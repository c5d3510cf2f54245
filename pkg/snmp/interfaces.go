// Package snmp pkg/snmp/interfaces.go

package snmp

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mock_snmp.go -package=snmp github.com/bfdwatch/bfdmon/pkg/snmp Client

// Target identifies a single operational-status query against one device.
type Target struct {
	Name      string
	Host      string
	Port      uint16
	Community string
	OID       string
	Timeout   time.Duration
	Retries   int
}

// Client issues read-only SNMP GET queries. The monitor never writes to or
// reconfigures devices; this is the only query shape it performs.
type Client interface {
	// Get retrieves the raw value for the target's OID as a string, or an
	// error on timeout, unreachable host, or malformed response.
	Get(ctx context.Context, target *Target) (string, error)
}
