// Package snmp pkg/snmp/status.go

package snmp

import "strings"

// Status is the normalized BFD operational status derived from a raw SNMP
// response. The normalized value, not the raw integer, is the durable record.
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

// InterpretStatus maps common SNMP values to a normalized status. Numeric
// mapping follows the usual MIB convention of 1=up, 2=down; anything
// unrecognized is unknown.
func InterpretStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "up", "operational", "ok":
		return StatusUp
	case "2", "down", "notoperational", "not_operational", "fault":
		return StatusDown
	default:
		return StatusUnknown
	}
}
