// Package snmp pkg/snmp/client.go

package snmp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	defaultPort    = 161
	defaultTimeout = 2 * time.Second
	defaultRetries = 1
)

// SNMPError wraps SNMP-specific errors with additional context.
type SNMPError struct {
	Op      string
	Target  string
	Wrapped error
}

func (e *SNMPError) Error() string {
	return fmt.Sprintf("SNMP %s failed for target %s: %v", e.Op, e.Target, e.Wrapped)
}

func (e *SNMPError) Unwrap() error {
	return e.Wrapped
}

// GoSNMPClient implements the Client interface using gosnmp. Each Get opens a
// fresh connection and closes it before returning, so no handle is ever held
// across a poll cycle's wait.
type GoSNMPClient struct{}

// NewClient creates a gosnmp-backed client.
func NewClient() *GoSNMPClient {
	return &GoSNMPClient{}
}

// Get implements the Client interface.
func (c *GoSNMPClient) Get(ctx context.Context, target *Target) (string, error) {
	if err := validateTarget(target); err != nil {
		return "", fmt.Errorf("invalid target: %w", err)
	}

	client := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    target.Host,
		Port:      target.Port,
		Community: target.Community,
		Version:   gosnmp.Version2c,
		Timeout:   target.Timeout,
		Retries:   target.Retries,
		MaxOids:   gosnmp.MaxOids,
	}

	if err := client.Connect(); err != nil {
		return "", &SNMPError{Op: "connect", Target: target.Host, Wrapped: err}
	}

	defer func() {
		_ = client.Conn.Close()
	}()

	result, err := client.Get([]string{target.OID})
	if err != nil {
		return "", &SNMPError{Op: "get", Target: target.Host, Wrapped: err}
	}

	if len(result.Variables) == 0 {
		return "", &SNMPError{Op: "get", Target: target.Host, Wrapped: ErrSNMPEmptyResponse}
	}

	value, err := convertVariable(result.Variables[0])
	if err != nil {
		return "", &SNMPError{Op: "convert", Target: target.Host, Wrapped: err}
	}

	return value, nil
}

// convertVariable renders an SNMP variable as a string, the only form the
// status interpreter consumes.
func convertVariable(variable gosnmp.SnmpPDU) (string, error) {
	switch variable.Type {
	case gosnmp.OctetString:
		return string(variable.Value.([]byte)), nil
	case gosnmp.Integer:
		return strconv.Itoa(variable.Value.(int)), nil
	case gosnmp.Counter32, gosnmp.Gauge32:
		return strconv.FormatUint(uint64(variable.Value.(uint)), 10), nil
	case gosnmp.TimeTicks:
		return strconv.FormatUint(uint64(variable.Value.(uint32)), 10), nil
	case gosnmp.Counter64:
		return strconv.FormatUint(variable.Value.(uint64), 10), nil
	case gosnmp.IPAddress, gosnmp.ObjectIdentifier:
		return variable.Value.(string), nil
	case gosnmp.NoSuchObject:
		return "", ErrSNMPNoSuchObject
	case gosnmp.NoSuchInstance:
		return "", ErrSNMPNoSuchInstance
	default:
		return "", fmt.Errorf("%w: %v", ErrUnsupportedType, variable.Type)
	}
}

// validateTarget performs basic validation and applies defaults.
func validateTarget(target *Target) error {
	if target == nil {
		return ErrNilTargetConfig
	}

	if target.Host == "" {
		return ErrTargetHostRequired
	}

	if target.OID == "" {
		return ErrTargetOIDRequired
	}

	if target.Port == 0 {
		target.Port = defaultPort
	}

	if target.Timeout == 0 {
		target.Timeout = defaultTimeout
	}

	if target.Retries == 0 {
		target.Retries = defaultRetries
	}

	return nil
}
