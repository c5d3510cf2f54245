// Package config pkg/config/types.go
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a wrapper around time.Duration for JSON unmarshaling. It
// accepts either a number of nanoseconds or a string like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

const (
	defaultPollInterval = 5 * time.Second
	defaultQueryTimeout = 2 * time.Second
	defaultRetries      = 1
	defaultSNMPPort     = 161
	defaultListenAddr   = ":8080"
	defaultDBPath       = "bfd_monitor.db"
	defaultMaxAuditRows = 1000

	// DefaultBFDOperStatusOID is bfdSessOperStatus from the BFD-STD-MIB.
	DefaultBFDOperStatusOID = ".1.3.6.1.2.1.285.1.1.1.2"
)

var (
	errCommunityRequired = fmt.Errorf("snmp community is required")
	errSecretRequired    = fmt.Errorf("webhook secret is required")
	errOIDRequired       = fmt.Errorf("bfd oper status oid is required")
)

// DeviceConfig represents a device entry in the monitor configuration.
type DeviceConfig struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      uint16 `json:"port,omitempty"`
	Community string `json:"community,omitempty"`
	OID       string `json:"oid,omitempty"`
}

// MonitorConfig represents the configuration for the BFD monitor service.
type MonitorConfig struct {
	ListenAddr       string         `json:"listen_addr"`
	DBPath           string         `json:"db_path"`
	MaxAuditRows     int            `json:"max_audit_rows"`
	PollInterval     Duration       `json:"poll_interval"`
	QueryTimeout     Duration       `json:"query_timeout"`
	Retries          int            `json:"retries"`
	SNMPPort         uint16         `json:"snmp_port"`
	Community        string         `json:"snmp_community"`
	BFDOperStatusOID string         `json:"bfd_oper_status_oid"`
	WebhookSecret    string         `json:"webhook_secret"`
	AdminToken       string         `json:"admin_token,omitempty"`
	DevicesFile      string         `json:"devices_file,omitempty"`
	Devices          []DeviceConfig `json:"devices,omitempty"`
}

// Validate implements the Validator interface and applies defaults.
func (c *MonitorConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}

	if c.MaxAuditRows <= 0 {
		c.MaxAuditRows = defaultMaxAuditRows
	}

	if time.Duration(c.PollInterval) == 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}

	if time.Duration(c.QueryTimeout) == 0 {
		c.QueryTimeout = Duration(defaultQueryTimeout)
	}

	if c.Retries == 0 {
		c.Retries = defaultRetries
	}

	if c.SNMPPort == 0 {
		c.SNMPPort = defaultSNMPPort
	}

	if c.Community == "" {
		return errCommunityRequired
	}

	if c.BFDOperStatusOID == "" {
		return errOIDRequired
	}

	if c.WebhookSecret == "" {
		return errSecretRequired
	}

	// The shutdown endpoint falls back to the webhook secret when no
	// dedicated token is configured.
	if c.AdminToken == "" {
		c.AdminToken = c.WebhookSecret
	}

	return nil
}
