// Package inventory pkg/inventory/inventory.go provides the concurrently-safe
// registry of SNMP poll targets. The registry is a pure data structure: audit
// events for mutations are recorded at the API boundary, so the poller can
// read snapshots without any coupling to the store.
package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

const maxDeviceNameLength = 128

// Device is a single poll target. Community is a credential and must never
// appear in API read responses.
type Device struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      uint16 `json:"port,omitempty"`
	Community string `json:"community,omitempty"`
	OID       string `json:"oid,omitempty"`
}

// Validate checks the device definition at the boundary.
func (d *Device) Validate() error {
	if d.Name == "" || len(d.Name) > maxDeviceNameLength {
		return ErrDeviceNameInvalid
	}

	for _, r := range d.Name {
		if !isValidNameChar(r) {
			return fmt.Errorf("%w: %q", ErrDeviceNameInvalid, d.Name)
		}
	}

	if d.Host == "" {
		return ErrDeviceHostMissing
	}

	return nil
}

func isValidNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' || r == '_' || r == '.'
}

// Registry is the mutable set of devices to poll. All mutations are atomic
// with respect to concurrent Snapshot calls.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]Device),
	}
}

// Add inserts a device. It returns ErrDuplicateDevice if the name is
// already present.
func (r *Registry) Add(device Device) error {
	if err := device.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[device.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, device.Name)
	}

	r.devices[device.Name] = device

	return nil
}

// Remove deletes a device by name and returns the removed entry. It returns
// ErrDeviceNotFound if the name is absent.
func (r *Registry) Remove(name string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.devices[name]
	if !exists {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}

	delete(r.devices, name)

	return device, nil
}

// Get returns a device by name.
func (r *Registry) Get(name string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, exists := r.devices[name]

	return device, exists
}

// Snapshot returns a point-in-time copy of the device set, sorted by name,
// safe to iterate without holding any lock during network I/O.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Name < devices[j].Name
	})

	return devices
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}

// LoadFile reads a JSON device list from path. A missing file yields an
// empty list so a fresh deployment starts with no inventory.
func LoadFile(path string) ([]Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read devices file '%s': %w", path, err)
	}

	var devices []Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("failed to parse devices file '%s': %w", path, err)
	}

	return devices, nil
}

// SaveFile writes the current device set to path as JSON.
func (r *Registry) SaveFile(path string) error {
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal devices: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write devices file '%s': %w", path, err)
	}

	return nil
}
