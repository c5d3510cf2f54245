package inventory

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDuplicateDevice(t *testing.T) {
	reg := NewRegistry()

	device := Device{Name: "edge-router", Host: "192.0.2.1"}

	require.NoError(t, reg.Add(device))

	err := reg.Add(device)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateDevice)
	assert.Equal(t, 1, reg.Len())
}

func TestRemoveMissingDevice(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Remove("no-such-device")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRemoveReturnsEntry(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Add(Device{Name: "core-1", Host: "10.0.0.1", Community: "public"}))

	removed, err := reg.Remove("core-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", removed.Host)
	assert.Equal(t, 0, reg.Len())
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name    string
		device  Device
		wantErr error
	}{
		{"empty name", Device{Host: "10.0.0.1"}, ErrDeviceNameInvalid},
		{"bad name chars", Device{Name: "edge router", Host: "10.0.0.1"}, ErrDeviceNameInvalid},
		{"missing host", Device{Name: "edge-router"}, ErrDeviceHostMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Add(tt.device)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSnapshotSorted(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Add(Device{Name: "zulu", Host: "10.0.0.3"}))
	require.NoError(t, reg.Add(Device{Name: "alpha", Host: "10.0.0.1"}))
	require.NoError(t, reg.Add(Device{Name: "mike", Host: "10.0.0.2"}))

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "alpha", snapshot[0].Name)
	assert.Equal(t, "mike", snapshot[1].Name)
	assert.Equal(t, "zulu", snapshot[2].Name)
}

func TestSnapshotIsolatedFromMutation(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Add(Device{Name: "edge-router", Host: "10.0.0.1"}))

	snapshot := reg.Snapshot()

	_, err := reg.Remove("edge-router")
	require.NoError(t, err)

	// The snapshot taken before the removal is unaffected.
	require.Len(t, snapshot, 1)
	assert.Equal(t, "edge-router", snapshot[0].Name)
}

func TestConcurrentMutationAndSnapshot(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)

		go func(n int) {
			defer wg.Done()

			for j := 0; j < 50; j++ {
				name := fmt.Sprintf("dev-%d-%d", n, j)
				_ = reg.Add(Device{Name: name, Host: "10.0.0.1"})
				_, _ = reg.Remove(name)
			}
		}(i)

		go func() {
			defer wg.Done()

			for j := 0; j < 50; j++ {
				for _, d := range reg.Snapshot() {
					assert.NotEmpty(t, d.Name)
					assert.NotEmpty(t, d.Host)
				}
			}
		}()
	}

	wg.Wait()
}

func TestSaveAndLoadFile(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Add(Device{Name: "edge-router", Host: "192.0.2.1", Community: "public", OID: ".1.3.6.1.2.1.285.1.1.1.2"}))

	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, reg.SaveFile(path))

	devices, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "edge-router", devices[0].Name)
	assert.Equal(t, "public", devices[0].Community)
}

func TestLoadFileMissing(t *testing.T) {
	devices, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, devices)
}
