package device

import (
	"sort"
	"strings"
)

// Kind distinguishes the machine's built-in microphone from everything else
// (USB interfaces, Bluetooth headsets, virtual devices).
type Kind string

const (
	KindBuiltIn  Kind = "built-in"
	KindExternal Kind = "external"
)

// Device is one capture device as the audio subsystem reports it. ID is an
// opaque identifier that stays stable across unplug/replug for the same
// physical device.
type Device struct {
	ID        string
	Name      string
	Kind      Kind
	IsDefault bool
}

// Registry is a point-in-time query surface over the audio subsystem. The set
// of devices may change at any moment; callers must treat every List result
// as already stale.
type Registry interface {
	List() ([]Device, error)
	DefaultDevice() (Device, bool, error)
}

// builtInMarkers covers the device names the usual backends report for the
// machine's own microphone. Everything unmatched counts as external, which is
// the safe direction for keep-alive purposes.
var builtInMarkers = []string{
	"built-in",
	"builtin",
	"internal microphone",
	"macbook",
	"imac microphone",
}

// KindForName classifies a device by its reported name. The subsystem does
// not expose a transport type, so this is a name heuristic.
func KindForName(name string) Kind {
	lower := strings.ToLower(name)
	for _, marker := range builtInMarkers {
		if strings.Contains(lower, marker) {
			return KindBuiltIn
		}
	}
	return KindExternal
}

// Find returns the device with the given ID from a snapshot.
func Find(devices []Device, id string) (Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// SortByID orders a snapshot deterministically. Registry snapshots carry no
// ordering guarantee, and anything that picks "any device of kind X" must not
// flap between equally eligible devices.
func SortByID(devices []Device) []Device {
	out := make([]Device, len(devices))
	copy(out, devices)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
