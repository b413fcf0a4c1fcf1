// Package capture holds the two ways MicOn can hold a microphone open
// without recording anything: a minimal shared-mode session, and a raw
// device tap used when sharing fails.
package capture

import (
	"time"

	"github.com/pkg/errors"

	"github.com/max-winderbaum/MicOn/pkg/device"
)

// Strategy names. The keeper treats these as opaque except for the activity
// heuristic, which only applies to the direct tap.
const (
	StrategySharedSession = "shared-session"
	StrategyDirectTap     = "direct-tap"
)

var (
	// ErrDeviceUnavailable means the requested device is not currently
	// enumerable; the caller should re-run device selection.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrPermissionDenied means the subsystem refused microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrOpenFailed wraps every other subsystem-level open failure
	// (device busy, backend error). Recoverable by falling back or retrying.
	ErrOpenFailed = errors.New("capture: open failed")
)

// Handle is one open, non-recording input stream.
type Handle interface {
	// Device reports the concrete device backing the stream.
	Device() device.Device

	// IsLive reports whether the stream is still running. Must be
	// non-blocking; the keeper calls it while holding its state lock.
	IsLive() bool

	// LastActivity is the last time the stream showed input energy.
	// Zero for strategies without an activity probe.
	LastActivity() time.Time

	// Close stops and releases the stream. Idempotent.
	Close() error
}

// Strategy opens capture streams on concrete devices. Open may block on
// subsystem calls and must never be invoked while holding the keeper lock.
type Strategy interface {
	Name() string
	Open(dev device.Device) (Handle, error)
}
