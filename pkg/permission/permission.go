// Package permission models the OS microphone-permission gate. The actual
// prompt flow lives outside this process; the keeper only needs the current
// status, a way to trigger a request, and the opaque "open settings" action
// to surface when access is denied.
package permission

import "sync"

type Status string

const (
	Granted       Status = "granted"
	Denied        Status = "denied"
	NotDetermined Status = "notDetermined"
)

// Bridge is the keeper's view of the permission system.
type Bridge interface {
	// Status returns the current microphone permission status.
	Status() Status

	// Request triggers the OS-level prompt side effect. Non-blocking; the
	// eventual grant shows up through Status on a later poll.
	Request() error

	// SettingsAction is an opaque URL/intent that opens the OS privacy
	// settings, surfaced to the user when access is denied. May be empty.
	SettingsAction() string
}

// Static is a Bridge backed by an externally updated status. The host
// process (or a test) feeds status changes in through SetStatus.
type Static struct {
	mu        sync.Mutex
	status    Status
	onRequest func()
}

func NewStatic(initial Status) *Static {
	return &Static{status: initial}
}

func (s *Static) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus records a permission change delivered from outside.
func (s *Static) SetStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// OnRequest registers the side effect to run when the keeper asks for the
// prompt.
func (s *Static) OnRequest(fn func()) {
	s.mu.Lock()
	s.onRequest = fn
	s.mu.Unlock()
}

func (s *Static) Request() error {
	s.mu.Lock()
	fn := s.onRequest
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (s *Static) SettingsAction() string {
	return settingsAction
}
