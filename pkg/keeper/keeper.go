// Package keeper holds the session-keeper state machine: it decides whether
// a capture session should exist, which device backs it, and repairs drift
// between the two across hot-plug, permission changes and stream failures.
package keeper

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/max-winderbaum/MicOn/pkg/capture"
	"github.com/max-winderbaum/MicOn/pkg/device"
	"github.com/max-winderbaum/MicOn/pkg/permission"
)

// ErrUnknownDevice is returned when a selection names a device the registry
// does not currently report.
var ErrUnknownDevice = errors.New("keeper: device not in current registry snapshot")

// State is the keeper's lifecycle phase. Failed is not terminal; any timer
// tick or device event can re-enter the repair path.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateActive     State = "active"
	StateRecovering State = "recovering"
	StateFailed     State = "failed"
)

// Reason annotates status changes for whoever listens (the original consumer
// is a menu-bar icon).
type Reason string

const (
	ReasonToggledOn          Reason = "toggled_on"
	ReasonToggledOff         Reason = "toggled_off"
	ReasonSessionOpened      Reason = "session_opened"
	ReasonOpenFailed         Reason = "open_failed"
	ReasonNoDevice           Reason = "no_device"
	ReasonPermissionMissing  Reason = "permission_missing"
	ReasonPermissionLost     Reason = "permission_lost"
	ReasonDeviceLost         Reason = "device_lost"
	ReasonDeviceReturned     Reason = "device_returned"
	ReasonDeviceSelected     Reason = "device_selected"
	ReasonPreferredAvailable Reason = "preferred_available"
	ReasonLivenessLost       Reason = "liveness_lost"
	ReasonDesyncRepaired     Reason = "desync_repaired"
)

// Status is the read-only snapshot a presentation layer polls or subscribes
// to.
type Status struct {
	State             State
	DesiredActive     bool
	ActualActive      bool
	BoundDevice       *device.Device
	UsingFallback     bool
	Strategy          string
	PermissionGranted bool
}

// PreferenceStore is the durable slot for the preferred device ID.
type PreferenceStore interface {
	Get() (string, bool, error)
	Set(id string) error
}

// Listener receives a status snapshot after every state change. Invoked from
// keeper goroutines; implementations must not call back into the keeper.
type Listener func(Status, Reason)

// ScheduleFunc runs fn after the given delay and returns a cancel function.
// fn must not be invoked synchronously from Schedule itself.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

func defaultSchedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Config carries the keeper's timing knobs. The debounce windows only absorb
// enumeration churn and may be zero. ActivityTimeout drives the direct-tap
// activity heuristic; zero disables it (silence and a dead stream look the
// same, so this is a heuristic and not a liveness guarantee).
type Config struct {
	ReconnectDebounce time.Duration
	DisconnectGrace   time.Duration
	ActivityTimeout   time.Duration

	Now      func() time.Time
	Schedule ScheduleFunc
	Listener Listener
}

// Keeper owns the session state and the one active capture handle. All state
// mutations serialize on mu; blocking strategy calls (open/close) always run
// with mu released, and their completions re-acquire it and check the
// generation counter before applying anything.
type Keeper struct {
	registry  device.Registry
	prefs     PreferenceStore
	perm      permission.Bridge
	primary   capture.Strategy
	secondary capture.Strategy
	cfg       Config
	log       zerolog.Logger

	mu            sync.Mutex
	state         State
	desiredActive bool
	actualActive  bool
	bound         *device.Device
	usingFallback bool
	strategyName  string
	handle        capture.Handle
	lastLiveness  time.Time
	preferredID   string
	lastSuccessID string
	selectedID    string
	permGranted   bool
	gen           uint64

	pendingScheduled bool
	cancelPending    func()
}

func New(
	registry device.Registry,
	prefs PreferenceStore,
	perm permission.Bridge,
	primary capture.Strategy,
	secondary capture.Strategy,
	cfg Config,
	logger zerolog.Logger,
) *Keeper {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Schedule == nil {
		cfg.Schedule = defaultSchedule
	}

	k := &Keeper{
		registry:  registry,
		prefs:     prefs,
		perm:      perm,
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		log:       logger,
		state:     StateIdle,
	}

	if id, ok, err := prefs.Get(); err != nil {
		logger.Warn().Err(err).Msg("could not read preferred device, starting without one")
	} else if ok {
		k.preferredID = id
		logger.Info().Str("device_id", id).Msg("loaded preferred device")
	}
	k.permGranted = perm.Status() == permission.Granted
	return k
}

// Toggle flips the desired state.
func (k *Keeper) Toggle() {
	k.mu.Lock()
	turnOn := !k.desiredActive
	k.mu.Unlock()
	if turnOn {
		k.Start()
	} else {
		k.Stop()
	}
}

// Start marks the session desired and opens it. Idempotent: a no-op while an
// open attempt is in flight or a session is already live. Without permission
// it triggers the prompt side effect and stays Idle; the next audit retries
// once access is granted.
func (k *Keeper) Start() {
	granted := k.perm.Status() == permission.Granted

	k.mu.Lock()
	k.permGranted = granted
	k.desiredActive = true
	if k.state == StateActive || k.state == StateStarting || k.state == StateRecovering {
		k.mu.Unlock()
		return
	}
	if !granted {
		k.state = StateIdle
		k.mu.Unlock()
		k.log.Warn().Str("settings_action", k.perm.SettingsAction()).Msg("microphone permission not granted, requesting")
		if err := k.perm.Request(); err != nil {
			k.log.Warn().Err(err).Msg("permission request failed")
		}
		k.emit(ReasonPermissionMissing)
		return
	}
	k.state = StateStarting
	gen := k.gen
	k.mu.Unlock()

	k.emit(ReasonToggledOn)
	k.openSession(gen)
}

// Stop tears the session down and releases the device. Idempotent.
func (k *Keeper) Stop() {
	k.mu.Lock()
	alreadyIdle := !k.desiredActive && k.state == StateIdle && k.handle == nil
	k.desiredActive = false
	h := k.teardownLocked()
	k.state = StateIdle
	k.mu.Unlock()

	if alreadyIdle {
		return
	}
	if h != nil {
		if err := h.Close(); err != nil {
			k.log.Warn().Err(err).Msg("closing capture handle failed")
		}
	}
	k.emit(ReasonToggledOff)
}

// AuditTick is the periodic self-audit. It re-reads the registry and the
// permission status, refreshes actual liveness from the strategy, and repairs
// any drift it finds.
func (k *Keeper) AuditTick() {
	avail := k.listDevices()
	granted := k.perm.Status() == permission.Granted

	k.mu.Lock()
	k.permGranted = granted

	if !granted && (k.state == StateActive || k.state == StateStarting || k.state == StateRecovering) {
		h := k.teardownLocked()
		k.state = StateIdle
		k.mu.Unlock()
		if h != nil {
			_ = h.Close()
		}
		k.log.Warn().Str("settings_action", k.perm.SettingsAction()).Msg("microphone permission lost, session torn down")
		k.emit(ReasonPermissionLost)
		return
	}

	// actualActive is only ever derived from the strategy itself.
	if k.handle != nil {
		live := k.handle.IsLive()
		k.actualActive = live
		if live && k.strategyName != capture.StrategyDirectTap {
			k.lastLiveness = k.cfg.Now()
		}
		if a := k.handle.LastActivity(); a.After(k.lastLiveness) {
			k.lastLiveness = a
		}
	}

	inFlight := k.state == StateStarting || k.state == StateRecovering
	preferredBack := k.usingFallback && k.preferredID != "" && containsID(avail, k.preferredID)
	boundGone := k.bound != nil && !containsID(avail, k.bound.ID)
	tapStale := k.tapActivityStaleLocked()

	switch {
	case inFlight:
		k.mu.Unlock()

	case k.desiredActive && preferredBack:
		// The preference always wins back once its device is available,
		// even while the fallback stream is perfectly healthy.
		k.mu.Unlock()
		k.reconnect(ReasonPreferredAvailable)

	case k.desiredActive && (!k.actualActive || boundGone || tapStale):
		k.mu.Unlock()
		k.reconnect(ReasonLivenessLost)

	case !k.desiredActive && k.handle != nil && k.handle.IsLive():
		// Desync: a live stream we believe should not exist. Resync the
		// flag from the strategy without opening or closing anything.
		k.actualActive = true
		if k.bound == nil {
			d := k.handle.Device()
			k.bound = &d
		}
		k.mu.Unlock()
		k.emit(ReasonDesyncRepaired)

	default:
		k.mu.Unlock()
	}
}

// OnDeviceConnected is fed by the notification bridge. Event payloads are
// identity hints only; any resulting reconnection re-reads the registry.
func (k *Keeper) OnDeviceConnected(dev device.Device) {
	k.mu.Lock()
	switchBack := k.desiredActive && k.usingFallback && k.preferredID != "" && dev.ID == k.preferredID
	repair := k.desiredActive && !k.actualActive
	k.mu.Unlock()

	switch {
	case switchBack:
		k.log.Info().Str("device_id", dev.ID).Msg("preferred device returned, switching back")
		k.scheduleReconnect(k.cfg.ReconnectDebounce, ReasonPreferredAvailable)
	case repair:
		k.scheduleReconnect(k.cfg.ReconnectDebounce, ReasonDeviceReturned)
	}
}

// OnDeviceDisconnected is fed by the notification bridge.
func (k *Keeper) OnDeviceDisconnected(dev device.Device) {
	k.mu.Lock()
	preferredHit := k.preferredID != "" && dev.ID == k.preferredID
	boundHit := k.bound != nil && dev.ID == k.bound.ID
	if preferredHit && k.actualActive {
		k.usingFallback = true
	}
	desired := k.desiredActive
	k.mu.Unlock()

	switch {
	case preferredHit:
		k.log.Info().Str("device_id", dev.ID).Msg("preferred device disconnected")
		k.emit(ReasonDeviceLost)
		if desired {
			k.scheduleReconnect(k.cfg.ReconnectDebounce, ReasonDeviceLost)
		}
	case boundHit:
		// A non-preferred bound device vanished: wait out re-enumeration
		// churn before trusting the disconnect.
		k.scheduleLivenessCheck(k.cfg.DisconnectGrace)
	}
}

// SelectDevice records an explicit user choice, persists it, and switches the
// session over to it. IDs absent from the current registry snapshot are
// rejected.
func (k *Keeper) SelectDevice(id string) error {
	avail, err := k.registry.List()
	if err != nil {
		return errors.Wrap(err, "list devices")
	}
	if _, ok := device.Find(avail, id); !ok {
		return ErrUnknownDevice
	}
	if err := k.prefs.Set(id); err != nil {
		return errors.Wrap(err, "persist preferred device")
	}

	k.mu.Lock()
	k.preferredID = id
	k.selectedID = id
	needSwitch := k.desiredActive && (k.bound == nil || k.bound.ID != id)
	k.mu.Unlock()

	k.log.Info().Str("device_id", id).Msg("preferred device selected")
	k.emit(ReasonDeviceSelected)
	if needSwitch {
		k.scheduleReconnect(k.cfg.ReconnectDebounce, ReasonDeviceSelected)
	}
	return nil
}

// Status returns the current snapshot.
func (k *Keeper) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	st := Status{
		State:             k.state,
		DesiredActive:     k.desiredActive,
		ActualActive:      k.actualActive,
		UsingFallback:     k.usingFallback,
		Strategy:          k.strategyName,
		PermissionGranted: k.permGranted,
	}
	if k.bound != nil {
		b := *k.bound
		st.BoundDevice = &b
	}
	return st
}

// SettingsAction exposes the permission bridge's "open settings" action for
// the presentation layer.
func (k *Keeper) SettingsAction() string {
	return k.perm.SettingsAction()
}

// reconnect runs the full teardown-reselect-reopen repair. One attempt at a
// time; overlapping triggers fall through to the next audit tick.
func (k *Keeper) reconnect(reason Reason) {
	granted := k.perm.Status() == permission.Granted

	k.mu.Lock()
	k.permGranted = granted
	if !k.desiredActive || k.state == StateStarting || k.state == StateRecovering {
		k.mu.Unlock()
		return
	}
	if !granted {
		h := k.teardownLocked()
		k.state = StateIdle
		k.mu.Unlock()
		if h != nil {
			_ = h.Close()
		}
		k.emit(ReasonPermissionMissing)
		return
	}
	h := k.teardownLocked()
	k.state = StateRecovering
	gen := k.gen
	k.mu.Unlock()

	if h != nil {
		if err := h.Close(); err != nil {
			k.log.Warn().Err(err).Msg("closing capture handle failed")
		}
	}
	k.log.Info().Str("reason", string(reason)).Msg("reconnecting capture session")
	k.emit(reason)
	k.openSession(gen)
}

// openSession resolves a target device and opens a stream on it, shared
// session first, direct tap on failure. gen pins the attempt to the state it
// was decided in: any teardown in between bumps the generation and the
// completion is discarded.
func (k *Keeper) openSession(gen uint64) {
	avail := k.listDevices()

	k.mu.Lock()
	if k.gen != gen || !k.desiredActive {
		k.mu.Unlock()
		return
	}

	var derived string
	if k.preferredID == "" {
		if id, ok := derivePreferred(avail); ok {
			k.preferredID = id
			derived = id
		}
	}

	target, fallbackBound, ok := selectTarget(policyInput{
		Available:     avail,
		PreferredID:   k.preferredID,
		LastSuccessID: k.lastSuccessID,
		CurrentID:     k.selectedID,
	})
	if !ok {
		k.state = StateFailed
		k.actualActive = false
		k.bound = nil
		k.usingFallback = false
		k.mu.Unlock()
		k.log.Warn().Msg("no capture device available")
		k.emit(ReasonNoDevice)
		return
	}
	k.mu.Unlock()

	if derived != "" {
		k.log.Info().Str("device_id", derived).Msg("auto-derived preferred device")
		if err := k.prefs.Set(derived); err != nil {
			k.log.Warn().Err(err).Msg("could not persist derived preference")
		}
	}

	// Blocking subsystem calls run here, with the state lock released.
	handle, strategyName, err := k.openWithFallback(target)

	k.mu.Lock()
	if k.gen != gen || !k.desiredActive {
		k.mu.Unlock()
		if handle != nil {
			k.log.Debug().Str("device_id", target.ID).Msg("discarding stale open completion")
			_ = handle.Close()
		}
		return
	}
	if err != nil {
		denied := errors.Is(err, capture.ErrPermissionDenied)
		if denied {
			k.permGranted = false
			k.state = StateIdle
		} else {
			k.state = StateFailed
		}
		k.actualActive = false
		k.bound = nil
		k.usingFallback = false
		k.handle = nil
		k.strategyName = ""
		k.mu.Unlock()
		k.log.Warn().Err(err).Str("device_id", target.ID).Msg("could not open capture session")
		if denied {
			k.emit(ReasonPermissionMissing)
		} else {
			k.emit(ReasonOpenFailed)
		}
		return
	}

	bound := target
	k.state = StateActive
	k.actualActive = true
	k.bound = &bound
	k.usingFallback = fallbackBound
	k.strategyName = strategyName
	k.handle = handle
	k.lastSuccessID = target.ID
	k.selectedID = target.ID
	k.lastLiveness = k.cfg.Now()
	k.mu.Unlock()

	k.log.Info().
		Str("device_id", target.ID).
		Str("device_name", target.Name).
		Str("strategy", strategyName).
		Bool("fallback", fallbackBound).
		Msg("capture session open")
	k.emit(ReasonSessionOpened)
}

func (k *Keeper) openWithFallback(target device.Device) (capture.Handle, string, error) {
	h, err := k.primary.Open(target)
	if err == nil {
		return h, k.primary.Name(), nil
	}
	k.log.Warn().Err(err).
		Str("strategy", k.primary.Name()).
		Str("device_id", target.ID).
		Msg("primary strategy failed, falling back")

	h, fberr := k.secondary.Open(target)
	if fberr != nil {
		return nil, "", errors.Wrap(fberr, "both capture strategies failed")
	}
	return h, k.secondary.Name(), nil
}

// teardownLocked invalidates any in-flight open attempt, cancels scheduled
// repairs and detaches the handle. The caller closes the returned handle
// after releasing the lock.
func (k *Keeper) teardownLocked() capture.Handle {
	k.gen++
	if k.cancelPending != nil {
		k.cancelPending()
		k.cancelPending = nil
	}
	k.pendingScheduled = false
	if k.bound != nil {
		k.selectedID = k.bound.ID
	}
	h := k.handle
	k.handle = nil
	k.actualActive = false
	k.bound = nil
	k.usingFallback = false
	k.strategyName = ""
	return h
}

// scheduleReconnect debounces repair triggers: at most one reconnection is
// pending at a time, later triggers coalesce into it.
func (k *Keeper) scheduleReconnect(delay time.Duration, reason Reason) {
	k.mu.Lock()
	if k.pendingScheduled || !k.desiredActive {
		k.mu.Unlock()
		return
	}
	k.pendingScheduled = true
	k.mu.Unlock()

	cancel := k.cfg.Schedule(delay, func() {
		k.mu.Lock()
		k.pendingScheduled = false
		k.cancelPending = nil
		k.mu.Unlock()
		k.reconnect(reason)
	})

	k.mu.Lock()
	if k.pendingScheduled {
		k.cancelPending = cancel
	}
	k.mu.Unlock()
}

// scheduleLivenessCheck re-checks the stream after a grace period and repairs
// it only if it actually died. Tolerates the momentary disappear/reappear
// churn some backends produce on re-enumeration.
func (k *Keeper) scheduleLivenessCheck(delay time.Duration) {
	k.cfg.Schedule(delay, func() {
		k.mu.Lock()
		stale := k.desiredActive && k.handle != nil && !k.handle.IsLive()
		k.mu.Unlock()
		if stale {
			k.reconnect(ReasonLivenessLost)
		}
	})
}

func (k *Keeper) tapActivityStaleLocked() bool {
	if k.strategyName != capture.StrategyDirectTap || k.cfg.ActivityTimeout <= 0 || k.handle == nil {
		return false
	}
	last := k.lastLiveness
	if a := k.handle.LastActivity(); a.After(last) {
		last = a
	}
	return k.cfg.Now().Sub(last) > k.cfg.ActivityTimeout
}

func (k *Keeper) listDevices() []device.Device {
	avail, err := k.registry.List()
	if err != nil {
		k.log.Warn().Err(err).Msg("device enumeration failed")
		return nil
	}
	return device.SortByID(avail)
}

func (k *Keeper) emit(reason Reason) {
	if k.cfg.Listener == nil {
		return
	}
	k.cfg.Listener(k.Status(), reason)
}

func containsID(devices []device.Device, id string) bool {
	_, ok := device.Find(devices, id)
	return ok
}
