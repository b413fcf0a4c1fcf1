// Package devwatch turns the registry's poll-only device list into
// connect/disconnect events. The audio subsystem offers no change callback,
// so the watcher polls, diffs snapshots, and coalesces re-enumeration churn
// before notifying anyone.
package devwatch

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"github.com/max-winderbaum/MicOn/pkg/device"
)

// Events is the inbound edge of the session keeper.
type Events interface {
	OnDeviceConnected(dev device.Device)
	OnDeviceDisconnected(dev device.Device)
}

// Watcher polls a device registry and delivers membership changes to an
// Events sink. Rapid disappear/reappear bounces inside the settle window
// collapse into their net effect, which is usually nothing.
type Watcher struct {
	registry device.Registry
	sink     Events
	interval time.Duration
	log      zerolog.Logger

	// debounced defers flush until the snapshot stops changing.
	debounced func(func())

	mu        sync.Mutex
	delivered map[string]device.Device
	lastSig   string

	stop chan struct{}
	done chan struct{}
}

func New(registry device.Registry, sink Events, interval, settle time.Duration, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	if settle <= 0 {
		settle = interval / 2
	}
	return &Watcher{
		registry:  registry,
		sink:      sink,
		interval:  interval,
		log:       logger,
		debounced: debounce.New(settle),
		delivered: make(map[string]device.Device),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start primes the baseline from the current snapshot and begins polling.
// Devices present at startup are not reported as connected.
func (w *Watcher) Start() {
	if devices, err := w.registry.List(); err == nil {
		w.mu.Lock()
		for _, d := range devices {
			w.delivered[d.ID] = d
		}
		w.lastSig = signature(devices)
		w.mu.Unlock()
	}

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.sweep()
			}
		}
	}()
}

// Close stops the polling loop. Already-debounced deliveries may still fire.
func (w *Watcher) Close() {
	close(w.stop)
	<-w.done
}

// sweep is one poll step: cheap signature comparison first, the full diff
// only once the set has settled.
func (w *Watcher) sweep() {
	devices, err := w.registry.List()
	if err != nil {
		w.log.Warn().Err(err).Msg("device poll failed")
		return
	}
	sig := signature(devices)

	w.mu.Lock()
	changed := sig != w.lastSig
	w.lastSig = sig
	w.mu.Unlock()

	if changed {
		w.debounced(w.flush)
	}
}

// flush re-lists and delivers the net difference against what was last
// announced.
func (w *Watcher) flush() {
	devices, err := w.registry.List()
	if err != nil {
		w.log.Warn().Err(err).Msg("device poll failed")
		return
	}

	current := make(map[string]device.Device, len(devices))
	for _, d := range devices {
		current[d.ID] = d
	}

	w.mu.Lock()
	var connected, disconnected []device.Device
	for id, d := range current {
		if _, ok := w.delivered[id]; !ok {
			connected = append(connected, d)
		}
	}
	for id, d := range w.delivered {
		if _, ok := current[id]; !ok {
			disconnected = append(disconnected, d)
		}
	}
	w.delivered = current
	w.mu.Unlock()

	// Stable delivery order; map iteration above is not.
	sort.Slice(connected, func(i, j int) bool { return connected[i].ID < connected[j].ID })
	sort.Slice(disconnected, func(i, j int) bool { return disconnected[i].ID < disconnected[j].ID })

	for _, d := range disconnected {
		w.log.Info().Str("device_id", d.ID).Str("device_name", d.Name).Msg("device disconnected")
		w.sink.OnDeviceDisconnected(d)
	}
	for _, d := range connected {
		w.log.Info().Str("device_id", d.ID).Str("device_name", d.Name).Msg("device connected")
		w.sink.OnDeviceConnected(d)
	}
}

func signature(devices []device.Device) string {
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}
