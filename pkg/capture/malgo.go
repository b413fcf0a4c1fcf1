package capture

import (
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/max-winderbaum/MicOn/pkg/device"
)

// Subsystem owns the one malgo (miniaudio) context for the whole process and
// doubles as the device registry. Device IDs handed out by Devices are the
// subsystem's hex IDs, which stay stable across replug for the same hardware.
type Subsystem struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger

	mu  sync.Mutex
	ids map[string]malgo.DeviceID
}

// NewSubsystem initializes the malgo context. Callers must Close it.
func NewSubsystem(logger zerolog.Logger) (*Subsystem, error) {
	logger.Info().Msg("malgo init context (miniaudio)")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug().Msg("malgo: " + strings.TrimRight(message, "\n"))
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot init malgo context")
	}
	return &Subsystem{
		ctx: ctx,
		log: logger,
		ids: make(map[string]malgo.DeviceID),
	}, nil
}

// Close releases the subsystem context. Any handles opened from it must be
// closed first.
func (s *Subsystem) Close() error {
	if err := s.ctx.Uninit(); err != nil {
		return errors.Wrap(err, "malgo context uninit")
	}
	s.ctx.Free()
	return nil
}

// List enumerates the current capture devices. Implements device.Registry.
func (s *Subsystem) List() ([]device.Device, error) {
	infos, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.Wrap(err, "enumerate capture devices")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Device, 0, len(infos))
	for _, info := range infos {
		id := info.ID.String()
		s.ids[id] = info.ID
		out = append(out, device.Device{
			ID:        id,
			Name:      info.Name(),
			Kind:      device.KindForName(info.Name()),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}

// DefaultDevice returns the subsystem's current default capture device.
func (s *Subsystem) DefaultDevice() (device.Device, bool, error) {
	devices, err := s.List()
	if err != nil {
		return device.Device{}, false, err
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, true, nil
		}
	}
	return device.Device{}, false, nil
}

// lookup resolves one of our opaque IDs back to the subsystem's identifier.
// Only IDs seen in a previous List call resolve.
func (s *Subsystem) lookup(id string) (malgo.DeviceID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.ids[id]
	return raw, ok
}

// initDevice opens and starts a malgo capture device with the given config.
// The returned cleanup tears the device down again.
func (s *Subsystem) initDevice(cfg malgo.DeviceConfig, callbacks malgo.DeviceCallbacks) (*malgo.Device, error) {
	dev, err := malgo.InitDevice(s.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, errors.Wrapf(classifyOpenErr(err), "init device: %v", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, errors.Wrapf(classifyOpenErr(err), "start device: %v", err)
	}
	return dev, nil
}

// classifyOpenErr maps subsystem open errors onto the package sentinels.
// miniaudio reports TCC/permission rejections as access-denied; everything
// else stays a generic open failure.
func classifyOpenErr(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "access denied") {
		return ErrPermissionDenied
	}
	return ErrOpenFailed
}
