package capture

import (
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/max-winderbaum/MicOn/pkg/device"
)

// directTapPeriodFrames keeps the tap's buffer small; we never accumulate
// audio, so there is no reason to ask for more per callback.
const directTapPeriodFrames = 256

// activityDeviation is the minimum mean byte deviation from the midpoint for
// a callback buffer to count as input energy. Low on purpose: any real signal
// clears it, only flat silence and a dead stream do not.
const activityDeviation = 2.0

// DirectTap opens a raw input tap at whatever format, channel count and
// sample rate the device natively offers. Used only when the shared session
// cannot be opened. The data callback inspects sample magnitude transiently
// to timestamp liveness and discards the buffer immediately; nothing is
// retained, logged or exposed.
type DirectTap struct {
	sub *Subsystem
	log zerolog.Logger
}

func NewDirectTap(sub *Subsystem, logger zerolog.Logger) *DirectTap {
	return &DirectTap{sub: sub, log: logger}
}

func (t *DirectTap) Name() string { return StrategyDirectTap }

func (t *DirectTap) Open(dev device.Device) (Handle, error) {
	rawID, ok := t.sub.lookup(dev.ID)
	if !ok {
		return nil, ErrDeviceUnavailable
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.DeviceID = rawID.Pointer()
	// Zero values take the device's native format/channels/rate. Hardcoding
	// a format here is what causes open failures on picky Bluetooth devices.
	cfg.Capture.Format = malgo.FormatUnknown
	cfg.Capture.Channels = 0
	cfg.SampleRate = 0
	cfg.Capture.ShareMode = malgo.Shared
	cfg.PeriodSizeInFrames = directTapPeriodFrames
	cfg.Alsa.NoMMap = 1

	handle := &malgoHandle{dev: dev}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			if hasInputEnergy(samples) {
				handle.markActivity()
			}
			// samples goes out of scope here; never copied or kept
		},
	}

	md, err := t.sub.initDevice(cfg, callbacks)
	if err != nil {
		t.log.Warn().Err(err).Str("device_id", dev.ID).Str("device_name", dev.Name).Msg("direct-tap open failed")
		return nil, err
	}
	handle.md = md
	handle.markActivity() // a fresh stream counts as alive

	t.log.Info().Str("device_id", dev.ID).Str("device_name", dev.Name).Msg("direct-tap stream open")
	return handle, nil
}

// hasInputEnergy does a cheap magnitude check on a raw sample buffer without
// knowing its format: mean absolute deviation from the byte midpoint. Silence
// and a stalled stream both hover at zero, which is exactly the ambiguity the
// keeper's activity timeout is documented to have.
func hasInputEnergy(samples []byte) bool {
	if len(samples) == 0 {
		return false
	}
	var sum int
	for _, b := range samples {
		d := int(b) - 128
		if d < 0 {
			d = -d
		}
		sum += d
	}
	mean := float64(sum) / float64(len(samples))
	// Raw PCM silence sits near 0x00 (signed) or 0x80 (unsigned); both ends
	// land within the deviation floor after the fold above.
	if mean > 128-activityDeviation {
		mean = 256 - 2*mean
		if mean < 0 {
			mean = 0
		}
	}
	return mean > activityDeviation
}
