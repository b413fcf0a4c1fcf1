package capture

import (
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/max-winderbaum/MicOn/pkg/device"
)

// SharedSession holds the device open in shared mode with the smallest
// footprint the backend allows. It coexists with other apps capturing from
// the same device and its data callback drops every sample unread.
type SharedSession struct {
	sub *Subsystem
	log zerolog.Logger
}

func NewSharedSession(sub *Subsystem, logger zerolog.Logger) *SharedSession {
	return &SharedSession{sub: sub, log: logger}
}

func (s *SharedSession) Name() string { return StrategySharedSession }

func (s *SharedSession) Open(dev device.Device) (Handle, error) {
	rawID, ok := s.sub.lookup(dev.ID)
	if !ok {
		return nil, ErrDeviceUnavailable
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.DeviceID = rawID.Pointer()
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.Capture.ShareMode = malgo.Shared
	cfg.SampleRate = 16000
	cfg.PeriodSizeInFrames = 1024
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		// No consumer: samples are discarded on arrival.
		Data: func(_, _ []byte, _ uint32) {},
	}

	md, err := s.sub.initDevice(cfg, callbacks)
	if err != nil {
		s.log.Warn().Err(err).Str("device_id", dev.ID).Str("device_name", dev.Name).Msg("shared-session open failed")
		return nil, err
	}

	s.log.Info().Str("device_id", dev.ID).Str("device_name", dev.Name).Msg("shared-session stream open")
	return &malgoHandle{dev: dev, md: md}, nil
}
