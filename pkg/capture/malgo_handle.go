package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/pkg/errors"

	"github.com/max-winderbaum/MicOn/pkg/device"
)

// malgoHandle wraps an open malgo capture device for either strategy.
type malgoHandle struct {
	dev device.Device
	md  *malgo.Device

	// activityNanos is the unix-nano timestamp of the last input energy seen
	// by the data callback. Stays zero for the shared-session strategy.
	activityNanos atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

func (h *malgoHandle) Device() device.Device { return h.dev }

func (h *malgoHandle) IsLive() bool {
	return h.md.IsStarted()
}

func (h *malgoHandle) LastActivity() time.Time {
	nanos := h.activityNanos.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (h *malgoHandle) Close() error {
	h.closeOnce.Do(func() {
		if err := h.md.Stop(); err != nil {
			// Uninit below still releases the device; keep the error around.
			h.closeErr = errors.Wrap(err, "stop capture device")
		}
		h.md.Uninit()
	})
	return h.closeErr
}

func (h *malgoHandle) markActivity() {
	h.activityNanos.Store(time.Now().UnixNano())
}
