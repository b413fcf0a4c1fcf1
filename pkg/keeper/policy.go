package keeper

import "github.com/max-winderbaum/MicOn/pkg/device"

// policyInput is everything device selection looks at. Available must already
// be deterministically ordered; selection never reorders it.
type policyInput struct {
	Available     []device.Device
	PreferredID   string
	LastSuccessID string
	CurrentID     string
}

// selectTarget picks the device to bind, first match wins:
//
//  1. the preferred device, if available
//  2. the last successfully bound device
//  3. the currently bound/selected device
//  4. any external device
//  5. any built-in device
//
// The second return is true when the pick is a fallback, i.e. a preference
// exists and the pick is not it. The third is false when nothing is eligible.
func selectTarget(in policyInput) (device.Device, bool, bool) {
	pick := func(d device.Device) (device.Device, bool, bool) {
		fallback := in.PreferredID != "" && d.ID != in.PreferredID
		return d, fallback, true
	}

	if in.PreferredID != "" {
		if d, ok := device.Find(in.Available, in.PreferredID); ok {
			return pick(d)
		}
	}
	if in.LastSuccessID != "" {
		if d, ok := device.Find(in.Available, in.LastSuccessID); ok {
			return pick(d)
		}
	}
	if in.CurrentID != "" {
		if d, ok := device.Find(in.Available, in.CurrentID); ok {
			return pick(d)
		}
	}
	for _, d := range in.Available {
		if d.Kind == device.KindExternal {
			return pick(d)
		}
	}
	for _, d := range in.Available {
		if d.Kind == device.KindBuiltIn {
			return pick(d)
		}
	}
	return device.Device{}, false, false
}

// derivePreferred picks an initial preference when none was ever set:
// any external device first, else any built-in one.
func derivePreferred(avail []device.Device) (string, bool) {
	for _, d := range avail {
		if d.Kind == device.KindExternal {
			return d.ID, true
		}
	}
	for _, d := range avail {
		if d.Kind == device.KindBuiltIn {
			return d.ID, true
		}
	}
	return "", false
}
