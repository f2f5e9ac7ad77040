package auth

import "context"

type contextKey int

const (
	userKey contextKey = iota
	deviceKey
)

// Slots record that an axis was resolved even when no identity was attached.
type userSlot struct{ identity *UserIdentity }
type deviceSlot struct{ identity *DeviceIdentity }

// WithUser attaches the resolved user axis to ctx. A nil identity marks
// the axis as resolved with nobody attached.
func WithUser(ctx context.Context, identity *UserIdentity) context.Context {
	return context.WithValue(ctx, userKey, userSlot{identity: identity})
}

// UserFromContext returns the user identity and whether the axis was resolved.
func UserFromContext(ctx context.Context) (*UserIdentity, bool) {
	slot, ok := ctx.Value(userKey).(userSlot)
	return slot.identity, ok
}

// WithDevice attaches the resolved device axis to ctx.
func WithDevice(ctx context.Context, identity *DeviceIdentity) context.Context {
	return context.WithValue(ctx, deviceKey, deviceSlot{identity: identity})
}

// DeviceFromContext returns the device identity and whether the axis was resolved.
func DeviceFromContext(ctx context.Context) (*DeviceIdentity, bool) {
	slot, ok := ctx.Value(deviceKey).(deviceSlot)
	return slot.identity, ok
}
