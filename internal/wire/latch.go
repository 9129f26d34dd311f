package wire

import "log/slog"

// Latch is a write-once value: the first Set succeeds and is permanent;
// every subsequent Set is logged and ignored rather than silently
// accepted. This replaces a nullable field (which would allow silent
// overwrite) for configuration that a boot invariant requires to be
// assigned exactly once — boot info, HAL info, the negotiated HMAC key,
// and shared-secret parameters all use this type.
type Latch[T any] struct {
	value T
	set   bool
}

// Set assigns value if the latch is unset. It reports whether the
// assignment took effect; callers that must warn-and-continue on a
// repeat write should log when it returns false.
func (l *Latch[T]) Set(value T) bool {
	if l.set {
		slog.Warn("wire: ignoring write to already-latched value")
		return false
	}
	l.value = value
	l.set = true
	return true
}

// Get returns the latched value and whether it has been set.
func (l *Latch[T]) Get() (T, bool) {
	return l.value, l.set
}

// IsSet reports whether Set has succeeded at least once.
func (l *Latch[T]) IsSet() bool {
	return l.set
}
