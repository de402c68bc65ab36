package engine

import "time"

// Clock supplies the current time. The engine never reads time.Now
// directly so tests can drive detection windows deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
