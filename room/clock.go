package room

import "time"

// Timer is a cancelable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so the scheduler and session timers can be driven
// manually in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
