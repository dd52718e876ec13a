package realtime

import "time"

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnect attempts. Tests replace it to control time.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
