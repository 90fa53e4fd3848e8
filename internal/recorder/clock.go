package recorder

import "time"

// Clock abstracts wall time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(time.Duration, func()) Timer
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type timerKind int

const (
	timerSilence timerKind = iota + 1
	timerMaxDuration
	timerStopCheck
)

func (k timerKind) String() string {
	switch k {
	case timerSilence:
		return "silence"
	case timerMaxDuration:
		return "max_duration"
	case timerStopCheck:
		return "stop_check"
	default:
		return "unknown"
	}
}

// timerSlot tracks one armed timer. gen tags the pending fire so a fire that
// raced a cancel is ignored.
type timerSlot struct {
	timer Timer
	gen   uint64
}

func (s *timerSlot) armed() bool {
	return s.timer != nil
}
