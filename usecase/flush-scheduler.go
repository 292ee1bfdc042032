package usecase

import "time"

// DefaultRefreshInterval is roughly one display frame.
const DefaultRefreshInterval = 16 * time.Millisecond

// FlushScheduler coalesces any number of MarkDirty calls within one refresh interval into a
// single flush. It is not safe for concurrent use; the session loop owns it.
type FlushScheduler struct {
	interval time.Duration
	timer    *time.Timer
	armed    bool
	dirty    bool
	paused   bool
}

func NewFlushScheduler(interval time.Duration) *FlushScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &FlushScheduler{interval: interval}
}

func (s *FlushScheduler) MarkDirty() {
	s.dirty = true
	if !s.paused {
		s.arm(s.interval)
	}
}

// SetPaused gates flush delivery. While paused dirty state accumulates; resuming with pending
// changes arms exactly one catch-up flush.
func (s *FlushScheduler) SetPaused(paused bool) {
	if s.paused == paused {
		return
	}
	s.paused = paused
	if paused {
		s.disarm()
		return
	}
	if s.dirty {
		s.arm(0)
	}
}

func (s *FlushScheduler) Paused() bool { return s.paused }
func (s *FlushScheduler) Dirty() bool  { return s.dirty }

// C is nil while nothing is scheduled, so selecting on it blocks forever.
func (s *FlushScheduler) C() <-chan time.Time {
	if !s.armed {
		return nil
	}
	return s.timer.C
}

// Fire consumes a tick received from C and reports whether a flush must run.
func (s *FlushScheduler) Fire() bool {
	s.armed = false
	if s.paused || !s.dirty {
		return false
	}
	s.dirty = false
	return true
}

// Reset drops pending dirty state and any armed tick. The paused flag is kept.
func (s *FlushScheduler) Reset() {
	s.disarm()
	s.dirty = false
}

func (s *FlushScheduler) Stop() {
	s.disarm()
}

func (s *FlushScheduler) arm(d time.Duration) {
	if s.armed {
		return
	}
	if s.timer == nil {
		s.timer = time.NewTimer(d)
	} else {
		s.timer.Reset(d)
	}
	s.armed = true
}

func (s *FlushScheduler) disarm() {
	if !s.armed {
		return
	}
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.armed = false
}
