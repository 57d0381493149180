package game

import (
	"sort"
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers. The engine never sleeps; every phase
// change and tick is driven by a timer from its Scheduler.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
	Now() time.Time
}

type RealScheduler struct{}

func (RealScheduler) After(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (RealScheduler) Now() time.Time {
	return time.Now()
}

// ManualScheduler is a virtual clock. Timers fire only from Advance, in due
// order, on the caller's goroutine.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	when    time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (s *ManualScheduler) After(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTimer{s: s, when: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of armed timers.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Advance moves the clock forward by d, firing every timer that falls due,
// including timers armed by callbacks along the way.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.remove(next)
		next.fired = true
		s.now = next.when
		s.mu.Unlock()

		next.fn()
	}
}

func (s *ManualScheduler) nextDue(target time.Time) *manualTimer {
	if len(s.timers) == 0 {
		return nil
	}
	sort.Slice(s.timers, func(i, j int) bool {
		if s.timers[i].when.Equal(s.timers[j].when) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].when.Before(s.timers[j].when)
	})
	if s.timers[0].when.After(target) {
		return nil
	}
	return s.timers[0]
}

func (s *ManualScheduler) remove(t *manualTimer) {
	for i, other := range s.timers {
		if other == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.s.remove(t)
	return true
}
