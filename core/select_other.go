//go:build !linux

// core/select_other.go
//
// Portable fallback for platforms without an epoll-style readiness
// primitive (bare metal, darwin hosts running tests): the sleep is a timer
// racing a one-slot wake channel. Socket registration is unsupported;
// readiness queries report true so callers fall back to non-blocking I/O.
package core

import (
	"time"

	"firmcore-go/errcode"
)

type loopSelect struct {
	wakeCh chan struct{}
	timer  *time.Timer
}

func newLoopSelect() (*loopSelect, error) {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &loopSelect{
		wakeCh: make(chan struct{}, 1),
		timer:  t,
	}, nil
}

func (s *loopSelect) close() { s.timer.Stop() }

func (s *loopSelect) register(fd int) error   { return errcode.Unsupported }
func (s *loopSelect) unregister(fd int) error { return errcode.Unsupported }
func (s *loopSelect) ready(fd int) bool       { return true }

func (s *loopSelect) wait(d time.Duration) {
	s.timer.Reset(d)
	select {
	case <-s.timer.C:
	case <-s.wakeCh:
		if !s.timer.Stop() {
			<-s.timer.C
		}
	}
}

// wake interrupts an in-progress wait. Safe from any context: a single
// non-blocking channel send, no locks, no allocation.
func (s *loopSelect) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}
