//go:build linux

// core/select_linux.go
//
// Idle-sleep readiness wait for linux hosts: one epoll instance monitoring
// the registered sockets plus an eventfd wake channel. Writing the eventfd
// is async-signal-safe, so any task may interrupt the sleep; the main loop
// drains and ignores the counter value.
package core

import (
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"firmcore-go/errcode"
)

type loopSelect struct {
	epfd   int
	wakeFd int

	mu       sync.Mutex
	lastRead map[int]bool // readiness observed at the most recent wait
	sockets  map[int]struct{}
}

func newLoopSelect() (*loopSelect, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	s := &loopSelect{
		epfd:     epfd,
		wakeFd:   wakeFd,
		lastRead: map[int]bool{},
		sockets:  map[int]struct{}{},
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *loopSelect) close() {
	unix.Close(s.wakeFd)
	unix.Close(s.epfd)
}

func (s *loopSelect) register(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sockets[fd]; exists {
		return errcode.SocketRegistered
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	s.sockets[fd] = struct{}{}
	return nil
}

func (s *loopSelect) unregister(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sockets[fd]; !exists {
		return errcode.UnknownSocket
	}
	delete(s.sockets, fd)
	delete(s.lastRead, fd)
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (s *loopSelect) ready(fd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sockets[fd]; !exists {
		// Unregistered descriptors are treated as always ready; the caller
		// must use non-blocking I/O either way.
		return true
	}
	return s.lastRead[fd]
}

// wait sleeps up to d, returning early when a registered socket becomes
// readable or wake is called. Readiness results are retained for ready().
func (s *loopSelect) wait(d time.Duration) {
	ms := int(d.Milliseconds())
	if ms <= 0 {
		ms = 1
	}

	var events [16]unix.EpollEvent
	n, err := unix.EpollWait(s.epfd, events[:], ms)
	if err != nil {
		// EINTR just ends the sleep early; the next frame re-enters.
		return
	}

	s.mu.Lock()
	for fd := range s.lastRead {
		s.lastRead[fd] = false
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == s.wakeFd {
			s.drainWake()
			continue
		}
		s.lastRead[fd] = true
	}
	s.mu.Unlock()
}

func (s *loopSelect) drainWake() {
	var buf [8]byte
	unix.Read(s.wakeFd, buf[:]) // counter value is irrelevant
}

// wake interrupts an in-progress wait. Safe from any context: a single
// non-blocking write, no locks, no allocation.
func (s *loopSelect) wake() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	unix.Write(s.wakeFd, one[:])
}
