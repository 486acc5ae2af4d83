/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

//go:build linux

package ircd

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// epollMultiplexer is the Linux poller backend: one epoll instance watching
// every registered socket, level-triggered so a single bounded read per
// tick never strands buffered data.
type epollMultiplexer struct {
	epfd int

	// logical reactor id <-> kernel fd
	idToFd map[int]int
	fdToId map[int]int
}

// NewEpollMultiplexer creates the epoll instance.
func NewEpollMultiplexer() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollMultiplexer{
		epfd:   epfd,
		idToFd: make(map[int]int),
		fdToId: make(map[int]int),
	}, nil
}

// rawFd digs the kernel descriptor out of a net.Conn and puts the socket
// into non-blocking mode.
func rawFd(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, ErrNotPollable
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	ctrlErr := raw.Control(func(f uintptr) {
		fd = int(f)
		_ = unix.SetNonblock(fd, true)
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}

func (p *epollMultiplexer) Register(id int, conn net.Conn, writable bool) error {
	fd, err := rawFd(conn)
	if err != nil {
		return err
	}

	event := unix.EpollEvent{Events: interestBits(writable), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return err
	}
	p.idToFd[id] = fd
	p.fdToId[fd] = id
	return nil
}

func (p *epollMultiplexer) Modify(id int, writable bool) error {
	fd, ok := p.idToFd[id]
	if !ok {
		return ErrNotPollable
	}
	event := unix.EpollEvent{Events: interestBits(writable), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &event)
}

func (p *epollMultiplexer) Unregister(id int) error {
	fd, ok := p.idToFd[id]
	if !ok {
		return nil
	}
	delete(p.idToFd, id)
	delete(p.fdToId, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollMultiplexer) Wait(timeout time.Duration) ([]ReadyEvent, error) {
	var events [128]unix.EpollEvent

	msec := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, events[:], msec)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]ReadyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		id, ok := p.fdToId[int(ev.Fd)]
		if !ok {
			continue
		}
		ready := ReadyEvent{Fd: id}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			// errors and hangups surface as a readable that returns the
			// failure, which schedules the cull
			ready.Readable = true
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			ready.Writable = true
		}
		out = append(out, ready)
	}
	return out, nil
}

func (p *epollMultiplexer) Close() error {
	return unix.Close(p.epfd)
}

func interestBits(writable bool) uint32 {
	bits := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if writable {
		bits |= unix.EPOLLOUT
	}
	return bits
}
