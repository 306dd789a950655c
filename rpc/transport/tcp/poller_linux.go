//go:build linux

package tcp

import (
	"fmt"
	"golang.org/x/sys/unix"
)

// epollPoller implements poller on top of a level-triggered epoll instance
// and an eventfd used as wake descriptor.
type epollPoller struct {
	epfd   int
	wakefd int
	buf    []unix.EpollEvent
}

// openPoller creates the epoll instance and the wake descriptor.
// The eventfd is created with a counter of 1 and never read, so once it is
// added to the watched set every wait returns immediately.
func openPoller(maxEvents int) (poller, error) {
	if maxEvents <= 0 {
		maxEvents = 1
	}

	wakefd, err := unix.Eventfd(1, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create wake eventfd: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		_ = unix.Close(wakefd)
		return nil, fmt.Errorf("failed to create epoll: %w", err)
	}

	return &epollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		buf:    make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *epollPoller) add(fd int, slot int32, gen uint32) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     slot,
		Pad:    int32(gen),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (p *epollPoller) wake() error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     wakeSlot,
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.wakefd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add wake fd: %w", err)
	}
	return nil
}

func (p *epollPoller) wait(events []readyEvent) (int, error) {
	max := len(events)
	if max > len(p.buf) {
		max = len(p.buf)
	}

	n, err := unix.EpollWait(p.epfd, p.buf[:max], -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	for i := 0; i < n; i++ {
		raw := p.buf[i]
		var flags eventFlags
		if raw.Events&unix.EPOLLIN != 0 {
			flags |= evRead
		}
		if raw.Events&unix.EPOLLERR != 0 {
			flags |= evError
		}
		if raw.Events&unix.EPOLLHUP != 0 {
			flags |= evHangup
		}
		if raw.Events&unix.EPOLLRDHUP != 0 {
			flags |= evReadHangup
		}
		events[i] = readyEvent{
			slot:  raw.Fd,
			gen:   uint32(raw.Pad),
			flags: flags,
		}
	}
	return n, nil
}

func (p *epollPoller) close() error {
	err := unix.Close(p.epfd)
	if cerr := unix.Close(p.wakefd); err == nil {
		err = cerr
	}
	return err
}
