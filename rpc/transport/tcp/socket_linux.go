//go:build linux

package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"golang.org/x/sys/unix"
	"io"
	"net/netip"
)

const (
	shutRD   = unix.SHUT_RD
	shutWR   = unix.SHUT_WR
	shutRDWR = unix.SHUT_RDWR
)

// keepAliveProbes is the number of unanswered probes before the kernel drops a connection
const keepAliveProbes = 3

// --------------------------------------------------------------------------
// Address helpers
// --------------------------------------------------------------------------

// parseIP parses ip, an empty string is the IPv4 wildcard address
func parseIP(ip string) (netip.Addr, error) {
	if ip == "" {
		return netip.IPv4Unspecified(), nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	return addr.Unmap(), nil
}

func toSockaddr(ap netip.AddrPort) (unix.Sockaddr, int) {
	if ap.Addr().Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}, unix.AF_INET
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}, unix.AF_INET6
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

// --------------------------------------------------------------------------
// Server side sockets
// --------------------------------------------------------------------------

// listenTCP opens a blocking listening socket and returns it with the bound address
func listenTCP(ip string, port uint16, backlog int) (int, netip.AddrPort, error) {
	addr, err := parseIP(ip)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	sa, family := toSockaddr(netip.AddrPortFrom(addr, port))

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, netip.AddrPort{}, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("bind: %w", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("getsockname: %w", err)
	}

	return fd, fromSockaddr(bound), nil
}

// acceptTCP blocks until a connection arrives. Once the listener was shut down
// the kernel fails accept with EINVAL, reported as errListenerShutdown.
func acceptTCP(lfd int) (int, netip.AddrPort, error) {
	for {
		fd, sa, err := unix.Accept4(lfd, unix.SOCK_CLOEXEC)
		if err == nil {
			return fd, fromSockaddr(sa), nil
		}
		switch err {
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EINVAL:
			return -1, netip.AddrPort{}, errListenerShutdown
		default:
			return -1, netip.AddrPort{}, fmt.Errorf("accept: %w", err)
		}
	}
}

// --------------------------------------------------------------------------
// Client side sockets
// --------------------------------------------------------------------------

// connectTCP opens a blocking socket, optionally binds it to localIP and connects it
func connectTCP(localIP string, ip string, port uint16) (int, netip.AddrPort, error) {
	addr, err := parseIP(ip)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	peer := netip.AddrPortFrom(addr, port)
	sa, family := toSockaddr(peer)

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, peer, fmt.Errorf("socket: %w", err)
	}

	if localIP != "" {
		local, err := parseIP(localIP)
		if err != nil {
			_ = unix.Close(fd)
			return -1, peer, err
		}
		lsa, _ := toSockaddr(netip.AddrPortFrom(local, 0))
		if err := unix.Bind(fd, lsa); err != nil {
			_ = unix.Close(fd)
			return -1, peer, fmt.Errorf("bind %s: %w", local, err)
		}
	}

	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = unix.Close(fd)
		return -1, peer, fmt.Errorf("connect: %w", err)
	}

	return fd, peer, nil
}

// --------------------------------------------------------------------------
// Socket options and I/O
// --------------------------------------------------------------------------

// tuneSocket applies keep-alive, no-delay and buffer options to a connected socket
func tuneSocket(fd int, conf *common.TransportConfig) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("setsockopt SO_KEEPALIVE: %w", err)
	}

	if conf.TCPKeepAliveSec > 0 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, conf.TCPKeepAliveSec); err != nil {
			return fmt.Errorf("setsockopt TCP_KEEPIDLE: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, conf.TCPKeepAliveSec); err != nil {
			return fmt.Errorf("setsockopt TCP_KEEPINTVL: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepAliveProbes); err != nil {
			return fmt.Errorf("setsockopt TCP_KEEPCNT: %w", err)
		}
	}

	if conf.TCPNoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
		}
	}

	if conf.ReadBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, conf.ReadBufferSize); err != nil {
			return fmt.Errorf("setsockopt SO_RCVBUF: %w", err)
		}
	}

	if conf.WriteBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, conf.WriteBufferSize); err != nil {
			return fmt.Errorf("setsockopt SO_SNDBUF: %w", err)
		}
	}

	return nil
}

// readFull reads until b is full, the peer closes (io.EOF) or an error occurs.
// It returns the number of bytes read in every case.
func readFull(fd int, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := unix.Read(fd, b[total:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

// sendData writes b with a single send call, retried only when interrupted
func sendData(fd int, b []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, b, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func shutdownFd(fd int, how int) error {
	return unix.Shutdown(fd, how)
}

func closeFd(fd int) error {
	return unix.Close(fd)
}
