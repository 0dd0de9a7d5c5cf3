//go:build linux || darwin || freebsd || netbsd || openbsd

package network

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

func newStreamSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	return fd, nil
}

func bindInet4(fd int, address string, port int) error {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return err
	}
	if !addr.Is4() {
		return fmt.Errorf("%s is not an IPv4 address", address)
	}
	return unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr.As4()})
}

func listenSocket(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

func localPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port, nil
	}
	return 0, fmt.Errorf("unexpected socket address %T", sa)
}

// acceptConn takes one pending connection off the listener and makes it
// non-blocking. It returns errWouldBlock when nothing is pending.
func acceptConn(listener int) (int, string, error) {
	fd, sa, err := unix.Accept(listener)
	if err != nil {
		if isWouldBlock(err) || errors.Is(err, unix.ECONNABORTED) {
			return -1, "", errWouldBlock
		}
		return -1, "", err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, "", err
	}

	peer := "unknown"
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		peer = netip.AddrPortFrom(netip.AddrFrom4(in4.Addr), uint16(in4.Port)).String()
	}
	return fd, peer, nil
}

func readConn(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil && (isWouldBlock(err) || errors.Is(err, unix.EINTR)) {
		return 0, errWouldBlock
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func writeConn(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// poller keeps its pollfd slice between ticks.
type poller struct {
	fds []unix.PollFd
}

// readable polls fds with a zero timeout and sets ready[i] for each fd that
// can be read without blocking. Hangups and errors count as readable so the
// following read observes them. An interrupted poll reports nothing ready.
func (p *poller) readable(fds []int, ready []bool) error {
	p.fds = p.fds[:0]
	for _, fd := range fds {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	for i := range ready {
		ready[i] = false
	}

	n, err := unix.Poll(p.fds, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return err
	}
	if n == 0 {
		return nil
	}

	for i, pfd := range p.fds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			ready[i] = true
		}
	}
	return nil
}
