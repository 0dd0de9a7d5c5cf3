//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package network

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("raw sockets are not supported on " + runtime.GOOS)

func newStreamSocket() (int, error) { return -1, errUnsupported }
func bindInet4(fd int, address string, port int) error { return errUnsupported }
func listenSocket(fd, backlog int) error { return errUnsupported }
func setNonblock(fd int) error { return errUnsupported }
func localPort(fd int) (int, error) { return 0, errUnsupported }
func acceptConn(listener int) (int, string, error) { return -1, "", errUnsupported }
func readConn(fd int, buf []byte) (int, error) { return 0, errUnsupported }
func writeConn(fd int, p []byte) (int, error) { return 0, errUnsupported }
func closeFD(fd int) error { return errUnsupported }

type poller struct{}

func (p *poller) readable(fds []int, ready []bool) error { return errUnsupported }
