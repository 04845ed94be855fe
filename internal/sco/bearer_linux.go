//go:build linux

package sco

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// The kernel exposes no meaningful SCO MTU at this layer, so both directions
// report the fixed HV3 payload size.
const unitSize = 48

// sockaddrSCO mirrors struct sockaddr_sco from <bluetooth/sco.h>. x/sys/unix
// carries no Sockaddr for BTPROTO_SCO, so bind and connect go through the raw
// syscalls.
type sockaddrSCO struct {
	family uint16
	bdaddr [6]byte
}

// Bearer is one connected (or still connecting) SCO socket.
type Bearer struct {
	fd       int
	released bool
}

// Connect opens the audio bearer: allocate a seqpacket SCO socket, bind it to
// the local adapter address and start a connect to the remote device. EAGAIN
// and EINPROGRESS from connect mean the nonblocking connect is in flight and
// count as success; readiness is the caller's concern. Any other failure
// closes the socket.
func Connect(local, remote Addr) (*Bearer, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_SCO)
	if err != nil {
		return nil, errors.Wrap(err, "sco: socket")
	}
	if err := sockaddrCall(unix.SYS_BIND, fd, local); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "sco: bind")
	}
	if err := sockaddrCall(unix.SYS_CONNECT, fd, remote); err != nil && err != unix.EAGAIN && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, errors.Wrap(err, "sco: connect")
	}
	return &Bearer{fd: fd}, nil
}

func sockaddrCall(trap uintptr, fd int, a Addr) error {
	sa := sockaddrSCO{family: unix.AF_BLUETOOTH, bdaddr: a}
	_, _, errno := unix.Syscall(trap, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		return errno
	}
	return nil
}

// Fd returns the socket descriptor handed to the audio consumer.
func (b *Bearer) Fd() int { return b.fd }

// InputMTU is the transport unit size toward the host.
func (b *Bearer) InputMTU() int { return unitSize }

// OutputMTU is the transport unit size toward the headset.
func (b *Bearer) OutputMTU() int { return unitSize }

// Release marks the bearer released. Only bookkeeping happens here: the
// consumer that acquired the descriptor, or session teardown, closes it.
func (b *Bearer) Release() { b.released = true }

// Released reports whether Release was called.
func (b *Bearer) Released() bool { return b.released }

// Shutdown force-closes the socket; session teardown only.
func (b *Bearer) Shutdown() error {
	_ = unix.Shutdown(b.fd, unix.SHUT_RDWR)
	if err := unix.Close(b.fd); err != nil {
		return errors.Wrap(err, "sco: close")
	}
	return nil
}
