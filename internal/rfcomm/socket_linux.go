//go:build linux

// Package rfcomm implements the Bluetooth RFCOMM provisioning server
// (§4.F). This file is the small FFI-style layer the §9 design note
// calls for: Go has no native RFCOMM binding, so the socket is opened
// with direct syscalls against the stable sockaddr_rc layout
// (family: u16, bdaddr: 6 bytes, channel: u8).
package rfcomm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux Bluetooth constants not exposed by golang.org/x/sys/unix.
const (
	afBluetooth   = 31
	btprotoRFCOMM = 3
)

// bdaddrAny is BDADDR_ANY: bind to whichever local adapter the kernel
// routes the channel through.
var bdaddrAny = [6]byte{}

// sockaddrRC mirrors struct sockaddr_rc from <bluetooth/rfcomm.h>.
type sockaddrRC struct {
	family  uint16
	bdaddr  [6]byte
	channel uint8
}

// listener owns the raw RFCOMM listening socket.
type listener struct {
	fd int
}

// listenRFCOMM opens an AF_BLUETOOTH/SOCK_STREAM/BTPROTO_RFCOMM socket,
// sets SO_REUSEADDR, binds to (BDADDR_ANY, channel) and listens with the
// given backlog (§4.F "Listening socket").
func listenRFCOMM(channel uint8, backlog int) (*listener, error) {
	fd, err := unix.Socket(afBluetooth, unix.SOCK_STREAM, btprotoRFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := sockaddrRC{family: afBluetooth, bdaddr: bdaddrAny, channel: channel}
	if err := bindRC(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: listen: %w", err)
	}

	return &listener{fd: fd}, nil
}

// bindRC binds fd with a raw syscall: unix.Sockaddr can't represent
// AF_BLUETOOTH, so the kernel call is made directly against sa's layout.
func bindRC(fd int, sa *sockaddrRC) error {
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(sa)), unsafe.Sizeof(*sa))
	if errno != 0 {
		return fmt.Errorf("rfcomm: bind: %w", errno)
	}
	return nil
}

// acceptRC accepts one client and returns its fd and its peer bdaddr
// formatted as "XX:XX:XX:XX:XX:XX".
func (l *listener) acceptRC() (int, string, error) {
	var sa sockaddrRC
	size := unsafe.Sizeof(sa)
	fd, _, errno := unix.Syscall(unix.SYS_ACCEPT, uintptr(l.fd), uintptr(unsafe.Pointer(&sa)), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, "", fmt.Errorf("rfcomm: accept: %w", errno)
	}
	return int(fd), formatBDAddr(sa.bdaddr), nil
}

func (l *listener) Close() error {
	return unix.Close(l.fd)
}

// formatBDAddr renders a raw bdaddr_t (stored in reverse byte order by
// the kernel) as a human-readable Bluetooth address.
func formatBDAddr(b [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[5], b[4], b[3], b[2], b[1], b[0])
}
