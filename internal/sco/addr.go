// Package sco owns the synchronous connection-oriented audio bearer of a
// headset session: one seqpacket Bluetooth socket bound to the local adapter
// and connected to the remote device.
package sco

import (
	"fmt"
	"strconv"
	"strings"
)

// Addr is a link-layer Bluetooth device address in the byte order the kernel
// expects in sockaddr_sco: least significant octet first, the reverse of the
// colon-separated string form.
type Addr [6]byte

// ParseAddr parses a BlueZ-style "AA:BB:CC:DD:EE:FF" address.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("sco: bad device address %q", s)
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return a, fmt.Errorf("sco: bad device address %q: %w", s, err)
		}
		a[5-i] = byte(b)
	}
	return a, nil
}

func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}
