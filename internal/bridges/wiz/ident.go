package wiz

import (
	"encoding/hex"
	"errors"
	"net"

	"github.com/google/uuid"
)

// NewIdentifier returns a random MAC-like identifier as 12 lowercase hex
// digits, with the locally administered bit set and the multicast bit clear.
func NewIdentifier() string {
	id := uuid.New()
	mac := make([]byte, 6)
	copy(mac, id[:6])
	mac[0] = (mac[0] | 0x02) &^ 0x01
	return hex.EncodeToString(mac)
}

// interfaceAddrs is replaced in tests.
var interfaceAddrs = net.InterfaceAddrs

// LocalIPv4 returns the first non-loopback IPv4 address of this host.
func LocalIPv4() (string, error) {
	addrs, err := interfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", errors.New("wiz: no non-loopback IPv4 address")
}

// BroadcastAddress returns ip with its final octet replaced by 255.
func BroadcastAddress(ip string) (string, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return "", ErrInvalidAddress
	}
	b := make(net.IP, 4)
	copy(b, parsed)
	b[3] = 255
	return b.String(), nil
}

// isBroadcast reports whether the final octet of ip is 255.
func isBroadcast(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && ip4[3] == 255
}

// defaultIdentity builds an Identity from the local IPv4 and mac.
func defaultIdentity(mac string) func() (Identity, error) {
	return func() (Identity, error) {
		ip, err := LocalIPv4()
		if err != nil {
			return Identity{}, err
		}
		return Identity{IP: ip, MAC: mac}, nil
	}
}
