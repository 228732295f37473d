package collector

import (
	"net"
	"os"
	"time"
)

const (
	loopbackIP = "127.0.0.1"
	// probeTarget is never contacted; connecting a UDP socket only selects
	// the outbound route and its local address.
	probeTarget = "10.255.255.255:1"
)

// Identity is the host name and outward-facing address stamped on every
// snapshot. It is resolved once at startup.
type Identity struct {
	Hostname string
	IP       string
}

func ResolveIdentity() Identity {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Identity{Hostname: hostname, IP: OutboundIP()}
}

// OutboundIP returns the local address used for outbound traffic, or the
// loopback address when no route exists. It never fails.
func OutboundIP() string {
	conn, err := net.DialTimeout("udp4", probeTarget, time.Second)
	if err != nil {
		return loopbackIP
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return loopbackIP
	}
	return addr.IP.String()
}
