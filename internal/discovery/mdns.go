package discovery

import (
	"context"
	"net"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// mdnsMulticastAddr is the standard mDNS multicast group and port.
var mdnsMulticastAddr = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// loxoneServiceQuery is a minimal, hand-built mDNS query for
// "_loxone._tcp.local" — no suitable zeroconf library was found, so
// this speaks just enough of the multicast-DNS wire format to elicit a
// PTR response rather than pulling in an unverified dependency (see
// DESIGN.md).
var loxoneServiceQuery = buildQuery("_loxone._tcp.local")

func buildQuery(name string) []byte {
	// Minimal DNS query: header + one question, QTYPE=PTR(12), QCLASS=IN(1).
	msg := make([]byte, 0, 64)
	msg = append(msg, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0) // ID=0, flags=0, QDCOUNT=1
	for _, label := range splitLabels(name) {
		msg = append(msg, byte(len(label)))
		msg = append(msg, label...)
	}
	msg = append(msg, 0, 0, 12, 0, 1)
	return msg
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			if i > start {
				labels = append(labels, name[start:i])
			}
			start = i + 1
		}
	}
	return labels
}

// MDNS sends one mDNS query for the Loxone service type and collects
// responder addresses until timeout, deduplicated by source IP. This
// does not attempt to decode the response payload (requires a full
// DNS message parser) — it treats any reply from the multicast group
// as evidence of a Miniserver on that address, which is sufficient to
// seed the HTTP scan's priority list.
func MDNS(ctx context.Context, timeout time.Duration) ([]domain.DiscoveredDevice, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, domain.WrapError(domain.KindConnection, "open mdns socket", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(loxoneServiceQuery, mdnsMulticastAddr); err != nil {
		return nil, domain.WrapError(domain.KindConnection, "send mdns query", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	seen := map[string]domain.DiscoveredDevice{}
	buf := make([]byte, 2048)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return toSlice(seen), ctx.Err()
		default:
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		if n == 0 {
			continue
		}
		ip := addr.IP.String()
		if _, dup := seen[ip]; dup {
			continue
		}
		now := time.Now()
		seen[ip] = domain.DiscoveredDevice{
			IP: ip, Port: 80, Method: domain.MethodMDNS,
			FirstSeen: now, LastSeen: now,
		}
	}
	return toSlice(seen), nil
}
