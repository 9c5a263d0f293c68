package discovery

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// broadcastPayloads are the discovery probe packets sent on each
// broadcast port, matching the Miniserver's known UDP discovery
// dialects.
var broadcastPayloads = [][]byte{
	[]byte("LoxLIVE"),
	[]byte("eWeLink"),
	{0},
}

var broadcastPorts = []int{7777, 7700, 80, 8080}

// UDPBroadcast sends the known discovery payloads to
// 255.255.255.255 on each Loxone broadcast port and collects responses
// until timeout elapses, deduplicated by source IP.
func UDPBroadcast(ctx context.Context, timeout time.Duration) ([]domain.DiscoveredDevice, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, domain.WrapError(domain.KindConnection, "open udp broadcast socket", err)
	}
	defer conn.Close()

	if pc, ok := conn.(*net.UDPConn); ok {
		_ = pc.SetDeadline(time.Now().Add(timeout))
	}

	for _, port := range broadcastPorts {
		dst := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
		for _, payload := range broadcastPayloads {
			_, _ = conn.WriteTo(payload, dst)
		}
	}

	seen := map[string]domain.DiscoveredDevice{}
	buf := make([]byte, 1500)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return toSlice(seen), ctx.Err()
		default:
		}
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		ip := udpAddr.IP.String()
		if _, dup := seen[ip]; dup {
			continue
		}
		now := time.Now()
		seen[ip] = domain.DiscoveredDevice{
			IP:        ip,
			Port:      80,
			Name:      string(buf[:n]),
			Method:    domain.MethodNetworkScan,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	return toSlice(seen), nil
}

func toSlice(m map[string]domain.DiscoveredDevice) []domain.DiscoveredDevice {
	out := make([]domain.DiscoveredDevice, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}

// priorityLastOctets is the priority-ordered list of last-octet candidates
// probed before falling back to the full .1-.254 sweep.
var priorityLastOctets = []int{1, 2, 10, 100, 101, 102, 200, 201, 202}

// HTTPScan probes <subnetPrefix>.1..254, trying the priority octets
// first, and counts a host as a hit when /jdev/cfg/api answers HTTP 200
// or 401. A hit carries only its IP, port 80 and response time: no name
// is read from /jdev/sys/getversion or from the /jdev/cfg/api body.
func HTTPScan(ctx context.Context, subnetPrefix string, client *http.Client, perHostTimeout time.Duration) ([]domain.DiscoveredDevice, error) {
	if client == nil {
		client = &http.Client{Timeout: perHostTimeout}
	}
	tried := make(map[int]bool, 254)
	var found []domain.DiscoveredDevice

	probe := func(octet int) {
		if tried[octet] {
			return
		}
		tried[octet] = true
		ip := fmt.Sprintf("%s.%d", subnetPrefix, octet)
		if d, ok := probeHost(ctx, client, ip); ok {
			found = append(found, d)
		}
	}

	for _, octet := range priorityLastOctets {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}
		probe(octet)
	}
	for octet := 1; octet <= 254; octet++ {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}
		probe(octet)
	}
	return found, nil
}

func probeHost(ctx context.Context, client *http.Client, ip string) (domain.DiscoveredDevice, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ip+"/jdev/cfg/api", nil)
	if err != nil {
		return domain.DiscoveredDevice{}, false
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return domain.DiscoveredDevice{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
		return domain.DiscoveredDevice{}, false
	}
	now := time.Now()
	return domain.DiscoveredDevice{
		IP:           ip,
		Port:         80,
		Method:       domain.MethodNetworkScan,
		FirstSeen:    now,
		LastSeen:     now,
		ResponseTime: now.Sub(start),
	}, true
}
