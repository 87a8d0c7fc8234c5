package net

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const serviceType = "_sketchsync._tcp"

// Endpoint is one discovered session on the LAN.
type Endpoint struct {
	Addr    string // host:port of the relay
	Session string
}

// Advertise announces this relay on the local network so joiners can find
// it without an address. The caller shuts the returned server down when the
// session ends.
func Advertise(session string, port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}
	service, err := mdns.NewMDNSService(
		host,
		serviceType,
		"", // default ".local" domain
		"", // default OS hostname
		port,
		nil, // auto-detect IPs
		[]string{"session=" + session},
	)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	return server, nil
}

// Browse queries the LAN for running sessions until the timeout elapses.
func Browse(timeout time.Duration) ([]Endpoint, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	collected := make(chan []Endpoint, 1)
	go func() {
		var found []Endpoint
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			found = append(found, Endpoint{
				Addr:    fmt.Sprintf("%s:%d", e.AddrV4, e.Port),
				Session: sessionFromFields(e.InfoFields),
			})
		}
		collected <- found
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:     serviceType,
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	found := <-collected
	if err != nil {
		return found, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

func sessionFromFields(fields []string) string {
	for _, f := range fields {
		if v, ok := strings.CutPrefix(f, "session="); ok {
			return v
		}
	}
	return ""
}
