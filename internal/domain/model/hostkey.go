package model

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// HostKey identifies the (scheme, host, port) tuple that rate limits,
// circuit breakers, and connection pools are keyed by. Host is always
// lowercased so "Example.com" and "example.com" collide.
type HostKey struct {
	Scheme string
	Host   string
	Port   int
}

func HostKeyFromURL(u *url.URL) HostKey {
	port := defaultPort(u.Scheme)
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	return HostKey{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Hostname()),
		Port:   port,
	}
}

func defaultPort(scheme string) int {
	switch strings.ToLower(scheme) {
	case "https":
		return 443
	default:
		return 80
	}
}

func (k HostKey) String() string {
	return fmt.Sprintf("%s://%s:%d", k.Scheme, k.Host, k.Port)
}
