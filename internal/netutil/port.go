package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// SelectBindAddr returns the preferred "host:port" when it can be listened
// on, otherwise walks the fallback ports on the same host. Fallback only
// happens when autoFallback is set; a desk pinned to one port should fail
// loudly rather than come up somewhere else.
func SelectBindAddr(preferred string, fallbackPorts []int, autoFallback bool) (string, error) {
	host, _, err := net.SplitHostPort(preferred)
	if err != nil {
		return "", fmt.Errorf("bad bind address %q: %w", preferred, err)
	}

	ok, err := IsAddrAvailable(preferred)
	if err != nil {
		return "", err
	}
	if ok {
		return preferred, nil
	}
	if !autoFallback {
		return "", fmt.Errorf("preferred bind address in use: %s", preferred)
	}

	for _, port := range fallbackPorts {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		if addr == preferred {
			continue
		}
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	return "", errors.New("no available desk bind addresses")
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
