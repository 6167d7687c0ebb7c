package netutil

import (
	"net"
	"strconv"
	"testing"
)

func freePort(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return addr, port
}

func TestSelectBindAddrPreferredFree(t *testing.T) {
	addr, _ := freePort(t)

	got, err := SelectBindAddr(addr, nil, false)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != addr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, addr)
	}
}

func TestSelectBindAddrFallsBackToFreePort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()
	busyAddr := busy.Addr().String()
	_, busyPortStr, _ := net.SplitHostPort(busyAddr)
	busyPort, _ := strconv.Atoi(busyPortStr)

	freeAddr, port := freePort(t)

	got, err := SelectBindAddr(busyAddr, []int{busyPort, port}, true)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != freeAddr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, freeAddr)
	}
}

func TestSelectBindAddrNoFallbackFailsClosed(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	if _, err := SelectBindAddr(busy.Addr().String(), []int{0}, false); err == nil {
		t.Fatal("SelectBindAddr() = nil with the preferred port busy and fallback off")
	}
}

func TestSelectBindAddrRejectsMalformedAddress(t *testing.T) {
	if _, err := SelectBindAddr("not-an-address", nil, true); err == nil {
		t.Fatal("SelectBindAddr() = nil for a malformed address")
	}
}
