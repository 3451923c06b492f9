package main

import (
	"net"
	"testing"

	"github.com/meshcore/tbr-agent/internal/collections"
	"github.com/meshcore/tbr-agent/internal/threadapi"
)

func TestParsePrefixOrZero(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want [8]byte
	}{
		{"empty", "", [8]byte{}},
		{"valid", "fd00beef00000000", [8]byte{0xfd, 0x00, 0xbe, 0xef, 0, 0, 0, 0}},
		{"odd-length-hex", "abc", [8]byte{}},
		{"wrong-byte-count", "aabb", [8]byte{}},
		{"non-hex", "zzzzzzzzzzzzzzzz", [8]byte{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := parsePrefixOrZero(c.in)
			if got != c.want {
				t.Fatalf("parsePrefixOrZero(%q) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestDeviceLookupFrom(t *testing.T) {
	devices := collections.New(10)
	mleid := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	devices.Add("known", &collections.Device{HasMleidIID: true, MleidIID: mleid})
	devices.Add("no-mleid", &collections.Device{})

	lookup := deviceLookupFrom(devices)

	if iid, ok := lookup("known"); !ok || iid != mleid {
		t.Fatalf("lookup(known) = %v, %v, want %v, true", iid, ok, mleid)
	}
	if _, ok := lookup("no-mleid"); ok {
		t.Fatal("expected no match for a device with no learned mleid")
	}
	if _, ok := lookup("missing"); ok {
		t.Fatal("expected no match for an unknown device id")
	}
}

func TestSrpLookupFrom(t *testing.T) {
	adapter := threadapi.NewFake()
	want := net.ParseIP("2001:db8::1")
	adapter.SetSrpHosts([]threadapi.SrpHost{
		{Hostname: "kettle", Addresses: []net.IP{net.ParseIP("2001:db8::9")}},
		{Hostname: "lamp", Addresses: []net.IP{want}},
	})

	lookup := srpLookupFrom(adapter)

	host, ok := lookup([]net.IP{net.ParseIP("fe80::1"), want})
	if !ok || host != "lamp" {
		t.Fatalf("lookup = %q, %v, want lamp, true", host, ok)
	}
	if _, ok := lookup([]net.IP{net.ParseIP("2001:db8::ff")}); ok {
		t.Fatal("expected no match for an address no SRP host advertises")
	}
}

func TestThisDeviceInfoFrom(t *testing.T) {
	adapter := threadapi.NewFake()
	adapter.SetOwnNode(0x1c00, [8]byte{}, [8]byte{}, [8]byte{})

	info := thisDeviceInfoFrom(adapter)()
	if info.Rloc16 != "1c00" {
		t.Fatalf("Rloc16 = %q, want 1c00", info.Rloc16)
	}
}
