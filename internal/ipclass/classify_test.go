package ipclass

import (
	"net"
	"testing"
)

var testMeshPrefix = [8]byte{0xfd, 0x00, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x00}

func meshLocalAddr(iid [8]byte) net.IP {
	ip := make(net.IP, 16)
	copy(ip[0:8], testMeshPrefix[:])
	copy(ip[8:16], iid[:])
	return ip
}

func rlocAddr(prefix [8]byte, rloc uint16) net.IP {
	ip := make(net.IP, 16)
	copy(ip[0:8], prefix[:])
	ip[11] = 0xFF
	ip[12] = 0xFE
	ip[14] = byte(rloc >> 8)
	ip[15] = byte(rloc)
	return ip
}

func TestIsRlocOrAloc(t *testing.T) {
	if !IsRlocOrAloc(rlocAddr(testMeshPrefix, 0x1c00)) {
		t.Fatal("expected an RLOC-shaped address to be detected")
	}
	if IsRlocOrAloc(meshLocalAddr([8]byte{1, 2, 3, 4, 5, 6, 7, 8})) {
		t.Fatal("expected a non-RLOC MLEID to not be misclassified")
	}
	if IsRlocOrAloc(nil) {
		t.Fatal("expected a nil address to report false, not panic")
	}
}

func TestMeshLocalIID(t *testing.T) {
	want := [8]byte{0xaa, 0xbb, 0xcc, 0xdd, 0x11, 0x22, 0x33, 0x44}
	iid, ok := MeshLocalIID(meshLocalAddr(want), testMeshPrefix)
	if !ok {
		t.Fatal("expected an address under the mesh-local prefix to match")
	}
	if iid != want {
		t.Fatalf("iid = %v, want %v", iid, want)
	}

	other := net.ParseIP("2001:db8::1")
	if _, ok := MeshLocalIID(other, testMeshPrefix); ok {
		t.Fatal("expected a global address to not match the mesh-local prefix")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		addr net.IP
		want Classification
	}{
		{"rloc", rlocAddr(testMeshPrefix, 0x1c00), Classification{IsRlocOrAloc: true}},
		{"link-local", net.ParseIP("fe80::1"), Classification{}},
		{"multicast", net.ParseIP("ff03::1"), Classification{}},
		{"omr", net.ParseIP("2001:db8::1"), Classification{IsOMRCandidate: true}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.addr, testMeshPrefix)
			if got.IsRlocOrAloc != c.want.IsRlocOrAloc || got.IsOMRCandidate != c.want.IsOMRCandidate {
				t.Fatalf("Classify(%v) = %+v, want %+v", c.addr, got, c.want)
			}
		})
	}

	mleid := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	got := Classify(meshLocalAddr(mleid), testMeshPrefix)
	if !got.HasMleidIID || got.MleidIID != mleid {
		t.Fatalf("expected mesh-local address to resolve its iid, got %+v", got)
	}
}

func TestFoldAddresses_LastOMRWinsAndMleidIsFound(t *testing.T) {
	mleid := [8]byte{9, 9, 9, 9, 9, 9, 9, 9}
	first := net.ParseIP("2001:db8::1")
	last := net.ParseIP("2001:db8::2")
	addrs := []net.IP{
		rlocAddr(testMeshPrefix, 0x1c00),
		meshLocalAddr(mleid),
		first,
		net.ParseIP("fe80::1"),
		last,
	}

	iid, hasIID, omr := FoldAddresses(addrs, testMeshPrefix)
	if !hasIID || iid != mleid {
		t.Fatalf("expected mleid %v, got %v (hasIID=%v)", mleid, iid, hasIID)
	}
	if !omr.Equal(last) {
		t.Fatalf("expected the last OMR candidate to win, got %v", omr)
	}
}

func TestClassifyALOC(t *testing.T) {
	if r := ClassifyALOC(alocLeader); !r.Leader {
		t.Fatal("expected the leader ALOC to set Leader")
	}
	if r := ClassifyALOC(alocPrimaryBBR); !r.PrimaryBBR {
		t.Fatal("expected the primary-BBR ALOC to set PrimaryBBR")
	}
	if r := ClassifyALOC(alocServiceLo); !r.HostsService {
		t.Fatal("expected a service-range ALOC to set HostsService")
	}
	if r := ClassifyALOC(alocServiceHi); !r.HostsService {
		t.Fatal("expected the top of the service range to set HostsService")
	}
	if r := ClassifyALOC(0x0001); r.Leader || r.PrimaryBBR || r.HostsService {
		t.Fatalf("expected an unrelated ALOC to set no role flags, got %+v", r)
	}
}
