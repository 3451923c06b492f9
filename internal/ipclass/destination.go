package ipclass

import (
	"encoding/hex"
	"fmt"
	"net"

	"github.com/maypok86/otter"
)

// DeviceLookup resolves a device id (its ext_address hex string) to its
// learned MLEID-IID, as recorded by the devices collection. The collections
// package satisfies this without ipclass depending on it directly, keeping
// the dependency edge one-directional.
type DeviceLookup func(deviceID string) (mleidIID [8]byte, ok bool)

// Resolver resolves a caller-supplied destination string into a full IPv6
// address. It memoizes device-id lookups in a small otter-backed LRU: a
// border router with many known devices but a handful of frequently-queried
// ones benefits from keeping the hot ones cached even if the bookkeeping
// reorders which cold entries get evicted — unlike the devices/diagnostics
// collections, this cache has no insertion-order contract to honor, so
// otter's cost-based eviction is the right tool (see internal/collections
// for why it is the wrong tool there).
type Resolver struct {
	meshLocalPrefix [8]byte
	rlocPrefix      [8]byte
	lookup          DeviceLookup
	cache           otter.Cache[string, [8]byte]
}

// NewResolver constructs a Resolver. cacheSize bounds the device-id
// memoization cache; 0 disables caching.
func NewResolver(meshLocalPrefix, rlocPrefix [8]byte, lookup DeviceLookup, cacheSize int) *Resolver {
	r := &Resolver{meshLocalPrefix: meshLocalPrefix, rlocPrefix: rlocPrefix, lookup: lookup}
	if cacheSize > 0 {
		cache, err := otter.MustBuilder[string, [8]byte](cacheSize).
			Cost(func(_ string, _ [8]byte) uint32 { return 1 }).
			Build()
		if err != nil {
			panic("ipclass: failed to create destination resolver cache: " + err.Error())
		}
		r.cache = cache
	}
	return r
}

// Mode reports which branch of a destination resolved through.
type Mode int

const (
	ModeDiscovery Mode = iota
	ModeMleidIID
	ModeRloc16
)

// Resolve classifies and resolves dest: empty selects discovery mode; a
// 16-hex-char string is either a known device id (cached lookup of its
// learned MLEID-IID) or a literal MLEID-IID; a 4-hex-char string is a
// literal rloc16; any other length is a parse error.
func (r *Resolver) Resolve(dest string) (net.IP, Mode, error) {
	switch len(dest) {
	case 0:
		return nil, ModeDiscovery, nil
	case 16:
		iid, err := r.resolveMleidIID(dest)
		if err != nil {
			return nil, ModeMleidIID, err
		}
		ip := make(net.IP, 16)
		copy(ip[0:8], r.meshLocalPrefix[:])
		copy(ip[8:16], iid[:])
		return ip, ModeMleidIID, nil
	case 4:
		raw, err := hex.DecodeString(dest)
		if err != nil {
			return nil, ModeRloc16, fmt.Errorf("ipclass: invalid rloc16 %q: %w", dest, err)
		}
		ip := make(net.IP, 16)
		copy(ip[0:8], r.rlocPrefix[:])
		ip[14], ip[15] = raw[0], raw[1]
		return ip, ModeRloc16, nil
	default:
		return nil, 0, fmt.Errorf("ipclass: destination %q must be 0, 4, or 16 hex characters", dest)
	}
}

func (r *Resolver) resolveMleidIID(dest string) ([8]byte, error) {
	var iid [8]byte
	if r.cache != nil {
		if cached, ok := r.cache.Get(dest); ok {
			return cached, nil
		}
	}
	if iid, ok := r.lookup(dest); ok {
		if r.cache != nil {
			r.cache.Set(dest, iid)
		}
		return iid, nil
	}
	raw, err := hex.DecodeString(dest)
	if err != nil || len(raw) != 8 {
		return iid, fmt.Errorf("ipclass: %q is neither a known device id nor a valid MLEID-IID", dest)
	}
	copy(iid[:], raw)
	if r.cache != nil {
		r.cache.Set(dest, iid)
	}
	return iid, nil
}

// InvalidateDevice drops a cached device-id resolution, used when a
// device's learned MLEID-IID changes (fill-device may update it on
// subsequent discovery passes).
func (r *Resolver) InvalidateDevice(deviceID string) {
	if r.cache != nil {
		r.cache.Delete(deviceID)
	}
}
