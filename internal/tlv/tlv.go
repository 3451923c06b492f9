// Package tlv defines the Thread network-diagnostic TLV type/name table and
// the TLV value container the collector and collections operate on.
//
// The wire TLVs themselves are produced and parsed by the Thread stack, out
// of scope for this package; it only needs the type<->name mapping used at
// the HTTP boundary and a generic container to carry a decoded TLV's raw
// value through merge/fill-in.
package tlv

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Type is a Thread network-diagnostic TLV type number.
type Type uint8

// Diagnostic TLV type numbers, per the Thread network diagnostic TLV table.
// Names match the embedded name table.
const (
	TypeExtAddress          Type = 0
	TypeRloc16              Type = 1
	TypeMode                Type = 2
	TypeTimeout             Type = 3
	TypeConnectivity        Type = 4
	TypeRoute               Type = 5
	TypeLeaderData          Type = 6
	TypeNetworkData         Type = 7
	TypeIp6AddressList      Type = 8
	TypeMacCounters         Type = 9
	TypeBatteryLevel        Type = 14
	TypeSupplyVoltage       Type = 15
	TypeChildTable          Type = 16
	TypeChannelPages        Type = 17
	TypeMaxChildTimeout     Type = 19
	TypeLDevID              Type = 23
	TypeIDevID              Type = 24
	TypeEui64               Type = 25
	TypeVersion             Type = 26
	TypeVendorName          Type = 27
	TypeVendorModel         Type = 28
	TypeVendorSwVersion     Type = 29
	TypeThreadStackVersion  Type = 30
	TypeChildren            Type = 31
	TypeChildrenIp6         Type = 32
	TypeNeighbors           Type = 33
	TypeMleCounters         Type = 34
)

// queryTypeSet partitions the TLV universe: a "request" TLV rides in a
// single Diagnostic Get, while a "query" TLV streams via a Mesh-Diag query
// and is resolved through the collector's streamed-query handling. The
// three query TLV types map onto this package's Children/ChildrenIp6/
// Neighbors, which is what the query-style Mesh-Diag calls
// (QueryChildTable/QueryChildIp6Addrs/QueryRouterNeighbors) actually stream.
var queryTypeSet = map[Type]bool{
	TypeChildren:    true,
	TypeChildrenIp6: true,
	TypeNeighbors:   true,
}

// IsQueryType reports whether t is resolved via a streaming Mesh-Diag query
// rather than a single Diagnostic Get response.
func IsQueryType(t Type) bool { return queryTypeSet[t] }

//go:embed names.yaml
var namesYAML []byte

type nameTable struct {
	Names map[string]Type `yaml:"names"`
}

var byName map[string]Type
var byType map[Type]string

func init() {
	var nt nameTable
	if err := yaml.Unmarshal(namesYAML, &nt); err != nil {
		panic(fmt.Sprintf("tlv: malformed embedded names.yaml: %v", err))
	}
	byName = nt.Names
	byType = make(map[Type]string, len(byName))
	for name, t := range byName {
		byType[t] = name
	}
}

// TypeByName resolves a TLV name from the embedded name table to its Type.
func TypeByName(name string) (Type, bool) {
	t, ok := byName[name]
	return t, ok
}

// NameByType is the inverse of TypeByName.
func NameByType(t Type) (string, bool) {
	n, ok := byType[t]
	return n, ok
}

// Value is a single decoded TLV: its type and an opaque payload produced by
// the Thread API adapter. The collector never interprets the payload itself
// (that is the Thread stack's job); it only keys on Type for merge/replace
// semantics and hands Value through to collections fill-device/
// fill-diagnostic for interpretation specific to that TLV (e.g. ExtAddress,
// ShortAddress, Ip6AddrList).
type Value struct {
	Type Type
	Raw  []byte
}

// Set is an ordered collection of TLVs holding at most one Value per Type.
type Set struct {
	order  []Type
	values map[Type]Value
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{values: make(map[Type]Value)}
}

// Get returns the Value for t, if present.
func (s *Set) Get(t Type) (Value, bool) {
	v, ok := s.values[t]
	return v, ok
}

// Len reports the number of distinct TLV types held.
func (s *Set) Len() int { return len(s.order) }

// All returns the TLVs in insertion order.
func (s *Set) All() []Value {
	out := make([]Value, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, s.values[t])
	}
	return out
}

// Put inserts v, appending to order if its type is new.
func (s *Set) Put(v Value) {
	if _, exists := s.values[v.Type]; !exists {
		s.order = append(s.order, v.Type)
	}
	s.values[v.Type] = v
}

// MergeReplace applies a per-TLV merge: for every TLV type in incoming, the
// incoming value replaces any existing value of the same type; TLV types
// with no prior entry are appended. Existing TLV types absent from incoming
// are retained untouched.
func (s *Set) MergeReplace(incoming *Set) {
	for _, v := range incoming.All() {
		s.Put(v)
	}
}
