package accord

import (
	mapset "github.com/deckarep/golang-set"
	json "github.com/goccy/go-json"
)

// KeySet is a transaction's read/write key set. It wraps
// github.com/deckarep/golang-set the way the teacher's TPC-C benchmark
// client wraps it for needStock/payed/allOrderIDs bookkeeping
// (benchmark/tpc.go) — boxing/unboxing a concrete comparable key type
// through the set's interface{} element type.
type KeySet[K Keyable] struct {
	s mapset.Set
}

// NewKeySet builds a KeySet from zero or more keys.
func NewKeySet[K Keyable](keys ...K) KeySet[K] {
	s := mapset.NewSet()
	for _, k := range keys {
		s.Add(k)
	}
	return KeySet[K]{s: s}
}

func (k KeySet[K]) Add(key K) { k.s.Add(key) }

func (k KeySet[K]) Contains(key K) bool { return k.s.Contains(key) }

func (k KeySet[K]) Len() int { return k.s.Cardinality() }

// Slice returns the keys in unspecified order.
func (k KeySet[K]) Slice() []K {
	raw := k.s.ToSlice()
	out := make([]K, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(K))
	}
	return out
}

func (k KeySet[K]) Union(o KeySet[K]) KeySet[K] {
	return KeySet[K]{s: k.s.Union(o.s)}
}

func (k KeySet[K]) Intersects(o KeySet[K]) bool {
	return k.s.Intersect(o.s).Cardinality() > 0
}

// MarshalJSON/UnmarshalJSON round-trip a KeySet as a plain JSON array, since
// mapset.Set has no element-type information of its own — the wire encoding
// (spec §6) needs the concrete K to decode back into.
func (k KeySet[K]) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Slice())
}

func (k *KeySet[K]) UnmarshalJSON(data []byte) error {
	var keys []K
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*k = NewKeySet(keys...)
	return nil
}

// DepSet is a set of TxId dependencies. Built on the same golang-set library
// as KeySet for the union/membership operations the spec describes in its
// dependency-set semantics (§3: "deps = union(deps over responses)").
type DepSet struct {
	s mapset.Set
}

func NewDepSet(ids ...TxId) DepSet {
	s := mapset.NewSet()
	for _, id := range ids {
		s.Add(id)
	}
	return DepSet{s: s}
}

func (d DepSet) Add(id TxId) { d.s.Add(id) }

func (d DepSet) Contains(id TxId) bool { return d.s.Contains(id) }

func (d DepSet) Len() int { return d.s.Cardinality() }

func (d DepSet) Slice() []TxId {
	raw := d.s.ToSlice()
	out := make([]TxId, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(TxId))
	}
	return out
}

func (d DepSet) Union(o DepSet) DepSet {
	return DepSet{s: d.s.Union(o.s)}
}

// Equal reports whether the two dependency sets contain exactly the same
// TxIds, used by ReplicaState.ReceiveCommit to check that a re-delivered
// Commit agrees with the one already installed. The coordinator's fast-path
// tie-break compares votes through voteKey in coordinator.go instead.
func (d DepSet) Equal(o DepSet) bool {
	return d.s.Equal(o.s)
}

func (d DepSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Slice())
}

func (d *DepSet) UnmarshalJSON(data []byte) error {
	var ids []TxId
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*d = NewDepSet(ids...)
	return nil
}
