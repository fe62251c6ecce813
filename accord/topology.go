package accord

import "math"

// TopologyManager is the external collaborator providing the peer set and
// quorum sizes (spec §2/§4.2). Wire membership and reconfiguration are out
// of scope for the core; this is a read-only snapshot.
type TopologyManager interface {
	Self() NodeId
	Peers() []NodeId
	// N is the total replica count, self included.
	N() int
	// FastQuorum is F, the supermajority needed for the fast path.
	FastQuorum() int
	// SlowQuorum is S, the simple majority needed for the slow path.
	SlowQuorum() int
}

// StaticTopology is a fixed membership snapshot: {self, peers, quorum
// sizes}, computed with the formulas from spec §4.2 unless overridden.
// F = ceil(3N/4), S = floor(N/2)+1. These give F > S for N = 3 and for
// N >= 5 (N = 3: F=3, S=2); for N = 1, 2 and 4 they give F == S.
type StaticTopology struct {
	self       NodeId
	peers      []NodeId
	fastQuorum int
	slowQuorum int
}

// NewStaticTopology builds a topology from self and peers, deriving F and S
// from the formulas in spec §4.2.
func NewStaticTopology(self NodeId, peers []NodeId) *StaticTopology {
	n := len(peers) + 1
	return &StaticTopology{
		self:       self,
		peers:      append([]NodeId(nil), peers...),
		fastQuorum: int(math.Ceil(3 * float64(n) / 4)),
		slowQuorum: n/2 + 1,
	}
}

// WithQuorums overrides the derived F/S, e.g. from configs.FastQuorumOverride.
func (t *StaticTopology) WithQuorums(fast, slow int) *StaticTopology {
	if fast > 0 {
		t.fastQuorum = fast
	}
	if slow > 0 {
		t.slowQuorum = slow
	}
	return t
}

func (t *StaticTopology) Self() NodeId    { return t.self }
func (t *StaticTopology) Peers() []NodeId { return t.peers }
func (t *StaticTopology) N() int          { return len(t.peers) + 1 }
func (t *StaticTopology) FastQuorum() int { return t.fastQuorum }
func (t *StaticTopology) SlowQuorum() int { return t.slowQuorum }
