package accord

import (
	"sort"
	"strings"

	"accord/configs"
)

// Phase is the coordinator-side progress of one originated transaction
// (spec §3: "Coordinator-side per-transaction tally").
type Phase uint8

const (
	PhaseAwaitingPreAccept Phase = iota
	PhaseAwaitingAccept
	PhaseAwaitingRead
	PhaseCompleted
)

type preAcceptVote struct {
	tx   Ts
	deps DepSet
}

// coordTx is the tally a coordinator keeps for a transaction it originated:
// quorum bookkeeping plus the fields needed to recompute Accept/Commit/Read/
// Apply payloads.
type coordTx[K Keyable] struct {
	id      TxId
	t0      Ts
	keys    KeySet[K]
	kind    Kind
	command Command

	phase Phase

	preAcceptResp map[NodeId]preAcceptVote
	acceptResp    map[NodeId]struct{}
	readResp      map[NodeId]any

	tx   Ts
	deps DepSet
}

// CoordinatorState drives each locally-originated transaction from birth to
// commit (and on to apply), deciding fast vs. slow path from quorum
// responses (spec §4.2). It is owned exclusively by one StateDriver and
// performs no internal locking.
type CoordinatorState[K Keyable] struct {
	tm    TopologyManager
	self  NodeId
	clock uint64

	txns map[TxId]*coordTx[K]
}

func NewCoordinatorState[K Keyable](tm TopologyManager) *CoordinatorState[K] {
	return &CoordinatorState[K]{
		tm:   tm,
		self: tm.Self(),
		txns: make(map[TxId]*coordTx[K]),
	}
}

func (c *CoordinatorState[K]) nextTxId() TxId {
	c.clock++
	return TxId{Logical: c.clock, Origin: c.self}
}

// NewReadTx allocates a fresh TxId for a read-only transaction and returns
// the PreAccept payload to broadcast.
func (c *CoordinatorState[K]) NewReadTx(keys KeySet[K], command Command) PreAccept[K] {
	return c.newTx(keys, command, KindRead)
}

// NewWriteTx allocates a fresh TxId for a read/write transaction and returns
// the PreAccept payload to broadcast.
func (c *CoordinatorState[K]) NewWriteTx(keys KeySet[K], command Command) PreAccept[K] {
	return c.newTx(keys, command, KindWrite)
}

func (c *CoordinatorState[K]) newTx(keys KeySet[K], command Command, kind Kind) PreAccept[K] {
	id := c.nextTxId()
	c.txns[id] = &coordTx[K]{
		id:            id,
		t0:            id,
		keys:          keys,
		kind:          kind,
		command:       command,
		phase:         PhaseAwaitingPreAccept,
		preAcceptResp: make(map[NodeId]preAcceptVote),
	}
	configs.Debugf("coordinator: new %s tx %s", kind, id)
	return PreAccept[K]{ID: id, T0: id, Keys: keys, Kind: kind, Command: command}
}

// AcceptOrCommit is the coordinator's decision after a PreAccept or Accept
// round: either it needs the slower Accept round, or it can Commit.
type AcceptOrCommit struct {
	Accept *Accept
	Commit *Commit
}

func voteKey(tx Ts, deps DepSet) string {
	ids := deps.Slice()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	var b strings.Builder
	b.WriteString(tx.String())
	for _, id := range ids {
		b.WriteByte('|')
		b.WriteString(id.String())
	}
	return b.String()
}

// StoreProposal records a replica's PreAcceptOk and, once enough votes are
// in, decides fast-path Commit or falls through to Accept (spec §4.2).
// Re-delivery of a PreAcceptOk for a transaction that has already left
// PhaseAwaitingPreAccept is ignored, preserving idempotence (P4).
func (c *CoordinatorState[K]) StoreProposal(from NodeId, m PreAcceptOk) (AcceptOrCommit, bool) {
	st, ok := c.txns[m.ID]
	if !ok || st.phase != PhaseAwaitingPreAccept {
		return AcceptOrCommit{}, false
	}
	st.preAcceptResp[from] = preAcceptVote{tx: m.ProposedTx, deps: m.Deps}

	counts := map[string]int{}
	best := map[string]preAcceptVote{}
	for _, v := range st.preAcceptResp {
		key := voteKey(v.tx, v.deps)
		counts[key]++
		best[key] = v
	}

	F := c.tm.FastQuorum()
	S := c.tm.SlowQuorum()

	maxAgree := 0
	for key, n := range counts {
		if n > maxAgree {
			maxAgree = n
		}
		if n >= F {
			v := best[key]
			st.tx = v.tx
			st.deps = v.deps
			st.phase = PhaseCompleted
			configs.Debugf("coordinator: tx %s fast-path commit at tx=%s", st.id, v.tx)
			return AcceptOrCommit{Commit: &Commit{ID: st.id, Tx: st.tx, Deps: st.deps}}, true
		}
	}

	// Fall through to the slow path only once S votes are in and no single
	// (tx, deps) vote can still reach F with the replicas yet to answer.
	outstanding := c.tm.N() - len(st.preAcceptResp)
	if len(st.preAcceptResp) >= S && maxAgree+outstanding < F {
		tx := st.t0
		deps := NewDepSet()
		for _, v := range st.preAcceptResp {
			tx = MaxTs(tx, v.tx)
			deps = deps.Union(v.deps)
		}
		st.tx = tx
		st.deps = deps
		st.phase = PhaseAwaitingAccept
		st.acceptResp = make(map[NodeId]struct{})
		configs.Debugf("coordinator: tx %s diverged, slow path tx=%s", st.id, tx)
		return AcceptOrCommit{Accept: &Accept{ID: st.id, Tx: tx, Deps: deps}}, true
	}

	return AcceptOrCommit{}, false
}

// StoreAcceptOk records a replica's AcceptOk and, once a slow-path quorum
// acknowledges, returns the Commit to broadcast.
func (c *CoordinatorState[K]) StoreAcceptOk(from NodeId, m AcceptOk) (*Commit, bool) {
	st, ok := c.txns[m.ID]
	if !ok || st.phase != PhaseAwaitingAccept {
		return nil, false
	}
	st.acceptResp[from] = struct{}{}
	if len(st.acceptResp) < c.tm.SlowQuorum() {
		return nil, false
	}
	st.phase = PhaseCompleted
	configs.Debugf("coordinator: tx %s slow-path commit at tx=%s", st.id, st.tx)
	return &Commit{ID: st.id, Tx: st.tx, Deps: st.deps}, true
}

// StartExecute builds the Read request to broadcast once a transaction has
// committed and is ready to drive its read phase.
func (c *CoordinatorState[K]) StartExecute(m StartExecuteInternal) (Read[K], bool) {
	st, ok := c.txns[m.ID]
	if !ok {
		return Read[K]{}, false
	}
	st.phase = PhaseAwaitingRead
	st.readResp = make(map[NodeId]any)
	return Read[K]{ID: st.id, Tx: st.tx, Deps: st.deps, Keys: st.keys}, true
}

// StoreReadOk records a replica's read payload and, once a read quorum is
// assembled, computes the command's write effect and returns the Apply to
// broadcast.
func (c *CoordinatorState[K]) StoreReadOk(from NodeId, m ReadOk) (*Apply, bool) {
	st, ok := c.txns[m.ID]
	if !ok || st.phase != PhaseAwaitingRead {
		return nil, false
	}
	st.readResp[from] = m.Payload
	if len(st.readResp) < c.tm.SlowQuorum() {
		return nil, false
	}
	st.phase = PhaseCompleted
	var writes any
	if st.kind == KindWrite && st.command != nil {
		writes = st.command.Writes(st.readResp)
	}
	return &Apply{ID: st.id, Tx: st.tx, Deps: st.deps, Writes: writes}, true
}

// Finalize handles ApplyOk: terminal bookkeeping only, no further emission
// (spec §9 — this is the one Open Question the original source left as a
// TODO).
func (c *CoordinatorState[K]) Finalize(from NodeId, m ApplyOk) {
	configs.Tracef("coordinator: tx %s apply-ok from %s", m.ID, from)
}

// Forget drops a completed transaction's tally. Not called by the driver
// today (the core keeps history for the lifetime of the process), but
// available for long-running nodes that want to bound memory.
func (c *CoordinatorState[K]) Forget(id TxId) {
	delete(c.txns, id)
}
