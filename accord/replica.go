package accord

import (
	"context"
	"sort"

	"accord/configs"
)

// witness is what a replica remembers about one key's touch by a
// transaction: just enough to recompute dependency sets for later arrivals.
type witness struct {
	id TxId
	tx Ts
}

// replicaTx is everything a replica keeps about one transaction, whichever
// node originated it.
type replicaTx[K Keyable] struct {
	id      TxId
	t0      Ts
	keys    KeySet[K]
	kind    Kind
	command Command

	tx     Ts
	deps   DepSet
	status Status

	// cachedPreAcceptOk freezes the very first PreAcceptOk computed for this
	// id so re-delivery of the same PreAccept is idempotent (P4) even though
	// the replica's dependency graph keeps changing underneath it.
	cachedPreAcceptOk *PreAcceptOk

	// pendingRead/pendingApply hold a deferred execution request: the
	// dependency wait isn't satisfied yet, so the driver gets no action back
	// until some later Commit/Apply unblocks it.
	pendingRead  *pendingExec[K]
	pendingApply *pendingExec[K]
}

type pendingExec[K Keyable] struct {
	from   NodeId
	read   *Read[K]
	apply  *Apply
}

// ExecutionActionKind distinguishes the two outcomes a replica's execution
// can produce.
type ExecutionActionKind uint8

const (
	ExecReadOk ExecutionActionKind = iota
	ExecApplyOk
)

// ExecutionAction is the result of a (possibly deferred) Read or Apply,
// addressed back to whichever node originally asked for it — which may not
// be the sender of the message that just unblocked it.
type ExecutionAction struct {
	To      NodeId
	Kind    ExecutionActionKind
	ReadOk  *ReadOk
	ApplyOk *ApplyOk
}

// ReplicaState witnesses proposals, maintains per-key dependency order, and
// drives execution as dependencies resolve (spec §4.3). It is owned
// exclusively by one StateDriver.
type ReplicaState[K Keyable] struct {
	self  NodeId
	log   Log
	clock uint64

	records map[TxId]*replicaTx[K]
	byKey   map[K][]witness

	// waitingOnCommit/waitingOnApply index transactions that are blocked on
	// some dependency reaching the given status, keyed by the awaited TxId.
	// An Apply walks waitingOnApply for the transaction it just applied; a
	// Commit only clears its waitingOnCommit entry, and deferred reads are
	// re-evaluated by DrainReads scanning every record.
	waitingOnCommit map[TxId][]TxId
	waitingOnApply  map[TxId][]TxId
}

func NewReplicaState[K Keyable](log Log, self NodeId) *ReplicaState[K] {
	return &ReplicaState[K]{
		self:            self,
		log:             log,
		records:         make(map[TxId]*replicaTx[K]),
		byKey:           make(map[K][]witness),
		waitingOnCommit: make(map[TxId][]TxId),
		waitingOnApply:  make(map[TxId][]TxId),
	}
}

func (r *ReplicaState[K]) GetNodeId() NodeId { return r.self }

func (r *ReplicaState[K]) appendLog(id TxId, phase Status) {
	if r.log == nil {
		return
	}
	if err := r.log.Append(LogRecord{ID: id, Phase: phase}); err != nil {
		configs.Warnf("replica: log append failed for %s: %v", id, err)
	}
}

// Status returns the current status of id, if the replica has witnessed it.
func (r *ReplicaState[K]) Status(id TxId) (Status, bool) {
	rec, ok := r.records[id]
	if !ok {
		return 0, false
	}
	return rec.status, true
}

// ReceivePreAccept witnesses a new transaction, proposing an executeAt no
// earlier than t0 and no earlier than the replica's own local clock (spec
// §4.3). Re-delivery of the same id returns the original response
// unchanged (P4).
func (r *ReplicaState[K]) ReceivePreAccept(m PreAccept[K]) PreAcceptOk {
	if rec, ok := r.records[m.ID]; ok {
		return *rec.cachedPreAcceptOk
	}

	// A t0 ahead of this replica's clock is proposed unchanged, so replicas
	// that have witnessed nothing newer agree on t0; otherwise the replica
	// proposes the next tick of its own clock.
	proposedTx := m.T0
	if m.T0.Logical <= r.clock {
		proposedTx = Timestamp{Logical: r.clock + 1, Origin: r.self}
	}
	r.clock = proposedTx.Logical

	deps := NewDepSet()
	for _, k := range m.Keys.Slice() {
		for _, w := range r.byKey[k] {
			if w.id == m.ID {
				continue
			}
			if w.tx.Less(proposedTx) {
				deps.Add(w.id)
			}
		}
	}

	rec := &replicaTx[K]{
		id:      m.ID,
		t0:      m.T0,
		keys:    m.Keys,
		kind:    m.Kind,
		command: m.Command,
		tx:      proposedTx,
		deps:    deps,
		status:  StatusPreAccepted,
	}
	ok := PreAcceptOk{ID: m.ID, ProposedTx: proposedTx, Deps: deps}
	rec.cachedPreAcceptOk = &ok
	r.records[m.ID] = rec

	for _, k := range m.Keys.Slice() {
		r.byKey[k] = append(r.byKey[k], witness{id: m.ID, tx: proposedTx})
	}

	r.appendLog(m.ID, StatusPreAccepted)
	configs.Debugf("replica: preaccept %s at tx=%s deps=%d", m.ID, proposedTx, deps.Len())
	return ok
}

// ReceiveAccept installs the coordinator's slow-path (tx, deps) decision. A
// late Accept for an already-committed id is a no-op ack (spec §4.3).
func (r *ReplicaState[K]) ReceiveAccept(m Accept) AcceptOk {
	rec, ok := r.records[m.ID]
	if !ok {
		configs.Warnf("replica: accept for unknown tx %s", m.ID)
		return AcceptOk{ID: m.ID}
	}
	if rec.status >= StatusCommitted {
		return AcceptOk{ID: m.ID}
	}
	rec.tx = m.Tx
	rec.deps = m.Deps
	rec.status = StatusAccepted
	r.appendLog(m.ID, StatusAccepted)
	configs.Debugf("replica: accept %s at tx=%s", m.ID, m.Tx)
	return AcceptOk{ID: m.ID}
}

// ReceiveCommit installs the final (tx, deps) and tries to unblock any
// transaction deferred on this one reaching Committed (spec §4.3). Commit
// may arrive directly from PreAccepted (fast path). Re-delivery for an
// already-committed id is a no-op.
func (r *ReplicaState[K]) ReceiveCommit(m Commit) []ExecutionAction {
	rec, ok := r.records[m.ID]
	if !ok {
		configs.Warnf("replica: commit for unknown tx %s", m.ID)
		return nil
	}
	if rec.status >= StatusCommitted {
		configs.Assert(rec.tx == m.Tx && rec.deps.Equal(m.Deps), "commit disagreement for "+m.ID.String())
		return nil
	}
	rec.tx = m.Tx
	rec.deps = m.Deps
	rec.status = StatusCommitted
	r.appendLog(m.ID, StatusCommitted)
	configs.Debugf("replica: commit %s at tx=%s", m.ID, m.Tx)

	// Any read deferred on this id reaching Committed is a candidate to
	// retry; actually running it needs an Executor, which the driver
	// supplies via DrainReads right after this call returns.
	delete(r.waitingOnCommit, rec.id)
	return nil
}

// ReceiveRead executes the read side of a committed transaction once every
// U in deps is locally Committed; otherwise it defers and
// returns no action until a later Commit unblocks it (spec §4.3, §5).
func (r *ReplicaState[K]) ReceiveRead(ctx context.Context, exec Executor[K], from NodeId, m Read[K]) ([]ExecutionAction, error) {
	rec, ok := r.records[m.ID]
	if !ok {
		rec = &replicaTx[K]{id: m.ID, tx: m.Tx, deps: m.Deps, keys: m.Keys, status: StatusCommitted}
		r.records[m.ID] = rec
	}
	if rec.pendingRead != nil {
		// Already deferred; keep the existing waiter (idempotent re-delivery).
		return nil, nil
	}

	blockers := r.unsatisfied(m.Deps, StatusCommitted)
	if len(blockers) > 0 {
		rec.pendingRead = &pendingExec[K]{from: from, read: &m}
		for _, b := range blockers {
			r.waitingOnCommit[b] = append(r.waitingOnCommit[b], m.ID)
		}
		configs.Debugf("replica: read %s deferred on %d deps", m.ID, len(blockers))
		return nil, nil
	}

	payload, err := exec.Read(ctx, m.ID, m.Keys)
	if err != nil {
		return nil, executorError("read failed for "+m.ID.String(), err)
	}
	return []ExecutionAction{{To: from, Kind: ExecReadOk, ReadOk: &ReadOk{ID: m.ID, Payload: payload}}}, nil
}

// ReceiveApply executes the write effect of a committed transaction once
// every U in deps is locally Applied, then advances this transaction to
// Applied and retries anything deferred on it (spec §4.3).
func (r *ReplicaState[K]) ReceiveApply(ctx context.Context, exec Executor[K], from NodeId, m Apply) ([]ExecutionAction, error) {
	rec, ok := r.records[m.ID]
	if !ok {
		rec = &replicaTx[K]{id: m.ID, tx: m.Tx, deps: m.Deps, status: StatusCommitted}
		r.records[m.ID] = rec
	}
	if rec.status == StatusApplied {
		return []ExecutionAction{{To: from, Kind: ExecApplyOk, ApplyOk: &ApplyOk{ID: m.ID}}}, nil
	}
	if rec.pendingApply != nil {
		return nil, nil
	}

	blockers := r.unsatisfied(m.Deps, StatusApplied)
	if len(blockers) > 0 {
		rec.pendingApply = &pendingExec[K]{from: from, apply: &m}
		for _, b := range blockers {
			r.waitingOnApply[b] = append(r.waitingOnApply[b], m.ID)
		}
		configs.Debugf("replica: apply %s deferred on %d deps", m.ID, len(blockers))
		return nil, nil
	}

	ack, err := exec.Apply(ctx, m.ID, m.Writes)
	_ = ack
	if err != nil {
		return nil, executorError("apply failed for "+m.ID.String(), err)
	}
	rec.status = StatusApplied
	r.appendLog(m.ID, StatusApplied)
	configs.Debugf("replica: apply %s done", m.ID)

	actions := []ExecutionAction{{To: from, Kind: ExecApplyOk, ApplyOk: &ApplyOk{ID: m.ID}}}
	for _, waiter := range r.waitingOnApply[rec.id] {
		r.tryCompleteApplyWaiter(ctx, exec, waiter, &actions)
	}
	delete(r.waitingOnApply, rec.id)
	return actions, nil
}

// unsatisfied returns the subset of ids that have not yet reached at least
// want locally, ordered by (tx, TxId) as spec §4.3 prescribes for siblings.
func (r *ReplicaState[K]) unsatisfied(ids DepSet, want Status) []TxId {
	all := ids.Slice()
	sort.Slice(all, func(i, j int) bool {
		ri, oki := r.records[all[i]]
		rj, okj := r.records[all[j]]
		var ti, tj Ts
		if oki {
			ti = ri.tx
		}
		if okj {
			tj = rj.tx
		}
		if ti != tj {
			return ti.Less(tj)
		}
		return all[i].Less(all[j])
	})
	var blockers []TxId
	for _, id := range all {
		rec, ok := r.records[id]
		if !ok || rec.status < want {
			blockers = append(blockers, id)
		}
	}
	return blockers
}

func (r *ReplicaState[K]) tryCompleteApplyWaiter(ctx context.Context, exec Executor[K], id TxId, actions *[]ExecutionAction) {
	rec, ok := r.records[id]
	if !ok || rec.pendingApply == nil {
		return
	}
	blockers := r.unsatisfied(rec.deps, StatusApplied)
	if len(blockers) > 0 {
		return
	}
	pending := rec.pendingApply
	rec.pendingApply = nil
	ack, err := exec.Apply(ctx, id, pending.apply.Writes)
	_ = ack
	if err != nil {
		configs.Warnf("replica: deferred apply %s failed: %v", id, err)
		rec.pendingApply = pending
		return
	}
	rec.status = StatusApplied
	r.appendLog(id, StatusApplied)
	*actions = append(*actions, ExecutionAction{To: pending.from, Kind: ExecApplyOk, ApplyOk: &ApplyOk{ID: id}})
	for _, waiter := range r.waitingOnApply[id] {
		r.tryCompleteApplyWaiter(ctx, exec, waiter, actions)
	}
	delete(r.waitingOnApply, id)
}

// DrainReads completes any deferred reads now unblocked, using exec. The
// driver calls this after ReceiveCommit so the Executor (owned by the
// driver, not the replica) can be supplied at the point of use.
func (r *ReplicaState[K]) DrainReads(ctx context.Context, exec Executor[K]) ([]ExecutionAction, error) {
	var actions []ExecutionAction
	for id, rec := range r.records {
		if rec.pendingRead == nil {
			continue
		}
		blockers := r.unsatisfied(rec.deps, StatusCommitted)
		if len(blockers) > 0 {
			continue
		}
		pending := rec.pendingRead
		rec.pendingRead = nil
		payload, err := exec.Read(ctx, id, pending.read.Keys)
		if err != nil {
			rec.pendingRead = pending
			return actions, executorError("deferred read failed for "+id.String(), err)
		}
		actions = append(actions, ExecutionAction{To: pending.from, Kind: ExecReadOk, ReadOk: &ReadOk{ID: id, Payload: payload}})
	}
	return actions, nil
}
