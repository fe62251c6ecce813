package accord

import (
	"context"

	"accord/configs"
)

// StateDriver is the single owner of both roles a node plays: it pulls
// messages off its inbound queue and dispatches them exhaustively against
// CoordinatorState and ReplicaState (spec §4.1's dispatch table), then pushes
// whatever the dispatch produced onto the outbound queue, or dispatches it
// again in place for local delivery. It runs on one goroutine and takes
// no locks of its own; all mutation happens through the two state objects it
// owns exclusively.
type StateDriver[K Keyable] struct {
	self NodeId
	tm   TopologyManager

	coordinator *CoordinatorState[K]
	replica     *ReplicaState[K]
	executor    Executor[K]

	inbound  *UnboundedChan[Message[K]]
	outbound *UnboundedChan[Message[K]]

	// ctx is valid only for the duration of Run, so that dispatch chains
	// that loop back through sendOutbound -> deliverLocal -> dispatch reach
	// the Executor with the caller's context instead of a detached one.
	ctx context.Context
}

// NewStateDriver wires a coordinator and replica to a topology, a durable
// log, and an executor. inbound is this node's own message queue; outbound
// is drained by a transport (spec §4.1 "Ambient Transport") that turns
// Message[K] into bytes addressed to Peer(id).
func NewStateDriver[K Keyable](tm TopologyManager, log Log, executor Executor[K], inbound, outbound *UnboundedChan[Message[K]]) *StateDriver[K] {
	return &StateDriver[K]{
		self:        tm.Self(),
		tm:          tm,
		coordinator: NewCoordinatorState[K](tm),
		replica:     NewReplicaState[K](log, tm.Self()),
		executor:    executor,
		inbound:     inbound,
		outbound:    outbound,
	}
}

// Submit enqueues a local-only message (BeginRead/BeginWrite) as if it had
// arrived on this node's inbound queue. Safe to call from any goroutine.
func (d *StateDriver[K]) Submit(msg ProtocolMessage[K]) {
	d.inbound.Send(Message[K]{From: d.self, To: Local(), Msg: msg})
}

// Run drains the inbound queue until it is closed or a fatal error occurs
// (spec §7: only ErrOutboundSend is fatal). Non-fatal errors are logged and
// the loop continues, matching "protocol error: log, drop the message".
func (d *StateDriver[K]) Run(ctx context.Context) error {
	d.ctx = ctx
	defer func() { d.ctx = nil }()
	for {
		msg, ok := d.inbound.Recv()
		if !ok {
			return nil
		}
		if err := d.dispatch(msg.From, msg.Msg); err != nil {
			if IsFatal(err) {
				return err
			}
			configs.Warnf("driver: %v", err)
		}
	}
}

// dispatch is the exhaustive table from spec §4.1. from is always the
// sender of msg, regardless of which address it arrived through — replies
// are routed back to Peer(from).
func (d *StateDriver[K]) dispatch(from NodeId, msg ProtocolMessage[K]) error {
	switch m := msg.(type) {

	case BeginRead[K]:
		pa := d.coordinator.NewReadTx(m.Keys, m.Command)
		return d.sendOutbound(Peers(), pa)

	case BeginWrite[K]:
		pa := d.coordinator.NewWriteTx(m.Keys, m.Command)
		return d.sendOutbound(Peers(), pa)

	case StartExecuteInternal:
		read, ok := d.coordinator.StartExecute(m)
		if !ok {
			return nil
		}
		return d.sendOutbound(Peers(), read)

	case PreAccept[K]:
		ok := d.replica.ReceivePreAccept(m)
		return d.sendOutbound(Peer(from), ok)

	case PreAcceptOk:
		decision, ok := d.coordinator.StoreProposal(from, m)
		if !ok {
			return nil
		}
		if decision.Accept != nil {
			return d.sendOutbound(Peers(), *decision.Accept)
		}
		return d.onCommitDecided(decision.Commit)

	case Accept:
		ok := d.replica.ReceiveAccept(m)
		return d.sendOutbound(Peer(from), ok)

	case AcceptOk:
		commit, ok := d.coordinator.StoreAcceptOk(from, m)
		if !ok {
			return nil
		}
		return d.onCommitDecided(commit)

	case Commit:
		d.replica.ReceiveCommit(m)
		return d.drainDeferredReads()

	case Read[K]:
		actions, err := d.replica.ReceiveRead(d.ctx, d.executor, from, m)
		if err != nil {
			return err
		}
		return d.sendActions(actions)

	case ReadOk:
		apply, ok := d.coordinator.StoreReadOk(from, m)
		if !ok {
			return nil
		}
		return d.sendOutbound(Peers(), *apply)

	case Apply:
		actions, err := d.replica.ReceiveApply(d.ctx, d.executor, from, m)
		if err != nil {
			return err
		}
		return d.sendActions(actions)

	case ApplyOk:
		d.coordinator.Finalize(from, m)
		return nil

	default:
		return protocolErrorf("unhandled protocol message %T", msg)
	}
}

// onCommitDecided broadcasts a freshly-decided Commit (fast or slow path)
// and kicks off the read phase locally, mirroring what a remote coordinator
// would receive as two separate messages.
func (d *StateDriver[K]) onCommitDecided(commit *Commit) error {
	if err := d.sendOutbound(Peers(), *commit); err != nil {
		return err
	}
	return d.sendOutbound(Local(), StartExecuteInternal{ID: commit.ID})
}

// drainDeferredReads retries every read this replica deferred on some
// dependency reaching Committed, now that a Commit was just processed.
func (d *StateDriver[K]) drainDeferredReads() error {
	actions, err := d.replica.DrainReads(d.ctx, d.executor)
	if err != nil {
		configs.Warnf("driver: %v", err)
	}
	return d.sendActions(actions)
}

func (d *StateDriver[K]) sendActions(actions []ExecutionAction) error {
	for _, a := range actions {
		switch a.Kind {
		case ExecReadOk:
			if err := d.sendOutbound(Peer(a.To), *a.ReadOk); err != nil {
				return err
			}
		case ExecApplyOk:
			if err := d.sendOutbound(Peer(a.To), *a.ApplyOk); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendOutbound resolves an Address into concrete deliveries. Local and any
// Peer(self) address loop back into this node's own dispatch rather than
// going to the transport, since a node is always a replica of its own
// coordinated transactions: broadcasting to Peers therefore both delivers
// locally (so this node's own vote counts toward quorum and its own store
// executes the work) and sends wire messages to every other member, which
// keeps Peers' literal meaning — topology minus self — intact at the
// transport boundary.
func (d *StateDriver[K]) sendOutbound(to Address, msg ProtocolMessage[K]) error {
	switch to.Kind {
	case AddrLocal:
		return d.dispatch(d.self, msg)
	case AddrPeer:
		if to.To == d.self {
			return d.dispatch(d.self, msg)
		}
		return d.transportSend(to.To, msg)
	case AddrPeers:
		if err := d.dispatch(d.self, msg); err != nil {
			return err
		}
		for _, p := range d.tm.Peers() {
			if err := d.transportSend(p, msg); err != nil {
				return err
			}
		}
		return nil
	default:
		return protocolErrorf("unknown address kind %d", to.Kind)
	}
}

func (d *StateDriver[K]) transportSend(to NodeId, msg ProtocolMessage[K]) error {
	wrapped := Message[K]{From: d.self, To: Peer(to), Msg: msg}
	if !d.outbound.Send(wrapped) {
		return outboundSendError("outbound queue closed, peer "+to.String(), nil)
	}
	return nil
}
