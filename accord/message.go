package accord

// AddressKind discriminates the three shapes a Message's destination can
// take.
type AddressKind uint8

const (
	AddrLocal AddressKind = iota
	AddrPeer
	AddrPeers
)

// Address is the sum type `Local | Peer(NodeId) | Peers` from spec §4.1/§6.
// Local means deliver to this node itself; Peers means broadcast to every
// member of the current topology; Peer(id) means unicast. StateDriver
// delivers Local, Peer(self) and its own copy of a Peers broadcast by
// dispatching in place, not through the inbound queue, and sends wire copies
// of a Peers broadcast to TopologyManager.Peers() (the topology minus self).
type Address struct {
	Kind AddressKind
	To   NodeId
}

func Local() Address          { return Address{Kind: AddrLocal} }
func Peer(id NodeId) Address  { return Address{Kind: AddrPeer, To: id} }
func Peers() Address          { return Address{Kind: AddrPeers} }
func (a Address) String() string {
	switch a.Kind {
	case AddrLocal:
		return "local"
	case AddrPeers:
		return "peers"
	default:
		return "peer:" + a.To.String()
	}
}

// ProtocolMessage is the closed tagged union from spec §6. Dispatch over it
// must be exhaustive (see driver.go).
type ProtocolMessage[K Keyable] interface {
	isProtocolMessage()
}

// PreAccept is sent by a coordinator to witness a new transaction.
type PreAccept[K Keyable] struct {
	ID      TxId
	T0      Ts
	Keys    KeySet[K]
	Kind    Kind
	Command Command
}

func (PreAccept[K]) isProtocolMessage() {}

// PreAcceptOk is a replica's witness response.
type PreAcceptOk struct {
	ID         TxId
	ProposedTx Ts
	Deps       DepSet
}

func (PreAcceptOk) isProtocolMessage() {}

// Accept carries the coordinator's slow-path decision for (tx, deps).
type Accept struct {
	ID   TxId
	Tx   Ts
	Deps DepSet
}

func (Accept) isProtocolMessage() {}

// AcceptOk acknowledges an Accept.
type AcceptOk struct {
	ID TxId
}

func (AcceptOk) isProtocolMessage() {}

// Commit carries the final (tx, deps) for a transaction.
type Commit struct {
	ID   TxId
	Tx   Ts
	Deps DepSet
}

func (Commit) isProtocolMessage() {}

// Read asks a replica to execute the read side of a committed transaction
// once its dependencies are satisfied.
type Read[K Keyable] struct {
	ID   TxId
	Tx   Ts
	Deps DepSet
	Keys KeySet[K]
}

func (Read[K]) isProtocolMessage() {}

// ReadOk carries a replica's read payload back to the coordinator.
type ReadOk struct {
	ID      TxId
	Payload any
}

func (ReadOk) isProtocolMessage() {}

// Apply asks a replica to execute the write effect of a committed
// transaction once its dependencies are Applied.
type Apply struct {
	ID     TxId
	Tx     Ts
	Deps   DepSet
	Writes any
}

func (Apply) isProtocolMessage() {}

// ApplyOk acknowledges an Apply; terminal bookkeeping only, see §9.
type ApplyOk struct {
	ID TxId
}

func (ApplyOk) isProtocolMessage() {}

// BeginRead and BeginWrite are local-only: the entry points a caller uses to
// submit work to this node's coordinator.
type BeginRead[K Keyable] struct {
	Keys    KeySet[K]
	Command Command
}

func (BeginRead[K]) isProtocolMessage() {}

type BeginWrite[K Keyable] struct {
	Keys    KeySet[K]
	Command Command
}

func (BeginWrite[K]) isProtocolMessage() {}

// StartExecuteInternal is local-only, decoupling "coordinator decided to
// commit" from "coordinator initiates the read phase" (spec §9).
type StartExecuteInternal struct {
	ID TxId
}

func (StartExecuteInternal) isProtocolMessage() {}

// Message wraps a ProtocolMessage with its sender and destination.
type Message[K Keyable] struct {
	From NodeId
	To   Address
	Msg  ProtocolMessage[K]
}
