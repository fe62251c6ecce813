// Package transport carries accord.Message values between nodes. The core
// package never imports this one — it only ever touches
// *accord.UnboundedChan[accord.Message[K]] — so a transport is free to be
// swapped (TCP for real clusters, in-process for tests) without touching the
// protocol.
package transport

import (
	"fmt"

	json "github.com/goccy/go-json"

	"accord"
	"accord/store"
)

// wireKind tags which ProtocolMessage field of envelope is populated. accord
// closes ProtocolMessage over a fixed Go interface, not a serializable
// union, so the wire format needs its own discriminator — the same role
// request.Mark plays in the teacher's network/msg.go Response4Coordinator.
type wireKind string

const (
	kindPreAccept        wireKind = "pre_accept"
	kindPreAcceptOk      wireKind = "pre_accept_ok"
	kindAccept           wireKind = "accept"
	kindAcceptOk         wireKind = "accept_ok"
	kindCommit           wireKind = "commit"
	kindRead             wireKind = "read"
	kindReadOk           wireKind = "read_ok"
	kindApply            wireKind = "apply"
	kindApplyOk          wireKind = "apply_ok"
	kindBeginRead        wireKind = "begin_read"
	kindBeginWrite       wireKind = "begin_write"
	kindStartExecute     wireKind = "start_execute"
)

// payloadKind tags the concrete type boxed inside an accord.Command or an
// any-typed field (ReadOk.Payload, Apply.Writes). accord.Command has a
// method set (Writes), and Go's encoding/json - goccy/go-json mirrors this -
// only does generic object decoding for interfaces with zero methods
// (encoding/json.object checks v.NumMethod() == 0), so unmarshaling straight
// into a Command or an any field either fails outright or silently produces
// a map[string]interface{} instead of the real type. A kind-tagged box
// plays the same role here that KeySet/DepSet's own MarshalJSON plays for
// mapset.Set: the wire carries the type name alongside the data so Decode
// knows which concrete type to reconstruct.
type payloadKind string

const (
	payloadNone        payloadKind = ""
	payloadKVCommand   payloadKind = "kv_command"
	payloadWriteSet    payloadKind = "write_set"
	payloadReadPayload payloadKind = "read_payload"
	payloadReadPayloads payloadKind = "read_payloads"
)

type payloadBox struct {
	Kind payloadKind     `json:",omitempty"`
	Data json.RawMessage `json:",omitempty"`
}

// boxCommand and unboxCommand are the registry for accord.Command
// implementations that can cross the wire. store.KVCommand is the only one
// this repo ships; adding another concrete Command means adding a case here.
func boxCommand(cmd accord.Command) (payloadBox, error) {
	switch c := cmd.(type) {
	case nil:
		return payloadBox{}, nil
	case store.KVCommand:
		data, err := json.Marshal(c)
		if err != nil {
			return payloadBox{}, err
		}
		return payloadBox{Kind: payloadKVCommand, Data: data}, nil
	default:
		return payloadBox{}, fmt.Errorf("transport: unregistered Command type %T", cmd)
	}
}

func unboxCommand(b payloadBox) (accord.Command, error) {
	switch b.Kind {
	case payloadNone:
		return nil, nil
	case payloadKVCommand:
		var c store.KVCommand
		if err := json.Unmarshal(b.Data, &c); err != nil {
			return nil, fmt.Errorf("transport: decode kv_command: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("transport: unknown Command kind %q", b.Kind)
	}
}

// boxAny and unboxAny play the same role for the any-typed ReadOk.Payload /
// Apply.Writes fields, whose concrete shape is whatever the node's Executor
// produces. store.WriteSet, store.ReadPayload and the []store.ReadPayload
// that the store package's Executors return from Read are the ones this repo
// ships; a different Executor backend would register its own payload kind
// here the same way.
func boxAny(v any) (payloadBox, error) {
	switch val := v.(type) {
	case nil:
		return payloadBox{}, nil
	case store.WriteSet:
		data, err := json.Marshal(val)
		if err != nil {
			return payloadBox{}, err
		}
		return payloadBox{Kind: payloadWriteSet, Data: data}, nil
	case store.ReadPayload:
		data, err := json.Marshal(val)
		if err != nil {
			return payloadBox{}, err
		}
		return payloadBox{Kind: payloadReadPayload, Data: data}, nil
	case []store.ReadPayload:
		data, err := json.Marshal(val)
		if err != nil {
			return payloadBox{}, err
		}
		return payloadBox{Kind: payloadReadPayloads, Data: data}, nil
	default:
		return payloadBox{}, fmt.Errorf("transport: unregistered payload type %T", v)
	}
}

func unboxAny(b payloadBox) (any, error) {
	switch b.Kind {
	case payloadNone:
		return nil, nil
	case payloadWriteSet:
		var w store.WriteSet
		if err := json.Unmarshal(b.Data, &w); err != nil {
			return nil, fmt.Errorf("transport: decode write_set: %w", err)
		}
		return w, nil
	case payloadReadPayload:
		var r store.ReadPayload
		if err := json.Unmarshal(b.Data, &r); err != nil {
			return nil, fmt.Errorf("transport: decode read_payload: %w", err)
		}
		return r, nil
	case payloadReadPayloads:
		var rs []store.ReadPayload
		if err := json.Unmarshal(b.Data, &rs); err != nil {
			return nil, fmt.Errorf("transport: decode read_payloads: %w", err)
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("transport: unknown payload kind %q", b.Kind)
	}
}

// The wire*[K] types below stand in for the accord.ProtocolMessage types
// that carry a Command or an any field, replacing that field with a
// payloadBox so Decode never has to unmarshal into an interface directly.

type wirePreAccept[K comparable] struct {
	ID      accord.TxId
	T0      accord.Ts
	Keys    accord.KeySet[K]
	Kind    accord.Kind
	Command payloadBox
}

type wireBeginRead[K comparable] struct {
	Keys    accord.KeySet[K]
	Command payloadBox
}

type wireBeginWrite[K comparable] struct {
	Keys    accord.KeySet[K]
	Command payloadBox
}

type wireReadOk struct {
	ID      accord.TxId
	Payload payloadBox
}

type wireApply struct {
	ID     accord.TxId
	Tx     accord.Ts
	Deps   accord.DepSet
	Writes payloadBox
}

// envelope[K] is the on-the-wire shape of an accord.Message[K]: sender,
// destination node (Peers broadcasts are flattened to one envelope per
// recipient before this is built, so To is always a concrete peer here),
// and exactly one populated payload field.
type envelope[K comparable] struct {
	Kind wireKind
	From accord.NodeId
	To   accord.NodeId

	PreAccept    *wirePreAccept[K]             `json:",omitempty"`
	PreAcceptOk  *accord.PreAcceptOk           `json:",omitempty"`
	Accept       *accord.Accept                `json:",omitempty"`
	AcceptOk     *accord.AcceptOk              `json:",omitempty"`
	Commit       *accord.Commit                `json:",omitempty"`
	Read         *accord.Read[K]               `json:",omitempty"`
	ReadOk       *wireReadOk                   `json:",omitempty"`
	Apply        *wireApply                    `json:",omitempty"`
	ApplyOk      *accord.ApplyOk               `json:",omitempty"`
	BeginRead    *wireBeginRead[K]             `json:",omitempty"`
	BeginWrite   *wireBeginWrite[K]            `json:",omitempty"`
	StartExecute *accord.StartExecuteInternal  `json:",omitempty"`
}

// Encode serializes msg for the wire. msg.To must already be a concrete
// peer: StateDriver hands the transport one Message per peer for a Peers
// broadcast, so only msg.To.To is written.
func Encode[K comparable](msg accord.Message[K]) ([]byte, error) {
	env := envelope[K]{From: msg.From, To: msg.To.To}
	switch m := msg.Msg.(type) {
	case accord.PreAccept[K]:
		cmd, err := boxCommand(m.Command)
		if err != nil {
			return nil, err
		}
		env.Kind = kindPreAccept
		env.PreAccept = &wirePreAccept[K]{ID: m.ID, T0: m.T0, Keys: m.Keys, Kind: m.Kind, Command: cmd}
	case accord.PreAcceptOk:
		env.Kind, env.PreAcceptOk = kindPreAcceptOk, &m
	case accord.Accept:
		env.Kind, env.Accept = kindAccept, &m
	case accord.AcceptOk:
		env.Kind, env.AcceptOk = kindAcceptOk, &m
	case accord.Commit:
		env.Kind, env.Commit = kindCommit, &m
	case accord.Read[K]:
		env.Kind, env.Read = kindRead, &m
	case accord.ReadOk:
		payload, err := boxAny(m.Payload)
		if err != nil {
			return nil, err
		}
		env.Kind = kindReadOk
		env.ReadOk = &wireReadOk{ID: m.ID, Payload: payload}
	case accord.Apply:
		writes, err := boxAny(m.Writes)
		if err != nil {
			return nil, err
		}
		env.Kind = kindApply
		env.Apply = &wireApply{ID: m.ID, Tx: m.Tx, Deps: m.Deps, Writes: writes}
	case accord.ApplyOk:
		env.Kind, env.ApplyOk = kindApplyOk, &m
	case accord.BeginRead[K]:
		cmd, err := boxCommand(m.Command)
		if err != nil {
			return nil, err
		}
		env.Kind = kindBeginRead
		env.BeginRead = &wireBeginRead[K]{Keys: m.Keys, Command: cmd}
	case accord.BeginWrite[K]:
		cmd, err := boxCommand(m.Command)
		if err != nil {
			return nil, err
		}
		env.Kind = kindBeginWrite
		env.BeginWrite = &wireBeginWrite[K]{Keys: m.Keys, Command: cmd}
	case accord.StartExecuteInternal:
		env.Kind, env.StartExecute = kindStartExecute, &m
	default:
		return nil, fmt.Errorf("transport: unencodable message %T", msg.Msg)
	}
	return json.Marshal(env)
}

// Decode parses bytes produced by Encode back into an accord.Message[K]
// addressed accord.Peer(env.To), with From preserved.
func Decode[K comparable](data []byte) (accord.Message[K], error) {
	var env envelope[K]
	if err := json.Unmarshal(data, &env); err != nil {
		return accord.Message[K]{}, fmt.Errorf("transport: decode envelope: %w", err)
	}
	var msg accord.ProtocolMessage[K]
	switch env.Kind {
	case kindPreAccept:
		cmd, err := unboxCommand(env.PreAccept.Command)
		if err != nil {
			return accord.Message[K]{}, err
		}
		msg = accord.PreAccept[K]{ID: env.PreAccept.ID, T0: env.PreAccept.T0, Keys: env.PreAccept.Keys, Kind: env.PreAccept.Kind, Command: cmd}
	case kindPreAcceptOk:
		msg = *env.PreAcceptOk
	case kindAccept:
		msg = *env.Accept
	case kindAcceptOk:
		msg = *env.AcceptOk
	case kindCommit:
		msg = *env.Commit
	case kindRead:
		msg = *env.Read
	case kindReadOk:
		payload, err := unboxAny(env.ReadOk.Payload)
		if err != nil {
			return accord.Message[K]{}, err
		}
		msg = accord.ReadOk{ID: env.ReadOk.ID, Payload: payload}
	case kindApply:
		writes, err := unboxAny(env.Apply.Writes)
		if err != nil {
			return accord.Message[K]{}, err
		}
		msg = accord.Apply{ID: env.Apply.ID, Tx: env.Apply.Tx, Deps: env.Apply.Deps, Writes: writes}
	case kindApplyOk:
		msg = *env.ApplyOk
	case kindBeginRead:
		cmd, err := unboxCommand(env.BeginRead.Command)
		if err != nil {
			return accord.Message[K]{}, err
		}
		msg = accord.BeginRead[K]{Keys: env.BeginRead.Keys, Command: cmd}
	case kindBeginWrite:
		cmd, err := unboxCommand(env.BeginWrite.Command)
		if err != nil {
			return accord.Message[K]{}, err
		}
		msg = accord.BeginWrite[K]{Keys: env.BeginWrite.Keys, Command: cmd}
	case kindStartExecute:
		msg = *env.StartExecute
	default:
		return accord.Message[K]{}, fmt.Errorf("transport: unknown wire kind %q", env.Kind)
	}
	return accord.Message[K]{From: env.From, To: accord.Peer(env.To), Msg: msg}, nil
}
