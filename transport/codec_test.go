package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"accord"
	"accord/store"
)

// TestEncodeDecodePreAcceptRoundTripsCommand guards against the Command
// field silently failing to survive the wire: a PreAccept's Command is a
// non-empty interface, so a naive json round-trip either errors out or comes
// back as a map[string]interface{} instead of store.KVCommand.
func TestEncodeDecodePreAcceptRoundTripsCommand(t *testing.T) {
	msg := accord.Message[string]{
		From: accord.NodeId(1),
		To:   accord.Peer(accord.NodeId(2)),
		Msg: accord.PreAccept[string]{
			ID:      accord.TxId{Logical: 1, Origin: 1},
			T0:      accord.Ts{Logical: 1, Origin: 1},
			Keys:    accord.NewKeySet("a", "b"),
			Kind:    accord.KindWrite,
			Command: store.KVCommand{Op: store.OpWrite, Key: "a", Value: "v1"},
		},
	}

	data, err := Encode(msg)
	assert.NoError(t, err)

	decoded, err := Decode[string](data)
	assert.NoError(t, err)
	assert.Equal(t, msg.From, decoded.From)
	assert.Equal(t, msg.Msg.(accord.PreAccept[string]).ID, decoded.Msg.(accord.PreAccept[string]).ID)

	cmd, ok := decoded.Msg.(accord.PreAccept[string]).Command.(store.KVCommand)
	assert.True(t, ok, "Command must decode back to the concrete store.KVCommand, not a map[string]interface{}")
	assert.Equal(t, store.KVCommand{Op: store.OpWrite, Key: "a", Value: "v1"}, cmd)
}

// TestEncodeDecodeBeginWriteRoundTripsCommand covers the same Command field
// on the local-only BeginWrite message, which transport never actually
// sends today but which Encode/Decode still support.
func TestEncodeDecodeBeginWriteRoundTripsCommand(t *testing.T) {
	msg := accord.Message[string]{
		From: accord.NodeId(1),
		To:   accord.Peer(accord.NodeId(1)),
		Msg: accord.BeginWrite[string]{
			Keys:    accord.NewKeySet("k"),
			Command: store.KVCommand{Op: store.OpWrite, Key: "k", Value: "v2"},
		},
	}

	data, err := Encode(msg)
	assert.NoError(t, err)

	decoded, err := Decode[string](data)
	assert.NoError(t, err)
	cmd, ok := decoded.Msg.(accord.BeginWrite[string]).Command.(store.KVCommand)
	assert.True(t, ok)
	assert.Equal(t, "v2", cmd.Value)
}

// TestEncodeDecodeApplyRoundTripsWrites guards Apply.Writes, an any field
// whose concrete type (store.WriteSet) must survive the wire so
// Executor.Apply's type assertion (writes.(WriteSet)) doesn't silently fail.
func TestEncodeDecodeApplyRoundTripsWrites(t *testing.T) {
	msg := accord.Message[string]{
		From: accord.NodeId(2),
		To:   accord.Peer(accord.NodeId(1)),
		Msg: accord.Apply{
			ID:     accord.TxId{Logical: 3, Origin: 1},
			Tx:     accord.Ts{Logical: 3, Origin: 1},
			Deps:   accord.NewDepSet(),
			Writes: store.WriteSet{Key: "k", Value: "v3"},
		},
	}

	data, err := Encode(msg)
	assert.NoError(t, err)

	decoded, err := Decode[string](data)
	assert.NoError(t, err)
	writes, ok := decoded.Msg.(accord.Apply).Writes.(store.WriteSet)
	assert.True(t, ok, "Writes must decode back to store.WriteSet, not a map[string]interface{}")
	assert.Equal(t, store.WriteSet{Key: "k", Value: "v3"}, writes)
}

// TestEncodeDecodeReadOkRoundTripsPayload mirrors the Apply case for
// ReadOk.Payload / store.ReadPayload.
func TestEncodeDecodeReadOkRoundTripsPayload(t *testing.T) {
	msg := accord.Message[string]{
		From: accord.NodeId(2),
		To:   accord.Peer(accord.NodeId(1)),
		Msg: accord.ReadOk{
			ID:      accord.TxId{Logical: 4, Origin: 1},
			Payload: store.ReadPayload{Key: "k", Value: "v4", Found: true},
		},
	}

	data, err := Encode(msg)
	assert.NoError(t, err)

	decoded, err := Decode[string](data)
	assert.NoError(t, err)
	payload, ok := decoded.Msg.(accord.ReadOk).Payload.(store.ReadPayload)
	assert.True(t, ok, "Payload must decode back to store.ReadPayload, not a map[string]interface{}")
	assert.Equal(t, store.ReadPayload{Key: "k", Value: "v4", Found: true}, payload)
}

// TestEncodeDecodeApplyWithNilWrites covers a read-only transaction's Apply,
// whose Writes is nil (accord.Command's "read-only commands return nil from
// Writes" contract, spec'd on store.KVCommand.Writes).
func TestEncodeDecodeApplyWithNilWrites(t *testing.T) {
	msg := accord.Message[string]{
		From: accord.NodeId(1),
		To:   accord.Peer(accord.NodeId(2)),
		Msg: accord.Apply{
			ID:   accord.TxId{Logical: 5, Origin: 1},
			Tx:   accord.Ts{Logical: 5, Origin: 1},
			Deps: accord.NewDepSet(),
		},
	}

	data, err := Encode(msg)
	assert.NoError(t, err)

	decoded, err := Decode[string](data)
	assert.NoError(t, err)
	assert.Nil(t, decoded.Msg.(accord.Apply).Writes)
}

// TestEncodeUnregisteredCommandErrors ensures an unregistered Command
// implementation fails loudly at encode time instead of silently dropping
// the payload.
func TestEncodeUnregisteredCommandErrors(t *testing.T) {
	msg := accord.Message[string]{
		From: accord.NodeId(1),
		To:   accord.Peer(accord.NodeId(2)),
		Msg: accord.PreAccept[string]{
			ID:      accord.TxId{Logical: 1, Origin: 1},
			T0:      accord.Ts{Logical: 1, Origin: 1},
			Keys:    accord.NewKeySet("a"),
			Command: unregisteredCommand{},
		},
	}
	_, err := Encode(msg)
	assert.Error(t, err)
}

type unregisteredCommand struct{}

func (unregisteredCommand) Writes(reads map[accord.NodeId]any) any { return nil }
