package accord

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExecutor struct {
	reads  map[TxId]any
	applied []TxId
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{reads: map[TxId]any{}}
}

func (f *fakeExecutor) Read(ctx context.Context, id TxId, keys KeySet[string]) (any, error) {
	return f.reads[id], nil
}

func (f *fakeExecutor) Apply(ctx context.Context, id TxId, writes any) (any, error) {
	f.applied = append(f.applied, id)
	return nil, nil
}

func TestReceivePreAcceptIsIdempotent(t *testing.T) {
	r := NewReplicaState[string](nil, 1)
	m := PreAccept[string]{ID: TxId{Logical: 1, Origin: 2}, T0: TxId{Logical: 1, Origin: 2}, Keys: NewKeySet("a"), Kind: KindWrite}
	first := r.ReceivePreAccept(m)
	second := r.ReceivePreAccept(m)
	assert.Equal(t, first, second, "re-delivery of the same PreAccept must return the cached response")
}

func TestReceivePreAcceptBuildsDepsFromOverlappingKeys(t *testing.T) {
	r := NewReplicaState[string](nil, 1)
	earlier := PreAccept[string]{ID: TxId{Logical: 1, Origin: 2}, T0: TxId{Logical: 1, Origin: 2}, Keys: NewKeySet("a"), Kind: KindWrite}
	r.ReceivePreAccept(earlier)

	later := PreAccept[string]{ID: TxId{Logical: 1, Origin: 3}, T0: TxId{Logical: 10, Origin: 3}, Keys: NewKeySet("a"), Kind: KindWrite}
	ok := r.ReceivePreAccept(later)
	assert.True(t, ok.Deps.Contains(earlier.ID), "a transaction touching an already-witnessed key must depend on it")
}

func TestReceiveCommitRejectsDisagreement(t *testing.T) {
	r := NewReplicaState[string](nil, 1)
	m := PreAccept[string]{ID: TxId{Logical: 1, Origin: 2}, T0: TxId{Logical: 1, Origin: 2}, Keys: NewKeySet("a")}
	r.ReceivePreAccept(m)
	r.ReceiveCommit(Commit{ID: m.ID, Tx: Timestamp{Logical: 1, Origin: 2}, Deps: NewDepSet()})

	assert.Panics(t, func() {
		r.ReceiveCommit(Commit{ID: m.ID, Tx: Timestamp{Logical: 99, Origin: 2}, Deps: NewDepSet()})
	}, "re-commit with a different (tx, deps) violates P1 and must be caught")
}

func TestReceiveReadExecutesImmediatelyWhenDepsSatisfied(t *testing.T) {
	r := NewReplicaState[string](nil, 1)
	exec := newFakeExecutor()
	id := TxId{Logical: 1, Origin: 2}
	exec.reads[id] = "payload"

	actions, err := r.ReceiveRead(context.Background(), exec, 2, Read[string]{ID: id, Tx: Timestamp{Logical: 1, Origin: 2}, Deps: NewDepSet(), Keys: NewKeySet("a")})
	assert.NoError(t, err)
	assert.Len(t, actions, 1)
	assert.Equal(t, NodeId(2), actions[0].To)
	assert.Equal(t, "payload", actions[0].ReadOk.Payload)
}

func TestReceiveReadDefersUntilDependencyCommits(t *testing.T) {
	r := NewReplicaState[string](nil, 1)
	exec := newFakeExecutor()

	dep := TxId{Logical: 1, Origin: 3}
	target := TxId{Logical: 2, Origin: 2}
	exec.reads[target] = "ready"

	actions, err := r.ReceiveRead(context.Background(), exec, 2, Read[string]{
		ID: target, Tx: Timestamp{Logical: 2, Origin: 2}, Deps: NewDepSet(dep), Keys: NewKeySet("a"),
	})
	assert.NoError(t, err)
	assert.Nil(t, actions, "a read whose deps are unwitnessed must defer")

	r.ReceivePreAccept(PreAccept[string]{ID: dep, T0: dep, Keys: NewKeySet("a")})
	r.ReceiveCommit(Commit{ID: dep, Tx: Timestamp{Logical: 1, Origin: 3}, Deps: NewDepSet()})

	drained, err := r.DrainReads(context.Background(), exec)
	assert.NoError(t, err)
	assert.Len(t, drained, 1)
	assert.Equal(t, "ready", drained[0].ReadOk.Payload)
}

func TestReceiveApplyChainsDeferredWaiters(t *testing.T) {
	r := NewReplicaState[string](nil, 1)
	exec := newFakeExecutor()

	base := TxId{Logical: 1, Origin: 2}
	dependent := TxId{Logical: 2, Origin: 3}

	actions, err := r.ReceiveApply(context.Background(), exec, 3, Apply{ID: dependent, Deps: NewDepSet(base)})
	assert.NoError(t, err)
	assert.Nil(t, actions)

	actions, err = r.ReceiveApply(context.Background(), exec, 2, Apply{ID: base, Deps: NewDepSet()})
	assert.NoError(t, err)
	assert.Len(t, actions, 2, "applying base must also complete the waiter chained on it")

	ids := []TxId{actions[0].ApplyOk.ID, actions[1].ApplyOk.ID}
	assert.Contains(t, ids, base)
	assert.Contains(t, ids, dependent)
}
