package accord

import "context"

// Executor is the user-supplied interpreter of committed commands against a
// local store (spec §4.4). It must be deterministic given the same
// (id, inputs); the driver calls it inline, so it may block but must not
// retain goroutine-local state across calls.
type Executor[K Keyable] interface {
	// Read produces the payload for a committed read touching keys.
	Read(ctx context.Context, id TxId, keys KeySet[K]) (any, error)
	// Apply executes the write effect writes computed by Command.Writes and
	// returns an acknowledgement.
	Apply(ctx context.Context, id TxId, writes any) (any, error)
}
