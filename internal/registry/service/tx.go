package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"addrreg/internal/events"
	"addrreg/internal/temporal"
	dErrors "addrreg/pkg/domain-errors"
)

// StoreTx provides the transactional boundary for entity mutations. One
// transition spans the entity write, the registration close-then-append
// and the outbox insert; failing transactions create nothing.
//
// Mutations on the same object are serialized by the implementation;
// different objects may proceed concurrently.
type StoreTx interface {
	RunInTx(ctx context.Context, typ string, objectID uuid.UUID, fn func(ctx context.Context) error) error
}

// memoryTx serializes per-object mutations with sharded mutexes and rolls
// failed mutations back from object-level snapshots. It is the boundary
// for the in-memory stores; the postgres boundary wraps a real database
// transaction instead.
const numTxShards = 128

// defaultTxTimeout bounds a mutation when the caller supplied no deadline.
const defaultTxTimeout = 5 * time.Second

type memoryTx struct {
	shards   [numTxShards]sync.Mutex
	temporal *temporal.MemoryStore
	events   *events.MemoryStore
	timeout  time.Duration
}

// NewMemoryTx creates the in-memory transaction boundary over the given
// stores.
func NewMemoryTx(temporalStore *temporal.MemoryStore, eventStore *events.MemoryStore) StoreTx {
	return &memoryTx{temporal: temporalStore, events: eventStore}
}

func (t *memoryTx) RunInTx(ctx context.Context, typ string, objectID uuid.UUID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := hashObject(objectID) % numTxShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	restoreTemporal := t.temporal.Snapshot(typ, objectID)
	restoreEvents := t.events.Snapshot(objectID)

	if err := fn(ctx); err != nil {
		restoreEvents()
		restoreTemporal()
		return err
	}
	return nil
}

// hashObject uses FNV-1a over the objectID bytes for shard distribution.
func hashObject(id uuid.UUID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range id {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}
