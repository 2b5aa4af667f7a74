package main

import (
	"context"

	"github.com/google/uuid"

	"addrreg/internal/registry/service"
)

// passthroughTx satisfies the mutation boundary for the read-only CLI
// wiring. The push path never mutates entities, so no transaction is
// needed.
type passthroughTx struct{}

func newPassthroughTx() service.StoreTx { return passthroughTx{} }

func (passthroughTx) RunInTx(ctx context.Context, _ string, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
