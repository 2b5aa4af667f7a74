package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"addrreg/internal/events"
	"addrreg/internal/platform/metrics"
	"addrreg/internal/temporal"
)

// RegistrationSource resolves event checksums to snapshot content and
// entity types to their declared schemas. The registry service satisfies
// it.
type RegistrationSource interface {
	RegistrationsByChecksums(ctx context.Context, typ string, checksums []string) ([]*temporal.Registration, error)
	Schema(typ string) (temporal.Schema, bool)
}

// Options select and shape one push run.
type Options struct {
	// Full resends every matching event regardless of receipts. The
	// default pushes pending events only.
	Full bool
	// Include/Exclude filter by entity type. Exclude wins.
	Include []string
	Exclude []string
	// Width bounds the number of objects pushed concurrently. Events for
	// one object always go out sequentially, oldest first.
	Width int
	// FailFast aborts the run on the first delivery error instead of
	// moving on to the next object.
	FailFast bool
}

// Result summarizes a push run.
type Result struct {
	Delivered int
	Failed    int
	Skipped   int
}

// Pusher drains the outbox to a destination.
type Pusher struct {
	events  *events.Service
	source  RegistrationSource
	dest    Destination
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewPusher creates a pusher over the outbox and snapshot stores.
func NewPusher(eventService *events.Service, source RegistrationSource, dest Destination, log *slog.Logger, m *metrics.Metrics) *Pusher {
	return &Pusher{
		events:  eventService,
		source:  source,
		dest:    dest,
		log:     log,
		metrics: m,
	}
}

// Push runs one delivery pass. Events are grouped by object and each
// object's events are sent oldest first, with any undelivered
// predecessors delivered before their successor. Failures mark the whole
// object as blocked for the rest of the run; other objects continue
// unless FailFast is set.
func (p *Pusher) Push(ctx context.Context, opts Options) (Result, error) {
	pending, err := p.events.List(ctx, events.ListFilter{
		PendingOnly: !opts.Full,
		Include:     opts.Include,
		Exclude:     opts.Exclude,
	})
	if err != nil {
		return Result{}, fmt.Errorf("list outbox events: %w", err)
	}
	if len(pending) == 0 {
		return Result{}, nil
	}

	groups := groupByObject(pending)
	width := opts.Width
	if width < 1 {
		width = 1
	}

	var (
		mu        gosync.Mutex
		result    Result
		delivered = make(map[uuid.UUID]bool, len(pending))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			for _, e := range group {
				err := p.pushWithPredecessors(gctx, e, opts.Full, &mu, delivered, &result)
				if err != nil {
					mu.Lock()
					result.Failed++
					mu.Unlock()
					p.log.Error("push failed, skipping remaining events for object",
						"event_id", e.EventID.String(),
						"object_id", e.ObjectID.String(),
						"error", err,
					)
					if opts.FailFast {
						return err
					}
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// pushWithPredecessors delivers e after every older event for the same
// object, so the consumer never observes a successor before its
// predecessor.
func (p *Pusher) pushWithPredecessors(ctx context.Context, e *events.Event, full bool, mu *gosync.Mutex, delivered map[uuid.UUID]bool, result *Result) error {
	predecessors, err := p.events.Predecessors(ctx, e)
	if err != nil {
		return fmt.Errorf("load predecessors of %s: %w", e.EventID, err)
	}
	for _, pre := range append(predecessors, e) {
		mu.Lock()
		done := delivered[pre.EventID]
		mu.Unlock()
		if done || (pre.Delivered() && !full) {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			continue
		}
		if err := p.deliver(ctx, pre); err != nil {
			return err
		}
		mu.Lock()
		delivered[pre.EventID] = true
		result.Delivered++
		mu.Unlock()
	}
	return nil
}

func (p *Pusher) deliver(ctx context.Context, e *events.Event) error {
	sc, ok := p.source.Schema(e.UpdatedType)
	if !ok {
		return fmt.Errorf("event %s references unknown type %q", e.EventID, e.UpdatedType)
	}
	registrations, err := p.source.RegistrationsByChecksums(ctx, e.UpdatedType, []string{e.UpdatedRegistrationChecksum})
	if err != nil {
		return fmt.Errorf("resolve checksum %s: %w", e.UpdatedRegistrationChecksum, err)
	}
	if len(registrations) == 0 {
		return fmt.Errorf("event %s references unknown checksum %s", e.EventID, e.UpdatedRegistrationChecksum)
	}
	env, err := BuildEnvelope(e, sc.Name, registrations[0])
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.dest.Deliver(ctx, env)
	p.metrics.ObservePush(time.Since(start), err)
	if err != nil {
		return err
	}
	p.log.Info("event delivered",
		"event_id", env.EventID,
		"type", e.UpdatedType,
		"checksum", shortChecksum(e.UpdatedRegistrationChecksum),
	)
	return nil
}

// groupByObject splits the ordered event list into per-object slices,
// preserving creation order within each group and a stable group order
// across runs.
func groupByObject(all []*events.Event) [][]*events.Event {
	byObject := make(map[uuid.UUID][]*events.Event)
	for _, e := range all {
		byObject[e.ObjectID] = append(byObject[e.ObjectID], e)
	}
	ids := make([]uuid.UUID, 0, len(byObject))
	for id := range byObject {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return strings.Compare(ids[i].String(), ids[j].String()) < 0
	})
	groups := make([][]*events.Event, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, byObject[id])
	}
	return groups
}

func shortChecksum(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
