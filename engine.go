package reservd

import (
	"context"

	"pkt.systems/reservd/internal/core"
	"pkt.systems/reservd/internal/ledger"
	"pkt.systems/reservd/internal/loggingutil"
)

// Engine is the in-process client surface of the reservation coordinator.
// It owns the store it opened and is safe for concurrent use.
type Engine struct {
	svc      *core.Service
	store    ledger.Store
	ownStore bool
}

// New opens the ledger store named by cfg.Store and wires a coordinator
// around it. Close releases the store.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	eng := newWithStore(cfg, store)
	eng.ownStore = true
	return eng, nil
}

// NewWithStore wires a coordinator around a caller-provided store. The
// caller keeps ownership; Close does not touch the store.
func NewWithStore(cfg Config, store ledger.Store) *Engine {
	return newWithStore(cfg.withDefaults(), store)
}

func newWithStore(cfg Config, store ledger.Store) *Engine {
	return &Engine{
		svc: core.NewService(core.Config{
			Store:          store,
			Logger:         loggingutil.EnsureLogger(cfg.Logger),
			Clock:          cfg.Clock,
			Retry:          cfg.Retry,
			GuardRetention: cfg.GuardRetention,
		}),
		store: store,
	}
}

// CreateItem registers a new item with a fixed unit capacity.
func (e *Engine) CreateItem(ctx context.Context, cmd core.CreateItemCommand) error {
	return e.svc.CreateItem(ctx, cmd)
}

// Reserve allocates units under the command's idempotency key.
func (e *Engine) Reserve(ctx context.Context, cmd core.ReserveCommand) (*core.ReserveResult, error) {
	return e.svc.Reserve(ctx, cmd)
}

// Release frees a reservation's units back into the item's pool.
func (e *Engine) Release(ctx context.Context, cmd core.ReleaseCommand) (*core.ReleaseResult, error) {
	return e.svc.Release(ctx, cmd)
}

// Availability reports capacity and occupancy for one item.
func (e *Engine) Availability(ctx context.Context, itemID string) (*core.AvailabilityResult, error) {
	return e.svc.Availability(ctx, itemID)
}

// SweepGuards evicts idempotency records older than the retention window.
func (e *Engine) SweepGuards(ctx context.Context) (int, error) {
	return e.svc.SweepGuards(ctx)
}

// Close releases the store when the engine opened it.
func (e *Engine) Close() error {
	if !e.ownStore || e.store == nil {
		return nil
	}
	return e.store.Close()
}
