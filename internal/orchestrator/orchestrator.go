// Package orchestrator is the state machine that owns all live algorithms.
//
// Grounded on 0xtitan6-polymarket-mm/internal/engine/engine.go's
// marketSlot/slots/tokenMap pattern: one goroutine per live unit (there, a
// market; here, an algorithm), a registry map guarded by sync.RWMutex, and a
// secondary index routing inbound events (there, token->condition; here,
// order_id->algo_id) to the right slot. The per-algorithm goroutine gives
// "totally ordered per algorithm, unordered across algorithms" for free,
// exactly as the teacher's per-market goroutine does for its strategy loop.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tesserun/internal/broker"
	"tesserun/internal/core"
	"tesserun/internal/repository"
	"tesserun/internal/risk"
)

// Algorithm is the contract every execution algorithm kind must satisfy.
// *wasmplugin.WasmAlgorithm implements this structurally — wasmplugin does
// not import this package.
type Algorithm interface {
	Kind() string
	ID() uuid.UUID
	Status() core.AlgoStatus
	Start(ctx context.Context) ([]core.ChildOrderRequest, error)
	OnTick(ctx context.Context, tick core.Tick) ([]core.ChildOrderRequest, error)
	OnFill(ctx context.Context, fill core.Fill) ([]core.ChildOrderRequest, error)
	OnTimer(ctx context.Context) ([]core.ChildOrderRequest, error)
	Cancel(ctx context.Context) error
	Snapshot() ([]byte, error)
	// KnownOrderIDs returns every client-order-id the algorithm has ever
	// assigned to a child it placed, reconstructed deterministically from
	// its own sequence counter. RestoreAll uses this to reconcile against
	// the broker after a crash, per spec.md §4.5.
	KnownOrderIDs() []string
}

// Factory constructs algorithms of one kind, fresh or restored from a
// snapshot payload.
type Factory interface {
	New(ctx context.Context, algoID uuid.UUID, signal core.Signal, totalQuantity decimal.Decimal, riskCtx core.RiskContext) (Algorithm, error)
	Restore(ctx context.Context, algoID uuid.UUID, payload []byte) (Algorithm, error)
}

// eventKind discriminates the work items a per-algorithm worker processes.
type eventKind int

const (
	eventStart eventKind = iota
	eventTick
	eventFill
	eventTimer
	eventCancel
)

type event struct {
	kind eventKind
	tick core.Tick
	fill core.Fill
}

// algoHandle is one live algorithm: its implementation, its event queue, and
// the bookkeeping the orchestrator needs to route events to it.
type algoHandle struct {
	algo   Algorithm
	symbol core.Symbol
	events chan event
	ctx    context.Context
	cancel context.CancelFunc

	ordersMu sync.Mutex
	orders   map[string]struct{}
}

// RiskContextFunc supplies the current RiskContext for a symbol. Wired by
// the caller to whatever market-data/portfolio source feeds the engine.
type RiskContextFunc func(symbol core.Symbol) core.RiskContext

// Orchestrator dispatches ticks, fills, and timer events to live algorithms,
// routes their child-order requests through risk and the broker, and
// persists a snapshot after every mutating callback.
type Orchestrator struct {
	mu    sync.RWMutex
	algos map[uuid.UUID]*algoHandle

	orderIndex sync.Map // order_id (string) -> uuid.UUID

	factories map[string]Factory
	repo      repository.Repository
	checker   risk.Checker
	client    broker.Client
	riskCtx   RiskContextFunc
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New builds an Orchestrator. riskCtx supplies the RiskContext snapshot used
// both to size/check newly submitted algorithms' first children and every
// subsequent child a running algorithm emits.
func New(repo repository.Repository, checker risk.Checker, client broker.Client, riskCtx RiskContextFunc, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		algos:     make(map[uuid.UUID]*algoHandle),
		factories: make(map[string]Factory),
		repo:      repo,
		checker:   checker,
		client:    client,
		riskCtx:   riskCtx,
		logger:    logger.With("component", "orchestrator"),
	}
}

// RegisterFactory binds an algorithm kind (e.g. a plugin name such as
// "trend_follower") to the factory that constructs and restores it.
func (o *Orchestrator) RegisterFactory(kind string, factory Factory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.factories[kind] = factory
}

// Submit constructs an algorithm of kind, assigns it a UUID, persists its
// initial snapshot, and dispatches the orders returned by its start hook.
func (o *Orchestrator) Submit(ctx context.Context, kind string, signal core.Signal, totalQuantity decimal.Decimal) (uuid.UUID, error) {
	o.mu.RLock()
	factory, ok := o.factories[kind]
	o.mu.RUnlock()
	if !ok {
		return uuid.Nil, fmt.Errorf("orchestrator: no factory registered for kind %q", kind)
	}

	algoID := uuid.New()
	riskCtx := o.riskCtx(signal.Symbol)

	algo, err := factory.New(ctx, algoID, signal, totalQuantity, riskCtx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("construct algorithm %s: %w", kind, err)
	}

	handle := o.registerLocked(algo, signal.Symbol)

	if err := o.persist(ctx, handle); err != nil {
		return uuid.Nil, err
	}

	handle.events <- event{kind: eventStart}
	return algo.ID(), nil
}

func (o *Orchestrator) registerLocked(algo Algorithm, symbol core.Symbol) *algoHandle {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &algoHandle{
		algo:   algo,
		symbol: symbol,
		events: make(chan event, 64),
		ctx:    ctx,
		cancel: cancel,
		orders: make(map[string]struct{}),
	}

	o.mu.Lock()
	o.algos[algo.ID()] = handle
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runAlgo(ctx, handle)
	}()

	return handle
}

// runAlgo is the per-algorithm worker: events to one algorithm are processed
// strictly in arrival order, giving the "no reentrancy" guarantee for free.
func (o *Orchestrator) runAlgo(ctx context.Context, handle *algoHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-handle.events:
			if !ok {
				return
			}
			o.handleEvent(ctx, handle, evt)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, handle *algoHandle, evt event) {
	if handle.algo.Status().IsTerminal() && evt.kind != eventCancel {
		return
	}

	var children []core.ChildOrderRequest
	var err error

	switch evt.kind {
	case eventStart:
		children, err = handle.algo.Start(ctx)
	case eventTick:
		children, err = handle.algo.OnTick(ctx, evt.tick)
	case eventFill:
		children, err = handle.algo.OnFill(ctx, evt.fill)
	case eventTimer:
		children, err = handle.algo.OnTimer(ctx)
	case eventCancel:
		err = handle.algo.Cancel(ctx)
	}

	if err != nil {
		o.logger.Error("algorithm callback failed", "algo_id", handle.algo.ID(), "kind", handle.algo.Kind(), "error", err)
	}

	// Persist before dispatching, so a client-order-id counter the callback
	// advanced is durable before any child carrying such an id reaches the
	// broker. Dispatching does not change the algorithm's own state.
	if err := o.persist(ctx, handle); err != nil {
		o.logger.Error("persist snapshot failed", "algo_id", handle.algo.ID(), "error", err)
	}

	riskCtx := o.riskCtx(handle.symbol)
	for _, child := range children {
		o.dispatchChild(ctx, handle, child, riskCtx)
	}
}

// dispatchChild routes one child-order request through the risk check
// before placement, exactly as spec'd: Place actions are risk-checked;
// Amend actions (no sizing decision to re-check) go straight to the broker.
// Placement failures are swallowed here — the algorithm observes them, if
// at all, on its next callback, matching the "by default the algorithm sees
// the failure as an observable event" policy.
func (o *Orchestrator) dispatchChild(ctx context.Context, handle *algoHandle, child core.ChildOrderRequest, riskCtx core.RiskContext) {
	algoID := handle.algo.ID()
	switch child.Action {
	case core.ActionPlace:
		if child.Place == nil {
			return
		}
		if err := o.checker.Check(*child.Place, riskCtx); err != nil {
			o.logger.Warn("child order failed risk check", "algo_id", algoID, "client_order_id", child.Place.ClientOrderID, "error", err)
			return
		}
		order, err := o.client.PlaceOrder(ctx, *child.Place)
		if err != nil {
			o.logger.Warn("child order placement failed", "algo_id", algoID, "client_order_id", child.Place.ClientOrderID, "error", err)
			return
		}
		o.orderIndex.Store(order.ID, algoID)
		handle.ordersMu.Lock()
		handle.orders[order.ID] = struct{}{}
		handle.ordersMu.Unlock()
	case core.ActionAmend:
		if child.Amend == nil {
			return
		}
		if _, err := o.client.AmendOrder(ctx, *child.Amend); err != nil {
			o.logger.Warn("child order amend failed", "algo_id", algoID, "order_id", child.Amend.OrderID, "error", err)
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, handle *algoHandle) error {
	payload, err := handle.algo.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot algorithm %s: %w", handle.algo.ID(), err)
	}
	snap := core.AlgoSnapshot{
		AlgoID:  handle.algo.ID(),
		Kind:    handle.algo.Kind(),
		Symbol:  handle.symbol,
		Status:  handle.algo.Status(),
		Payload: payload,
	}
	if err := o.repo.Put(ctx, snap); err != nil {
		return fmt.Errorf("put snapshot %s: %w", handle.algo.ID(), err)
	}
	return nil
}

// OnTick delivers tick to every live algorithm subscribed to tick.Symbol.
func (o *Orchestrator) OnTick(tick core.Tick) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, handle := range o.algos {
		if handle.symbol != tick.Symbol {
			continue
		}
		o.enqueue(handle, event{kind: eventTick, tick: tick})
	}
}

// OnFill routes fill to the algorithm that owns fill.OrderID, found via the
// order_id->algo_id index. Fills for unknown orders are dropped — they
// belong to no live algorithm this process manages.
func (o *Orchestrator) OnFill(fill core.Fill) {
	v, ok := o.orderIndex.Load(fill.OrderID)
	if !ok {
		o.logger.Debug("fill for unindexed order, dropping", "order_id", fill.OrderID)
		return
	}
	algoID := v.(uuid.UUID)

	o.mu.RLock()
	handle, ok := o.algos[algoID]
	o.mu.RUnlock()
	if !ok {
		return
	}
	o.enqueue(handle, event{kind: eventFill, fill: fill})
}

// OnTimer delivers a timer tick to every live algorithm.
func (o *Orchestrator) OnTimer() {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, handle := range o.algos {
		o.enqueue(handle, event{kind: eventTimer})
	}
}

// Cancel attempts to cancel every outstanding order the algorithm has placed
// at the broker, then queues a cancel event that transitions it to
// Cancelled. A broker-side cancel failure (e.g. the order already filled) is
// logged and does not stop the others or the status transition — per
// spec.md §5, cancellation is best-effort.
func (o *Orchestrator) Cancel(ctx context.Context, algoID uuid.UUID) error {
	o.mu.RLock()
	handle, ok := o.algos[algoID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("orchestrator: algorithm %s not found", algoID)
	}

	handle.ordersMu.Lock()
	orderIDs := make([]string, 0, len(handle.orders))
	for orderID := range handle.orders {
		orderIDs = append(orderIDs, orderID)
	}
	handle.ordersMu.Unlock()

	for _, orderID := range orderIDs {
		if err := o.client.CancelOrder(ctx, orderID); err != nil {
			o.logger.Warn("cancel outstanding child order failed", "algo_id", algoID, "order_id", orderID, "error", err)
		}
	}

	o.enqueue(handle, event{kind: eventCancel})
	return nil
}

// enqueue blocks until handle's worker drains room in its queue, guaranteeing
// at-least-once delivery for fills (spec.md §8) instead of dropping events
// under load. The only event this does not eventually deliver is one queued
// after the algorithm's own worker has already been shut down.
func (o *Orchestrator) enqueue(handle *algoHandle, evt event) {
	select {
	case handle.events <- evt:
	case <-handle.ctx.Done():
		o.logger.Warn("algorithm shut down, dropping event", "algo_id", handle.algo.ID(), "kind", evt.kind)
	}
}

// RestoreAll loads every non-terminal snapshot from the repository and
// reinstantiates its algorithm. Called once at startup, before traffic
// (ticks, fills, timers) is allowed to flow.
func (o *Orchestrator) RestoreAll(ctx context.Context) error {
	snapshots, err := o.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active snapshots: %w", err)
	}

	for _, snap := range snapshots {
		o.mu.RLock()
		factory, ok := o.factories[snap.Kind]
		o.mu.RUnlock()
		if !ok {
			o.logger.Error("no factory registered for restored algorithm kind, skipping", "algo_id", snap.AlgoID, "kind", snap.Kind)
			continue
		}

		algo, err := factory.Restore(ctx, snap.AlgoID, snap.Payload)
		if err != nil {
			o.logger.Error("restore algorithm failed, skipping", "algo_id", snap.AlgoID, "kind", snap.Kind, "error", err)
			continue
		}

		handle := o.registerLocked(algo, snap.Symbol)
		o.logger.Info("restored algorithm", "algo_id", snap.AlgoID, "kind", snap.Kind, "symbol", snap.Symbol)

		if algo.Status() == core.AlgoWorking {
			o.reconcileOrders(ctx, handle)
		}
	}
	return nil
}

// reconcileOrders re-queries the broker for every client-order-id the
// restored algorithm has ever assigned, per spec.md §4.5: if the repository
// shows status=Working but the broker reports a child order the algorithm's
// in-memory state doesn't reflect, the algorithm must be notified via a
// replayed on_fill hook, and the index used to route future fills/cancels to
// it must be rebuilt — neither of which the bare snapshot restore gives us.
//
// core.Order carries no fill-quantity/price fields, so a replayed fill is
// necessarily approximate: it reports the order's requested quantity/price,
// not the broker's actual fill detail. QueryOrder errors (including "order
// not found", which the reference client cannot distinguish from a network
// failure) are treated as "nothing to reconcile" and logged at Debug.
func (o *Orchestrator) reconcileOrders(ctx context.Context, handle *algoHandle) {
	algoID := handle.algo.ID()
	for _, orderID := range handle.algo.KnownOrderIDs() {
		order, err := o.client.QueryOrder(ctx, orderID)
		if err != nil {
			o.logger.Debug("reconcile: query order failed, skipping", "algo_id", algoID, "order_id", orderID, "error", err)
			continue
		}

		o.orderIndex.Store(order.ID, algoID)
		handle.ordersMu.Lock()
		handle.orders[order.ID] = struct{}{}
		handle.ordersMu.Unlock()

		if !strings.Contains(strings.ToUpper(order.State), "FILL") {
			continue
		}

		o.logger.Info("reconcile: replaying fill for order recovered after restart", "algo_id", algoID, "order_id", order.ID, "state", order.State)
		o.enqueue(handle, event{kind: eventFill, fill: core.Fill{
			OrderID:      order.ID,
			Symbol:       order.Request.Symbol,
			Side:         order.Request.Side,
			FillPrice:    priceOrZero(order.Request.Price),
			FillQuantity: order.Request.Quantity,
			Timestamp:    order.UpdatedAt,
		}})
	}
}

func priceOrZero(price *decimal.Decimal) decimal.Decimal {
	if price == nil {
		return decimal.Zero
	}
	return *price
}

// Shutdown cancels every algorithm's worker goroutine and waits for them to
// drain. It does not cancel outstanding child orders at the broker — that
// is Cancel's job, one algorithm at a time.
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	handles := make([]*algoHandle, 0, len(o.algos))
	for _, handle := range o.algos {
		handles = append(handles, handle)
	}
	o.mu.RUnlock()

	for _, handle := range handles {
		handle.cancel()
	}
	o.wg.Wait()
}
