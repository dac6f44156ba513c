package wasmplugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"tesserun/internal/core"
)

// fakeGuestInstance is a guestInstance double standing in for a compiled
// .wasm binary — building one is out of reach without the Go toolchain, so
// this fake drives the host-side contract (call order, payload content)
// directly, the way the reviewer's suggested Engine-level fake does.
type fakeGuestInstance struct {
	mu          sync.Mutex
	calls       []string
	restoreArgs []string

	initResult string
	initErr    error
	restoreErr error
}

func (g *fakeGuestInstance) record(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, name)
}

func (g *fakeGuestInstance) CallInit(ctx context.Context, ctxJSON string) (string, error) {
	g.record("init")
	if g.initErr != nil {
		return "", g.initErr
	}
	if g.initResult == "" {
		return `{"orders":[],"logs":[],"completed":false}`, nil
	}
	return g.initResult, nil
}

func (g *fakeGuestInstance) CallOnTick(ctx context.Context, tickJSON string) (string, error) {
	g.record("on_tick")
	return `{"orders":[],"logs":[],"completed":false}`, nil
}

func (g *fakeGuestInstance) CallOnFill(ctx context.Context, fillJSON string) (string, error) {
	g.record("on_fill")
	return `{"orders":[],"logs":[],"completed":false}`, nil
}

func (g *fakeGuestInstance) CallOnTimer(ctx context.Context) (string, error) {
	g.record("on_timer")
	return `{"orders":[],"logs":[],"completed":false}`, nil
}

func (g *fakeGuestInstance) CallSnapshot(ctx context.Context) (string, error) {
	g.record("snapshot")
	return `{"restored":false}`, nil
}

func (g *fakeGuestInstance) CallRestore(ctx context.Context, stateJSON string) error {
	g.mu.Lock()
	g.calls = append(g.calls, "restore")
	g.restoreArgs = append(g.restoreArgs, stateJSON)
	g.mu.Unlock()
	return g.restoreErr
}

func (g *fakeGuestInstance) callOrder() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

// fakeEngine is an instantiator double handing out one fakeGuestInstance per
// Instantiate call, recording which plugin names were requested.
type fakeEngine struct {
	instance  *fakeGuestInstance
	requested []string
	err       error
}

func (e *fakeEngine) Instantiate(ctx context.Context, name string) (guestInstance, error) {
	e.requested = append(e.requested, name)
	if e.err != nil {
		return nil, e.err
	}
	return e.instance, nil
}

func TestEnsureClientIDAssignsSequencedIDWhenMissing(t *testing.T) {
	t.Parallel()

	w := &WasmAlgorithm{id: uuid.MustParse("12345678-1234-1234-1234-123456789abc")}

	req := core.OrderRequest{Symbol: "BTCUSDT"}
	w.ensureClientID(&req)
	if want := "plugin-12345678123412341234123456789abc-0001"; req.ClientOrderID != want {
		t.Errorf("ClientOrderID = %s, want %s", req.ClientOrderID, want)
	}

	req2 := core.OrderRequest{Symbol: "BTCUSDT"}
	w.ensureClientID(&req2)
	if want := "plugin-12345678123412341234123456789abc-0002"; req2.ClientOrderID != want {
		t.Errorf("second ClientOrderID = %s, want %s", req2.ClientOrderID, want)
	}
}

func TestEnsureClientIDLeavesExplicitIDUntouched(t *testing.T) {
	t.Parallel()

	w := &WasmAlgorithm{id: uuid.New()}
	req := core.OrderRequest{ClientOrderID: "guest-assigned-id"}
	w.ensureClientID(&req)
	if req.ClientOrderID != "guest-assigned-id" {
		t.Errorf("ClientOrderID = %s, want unchanged", req.ClientOrderID)
	}
	if w.nextClientSeq != 0 {
		t.Errorf("nextClientSeq = %d, want 0 (untouched)", w.nextClientSeq)
	}
}

func TestBuildChildRequestPlaceAssignsClientID(t *testing.T) {
	t.Parallel()

	w := &WasmAlgorithm{id: uuid.New()}
	child, err := w.buildChildRequest(PluginChildOrderRequest{
		Action: PluginActionPlace,
		Place: &PluginOrderRequest{
			Symbol: "BTCUSDT", Side: PluginBuy, OrderType: PluginMarket, Quantity: "1.5",
		},
	})
	if err != nil {
		t.Fatalf("buildChildRequest = %v", err)
	}
	if child.Action != core.ActionPlace || child.Place == nil {
		t.Fatalf("child = %+v, want Place action populated", child)
	}
	if child.Place.ClientOrderID == "" {
		t.Error("Place.ClientOrderID left empty, want assigned id")
	}
	if child.ParentAlgoID != w.id {
		t.Errorf("ParentAlgoID = %s, want %s", child.ParentAlgoID, w.id)
	}
}

func TestBuildChildRequestAmendDoesNotTouchClientID(t *testing.T) {
	t.Parallel()

	w := &WasmAlgorithm{id: uuid.New()}
	child, err := w.buildChildRequest(PluginChildOrderRequest{
		Action: PluginActionAmend,
		Amend:  &PluginOrderUpdateRequest{OrderID: "abc", Symbol: "BTCUSDT", Side: PluginSell},
	})
	if err != nil {
		t.Fatalf("buildChildRequest = %v", err)
	}
	if child.Action != core.ActionAmend || child.Amend == nil || child.Amend.OrderID != "abc" {
		t.Fatalf("child = %+v, want Amend action with OrderID abc", child)
	}
}

func TestBuildChildRequestRejectsMissingBody(t *testing.T) {
	t.Parallel()

	w := &WasmAlgorithm{id: uuid.New()}
	if _, err := w.buildChildRequest(PluginChildOrderRequest{Action: PluginActionPlace}); err == nil {
		t.Error("buildChildRequest with nil Place body = nil error, want error")
	}
	if _, err := w.buildChildRequest(PluginChildOrderRequest{Action: PluginActionAmend}); err == nil {
		t.Error("buildChildRequest with nil Amend body = nil error, want error")
	}
}

func TestBuildChildRequestRejectsUnrecognizedAction(t *testing.T) {
	t.Parallel()

	w := &WasmAlgorithm{id: uuid.New()}
	if _, err := w.buildChildRequest(PluginChildOrderRequest{Action: "frobnicate"}); err == nil {
		t.Error("buildChildRequest with unrecognized action = nil error, want error")
	}
}

func TestProtocolErrorUnwrapsUnderlyingError(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	perr := &ProtocolError{AlgoID: uuid.New(), Call: "on_tick", Err: inner}
	if !errors.Is(perr, inner) {
		t.Error("errors.Is(perr, inner) = false, want true")
	}
}

func TestSimpleUUIDStripsHyphens(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("12345678-1234-1234-1234-123456789abc")
	if got := simpleUUID(id); got != "12345678123412341234123456789abc" {
		t.Errorf("simpleUUID = %s, want 12345678123412341234123456789abc", got)
	}
}

func TestNewInstantiatesAndStartsCallsInitOnce(t *testing.T) {
	t.Parallel()

	instance := &fakeGuestInstance{}
	engine := &fakeEngine{instance: instance}

	algo, err := New(context.Background(), engine, uuid.New(), PluginInitContext{Plugin: "trend_follower"})
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	if len(engine.requested) != 1 || engine.requested[0] != "trend_follower" {
		t.Errorf("engine.requested = %v, want [trend_follower]", engine.requested)
	}

	if _, err := algo.Start(context.Background()); err != nil {
		t.Fatalf("Start = %v", err)
	}
	if _, err := algo.Start(context.Background()); err != nil {
		t.Fatalf("second Start = %v", err)
	}

	if got := instance.callOrder(); len(got) != 2 || got[0] != "init" || got[1] != "snapshot" {
		t.Errorf("callOrder = %v, want [init snapshot] (Start must call init exactly once)", got)
	}
}

// TestFromSnapshotRestoreWinsOverInit verifies the host-side contract
// spec.md §4.6 calls "restore authoritative": init() runs first to rebuild
// any static tables, then restore() runs and its state is what the algorithm
// reports afterward — not whatever init alone would have produced.
func TestFromSnapshotRestoreWinsOverInit(t *testing.T) {
	t.Parallel()

	instance := &fakeGuestInstance{
		initResult: `{"orders":[],"logs":[],"completed":true}`,
	}
	engine := &fakeEngine{instance: instance}

	state := WasmAlgorithmState{
		Plugin:        PluginInitContext{Plugin: "trend_follower"},
		PluginState:   []byte(`{"phase":"working"}`),
		Status:        core.AlgoWorking,
		NextClientSeq: 3,
	}

	algoID := uuid.New()
	algo, err := FromSnapshot(context.Background(), engine, algoID, state)
	if err != nil {
		t.Fatalf("FromSnapshot = %v", err)
	}

	if got := instance.callOrder(); len(got) != 2 || got[0] != "init" || got[1] != "restore" {
		t.Fatalf("callOrder = %v, want [init restore]", got)
	}
	if len(instance.restoreArgs) != 1 || instance.restoreArgs[0] != `{"phase":"working"}` {
		t.Errorf("restoreArgs = %v, want [{\"phase\":\"working\"}]", instance.restoreArgs)
	}

	// init()'s PluginResult reported Completed:true, but restore() is
	// authoritative — the algorithm must reflect the snapshot's status, not
	// init's, and must resume issuing sequenced client-order-ids from where
	// the snapshot left off.
	if algo.Status() != core.AlgoWorking {
		t.Errorf("Status() = %s, want WORKING (restore must win over init's completed result)", algo.Status())
	}
	if algo.ID() != algoID {
		t.Errorf("ID() = %s, want %s", algo.ID(), algoID)
	}

	req := core.OrderRequest{}
	algo.ensureClientID(&req)
	if want := fmt.Sprintf("plugin-%s-0004", simpleUUID(algoID)); req.ClientOrderID != want {
		t.Errorf("ClientOrderID = %s, want %s (must continue from restored NextClientSeq)", req.ClientOrderID, want)
	}
}

func TestFromSnapshotPropagatesRestoreProtocolError(t *testing.T) {
	t.Parallel()

	instance := &fakeGuestInstance{restoreErr: errors.New("guest rejected state")}
	engine := &fakeEngine{instance: instance}

	_, err := FromSnapshot(context.Background(), engine, uuid.New(), WasmAlgorithmState{
		Plugin: PluginInitContext{Plugin: "trend_follower"},
	})
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Call != "restore" {
		t.Errorf("FromSnapshot err = %v, want *ProtocolError{Call: restore}", err)
	}
}

func TestOnFillDrivesGuestAndRefreshesSnapshot(t *testing.T) {
	t.Parallel()

	instance := &fakeGuestInstance{}
	engine := &fakeEngine{instance: instance}

	algo, err := New(context.Background(), engine, uuid.New(), PluginInitContext{Plugin: "trend_follower"})
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	if _, err := algo.Start(context.Background()); err != nil {
		t.Fatalf("Start = %v", err)
	}

	if _, err := algo.OnFill(context.Background(), core.Fill{OrderID: "order-1", Symbol: "BTCUSDT"}); err != nil {
		t.Fatalf("OnFill = %v", err)
	}

	got := instance.callOrder()
	want := []string{"init", "snapshot", "on_fill", "snapshot"}
	if len(got) != len(want) {
		t.Fatalf("callOrder = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("callOrder = %v, want %v", got, want)
		}
	}

	payload, err := algo.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot = %v", err)
	}
	if len(payload) == 0 {
		t.Error("Snapshot() returned empty payload")
	}
}
