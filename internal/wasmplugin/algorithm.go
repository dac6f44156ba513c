// algorithm.go implements WasmAlgorithm: an orchestrator.Algorithm backed by
// a sandboxed guest instance.
//
// Grounded on original_source/tesser-execution/src/wasm/adapter.rs's
// WasmAlgorithm/WasmAlgorithmState/PluginProtocolError handling, translated
// from a Mutex<WasmInstance> field to the Instance type's own internal
// mutex (instance.go), since wazero's api.Module is not safe for unordered
// concurrent calls either.
package wasmplugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tesserun/internal/core"
)

// Kind is the snapshot/factory-registry key for algorithms whose plugin
// name is not yet known to the caller. WasmAlgorithm.Kind() itself returns
// the specific plugin name (e.g. "trend_follower"), since a process may
// host several distinct plugins and the orchestrator dispatches Submit and
// RestoreAll by that name, not by a single shared constant.
const Kind = "WASM_PLUGIN"

// ProtocolError reports a malformed guest response: missing required
// fields, or JSON the host cannot decode as PluginResult. Per spec.md §4.6,
// a ProtocolError moves the algorithm to Failed.
type ProtocolError struct {
	AlgoID uuid.UUID
	Call   string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wasm plugin protocol error: algo=%s call=%s: %v", e.AlgoID, e.Call, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// guestInstance is the sandboxed-call surface WasmAlgorithm drives. Satisfied
// by *Instance; extracted so tests can substitute a fake guest without a
// compiled .wasm binary.
type guestInstance interface {
	CallInit(ctx context.Context, ctxJSON string) (string, error)
	CallOnTick(ctx context.Context, tickJSON string) (string, error)
	CallOnFill(ctx context.Context, fillJSON string) (string, error)
	CallOnTimer(ctx context.Context) (string, error)
	CallSnapshot(ctx context.Context) (string, error)
	CallRestore(ctx context.Context, stateJSON string) error
}

// instantiator builds a guestInstance for a named plugin. Satisfied by
// *Engine; extracted for the same reason as guestInstance.
type instantiator interface {
	Instantiate(ctx context.Context, name string) (guestInstance, error)
}

// WasmAlgorithmState is the serializable snapshot payload for a
// plugin-backed algorithm: the init context plus whatever opaque state the
// guest itself returned from its last snapshot() call.
type WasmAlgorithmState struct {
	Plugin        PluginInitContext `json:"plugin"`
	PluginState   json.RawMessage   `json:"plugin_state"`
	Status        core.AlgoStatus   `json:"status"`
	NextClientSeq uint32            `json:"next_client_seq"`
}

// WasmAlgorithm wraps a single sandboxed guest instance behind the
// orchestrator's Algorithm contract. Not safe for concurrent calls from
// multiple goroutines — the orchestrator serializes all callbacks to one
// algorithm by construction (spec.md §5).
type WasmAlgorithm struct {
	id            uuid.UUID
	status        core.AlgoStatus
	started       bool
	instance      guestInstance
	context       PluginInitContext
	pluginState   json.RawMessage
	nextClientSeq uint32
}

// New builds a fresh WasmAlgorithm under algoID, instantiating a new sandbox
// from the engine for the plugin named in pluginCtx.Plugin. algoID is
// assigned by the caller (the orchestrator) so the order_id->algo_id index
// and the snapshot key agree from the first callback onward.
func New(ctx context.Context, engine instantiator, algoID uuid.UUID, pluginCtx PluginInitContext) (*WasmAlgorithm, error) {
	instance, err := engine.Instantiate(ctx, pluginCtx.Plugin)
	if err != nil {
		return nil, fmt.Errorf("instantiate plugin %s: %w", pluginCtx.Plugin, err)
	}
	return &WasmAlgorithm{
		id:          algoID,
		status:      core.AlgoWorking,
		instance:    instance,
		context:     pluginCtx,
		pluginState: json.RawMessage("null"),
	}, nil
}

// ContextFromSignal builds a PluginInitContext for a freshly submitted
// algorithm from the signal that spawned it.
func ContextFromSignal(pluginName string, params map[string]any, signal core.Signal, totalQuantity decimal.Decimal, riskCtx core.RiskContext) (PluginInitContext, error) {
	return contextFromSignal(pluginName, params, signal, totalQuantity, riskCtx)
}

// FromSnapshot instantiates a fresh sandbox and restores it from a prior
// snapshot: init() rebuilds any static tables, then restore() is
// authoritative over whatever init produced.
func FromSnapshot(ctx context.Context, engine instantiator, algoID uuid.UUID, state WasmAlgorithmState) (*WasmAlgorithm, error) {
	instance, err := engine.Instantiate(ctx, state.Plugin.Plugin)
	if err != nil {
		return nil, fmt.Errorf("instantiate plugin %s: %w", state.Plugin.Plugin, err)
	}

	ctxJSON, err := json.Marshal(state.Plugin)
	if err != nil {
		return nil, fmt.Errorf("marshal plugin context: %w", err)
	}
	if _, err := instance.CallInit(ctx, string(ctxJSON)); err != nil {
		return nil, &ProtocolError{AlgoID: algoID, Call: "init", Err: err}
	}

	stateJSON := state.PluginState
	if len(stateJSON) == 0 {
		stateJSON = json.RawMessage("null")
	}
	if err := instance.CallRestore(ctx, string(stateJSON)); err != nil {
		return nil, &ProtocolError{AlgoID: algoID, Call: "restore", Err: err}
	}

	return &WasmAlgorithm{
		id:            algoID,
		status:        state.Status,
		started:       true,
		instance:      instance,
		context:       state.Plugin,
		pluginState:   state.PluginState,
		nextClientSeq: state.NextClientSeq,
	}, nil
}

// Kind implements orchestrator.Algorithm, returning the plugin name this
// algorithm instance was built from — the factory-registry and snapshot
// key a process with multiple plugins dispatches on.
func (w *WasmAlgorithm) Kind() string { return w.context.Plugin }

// ID implements orchestrator.Algorithm.
func (w *WasmAlgorithm) ID() uuid.UUID { return w.id }

// Status implements orchestrator.Algorithm.
func (w *WasmAlgorithm) Status() core.AlgoStatus { return w.status }

// Start implements orchestrator.Algorithm: calls the guest's init entry
// point exactly once per algorithm lifetime.
func (w *WasmAlgorithm) Start(ctx context.Context) ([]core.ChildOrderRequest, error) {
	if w.started {
		return nil, nil
	}
	ctxJSON, err := json.Marshal(w.context)
	if err != nil {
		return nil, fmt.Errorf("marshal plugin context: %w", err)
	}
	raw, err := w.instance.CallInit(ctx, string(ctxJSON))
	if err != nil {
		w.status = core.AlgoFailed
		return nil, &ProtocolError{AlgoID: w.id, Call: "init", Err: err}
	}
	orders, err := w.decodeResult(ctx, "init", raw)
	if err != nil {
		return nil, err
	}
	w.started = true
	return orders, nil
}

// OnTick implements orchestrator.Algorithm.
func (w *WasmAlgorithm) OnTick(ctx context.Context, tick core.Tick) ([]core.ChildOrderRequest, error) {
	payload, err := json.Marshal(toPluginTick(tick))
	if err != nil {
		return nil, fmt.Errorf("marshal tick: %w", err)
	}
	raw, err := w.instance.CallOnTick(ctx, string(payload))
	if err != nil {
		w.status = core.AlgoFailed
		return nil, &ProtocolError{AlgoID: w.id, Call: "on_tick", Err: err}
	}
	return w.decodeResult(ctx, "on_tick", raw)
}

// OnFill implements orchestrator.Algorithm.
func (w *WasmAlgorithm) OnFill(ctx context.Context, fill core.Fill) ([]core.ChildOrderRequest, error) {
	payload, err := json.Marshal(toPluginFill(fill))
	if err != nil {
		return nil, fmt.Errorf("marshal fill: %w", err)
	}
	raw, err := w.instance.CallOnFill(ctx, string(payload))
	if err != nil {
		w.status = core.AlgoFailed
		return nil, &ProtocolError{AlgoID: w.id, Call: "on_fill", Err: err}
	}
	return w.decodeResult(ctx, "on_fill", raw)
}

// OnTimer implements orchestrator.Algorithm.
func (w *WasmAlgorithm) OnTimer(ctx context.Context) ([]core.ChildOrderRequest, error) {
	raw, err := w.instance.CallOnTimer(ctx)
	if err != nil {
		w.status = core.AlgoFailed
		return nil, &ProtocolError{AlgoID: w.id, Call: "on_timer", Err: err}
	}
	return w.decodeResult(ctx, "on_timer", raw)
}

// Cancel implements orchestrator.Algorithm. It is a pure status transition —
// the guest is not called; outstanding child orders are cancelled by the
// orchestrator at the broker layer.
func (w *WasmAlgorithm) Cancel(ctx context.Context) error {
	w.status = core.AlgoCancelled
	return nil
}

// Snapshot implements orchestrator.Algorithm: returns the opaque payload
// bytes the repository should persist for this algorithm.
func (w *WasmAlgorithm) Snapshot() ([]byte, error) {
	state := WasmAlgorithmState{
		Plugin:        w.context,
		PluginState:   w.pluginState,
		Status:        w.status,
		NextClientSeq: w.nextClientSeq,
	}
	return json.Marshal(state)
}

// decodeResult parses a PluginResult, refreshes the cached plugin state via
// a snapshot() call, and maps the guest's orders into ChildOrderRequests.
// Unrecognized PluginResult fields are ignored (json.Unmarshal's default
// behavior); a body that fails to decode at all is a ProtocolError.
func (w *WasmAlgorithm) decodeResult(ctx context.Context, call, raw string) ([]core.ChildOrderRequest, error) {
	var result PluginResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		w.status = core.AlgoFailed
		return nil, &ProtocolError{AlgoID: w.id, Call: call, Err: err}
	}

	if result.Completed {
		w.status = core.AlgoCompleted
	} else if w.status != core.AlgoFailed {
		w.status = core.AlgoWorking
	}

	orders := make([]core.ChildOrderRequest, 0, len(result.Orders))
	for _, req := range result.Orders {
		child, err := w.buildChildRequest(req)
		if err != nil {
			w.status = core.AlgoFailed
			return nil, &ProtocolError{AlgoID: w.id, Call: call, Err: err}
		}
		orders = append(orders, child)
	}

	if err := w.refreshSnapshot(ctx); err != nil {
		w.status = core.AlgoFailed
		return nil, &ProtocolError{AlgoID: w.id, Call: "snapshot", Err: err}
	}

	return orders, nil
}

func (w *WasmAlgorithm) refreshSnapshot(ctx context.Context) error {
	raw, err := w.instance.CallSnapshot(ctx)
	if err != nil {
		return err
	}
	if raw == "" {
		raw = "null"
	}
	w.pluginState = json.RawMessage(raw)
	return nil
}

func (w *WasmAlgorithm) buildChildRequest(req PluginChildOrderRequest) (core.ChildOrderRequest, error) {
	switch req.Action {
	case PluginActionPlace:
		if req.Place == nil {
			return core.ChildOrderRequest{}, fmt.Errorf("place action missing request body")
		}
		order, err := convertOrderRequest(*req.Place)
		if err != nil {
			return core.ChildOrderRequest{}, err
		}
		w.ensureClientID(&order)
		return core.ChildOrderRequest{ParentAlgoID: w.id, Action: core.ActionPlace, Place: &order}, nil
	case PluginActionAmend:
		if req.Amend == nil {
			return core.ChildOrderRequest{}, fmt.Errorf("amend action missing request body")
		}
		update, err := convertOrderUpdate(*req.Amend)
		if err != nil {
			return core.ChildOrderRequest{}, err
		}
		return core.ChildOrderRequest{ParentAlgoID: w.id, Action: core.ActionAmend, Amend: &update}, nil
	default:
		return core.ChildOrderRequest{}, fmt.Errorf("unrecognized plugin action %q", req.Action)
	}
}

// ensureClientID assigns a deterministic, sequence-numbered client order id
// when the guest omits one, guaranteeing idempotent replacement on restart:
// the counter is persisted in the snapshot, so it is never reused.
func (w *WasmAlgorithm) ensureClientID(order *core.OrderRequest) {
	if order.ClientOrderID != "" {
		return
	}
	w.nextClientSeq++
	order.ClientOrderID = fmt.Sprintf("plugin-%s-%04d", simpleUUID(w.id), w.nextClientSeq)
}

// KnownOrderIDs implements orchestrator.Algorithm: it reconstructs every
// client-order-id this algorithm has ever assigned from its sequence
// counter, with no dependency on a persisted list — the same determinism
// ensureClientID relies on to never reuse an id after restore.
func (w *WasmAlgorithm) KnownOrderIDs() []string {
	ids := make([]string, 0, w.nextClientSeq)
	for seq := uint32(1); seq <= w.nextClientSeq; seq++ {
		ids = append(ids, fmt.Sprintf("plugin-%s-%04d", simpleUUID(w.id), seq))
	}
	return ids
}

// simpleUUID renders a UUID without hyphens, matching Rust's Uuid::simple().
func simpleUUID(id uuid.UUID) string {
	b := [32]byte{}
	const hex = "0123456789abcdef"
	raw := id[:]
	for i, v := range raw {
		b[i*2] = hex[v>>4]
		b[i*2+1] = hex[v&0x0f]
	}
	return string(b[:])
}
