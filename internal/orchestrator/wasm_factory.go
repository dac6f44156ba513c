package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tesserun/internal/core"
	"tesserun/internal/wasmplugin"
)

// WasmFactory adapts wasmplugin.WasmAlgorithm to the Factory contract for
// one named plugin binary. One WasmFactory is registered per plugin name
// (e.g. "trend_follower") against the shared wasmplugin.Engine.
type WasmFactory struct {
	Engine     *wasmplugin.Engine
	PluginName string
	Params     map[string]any
}

// New implements Factory.
func (f *WasmFactory) New(ctx context.Context, algoID uuid.UUID, signal core.Signal, totalQuantity decimal.Decimal, riskCtx core.RiskContext) (Algorithm, error) {
	pluginCtx, err := wasmplugin.ContextFromSignal(f.PluginName, f.Params, signal, totalQuantity, riskCtx)
	if err != nil {
		return nil, fmt.Errorf("build plugin context: %w", err)
	}
	return wasmplugin.New(ctx, f.Engine, algoID, pluginCtx)
}

// Restore implements Factory.
func (f *WasmFactory) Restore(ctx context.Context, algoID uuid.UUID, payload []byte) (Algorithm, error) {
	var state wasmplugin.WasmAlgorithmState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("unmarshal wasm algorithm state: %w", err)
	}
	return wasmplugin.FromSnapshot(ctx, f.Engine, algoID, state)
}
