// instance.go implements the host side of the guest calling convention: JSON
// payloads cross the WASM boundary as (ptr, len) pairs into guest linear
// memory, allocated by the guest's own exported `alloc`/`dealloc` and
// returned packed as a single i64 (`ptr<<32 | len`) — the common ABI for
// string-passing WASM guests (TinyGo, wasm-bindgen-style toolchains).
package wasmplugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// Instance is a single sandboxed guest module instance, safe for use by
// exactly one algorithm. All calls are serialized by mu — the guest is
// single-threaded and must never be reentered.
type Instance struct {
	mod api.Module
	mu  sync.Mutex

	alloc   api.Function
	dealloc api.Function
	fnInit  api.Function
	fnTick  api.Function
	fnFill  api.Function
	fnTimer api.Function
	fnSnap  api.Function
	fnRest  api.Function
}

func newInstance(mod api.Module) *Instance {
	return &Instance{
		mod:     mod,
		alloc:   mod.ExportedFunction("alloc"),
		dealloc: mod.ExportedFunction("dealloc"),
		fnInit:  mod.ExportedFunction("init"),
		fnTick:  mod.ExportedFunction("on_tick"),
		fnFill:  mod.ExportedFunction("on_fill"),
		fnTimer: mod.ExportedFunction("on_timer"),
		fnSnap:  mod.ExportedFunction("snapshot"),
		fnRest:  mod.ExportedFunction("restore"),
	}
}

// Close tears down the underlying module.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// CallInit invokes the guest's init entry point with ctxJSON and returns its
// raw JSON result.
func (i *Instance) CallInit(ctx context.Context, ctxJSON string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.callWithString(ctx, i.fnInit, ctxJSON)
}

// CallOnTick invokes the guest's on_tick entry point.
func (i *Instance) CallOnTick(ctx context.Context, tickJSON string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.callWithString(ctx, i.fnTick, tickJSON)
}

// CallOnFill invokes the guest's on_fill entry point.
func (i *Instance) CallOnFill(ctx context.Context, fillJSON string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.callWithString(ctx, i.fnFill, fillJSON)
}

// CallOnTimer invokes the guest's on_timer entry point (no input payload).
func (i *Instance) CallOnTimer(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	results, err := i.fnTimer.Call(ctx)
	if err != nil {
		return "", fmt.Errorf("call on_timer: %w", err)
	}
	return i.readPacked(results[0])
}

// CallSnapshot invokes the guest's snapshot entry point.
func (i *Instance) CallSnapshot(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	results, err := i.fnSnap.Call(ctx)
	if err != nil {
		return "", fmt.Errorf("call snapshot: %w", err)
	}
	return i.readPacked(results[0])
}

// CallRestore invokes the guest's restore entry point with the previously
// captured state JSON.
func (i *Instance) CallRestore(ctx context.Context, stateJSON string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, err := i.callWithString(ctx, i.fnRest, stateJSON)
	return err
}

// callWithString writes payload into guest memory via alloc, invokes fn
// with (ptr, len), frees the input buffer, and decodes the packed result.
func (i *Instance) callWithString(ctx context.Context, fn api.Function, payload string) (string, error) {
	ptr, length, err := i.writeString(ctx, payload)
	if err != nil {
		return "", err
	}
	results, err := fn.Call(ctx, uint64(ptr), uint64(length))
	if i.dealloc != nil {
		i.dealloc.Call(ctx, uint64(ptr), uint64(length))
	}
	if err != nil {
		return "", fmt.Errorf("call guest function: %w", err)
	}
	return i.readPacked(results[0])
}

func (i *Instance) writeString(ctx context.Context, s string) (uint32, uint32, error) {
	if i.alloc == nil {
		return 0, 0, fmt.Errorf("guest does not export alloc")
	}
	length := uint32(len(s))
	results, err := i.alloc.Call(ctx, uint64(length))
	if err != nil {
		return 0, 0, fmt.Errorf("guest alloc: %w", err)
	}
	ptr := uint32(results[0])
	if !i.mod.Memory().Write(ptr, []byte(s)) {
		return 0, 0, fmt.Errorf("write %d bytes at offset %d: out of memory bounds", length, ptr)
	}
	return ptr, length, nil
}

// readPacked unpacks a guest return value of the form (ptr<<32 | len) and
// reads the resulting JSON string out of guest memory.
func (i *Instance) readPacked(packed uint64) (string, error) {
	ptr := uint32(packed >> 32)
	length := uint32(packed)
	if length == 0 {
		return "", nil
	}
	data, ok := i.mod.Memory().Read(ptr, length)
	if !ok {
		return "", fmt.Errorf("read %d bytes at offset %d: out of memory bounds", length, ptr)
	}
	return string(data), nil
}
