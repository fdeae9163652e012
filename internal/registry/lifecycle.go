package registry

import (
	"context"
	"sync"
)

// LayerRun identifies one layer synchronization within a batch run.
type LayerRun struct {
	RunID   string
	LayerID string
	Mode    string

	// From and To bound the incremental window; both are empty for full runs.
	From string
	To   string
}

// LifecycleHook defines a hook that is executed around each layer synchronization.
// Hooks are called synchronously by the synchronizer.
type LifecycleHook interface {
	// OnLayerStart is called before any source read for the layer.
	// If this hook returns an error, the layer is not synchronized.
	OnLayerStart(ctx context.Context, run LayerRun) error

	// OnLayerFinish is called after the layer completed or failed.
	// syncErr is the synchronization result; a hook error is logged, not propagated.
	OnLayerFinish(ctx context.Context, run LayerRun, syncErr error) error
}

// LifecycleHookFunc is a function type that implements LifecycleHook.
// This allows simple functions to be used as hooks without implementing the interface.
type LifecycleHookFunc struct {
	OnStartFunc  func(ctx context.Context, run LayerRun) error
	OnFinishFunc func(ctx context.Context, run LayerRun, syncErr error) error
}

// OnLayerStart calls the OnStartFunc if it's not nil.
func (f LifecycleHookFunc) OnLayerStart(ctx context.Context, run LayerRun) error {
	if f.OnStartFunc != nil {
		return f.OnStartFunc(ctx, run)
	}
	return nil
}

// OnLayerFinish calls the OnFinishFunc if it's not nil.
func (f LifecycleHookFunc) OnLayerFinish(ctx context.Context, run LayerRun, syncErr error) error {
	if f.OnFinishFunc != nil {
		return f.OnFinishFunc(ctx, run, syncErr)
	}
	return nil
}

// LifecycleManager manages lifecycle hooks for layer synchronizations.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		hooks: make([]LifecycleHook, 0),
	}
}

// RegisterHook registers a hook. Hooks are executed in the order they were registered.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

// snapshot copies the hook list so hooks run without holding the lock.
func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}

// ExecuteStartHooks executes all registered start hooks in order.
// If any hook returns an error, execution stops and the error is returned.
func (lm *LifecycleManager) ExecuteStartHooks(ctx context.Context, run LayerRun) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnLayerStart(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteFinishHooks executes every finish hook and returns the hook errors, if any.
func (lm *LifecycleManager) ExecuteFinishHooks(ctx context.Context, run LayerRun, syncErr error) []error {
	var errs []error
	for _, hook := range lm.snapshot() {
		if err := hook.OnLayerFinish(ctx, run, syncErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
