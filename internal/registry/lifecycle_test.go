package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager_Order(t *testing.T) {
	lm := NewLifecycleManager()
	var calls []string
	hook := func(name string) LifecycleHook {
		return LifecycleHookFunc{
			OnStartFunc: func(ctx context.Context, run LayerRun) error {
				calls = append(calls, name+":start:"+run.LayerID)
				return nil
			},
			OnFinishFunc: func(ctx context.Context, run LayerRun, syncErr error) error {
				calls = append(calls, name+":finish")
				return nil
			},
		}
	}
	lm.RegisterHook(hook("a"))
	lm.RegisterHook(hook("b"))
	assert.Equal(t, 2, lm.HookCount())

	run := LayerRun{RunID: "r1", LayerID: "v:x1", Mode: "full"}
	require.NoError(t, lm.ExecuteStartHooks(context.Background(), run))
	assert.Empty(t, lm.ExecuteFinishHooks(context.Background(), run, nil))
	assert.Equal(t, []string{"a:start:v:x1", "b:start:v:x1", "a:finish", "b:finish"}, calls)
}

func TestLifecycleManager_StartErrorStops(t *testing.T) {
	lm := NewLifecycleManager()
	refused := errors.New("ledger unavailable")
	var reached bool
	lm.RegisterHook(LifecycleHookFunc{OnStartFunc: func(ctx context.Context, run LayerRun) error { return refused }})
	lm.RegisterHook(LifecycleHookFunc{OnStartFunc: func(ctx context.Context, run LayerRun) error {
		reached = true
		return nil
	}})

	err := lm.ExecuteStartHooks(context.Background(), LayerRun{LayerID: "v:x1"})
	assert.ErrorIs(t, err, refused)
	assert.False(t, reached)
}

func TestLifecycleManager_FinishCollectsErrors(t *testing.T) {
	lm := NewLifecycleManager()
	var seen error
	syncErr := errors.New("write failed")
	lm.RegisterHook(LifecycleHookFunc{OnFinishFunc: func(ctx context.Context, run LayerRun, err error) error {
		return errors.New("first")
	}})
	lm.RegisterHook(LifecycleHookFunc{OnFinishFunc: func(ctx context.Context, run LayerRun, err error) error {
		seen = err
		return errors.New("second")
	}})
	lm.RegisterHook(LifecycleHookFunc{})

	errs := lm.ExecuteFinishHooks(context.Background(), LayerRun{LayerID: "v:x1"}, syncErr)
	assert.Len(t, errs, 2)
	assert.Equal(t, syncErr, seen)
}
