package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filechunkpro/filechunk-pro/common"
)

type fakeModule struct {
	id        common.ModuleID
	deps      []common.ModuleID
	initErr   error
	started   bool
	stopped   bool
	initCalls *[]common.ModuleID
	stopCalls *[]common.ModuleID
}

func (f *fakeModule) ID() common.ModuleID              { return f.id }
func (f *fakeModule) DependsOn() []common.ModuleID     { return f.deps }
func (f *fakeModule) Init(ctx context.Context, k *Kernel) error {
	if f.initCalls != nil {
		*f.initCalls = append(*f.initCalls, f.id)
	}
	return f.initErr
}
func (f *fakeModule) Start(ctx context.Context) error { f.started = true; return nil }
func (f *fakeModule) Stop(ctx context.Context) error {
	f.stopped = true
	if f.stopCalls != nil {
		*f.stopCalls = append(*f.stopCalls, f.id)
	}
	return nil
}

func TestKernelStartsDependenciesBeforeDependents(t *testing.T) {
	var order []common.ModuleID
	a := &fakeModule{id: "a", initCalls: &order}
	b := &fakeModule{id: "b", deps: []common.ModuleID{"a"}, initCalls: &order}

	k := New(common.NullLogger{})
	require.NoError(t, k.Register(b))
	require.NoError(t, k.Register(a))
	require.NoError(t, k.Start(context.Background()))

	require.Len(t, order, 2)
	assert.Equal(t, common.ModuleID("a"), order[0])
	assert.Equal(t, common.ModuleID("b"), order[1])

	stateA, _ := k.State("a")
	stateB, _ := k.State("b")
	assert.Equal(t, EModuleState.Running(), stateA)
	assert.Equal(t, EModuleState.Running(), stateB)
}

func TestKernelRejectsDependencyCycles(t *testing.T) {
	a := &fakeModule{id: "a", deps: []common.ModuleID{"b"}}
	b := &fakeModule{id: "b", deps: []common.ModuleID{"a"}}

	k := New(common.NullLogger{})
	require.NoError(t, k.Register(a))
	err := k.Register(b)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ECode.Dependency()))
}

func TestKernelMarksDependentsErrorWhenDependencyInitFails(t *testing.T) {
	a := &fakeModule{id: "a", initErr: common.NewError(common.ECode.Config(), "bad config", nil)}
	b := &fakeModule{id: "b", deps: []common.ModuleID{"a"}}

	k := New(common.NullLogger{})
	require.NoError(t, k.Register(a))
	require.NoError(t, k.Register(b))

	err := k.Start(context.Background())
	require.Error(t, err)

	stateA, _ := k.State("a")
	stateB, _ := k.State("b")
	assert.Equal(t, EModuleState.Error(), stateA)
	assert.Equal(t, EModuleState.Error(), stateB)
	assert.False(t, b.started)
}

func TestKernelStopsInReverseDependencyOrder(t *testing.T) {
	var order []common.ModuleID
	a := &fakeModule{id: "a", stopCalls: &order}
	b := &fakeModule{id: "b", deps: []common.ModuleID{"a"}, stopCalls: &order}

	k := New(common.NullLogger{})
	require.NoError(t, k.Register(a))
	require.NoError(t, k.Register(b))
	require.NoError(t, k.Start(context.Background()))

	k.Stop(context.Background())

	assert.Equal(t, []common.ModuleID{"b", "a"}, order)
	stateA, _ := k.State("a")
	stateB, _ := k.State("b")
	assert.Equal(t, EModuleState.Stopped(), stateA)
	assert.Equal(t, EModuleState.Stopped(), stateB)
}

func TestEventBusDispatchesInRegistrationOrderAndSurvivesPanics(t *testing.T) {
	bus := NewEventBus(common.NullLogger{})
	var calls []int

	bus.On("topic", func(payload interface{}) { calls = append(calls, 1) })
	bus.On("topic", func(payload interface{}) { panic("boom") })
	bus.On("topic", func(payload interface{}) { calls = append(calls, 3) })

	bus.Emit("topic", nil)

	assert.Equal(t, []int{1, 3}, calls)
}

func TestEventBusOffRemovesHandler(t *testing.T) {
	bus := NewEventBus(common.NullLogger{})
	called := false
	id := bus.On("topic", func(payload interface{}) { called = true })
	bus.Off("topic", id)
	bus.Emit("topic", nil)
	assert.False(t, called)
}
