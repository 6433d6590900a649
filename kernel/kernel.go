package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/filechunkpro/filechunk-pro/common"
)

// Kernel is a per-instance microkernel: a factory produces one, never a
// process-global (spec §9 "Global mutable state" design note forbids a
// singleton worker-manager/registry).
type Kernel struct {
	mu      sync.RWMutex
	modules map[common.ModuleID]*moduleRecord
	order   []common.ModuleID // registration order, for deterministic iteration
	config  *common.ConfigStore
	bus     *EventBus
	logger  common.ILogger
}

// New constructs an empty kernel. Call Register for each module, then
// Start once all modules are registered.
func New(logger common.ILogger) *Kernel {
	if logger == nil {
		logger = common.NullLogger{}
	}
	return &Kernel{
		modules: make(map[common.ModuleID]*moduleRecord),
		config:  common.NewConfigStore(),
		bus:     NewEventBus(logger),
		logger:  logger,
	}
}

// Register adds a module in REGISTERED state. Returns a DEPENDENCY error
// if registering it would introduce a dependency cycle; spec §4.G: "cycles
// are rejected at register time with the offending path reported."
func (k *Kernel) Register(m Module) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := m.ID()
	if _, exists := k.modules[id]; exists {
		return common.NewError(common.ECode.Config(), fmt.Sprintf("module %q already registered", id), nil)
	}
	k.modules[id] = &moduleRecord{module: m, state: EModuleState.Registered()}
	k.order = append(k.order, id)

	if cyclePath, ok := k.findCycle(); ok {
		// undo the registration that introduced the cycle
		delete(k.modules, id)
		k.order = k.order[:len(k.order)-1]
		return common.NewError(common.ECode.Dependency(),
			fmt.Sprintf("dependency cycle detected: %v", cyclePath), nil)
	}
	return nil
}

// findCycle runs a depth-first traversal over the currently registered
// modules' DependsOn edges and returns the cycle path if one exists.
func (k *Kernel) findCycle() (path []common.ModuleID, found bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[common.ModuleID]int, len(k.modules))
	var stack []common.ModuleID

	var visit func(id common.ModuleID) bool
	visit = func(id common.ModuleID) bool {
		color[id] = gray
		stack = append(stack, id)

		rec, ok := k.modules[id]
		if ok {
			for _, dep := range rec.module.DependsOn() {
				switch color[dep] {
				case gray:
					// close the cycle starting at dep
					cycleStart := 0
					for i, s := range stack {
						if s == dep {
							cycleStart = i
							break
						}
					}
					path = append(append([]common.ModuleID{}, stack[cycleStart:]...), dep)
					return true
				case white:
					if _, registered := k.modules[dep]; registered && visit(dep) {
						return true
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range k.order {
		if color[id] == white {
			if visit(id) {
				return path, true
			}
		}
	}
	return nil, false
}

// topoLevels groups registered modules into dependency levels: level 0 has
// no dependencies, level N's modules depend only on modules in levels < N.
// Init/Start run sequentially within a level's iteration, matching spec
// §4.G: "Init and start are awaited sequentially within a dependency
// level."
func (k *Kernel) topoLevels() [][]common.ModuleID {
	depth := make(map[common.ModuleID]int, len(k.modules))
	var levelOf func(id common.ModuleID) int
	levelOf = func(id common.ModuleID) int {
		if d, ok := depth[id]; ok {
			return d
		}
		rec, ok := k.modules[id]
		if !ok {
			return 0
		}
		max := -1
		for _, dep := range rec.module.DependsOn() {
			if d := levelOf(dep); d > max {
				max = d
			}
		}
		depth[id] = max + 1
		return depth[id]
	}

	maxLevel := 0
	for _, id := range k.order {
		if d := levelOf(id); d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]common.ModuleID, maxLevel+1)
	for _, id := range k.order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// Start runs Init then Start for every registered module, level by level.
// A module whose Init fails is put into ERROR; its dependents are never
// started and are marked ERROR with a dependency-failed cause (spec §4.G,
// §7 "Kernel DEPENDENCY at start: dependents skipped and marked ERROR.").
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	levels := k.topoLevels()
	k.mu.Unlock()

	failed := make(map[common.ModuleID]bool)

	for _, level := range levels {
		for _, id := range level {
			k.mu.RLock()
			rec := k.modules[id]
			k.mu.RUnlock()

			blocked := false
			for _, dep := range rec.module.DependsOn() {
				if failed[dep] {
					blocked = true
					break
				}
			}
			if blocked {
				k.setState(id, EModuleState.Error(), common.NewError(common.ECode.Dependency(),
					fmt.Sprintf("dependency of %q failed to start", id), nil))
				failed[id] = true
				continue
			}

			if err := k.initAndStart(ctx, id, rec); err != nil {
				failed[id] = true
			}
		}
	}

	if len(failed) > 0 {
		return common.NewError(common.ECode.Dependency(), fmt.Sprintf("%d module(s) failed to start", len(failed)), nil)
	}
	return nil
}

func (k *Kernel) initAndStart(ctx context.Context, id common.ModuleID, rec *moduleRecord) error {
	k.setState(id, EModuleState.Initializing(), nil)
	if err := rec.module.Init(ctx, k); err != nil {
		k.setState(id, EModuleState.Error(), err)
		k.logger.Log(common.LogError, fmt.Sprintf("module %q failed to init: %v", id, err))
		return err
	}
	k.setState(id, EModuleState.Initialized(), nil)

	k.setState(id, EModuleState.Starting(), nil)
	if err := rec.module.Start(ctx); err != nil {
		k.setState(id, EModuleState.Error(), err)
		k.logger.Log(common.LogError, fmt.Sprintf("module %q failed to start: %v", id, err))
		return err
	}
	k.setState(id, EModuleState.Running(), nil)
	return nil
}

// Stop runs Stop on every RUNNING module in reverse dependency order.
func (k *Kernel) Stop(ctx context.Context) {
	k.mu.RLock()
	levels := k.topoLevels()
	k.mu.RUnlock()

	for i := len(levels) - 1; i >= 0; i-- {
		for _, id := range levels[i] {
			k.mu.RLock()
			rec := k.modules[id]
			k.mu.RUnlock()
			if rec.state != EModuleState.Running() {
				continue
			}
			k.setState(id, EModuleState.Stopping(), nil)
			if err := rec.module.Stop(ctx); err != nil {
				k.setState(id, EModuleState.Error(), err)
				k.logger.Log(common.LogError, fmt.Sprintf("module %q failed to stop: %v", id, err))
				continue
			}
			k.setState(id, EModuleState.Stopped(), nil)
		}
	}
}

func (k *Kernel) setState(id common.ModuleID, state ModuleState, cause error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if rec, ok := k.modules[id]; ok {
		rec.state = state
		rec.cause = cause
	}
}

// GetModule returns the registered module by id.
func (k *Kernel) GetModule(id common.ModuleID) (Module, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, ok := k.modules[id]
	if !ok {
		return nil, false
	}
	return rec.module, true
}

// State returns the current lifecycle state of a registered module.
func (k *Kernel) State(id common.ModuleID) (ModuleState, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, ok := k.modules[id]
	if !ok {
		return EModuleState.Error(), false
	}
	return rec.state, true
}

func (k *Kernel) Emit(event string, payload interface{}) { k.bus.Emit(event, payload) }

func (k *Kernel) On(event string, handler Handler) common.EventHandlerID { return k.bus.On(event, handler) }

func (k *Kernel) Off(event string, id common.EventHandlerID) { k.bus.Off(event, id) }

func (k *Kernel) SetConfig(path string, value interface{}) { k.config.Set(path, value) }

func (k *Kernel) GetConfig(path string) (interface{}, bool) { return k.config.Get(path) }

func (k *Kernel) Config() *common.ConfigStore { return k.config }
