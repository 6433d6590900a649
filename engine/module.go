package engine

import (
	"context"

	"github.com/filechunkpro/filechunk-pro/cdn"
	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/kernel"
	"github.com/filechunkpro/filechunk-pro/store"
)

// ModuleID is the Upload Engine's registration name with the kernel
// (spec §4.G).
const ModuleID common.ModuleID = "engine"

// Module wraps an *Engine as a kernel.Module. The engine itself has no
// background loop of its own -- every Upload/Resume/Pause/Cancel call is
// driven by a host (the CLI, or an embedding application), so Start and
// Stop are no-ops beyond declaring the dependency edges that must be
// RUNNING first.
type Module struct {
	Engine *Engine
}

// NewModule wraps an already-constructed Engine (built via engine.New,
// which needs a concrete adapter.Transport and the other component
// handles directly) for kernel registration.
func NewModule(e *Engine) *Module {
	return &Module{Engine: e}
}

func (m *Module) ID() common.ModuleID { return ModuleID }

func (m *Module) DependsOn() []common.ModuleID {
	deps := []common.ModuleID{store.ModuleID}
	if m.Engine.cdnConn != nil {
		deps = append(deps, cdn.ModuleID)
	}
	return deps
}

func (m *Module) Init(ctx context.Context, k *kernel.Kernel) error { return nil }
func (m *Module) Start(ctx context.Context) error                  { return nil }
func (m *Module) Stop(ctx context.Context) error                   { return nil }
