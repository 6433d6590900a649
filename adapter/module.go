package adapter

import (
	"context"

	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/kernel"
)

// ModuleID is the Platform Adapter's registration name with the kernel
// (spec §4.G). It has no dependencies of its own; the hashpool module
// depends on it.
const ModuleID common.ModuleID = "adapter"

// Module wraps an Adapter as a kernel.Module. Probing and instantiation
// both happen before registration (the host decides kv/fs/timeout), so
// Init/Start/Stop have nothing left to do beyond satisfying the interface.
type Module struct {
	Adapter Adapter
}

func NewModule(a Adapter) *Module {
	return &Module{Adapter: a}
}

func (m *Module) ID() common.ModuleID                               { return ModuleID }
func (m *Module) DependsOn() []common.ModuleID                      { return nil }
func (m *Module) Init(ctx context.Context, k *kernel.Kernel) error  { return nil }
func (m *Module) Start(ctx context.Context) error                   { return nil }
func (m *Module) Stop(ctx context.Context) error                    { return nil }
