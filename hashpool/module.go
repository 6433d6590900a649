package hashpool

import (
	"context"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/kernel"
)

// ModuleID is the Hash Worker Pool's registration name with the kernel
// (spec §4.G).
const ModuleID common.ModuleID = "hashpool"

// Module wraps a *Pool as a kernel.Module. The pool is stateless across
// jobs (admission is via a semaphore, not a long-lived goroutine set), so
// Init, Start and Stop are no-ops; the dependency on the adapter module
// being RUNNING first is declared through DependsOn.
type Module struct {
	Pool *Pool
}

func NewModule(p *Pool) *Module {
	return &Module{Pool: p}
}

func (m *Module) ID() common.ModuleID          { return ModuleID }
func (m *Module) DependsOn() []common.ModuleID { return []common.ModuleID{adapter.ModuleID} }

func (m *Module) Init(ctx context.Context, k *kernel.Kernel) error { return nil }
func (m *Module) Start(ctx context.Context) error                  { return nil }
func (m *Module) Stop(ctx context.Context) error                   { return nil }
