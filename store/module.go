package store

import (
	"context"

	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/kernel"
)

// ModuleID is the Persistent Store's registration name with the kernel
// (spec §4.G).
const ModuleID common.ModuleID = "store"

// Module wraps a *Store as a kernel.Module: Init opens the backend, Stop
// disposes it. Grounded on azcopy's ste/mgr-JobPartMgr.go start/shutdown
// pairing, one level up at the kernel component boundary.
type Module struct {
	Store *Store
}

// NewModule builds the kernel-registrable wrapper around a freshly
// constructed, not-yet-open Store.
func NewModule(backend Backend, cfg Config, logger common.ILogger) *Module {
	return &Module{Store: New(backend, cfg, logger)}
}

func (m *Module) ID() common.ModuleID             { return ModuleID }
func (m *Module) DependsOn() []common.ModuleID    { return nil }
func (m *Module) Init(ctx context.Context, k *kernel.Kernel) error {
	return m.Store.Open()
}
func (m *Module) Start(ctx context.Context) error { return nil }
func (m *Module) Stop(ctx context.Context) error  { return m.Store.Dispose() }
