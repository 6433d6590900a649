package compression

import (
	"context"

	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/kernel"
	"github.com/filechunkpro/filechunk-pro/store"
)

// ModuleID is the Adaptive Compression module's registration name with
// the kernel (spec §4.G).
const ModuleID common.ModuleID = "compression"

// Module wraps the compression package's three collaborators (the
// cross-session Stats, and the process-lifetime Network/Device telemetry)
// as a single kernel.Module, persisted through the store module.
type Module struct {
	Stats    *Stats
	Network  *NetworkTelemetry
	Device   *DeviceTelemetry
	storeDep *store.Store
}

// NewModule builds the wrapper. st must belong to the already-registered
// store module; this module depends on it starting first.
func NewModule(st *store.Store, logger common.ILogger) *Module {
	return &Module{
		Stats:    NewStats(st, logger),
		Network:  &NetworkTelemetry{},
		storeDep: st,
	}
}

func (m *Module) ID() common.ModuleID          { return ModuleID }
func (m *Module) DependsOn() []common.ModuleID { return []common.ModuleID{store.ModuleID} }

func (m *Module) Init(ctx context.Context, k *kernel.Kernel) error {
	m.Device = NewDeviceTelemetry()
	return nil
}

func (m *Module) Start(ctx context.Context) error { return nil }

func (m *Module) Stop(ctx context.Context) error {
	m.Stats.Flush()
	return nil
}
