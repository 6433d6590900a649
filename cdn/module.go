package cdn

import (
	"context"

	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/kernel"
)

// ModuleID is the CDN/Endpoint Connector's registration name with the
// kernel (spec §4.G).
const ModuleID common.ModuleID = "cdn"

// Module wraps a *Connector as a kernel.Module: Start launches the health
// and recovery loops for the module's lifetime, Stop cancels them.
type Module struct {
	Connector *Connector
	cancel    context.CancelFunc
}

func NewModule(c *Connector) *Module {
	return &Module{Connector: c}
}

func (m *Module) ID() common.ModuleID             { return ModuleID }
func (m *Module) DependsOn() []common.ModuleID    { return nil }
func (m *Module) Init(ctx context.Context, k *kernel.Kernel) error { return nil }

func (m *Module) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.Connector.RunHealthLoop(loopCtx)
	go m.Connector.RunRecoveryLoop(loopCtx)
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}
