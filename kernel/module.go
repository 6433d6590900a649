// Package kernel implements the microkernel described in spec §4.G:
// module registration, dependency-ordered lifecycle, and a synchronous
// typed event bus. Grounded on azcopy's ste job/job-part manager
// start/stop sequencing discipline (ste/mgr-JobMgr.go, ste/mgr-JobPartMgr.go)
// and tenzoki-agen's cellorg orchestrator module registry.
package kernel

import (
	"context"

	"github.com/filechunkpro/filechunk-pro/common"
)

// ModuleState is the module lifecycle's state machine, spec §4.G:
// REGISTERED → INITIALIZING → INITIALIZED → STARTING → RUNNING →
// STOPPING → STOPPED; ERROR from any state.
type ModuleState uint8

var EModuleState = ModuleState(0)

func (ModuleState) Registered() ModuleState   { return ModuleState(0) }
func (ModuleState) Initializing() ModuleState { return ModuleState(1) }
func (ModuleState) Initialized() ModuleState  { return ModuleState(2) }
func (ModuleState) Starting() ModuleState     { return ModuleState(3) }
func (ModuleState) Running() ModuleState      { return ModuleState(4) }
func (ModuleState) Stopping() ModuleState     { return ModuleState(5) }
func (ModuleState) Stopped() ModuleState      { return ModuleState(6) }
func (ModuleState) Error() ModuleState        { return ModuleState(7) }

func (s ModuleState) String() string { return common.EnumString(s) }

// Module is anything the kernel can register, order, and drive through
// the lifecycle above. Components A-F each implement this so the kernel
// can own their handles for their lifetime (spec §3 "Ownership").
type Module interface {
	ID() common.ModuleID
	// DependsOn returns the ids of modules that must reach RUNNING before
	// this module's Init is called.
	DependsOn() []common.ModuleID
	Init(ctx context.Context, k *Kernel) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// moduleRecord is the kernel's bookkeeping for one registered module,
// including the cause recorded when it entered ERROR. No accessor reads
// the cause back; Start's DEPENDENCY error only counts failed modules.
type moduleRecord struct {
	module Module
	state  ModuleState
	cause  error
}
