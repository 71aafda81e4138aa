// Package performance provides the virtual users, the per-scenario VU pool
// and the iteration runner shared by every executor.
package performance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is in the pool, ready to be claimed.
	VUStateIdle VUState = iota
	// VUStateStarting indicates the VU was claimed but has not run yet.
	VUStateStarting
	// VUStateRunning indicates the VU is running iterations.
	VUStateRunning
	// VUStateStopping indicates the VU will stop at its next iteration boundary.
	VUStateStopping
	// VUStateStopped indicates the VU has left its run loop.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateStarting:
		return "starting"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Transport is the per-VU request layer an iteration body may use. It is
// owned by the VU for its whole life.
type Transport interface {
	// NewIteration resets per-iteration state such as cookies.
	NewIteration()
	// Close releases connections.
	Close()
}

// TransportFactory creates the transport for a new VU. It may return nil.
type TransportFactory func(vuID int) Transport

// VirtualUser is one independent thread of control executing iterations.
//
// State changes go through compare-and-swap so that the scheduler (asking a
// VU to stop or reviving it) and the VU itself (confirming the stop at an
// iteration boundary) never race each other into an inconsistent state.
type VirtualUser struct {
	// ID is unique within the scenario, starting at 1.
	ID int

	// Scenario is the owning scenario's name.
	Scenario string

	// Transport is the VU's request layer, nil when none is configured.
	Transport Transport

	state     atomic.Int32
	iteration atomic.Int64
	stopGen   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewVirtualUser creates an idle VU.
func NewVirtualUser(id int, scenario string, transport Transport) *VirtualUser {
	return &VirtualUser{ID: id, Scenario: scenario, Transport: transport}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns how many iterations this VU has started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iteration.Load()
}

func (vu *VirtualUser) nextIteration() int64 {
	return vu.iteration.Add(1) - 1
}

// Activate moves an idle VU to Starting and derives the context its
// iterations run on. Cancelling that context is a hard stop.
func (vu *VirtualUser) Activate(parent context.Context) (context.Context, error) {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStarting)) {
		return nil, fmt.Errorf("VU %d cannot start from state %s", vu.ID, vu.State())
	}
	ctx, cancel := context.WithCancel(parent)
	vu.mu.Lock()
	vu.cancel = cancel
	vu.mu.Unlock()
	return ctx, nil
}

// MarkRunning moves a starting VU to Running.
func (vu *VirtualUser) MarkRunning() bool {
	return vu.state.CompareAndSwap(int32(VUStateStarting), int32(VUStateRunning))
}

// RequestStop asks the VU to stop at its next iteration boundary. The
// returned generation identifies this request for HardStopIf.
func (vu *VirtualUser) RequestStop() (int64, bool) {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateStarting), int32(VUStateStopping)) {
		return vu.stopGen.Add(1), true
	}
	return 0, false
}

// Revive cancels a pending stop request if the VU has not confirmed it yet.
func (vu *VirtualUser) Revive() bool {
	return vu.state.CompareAndSwap(int32(VUStateStopping), int32(VUStateRunning))
}

// ConfirmStop accepts a pending stop request. It fails when the request was
// revived in the meantime, in which case the VU keeps running.
func (vu *VirtualUser) ConfirmStop() bool {
	return vu.state.CompareAndSwap(int32(VUStateStopping), int32(VUStateStopped))
}

// StopRequested reports whether the VU should leave its loop.
func (vu *VirtualUser) StopRequested() bool {
	return vu.State() == VUStateStopping
}

// HardStop interrupts the VU mid-iteration.
func (vu *VirtualUser) HardStop() {
	vu.mu.Lock()
	cancel := vu.cancel
	vu.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HardStopIf interrupts the VU only if it is still stopping because of the
// request identified by gen, so a stale grace timer cannot kill a VU that
// was revived and stopped again later.
func (vu *VirtualUser) HardStopIf(gen int64) bool {
	if vu.State() != VUStateStopping || vu.stopGen.Load() != gen {
		return false
	}
	vu.HardStop()
	return true
}

// Deactivate marks the VU stopped and releases its iteration context. It is
// called by the VU's own goroutine when it leaves the run loop.
func (vu *VirtualUser) Deactivate() {
	vu.state.Store(int32(VUStateStopped))
	vu.HardStop()
	vu.mu.Lock()
	vu.cancel = nil
	vu.mu.Unlock()
}

func (vu *VirtualUser) reset() {
	vu.state.Store(int32(VUStateIdle))
}
