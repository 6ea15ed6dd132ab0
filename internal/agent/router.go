package agent

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/nugget/hive-nexus/internal/conversation"
)

// Phase is a loop state.
type Phase string

// Loop phases.
const (
	PhasePlanning    Phase = "planning"
	PhaseDispatching Phase = "dispatching"
	PhaseReflecting  Phase = "reflecting"
	PhaseTerminated  Phase = "terminated"
)

// Transition names.
const (
	transDispatch  = "dispatch"
	transTerminate = "terminate"
	transReflect   = "reflect"
	transPlan      = "plan"
	transFail      = "fail"
)

// Decision is the router's verdict on the latest message.
type Decision int

const (
	// Terminate ends the run; the latest assistant text is the answer.
	Terminate Decision = iota
	// Dispatch runs the latest assistant message's tool calls.
	Dispatch
)

func (d Decision) String() string {
	if d == Dispatch {
		return "dispatch"
	}
	return "terminate"
}

// Route decides what follows the latest message. It looks at nothing
// else.
func Route(latest conversation.Message) Decision {
	if latest.HasToolCalls() {
		return Dispatch
	}
	return Terminate
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(PhasePlanning),
		fsm.Events{
			{Name: transDispatch, Src: []string{string(PhasePlanning)}, Dst: string(PhaseDispatching)},
			{Name: transTerminate, Src: []string{string(PhasePlanning)}, Dst: string(PhaseTerminated)},
			{Name: transReflect, Src: []string{string(PhaseDispatching)}, Dst: string(PhaseReflecting)},
			{Name: transPlan, Src: []string{string(PhaseReflecting)}, Dst: string(PhasePlanning)},
			{
				Name: transFail,
				Src:  []string{string(PhasePlanning), string(PhaseDispatching), string(PhaseReflecting)},
				Dst:  string(PhaseTerminated),
			},
		},
		fsm.Callbacks{},
	)
}

// transition fires name on the machine and emits the state change.
// The machine is driven with a context that ignores cancellation so a
// cancelled run can still reach terminated.
func (r *run) transition(name string) error {
	from := Phase(r.machine.Current())
	if err := r.machine.Event(context.WithoutCancel(r.callerCtx), name); err != nil {
		return fmt.Errorf("transition %s from %s: %w", name, from, err)
	}
	to := Phase(r.machine.Current())
	r.logger.Log(r.callerCtx, levelTrace, "state transition", "from", from, "to", to, "turn", r.turns)
	r.em.emit(r.callerCtx, Event{Kind: EventStateTransition, From: from, State: to})
	return nil
}

func (r *run) phase() Phase { return Phase(r.machine.Current()) }
