package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Action is what a terminal zone does to a lead.
type Action string

const (
	ActionWon    Action = "WON"
	ActionLost   Action = "LOST"
	ActionDelete Action = "DELETE"
)

func (a Action) Valid() bool {
	switch a {
	case ActionWon, ActionLost, ActionDelete:
		return true
	default:
		return false
	}
}

var (
	ErrGateBusy       = errors.New("a terminal action is already pending")
	ErrNothingPending = errors.New("no terminal action pending")
	ErrUnknownAction  = errors.New("unknown terminal action")
	ErrLeadNotOnBoard = errors.New("lead not on board")
)

// GateState is one of GateIdle, GatePending or GateCommitting.
type GateState interface {
	gateState()
}

type GateIdle struct{}

type GatePending struct {
	LeadID string
	Action Action
}

type GateCommitting struct {
	LeadID string
	Action Action
}

func (GateIdle) gateState()       {}
func (GatePending) gateState()    {}
func (GateCommitting) gateState() {}

// Gate holds a terminal drop until the user confirms or cancels it.
// Idle → Pending on Request, Pending → Idle on Cancel, Pending → Committing
// on Confirm and Committing → Idle when the server answers.
type Gate struct {
	api       PipelineAPI
	store     *Store
	onError   func(error)
	supersede func(leadID string)

	mu    sync.Mutex
	state GateState
	wg    sync.WaitGroup
}

func NewGate(api PipelineAPI, store *Store, onError func(error)) *Gate {
	if onError == nil {
		onError = func(error) {}
	}
	return &Gate{api: api, store: store, onError: onError, supersede: func(string) {}, state: GateIdle{}}
}

// onCommit registers the hook run when a terminal action is confirmed,
// before the lead leaves the board.
func (g *Gate) onCommit(fn func(leadID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.supersede = fn
}

func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Request records the pending action. The board is not touched.
func (g *Gate) Request(leadID string, action Action) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if _, _, ok := g.store.CurrentSnapshot().Locate(leadID); !ok {
		return fmt.Errorf("%w: %s", ErrLeadNotOnBoard, leadID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, idle := g.state.(GateIdle); !idle {
		return ErrGateBusy
	}
	g.state = GatePending{LeadID: leadID, Action: action}
	return nil
}

func (g *Gate) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, pending := g.state.(GatePending); !pending {
		return ErrNothingPending
	}
	g.state = GateIdle{}
	return nil
}

// Confirm removes the lead from the board and issues exactly one of
// MarkWon, MarkLost or DeleteLead. Any stage update still in flight for the
// lead is superseded first. A failure restores the last fetch and is
// reported to the error handler; it is not retried.
func (g *Gate) Confirm(ctx context.Context) error {
	g.mu.Lock()
	pending, ok := g.state.(GatePending)
	if !ok {
		g.mu.Unlock()
		return ErrNothingPending
	}
	g.state = GateCommitting{LeadID: pending.LeadID, Action: pending.Action}
	supersede := g.supersede
	g.mu.Unlock()

	supersede(pending.LeadID)
	epoch, _ := g.store.removeLead(pending.LeadID)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		err := g.commit(ctx, pending)
		if err != nil {
			g.store.rollbackIf(epoch)
		}

		g.mu.Lock()
		g.state = GateIdle{}
		g.mu.Unlock()

		if err != nil {
			g.onError(fmt.Errorf("%s lead %s: %w", pending.Action, pending.LeadID, err))
		}
	}()
	return nil
}

func (g *Gate) commit(ctx context.Context, p GatePending) error {
	switch p.Action {
	case ActionWon:
		return g.api.MarkWon(ctx, p.LeadID)
	case ActionLost:
		return g.api.MarkLost(ctx, p.LeadID)
	default:
		return g.api.DeleteLead(ctx, p.LeadID)
	}
}

func (g *Gate) Wait() {
	g.wg.Wait()
}
