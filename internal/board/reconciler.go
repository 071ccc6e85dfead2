package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"salesboard/internal/domain"
)

// PipelineAPI is the server surface the board writes through. Every call
// reports success or failure only.
type PipelineAPI interface {
	FetchPipeline(ctx context.Context) (domain.PipelineBoard, error)
	UpdateStage(ctx context.Context, leadID string, stage string) error
	MarkWon(ctx context.Context, leadID string) error
	MarkLost(ctx context.Context, leadID string) error
	DeleteLead(ctx context.Context, leadID string) error
}

type Position struct {
	Stage string
	Index int
}

// DropResult describes a finished drag. Exactly one of Destination and Zone
// is set; neither means the lead was dropped outside any target.
type DropResult struct {
	LeadID      string
	Source      Position
	Destination *Position
	Zone        Action
}

// Reconciler applies drops to the Store at once and confirms them in the
// background. A failed confirmation rolls the Store back to the last fetch.
//
// Each lead has at most one stage update in flight: a newer drag of the
// same lead cancels the older request's context, and a response that is
// not the latest for its lead is ignored.
type Reconciler struct {
	api     PipelineAPI
	store   *Store
	gate    *Gate
	onError func(error)
	logger  *slog.Logger

	mu       sync.Mutex
	seq      map[string]uint64
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
	fetches  singleflight.Group
}

func NewReconciler(api PipelineAPI, store *Store, gate *Gate, onError func(error), logger *slog.Logger) *Reconciler {
	if onError == nil {
		onError = func(error) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		api:      api,
		store:    store,
		gate:     gate,
		onError:  onError,
		logger:   logger,
		seq:      make(map[string]uint64),
		inflight: make(map[string]context.CancelFunc),
	}
	gate.onCommit(r.supersede)
	return r
}

func (r *Reconciler) OnDrop(ctx context.Context, drop DropResult) error {
	if drop.Zone != "" {
		return r.gate.Request(drop.LeadID, drop.Zone)
	}
	if drop.Destination == nil || *drop.Destination == drop.Source {
		return nil
	}

	dest := *drop.Destination
	epoch, err := r.store.applyMove(drop.LeadID, drop.Source.Stage, drop.Source.Index, dest.Stage, dest.Index)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	seq := r.supersedeLocked(drop.LeadID)
	r.inflight[drop.LeadID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		err := r.api.UpdateStage(reqCtx, drop.LeadID, dest.Stage)
		r.resolve(drop.LeadID, dest.Stage, seq, epoch, err)
	}()
	return nil
}

// supersede makes every stage update issued so far for leadID stale and
// cancels the one in flight. A confirmed terminal action calls it.
func (r *Reconciler) supersede(leadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supersedeLocked(leadID)
}

func (r *Reconciler) supersedeLocked(leadID string) uint64 {
	r.seq[leadID]++
	if previous, ok := r.inflight[leadID]; ok {
		previous()
		delete(r.inflight, leadID)
	}
	return r.seq[leadID]
}

func (r *Reconciler) resolve(leadID string, stage string, seq uint64, epoch uint64, err error) {
	r.mu.Lock()
	latest := r.seq[leadID] == seq
	if latest {
		delete(r.inflight, leadID)
	}
	r.mu.Unlock()

	if !latest {
		r.logger.Debug("discard superseded stage update", slog.String("lead_id", leadID), slog.String("stage", stage))
		return
	}
	if err == nil {
		return
	}

	if !r.store.rollbackIf(epoch) {
		r.logger.Debug("board changed since request, skip rollback", slog.String("lead_id", leadID))
	}
	r.onError(fmt.Errorf("move lead %s to %s: %w", leadID, stage, err))
}

// Refresh replaces both snapshots with a fresh server fetch. Concurrent
// callers share one request.
func (r *Reconciler) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := r.fetches.Do("pipeline", func() (interface{}, error) {
		b, err := r.api.FetchPipeline(ctx)
		if err != nil {
			return nil, err
		}
		snap := NewSnapshot(b)
		r.store.Reset(snap)
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pipeline: %w", err)
	}
	return v.(*Snapshot), nil
}

// Pending reports whether a stage update for leadID is in flight.
func (r *Reconciler) Pending(leadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[leadID]
	return ok
}

// Wait blocks until every issued request, including gate commits, resolved.
func (r *Reconciler) Wait() {
	r.wg.Wait()
	r.gate.Wait()
}
