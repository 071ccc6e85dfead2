package board

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"salesboard/internal/domain"
	"salesboard/internal/stages"
)

type apiCall struct {
	method string
	leadID string
	stage  string
	ctx    context.Context
	reply  chan error
}

// fakeAPI parks every mutation until the test replies to it.
type fakeAPI struct {
	mu      sync.Mutex
	board   domain.PipelineBoard
	fetches int
	calls   chan apiCall
}

func newFakeAPI(b domain.PipelineBoard) *fakeAPI {
	return &fakeAPI{board: b, calls: make(chan apiCall, 16)}
}

func (f *fakeAPI) FetchPipeline(context.Context) (domain.PipelineBoard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.board, nil
}

func (f *fakeAPI) setBoard(b domain.PipelineBoard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.board = b
}

func (f *fakeAPI) do(ctx context.Context, method string, leadID string, stage string) error {
	c := apiCall{method: method, leadID: leadID, stage: stage, ctx: ctx, reply: make(chan error, 1)}
	f.calls <- c
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) UpdateStage(ctx context.Context, leadID string, stage string) error {
	return f.do(ctx, "stage", leadID, stage)
}

func (f *fakeAPI) MarkWon(ctx context.Context, leadID string) error {
	return f.do(ctx, "won", leadID, "")
}

func (f *fakeAPI) MarkLost(ctx context.Context, leadID string) error {
	return f.do(ctx, "lost", leadID, "")
}

func (f *fakeAPI) DeleteLead(ctx context.Context, leadID string) error {
	return f.do(ctx, "delete", leadID, "")
}

func nextCall(t *testing.T, f *fakeAPI) apiCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a server call")
		return apiCall{}
	}
}

func expectNoCall(t *testing.T, f *fakeAPI) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected server call %s %s", c.method, c.leadID)
	case <-time.After(50 * time.Millisecond):
	}
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func lead(id string, value int64) domain.LeadSummary {
	return domain.LeadSummary{ID: id, Title: id, Value: decimal.NewFromInt(value), Currency: "USD"}
}

func sampleBoard() domain.PipelineBoard {
	return domain.PipelineBoard{Stages: []domain.PipelineColumn{
		{Name: "Lead In", Probability: 10, Leads: []domain.LeadSummary{lead("L1", 100), lead("L2", 200)}},
		{Name: "Contact Made", Probability: 20},
		{Name: "Needs Defined", Probability: 40, Leads: []domain.LeadSummary{lead("L3", 300)}},
		{Name: "Proposal Made", Probability: 60},
		{Name: "Negotiation", Probability: 80, Leads: []domain.LeadSummary{lead("L4", 400)}},
	}}
}

type harness struct {
	api   *fakeAPI
	store *Store
	gate  *Gate
	rec   *Reconciler
	errs  *errorLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := newFakeAPI(sampleBoard())
	st := NewStore(stages.Default())
	errs := &errorLog{}
	gate := NewGate(api, st, errs.add)
	rec := NewReconciler(api, st, gate, errs.add, nil)
	if _, err := rec.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return &harness{api: api, store: st, gate: gate, rec: rec, errs: errs}
}

func ids(leads []domain.LeadSummary) []string {
	out := make([]string, len(leads))
	for i, l := range leads {
		out[i] = l.ID
	}
	return out
}

func assertColumn(t *testing.T, snap *Snapshot, stage string, want ...string) {
	t.Helper()
	got := ids(snap.Column(stage))
	if len(got) != len(want) {
		t.Fatalf("%s: expected %v, got %v", stage, want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: expected %v, got %v", stage, want, got)
		}
	}
}

func TestApplyLocalMoveNeverDuplicatesOrLosesLeads(t *testing.T) {
	st := NewStore(nil)
	st.Reset(NewSnapshot(sampleBoard()))
	rng := rand.New(rand.NewSource(7))
	names := st.CurrentSnapshot().Stages()
	want := st.CurrentSnapshot().Len()

	for step := 0; step < 500; step++ {
		snap := st.CurrentSnapshot()
		from := names[rng.Intn(len(names))]
		col := snap.Column(from)
		if len(col) == 0 {
			continue
		}
		fromIndex := rng.Intn(len(col))
		to := names[rng.Intn(len(names))]
		toIndex := rng.Intn(len(snap.Column(to)) + 2)

		if err := st.ApplyLocalMove(col[fromIndex].ID, from, fromIndex, to, toIndex); err != nil {
			t.Fatalf("step %d: move: %v", step, err)
		}

		seen := make(map[string]int)
		next := st.CurrentSnapshot()
		for _, stage := range names {
			sum := decimal.Zero
			for _, l := range next.Column(stage) {
				seen[l.ID]++
				sum = sum.Add(l.Value)
				if l.Stage != stage {
					t.Fatalf("step %d: lead %s cached stage %s but sits in %s", step, l.ID, l.Stage, stage)
				}
			}
			if !sum.Equal(next.Total(stage)) {
				t.Fatalf("step %d: %s total %s != sum %s", step, stage, next.Total(stage), sum)
			}
		}
		if len(seen) != want {
			t.Fatalf("step %d: expected %d leads, saw %d", step, want, len(seen))
		}
		for id, n := range seen {
			if n != 1 {
				t.Fatalf("step %d: lead %s appears %d times", step, id, n)
			}
		}
	}
}

func TestApplyLocalMoveRejectsStalePositions(t *testing.T) {
	st := NewStore(nil)
	st.Reset(NewSnapshot(sampleBoard()))
	before := st.CurrentSnapshot()

	if err := st.ApplyLocalMove("L2", "Lead In", 0, "Negotiation", 0); !errors.Is(err, ErrLeadMismatch) {
		t.Fatalf("expected lead mismatch, got %v", err)
	}
	if err := st.ApplyLocalMove("L1", "Lead In", 0, "Won", 0); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("expected unknown stage, got %v", err)
	}
	if st.CurrentSnapshot() != before {
		t.Fatalf("rejected moves must not change the snapshot")
	}
}

func TestSnapshotEditsAreCopyOnWrite(t *testing.T) {
	st := NewStore(nil)
	st.Reset(NewSnapshot(sampleBoard()))
	base := st.CurrentSnapshot()

	if err := st.ApplyLocalMove("L1", "Lead In", 0, "Lead In", 1); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	assertColumn(t, st.CurrentSnapshot(), "Lead In", "L2", "L1")
	assertColumn(t, base, "Lead In", "L1", "L2")
	if st.LastFetched() != base {
		t.Fatalf("base must stay the fetched snapshot")
	}
}

func TestFailedMoveRollsBackToOriginalIndex(t *testing.T) {
	h := newHarness(t)
	fetched := h.store.LastFetched()

	err := h.rec.OnDrop(context.Background(), DropResult{
		LeadID:      "L1",
		Source:      Position{Stage: "Lead In", Index: 0},
		Destination: &Position{Stage: "Negotiation", Index: 0},
	})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}

	snap := h.store.CurrentSnapshot()
	assertColumn(t, snap, "Lead In", "L2")
	assertColumn(t, snap, "Negotiation", "L1", "L4")
	if got := snap.Column("Negotiation")[0].Stage; got != "Negotiation" {
		t.Fatalf("expected cached stage Negotiation, got %s", got)
	}
	if !snap.Total("Negotiation").Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected Negotiation total 500, got %s", snap.Total("Negotiation"))
	}

	call := nextCall(t, h.api)
	if call.method != "stage" || call.leadID != "L1" || call.stage != "Negotiation" {
		t.Fatalf("unexpected call %+v", call)
	}
	call.reply <- errors.New("503 service unavailable")
	h.rec.Wait()

	if h.store.CurrentSnapshot() != fetched {
		t.Fatalf("rollback must restore the last fetch exactly")
	}
	assertColumn(t, h.store.CurrentSnapshot(), "Lead In", "L1", "L2")
	if errs := h.errs.all(); len(errs) != 1 {
		t.Fatalf("expected one surfaced error, got %v", errs)
	}
}

func TestSuccessfulMoveKeepsOptimisticState(t *testing.T) {
	h := newHarness(t)
	if err := h.rec.OnDrop(context.Background(), DropResult{
		LeadID:      "L3",
		Source:      Position{Stage: "Needs Defined", Index: 0},
		Destination: &Position{Stage: "Proposal Made", Index: 0},
	}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	nextCall(t, h.api).reply <- nil
	h.rec.Wait()

	assertColumn(t, h.store.CurrentSnapshot(), "Proposal Made", "L3")
	if len(h.errs.all()) != 0 {
		t.Fatalf("unexpected errors %v", h.errs.all())
	}
	if h.rec.Pending("L3") {
		t.Fatalf("no request should remain in flight")
	}
}

func TestDropOnSamePositionIsNoop(t *testing.T) {
	h := newHarness(t)
	before := h.store.CurrentSnapshot()

	pos := Position{Stage: "Lead In", Index: 1}
	if err := h.rec.OnDrop(context.Background(), DropResult{LeadID: "L2", Source: pos, Destination: &pos}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := h.rec.OnDrop(context.Background(), DropResult{LeadID: "L2", Source: pos}); err != nil {
		t.Fatalf("drop outside: %v", err)
	}
	expectNoCall(t, h.api)
	if h.store.CurrentSnapshot() != before {
		t.Fatalf("no-op drops must not touch the snapshot")
	}
}

func TestRedragCancelsAndSupersedesEarlierRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.rec.OnDrop(ctx, DropResult{
		LeadID:      "L1",
		Source:      Position{Stage: "Lead In", Index: 0},
		Destination: &Position{Stage: "Contact Made", Index: 0},
	}); err != nil {
		t.Fatalf("first drop: %v", err)
	}
	first := nextCall(t, h.api)

	if err := h.rec.OnDrop(ctx, DropResult{
		LeadID:      "L1",
		Source:      Position{Stage: "Contact Made", Index: 0},
		Destination: &Position{Stage: "Proposal Made", Index: 0},
	}); err != nil {
		t.Fatalf("second drop: %v", err)
	}
	second := nextCall(t, h.api)

	select {
	case <-first.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("superseded request was not cancelled")
	}

	second.reply <- nil
	h.rec.Wait()

	assertColumn(t, h.store.CurrentSnapshot(), "Proposal Made", "L1")
	if errs := h.errs.all(); len(errs) != 0 {
		t.Fatalf("a superseded response must not surface or roll back, got %v", errs)
	}
}

func TestLateFailureOfSupersededRequestIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.rec.OnDrop(ctx, DropResult{
		LeadID:      "L4",
		Source:      Position{Stage: "Negotiation", Index: 0},
		Destination: &Position{Stage: "Lead In", Index: 0},
	})
	first := nextCall(t, h.api)
	_ = h.rec.OnDrop(ctx, DropResult{
		LeadID:      "L4",
		Source:      Position{Stage: "Lead In", Index: 0},
		Destination: &Position{Stage: "Needs Defined", Index: 1},
	})
	second := nextCall(t, h.api)

	first.reply <- errors.New("late 500")
	second.reply <- nil
	h.rec.Wait()

	assertColumn(t, h.store.CurrentSnapshot(), "Needs Defined", "L3", "L4")
	if len(h.errs.all()) != 0 {
		t.Fatalf("stale failure must be ignored, got %v", h.errs.all())
	}
}

func TestFailureAfterRefreshKeepsNewerEdits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.rec.OnDrop(ctx, DropResult{
		LeadID:      "L1",
		Source:      Position{Stage: "Lead In", Index: 0},
		Destination: &Position{Stage: "Contact Made", Index: 0},
	})
	stale := nextCall(t, h.api)

	if _, err := h.rec.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_ = h.rec.OnDrop(ctx, DropResult{
		LeadID:      "L3",
		Source:      Position{Stage: "Needs Defined", Index: 0},
		Destination: &Position{Stage: "Negotiation", Index: 1},
	})
	fresh := nextCall(t, h.api)

	stale.reply <- errors.New("timeout")
	fresh.reply <- nil
	h.rec.Wait()

	assertColumn(t, h.store.CurrentSnapshot(), "Negotiation", "L4", "L3")
	if len(h.errs.all()) != 1 {
		t.Fatalf("the stale failure must still be surfaced, got %v", h.errs.all())
	}
}

func TestWonDropWaitsForConfirmationAndCancelLeavesBoard(t *testing.T) {
	h := newHarness(t)
	before := h.store.CurrentSnapshot()

	if err := h.rec.OnDrop(context.Background(), DropResult{
		LeadID: "L2",
		Source: Position{Stage: "Lead In", Index: 1},
		Zone:   ActionWon,
	}); err != nil {
		t.Fatalf("drop on Won: %v", err)
	}
	if h.store.CurrentSnapshot() != before {
		t.Fatalf("a terminal drop must not touch the snapshot before confirmation")
	}
	if got, ok := h.gate.State().(GatePending); !ok || got.LeadID != "L2" || got.Action != ActionWon {
		t.Fatalf("expected pending WON for L2, got %#v", h.gate.State())
	}

	if err := h.gate.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := h.gate.State().(GateIdle); !ok {
		t.Fatalf("expected idle after cancel, got %#v", h.gate.State())
	}
	expectNoCall(t, h.api)
	if h.store.CurrentSnapshot() != before {
		t.Fatalf("cancel must leave the board untouched")
	}
	assertColumn(t, before, "Lead In", "L1", "L2")
}

func TestConfirmCommitsExactlyOneCall(t *testing.T) {
	for _, tc := range []struct {
		action Action
		method string
	}{
		{ActionWon, "won"},
		{ActionLost, "lost"},
		{ActionDelete, "delete"},
	} {
		h := newHarness(t)
		if err := h.gate.Request("L3", tc.action); err != nil {
			t.Fatalf("%s: request: %v", tc.action, err)
		}
		if err := h.gate.Confirm(context.Background()); err != nil {
			t.Fatalf("%s: confirm: %v", tc.action, err)
		}

		if _, ok := h.gate.State().(GateCommitting); !ok {
			t.Fatalf("%s: expected committing, got %#v", tc.action, h.gate.State())
		}
		if _, _, ok := h.store.CurrentSnapshot().Locate("L3"); ok {
			t.Fatalf("%s: lead must be removed optimistically", tc.action)
		}

		call := nextCall(t, h.api)
		if call.method != tc.method || call.leadID != "L3" {
			t.Fatalf("%s: unexpected call %+v", tc.action, call)
		}
		call.reply <- nil
		h.rec.Wait()
		expectNoCall(t, h.api)

		if _, ok := h.gate.State().(GateIdle); !ok {
			t.Fatalf("%s: expected idle after response, got %#v", tc.action, h.gate.State())
		}
		if _, _, ok := h.store.CurrentSnapshot().Locate("L3"); ok {
			t.Fatalf("%s: lead must stay removed after success", tc.action)
		}
	}
}

func TestConfirmFailureRestoresLastFetch(t *testing.T) {
	h := newHarness(t)
	fetched := h.store.LastFetched()

	if err := h.gate.Request("L4", ActionLost); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.gate.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	nextCall(t, h.api).reply <- errors.New("network down")
	h.rec.Wait()

	if h.store.CurrentSnapshot() != fetched {
		t.Fatalf("failed terminal action must restore the last fetch")
	}
	if _, ok := h.gate.State().(GateIdle); !ok {
		t.Fatalf("expected idle after failure, got %#v", h.gate.State())
	}
	if len(h.errs.all()) != 1 {
		t.Fatalf("expected one surfaced error, got %v", h.errs.all())
	}
	expectNoCall(t, h.api)
}

func TestConfirmedTerminalDropSupersedesPendingMove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.rec.OnDrop(ctx, DropResult{
		LeadID:      "L1",
		Source:      Position{Stage: "Lead In", Index: 0},
		Destination: &Position{Stage: "Negotiation", Index: 0},
	}); err != nil {
		t.Fatalf("move: %v", err)
	}
	move := nextCall(t, h.api)

	if err := h.rec.OnDrop(ctx, DropResult{
		LeadID: "L1",
		Source: Position{Stage: "Negotiation", Index: 0},
		Zone:   ActionWon,
	}); err != nil {
		t.Fatalf("drop on Won: %v", err)
	}
	if err := h.gate.Confirm(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	select {
	case <-move.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("pending stage update was not cancelled by the confirmed Won")
	}
	if h.rec.Pending("L1") {
		t.Fatalf("no stage update may stay in flight after a terminal commit")
	}

	won := nextCall(t, h.api)
	if won.method != "won" {
		t.Fatalf("expected won call, got %+v", won)
	}
	won.reply <- nil
	move.reply <- errors.New("stale move failed")
	h.rec.Wait()

	if _, _, ok := h.store.CurrentSnapshot().Locate("L1"); ok {
		t.Fatalf("won lead must stay off the board")
	}
	if errs := h.errs.all(); len(errs) != 0 {
		t.Fatalf("the superseded move must not surface, got %v", errs)
	}
}

func TestCancelledTerminalDropKeepsPendingMove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.rec.OnDrop(ctx, DropResult{
		LeadID:      "L1",
		Source:      Position{Stage: "Lead In", Index: 0},
		Destination: &Position{Stage: "Contact Made", Index: 0},
	})
	move := nextCall(t, h.api)

	if err := h.rec.OnDrop(ctx, DropResult{LeadID: "L1", Source: Position{Stage: "Contact Made", Index: 0}, Zone: ActionLost}); err != nil {
		t.Fatalf("drop on Lost: %v", err)
	}
	if err := h.gate.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if move.ctx.Err() != nil {
		t.Fatalf("a cancelled terminal drop must leave the move in flight")
	}
	move.reply <- nil
	h.rec.Wait()
	assertColumn(t, h.store.CurrentSnapshot(), "Contact Made", "L1")
}

func TestGateIdlesOnlyAfterRollback(t *testing.T) {
	h := newHarness(t)
	fetched := h.store.LastFetched()

	if err := h.gate.Request("L3", ActionDelete); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.gate.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	call := nextCall(t, h.api)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, idle := h.gate.State().(GateIdle); idle {
				if h.store.CurrentSnapshot() != fetched {
					t.Errorf("gate went idle before the board was restored")
				}
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	call.reply <- errors.New("boom")
	<-done
	h.rec.Wait()
}

func TestGateRejectsIllegalTransitions(t *testing.T) {
	h := newHarness(t)

	if err := h.gate.Confirm(context.Background()); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("confirm from idle: expected ErrNothingPending, got %v", err)
	}
	if err := h.gate.Cancel(); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("cancel from idle: expected ErrNothingPending, got %v", err)
	}
	if err := h.gate.Request("L1", Action("ARCHIVE")); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected unknown action, got %v", err)
	}
	if err := h.gate.Request("nope", ActionWon); !errors.Is(err, ErrLeadNotOnBoard) {
		t.Fatalf("expected lead not on board, got %v", err)
	}

	if err := h.gate.Request("L1", ActionWon); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.rec.OnDrop(context.Background(), DropResult{LeadID: "L2", Source: Position{Stage: "Lead In", Index: 1}, Zone: ActionDelete}); !errors.Is(err, ErrGateBusy) {
		t.Fatalf("second terminal drop: expected ErrGateBusy, got %v", err)
	}

	if err := h.gate.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := h.gate.Cancel(); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("cancel while committing: expected ErrNothingPending, got %v", err)
	}
	if err := h.gate.Request("L2", ActionLost); !errors.Is(err, ErrGateBusy) {
		t.Fatalf("request while committing: expected ErrGateBusy, got %v", err)
	}
	nextCall(t, h.api).reply <- nil
	h.rec.Wait()
}

func TestWeightedTotalUsesStageProbability(t *testing.T) {
	h := newHarness(t)
	if got := h.store.WeightedTotal("Negotiation"); !got.Equal(decimal.NewFromInt(320)) {
		t.Fatalf("expected 400 × 80%% = 320, got %s", got)
	}
	if got := h.store.WeightedTotal("Lead In"); !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected 300 × 10%% = 30, got %s", got)
	}
}

func TestRefreshReplacesBothSnapshots(t *testing.T) {
	h := newHarness(t)
	_ = h.store.ApplyLocalMove("L1", "Lead In", 0, "Contact Made", 0)

	updated := sampleBoard()
	updated.Stages[0].Leads = updated.Stages[0].Leads[1:]
	h.api.setBoard(updated)

	snap, err := h.rec.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if h.store.CurrentSnapshot() != snap || h.store.LastFetched() != snap {
		t.Fatalf("refresh must install the fetch as base and working")
	}
	assertColumn(t, snap, "Lead In", "L2")
	assertColumn(t, snap, "Contact Made")
}
