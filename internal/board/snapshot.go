// Package board keeps a client-side mirror of the pipeline board, applies
// drags to it optimistically and reconciles them against the server.
package board

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"salesboard/internal/domain"
)

var (
	ErrUnknownStage = errors.New("stage not on board")
	ErrLeadMismatch = errors.New("lead not at source position")
)

// Snapshot is an immutable view of the board. Edits return a new Snapshot
// that shares every column it did not touch.
type Snapshot struct {
	order       []string
	columns     map[string][]domain.LeadSummary
	totals      map[string]decimal.Decimal
	probability map[string]int
	fetchedAt   time.Time
}

// NewSnapshot copies a server board fetch.
func NewSnapshot(b domain.PipelineBoard) *Snapshot {
	s := &Snapshot{
		order:       make([]string, 0, len(b.Stages)),
		columns:     make(map[string][]domain.LeadSummary, len(b.Stages)),
		totals:      make(map[string]decimal.Decimal, len(b.Stages)),
		probability: make(map[string]int, len(b.Stages)),
		fetchedAt:   b.FetchedAt,
	}
	for _, col := range b.Stages {
		leads := append([]domain.LeadSummary(nil), col.Leads...)
		for i := range leads {
			leads[i].Stage = col.Name
		}
		s.order = append(s.order, col.Name)
		s.columns[col.Name] = leads
		s.totals[col.Name] = sumValues(leads)
		s.probability[col.Name] = col.Probability
	}
	return s
}

func (s *Snapshot) Stages() []string {
	return append([]string(nil), s.order...)
}

func (s *Snapshot) Column(stage string) []domain.LeadSummary {
	return append([]domain.LeadSummary(nil), s.columns[stage]...)
}

func (s *Snapshot) Total(stage string) decimal.Decimal {
	return s.totals[stage]
}

func (s *Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// Len counts leads across all columns.
func (s *Snapshot) Len() int {
	n := 0
	for _, leads := range s.columns {
		n += len(leads)
	}
	return n
}

// Locate finds the column and index holding leadID.
func (s *Snapshot) Locate(leadID string) (string, int, bool) {
	for _, stage := range s.order {
		for i, lead := range s.columns[stage] {
			if lead.ID == leadID {
				return stage, i, true
			}
		}
	}
	return "", 0, false
}

func (s *Snapshot) Board() domain.PipelineBoard {
	out := domain.PipelineBoard{
		Stages:    make([]domain.PipelineColumn, 0, len(s.order)),
		FetchedAt: s.fetchedAt,
	}
	for _, stage := range s.order {
		out.Stages = append(out.Stages, domain.PipelineColumn{
			Name:        stage,
			Probability: s.probability[stage],
			Leads:       s.Column(stage),
			Total:       s.totals[stage],
		})
	}
	return out
}

// move removes leadID from from[fromIndex] and inserts it at to[toIndex],
// clamping toIndex to the destination column.
func (s *Snapshot) move(leadID string, from string, fromIndex int, to string, toIndex int) (*Snapshot, error) {
	src, ok := s.columns[from]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, from)
	}
	if _, ok := s.columns[to]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, to)
	}
	if fromIndex < 0 || fromIndex >= len(src) || src[fromIndex].ID != leadID {
		return nil, fmt.Errorf("%w: %s at %s[%d]", ErrLeadMismatch, leadID, from, fromIndex)
	}

	lead := src[fromIndex]
	remaining := make([]domain.LeadSummary, 0, len(src)-1)
	remaining = append(remaining, src[:fromIndex]...)
	remaining = append(remaining, src[fromIndex+1:]...)

	next := s.clone()
	if from == to {
		next.setColumn(from, insertAt(remaining, toIndex, lead))
		return next, nil
	}

	lead.Stage = to
	next.setColumn(from, remaining)
	next.setColumn(to, insertAt(s.columns[to], toIndex, lead))
	return next, nil
}

func (s *Snapshot) remove(leadID string) (*Snapshot, bool) {
	stage, index, ok := s.Locate(leadID)
	if !ok {
		return s, false
	}
	src := s.columns[stage]
	remaining := make([]domain.LeadSummary, 0, len(src)-1)
	remaining = append(remaining, src[:index]...)
	remaining = append(remaining, src[index+1:]...)

	next := s.clone()
	next.setColumn(stage, remaining)
	return next, true
}

// clone copies the column index only; column slices are shared and never
// written in place.
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		order:       s.order,
		columns:     make(map[string][]domain.LeadSummary, len(s.columns)),
		totals:      make(map[string]decimal.Decimal, len(s.totals)),
		probability: s.probability,
		fetchedAt:   s.fetchedAt,
	}
	for k, v := range s.columns {
		next.columns[k] = v
	}
	for k, v := range s.totals {
		next.totals[k] = v
	}
	return next
}

func (s *Snapshot) setColumn(stage string, leads []domain.LeadSummary) {
	s.columns[stage] = leads
	s.totals[stage] = sumValues(leads)
}

func insertAt(leads []domain.LeadSummary, index int, lead domain.LeadSummary) []domain.LeadSummary {
	if index < 0 {
		index = 0
	}
	if index > len(leads) {
		index = len(leads)
	}
	out := make([]domain.LeadSummary, 0, len(leads)+1)
	out = append(out, leads[:index]...)
	out = append(out, lead)
	out = append(out, leads[index:]...)
	return out
}

func sumValues(leads []domain.LeadSummary) decimal.Decimal {
	total := decimal.Zero
	for _, lead := range leads {
		total = total.Add(lead.Value)
	}
	return total
}
