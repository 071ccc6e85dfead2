package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"salesboard/internal/domain"
	"salesboard/internal/stages"
)

// Pipeline returns the full-list fetch: every live ACTIVE lead grouped by
// intermediate stage in catalog order, with per-stage totals.
func (s *Service) Pipeline(ctx context.Context) (domain.PipelineBoard, error) {
	if cached, ok, err := s.boardCache.Get(ctx); err != nil {
		s.logger.Warn("board cache read failed", slog.String("error", err.Error()))
	} else if ok {
		return *cached, nil
	}
	generation, genErr := s.boardCache.Generation(ctx)
	if genErr != nil {
		s.logger.Warn("board cache generation read failed", slog.String("error", genErr.Error()))
	}

	leads, err := s.repo.ListActiveLeads(ctx)
	if err != nil {
		return domain.PipelineBoard{}, fmt.Errorf("list active leads: %w", err)
	}

	intermediate := s.catalog.Intermediate()
	columns := make([]domain.PipelineColumn, len(intermediate))
	position := make(map[string]int, len(intermediate))
	for i, name := range intermediate {
		columns[i] = domain.PipelineColumn{
			Name:        name,
			Probability: s.catalog.Probability(name),
			Leads:       []domain.LeadSummary{},
			Total:       decimal.Zero,
		}
		position[name] = i
	}

	for _, lead := range leads {
		i, ok := position[lead.Stage]
		if !ok {
			s.logger.Warn("lead outside stage catalog", slog.String("lead_id", lead.ID), slog.String("stage", lead.Stage))
			continue
		}
		columns[i].Leads = append(columns[i].Leads, lead.Summary())
		columns[i].Total = columns[i].Total.Add(lead.Value)
	}

	board := domain.PipelineBoard{Stages: columns, FetchedAt: s.now()}
	if genErr == nil {
		if err := s.boardCache.Set(ctx, &board, generation, s.cacheTTL); err != nil {
			s.logger.Warn("board cache write failed", slog.String("error", err.Error()))
		}
	}
	return board, nil
}

func (s *Service) CreateLead(ctx context.Context, req domain.LeadCreateRequest) (domain.Lead, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Stage = strings.TrimSpace(req.Stage)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := s.validate(req); err != nil {
		return domain.Lead{}, err
	}

	if req.Stage == "" {
		req.Stage = s.catalog.First()
	}
	if !s.catalog.Has(req.Stage) || s.catalog.IsTerminal(req.Stage) {
		return domain.Lead{}, invalid("stage", "oneof")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	now := s.now()
	created, err := s.repo.CreateLead(ctx, domain.Lead{
		Title:     req.Title,
		Value:     req.Value,
		Currency:  req.Currency,
		Status:    domain.LeadStatusActive,
		Stage:     req.Stage,
		OwnerID:   req.OwnerID,
		ContactID: req.ContactID,
		CompanyID: req.CompanyID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Lead{}, fmt.Errorf("create lead: %w", err)
	}

	s.afterBoardWrite(ctx, "lead_create", "lead", created.ID, created.ID, created.Stage, fmt.Sprintf("title=%s,value=%s", created.Title, created.Value))
	return *created, nil
}

func (s *Service) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	lead, err := s.repo.GetLead(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Lead{}, fmt.Errorf("lead %s: %w", id, err)
	}
	return *lead, nil
}

// UpdateLeadStage moves a lead to any catalog stage. Won and Lost also set
// the matching terminal status; an intermediate stage sets ACTIVE.
func (s *Service) UpdateLeadStage(ctx context.Context, id string, stage string) (domain.Lead, error) {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return domain.Lead{}, invalid("stage", "required")
	}
	if !s.catalog.Has(stage) {
		return domain.Lead{}, invalid("stage", "oneof")
	}

	status := s.catalog.StatusFor(stage)
	updated, err := s.repo.UpdateLeadStage(ctx, strings.TrimSpace(id), stage, status)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("update lead %s stage: %w", id, err)
	}

	action := "lead_stage"
	switch status {
	case domain.LeadStatusWon:
		action = "lead_won"
	case domain.LeadStatusLost:
		action = "lead_lost"
	}
	s.afterBoardWrite(ctx, action, "lead", updated.ID, updated.ID, updated.Stage, fmt.Sprintf("stage=%s,status=%s", updated.Stage, updated.Status))
	return *updated, nil
}

func (s *Service) MarkLeadWon(ctx context.Context, id string) (domain.Lead, error) {
	return s.UpdateLeadStage(ctx, id, stages.Won)
}

func (s *Service) MarkLeadLost(ctx context.Context, id string) (domain.Lead, error) {
	return s.UpdateLeadStage(ctx, id, stages.Lost)
}

// DeleteLead soft-deletes; the row stays for archival views.
func (s *Service) DeleteLead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.SoftDeleteLead(ctx, id); err != nil {
		return fmt.Errorf("delete lead %s: %w", id, err)
	}
	s.afterBoardWrite(ctx, "lead_delete", "lead", id, id, "", "soft delete")
	return nil
}
