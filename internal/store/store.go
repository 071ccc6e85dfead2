package store

import (
	"context"
	"errors"

	"salesboard/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
	ErrConflict = errors.New("conflict")
)

type Repository interface {
	CreateLead(ctx context.Context, lead domain.Lead) (*domain.Lead, error)
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	// ListActiveLeads returns live ACTIVE leads in board order within each stage.
	ListActiveLeads(ctx context.Context) ([]domain.Lead, error)
	UpdateLeadStage(ctx context.Context, id string, stage string, status domain.LeadStatus) (*domain.Lead, error)
	SoftDeleteLead(ctx context.Context, id string) error

	// CreateInvoice persists the invoice, its items and the parent lead's
	// value in one atomic unit. A duplicate number yields ErrConflict.
	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	// ReplaceInvoice swaps the item set and totals and re-propagates the
	// lead value atomically.
	ReplaceInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoicesByLead(ctx context.Context, leadID string) ([]domain.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
	LatestInvoiceNumber(ctx context.Context, prefix string) (string, error)
}
