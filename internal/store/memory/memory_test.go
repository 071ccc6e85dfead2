package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"salesboard/internal/domain"
	"salesboard/internal/store"
)

func newInvoice(leadID string, number string) domain.Invoice {
	return domain.Invoice{
		LeadID: leadID,
		Number: number,
		Total:  decimal.NewFromInt(10),
		Items:  []domain.InvoiceItem{{Name: "A", Quantity: 1, UnitPrice: decimal.NewFromInt(10), LineTotal: decimal.NewFromInt(10)}},
	}
}

func TestLatestInvoiceNumberIsNumericNotLexicographic(t *testing.T) {
	s := New()
	ctx := context.Background()
	lead, err := s.CreateLead(ctx, domain.Lead{Title: "Big month", Stage: "Lead In"})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}

	for _, n := range []string{"INV/2026/10/999", "INV/2026/10/1000", "INV/2026/09/5000"} {
		if _, err := s.CreateInvoice(ctx, newInvoice(lead.ID, n)); err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
	}

	latest, err := s.LatestInvoiceNumber(ctx, "INV/2026/10")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != "INV/2026/10/1000" {
		t.Fatalf("expected INV/2026/10/1000, got %s", latest)
	}
	if _, err := s.LatestInvoiceNumber(ctx, "INV/2026/11"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for an empty month, got %v", err)
	}

	inv := newInvoice(lead.ID, "")
	inv.NumberPrefix = "INV/2026/10"
	created, err := s.CreateInvoice(ctx, inv)
	if err != nil {
		t.Fatalf("counter create: %v", err)
	}
	if created.Number != "INV/2026/10/1001" {
		t.Fatalf("expected counter to continue after 1000, got %s", created.Number)
	}
}

func TestSoftDeletedLeadDisappears(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	leads, err := s.ListActiveLeads(ctx)
	if err != nil || len(leads) == 0 {
		t.Fatalf("expected seeded leads, got %d (%v)", len(leads), err)
	}

	id := leads[0].ID
	if err := s.SoftDeleteLead(ctx, id); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.GetLead(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.SoftDeleteLead(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete must be not found, got %v", err)
	}
	after, _ := s.ListActiveLeads(ctx)
	if len(after) != len(leads)-1 {
		t.Fatalf("expected %d active leads, got %d", len(leads)-1, len(after))
	}
}
