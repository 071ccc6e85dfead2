package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salesboard/internal/domain"
	"salesboard/internal/store"
	"salesboard/internal/validation"
)

var hundred = decimal.NewFromInt(100)

// ErrNumberInUse is returned when the invoice number is already taken. It
// matches store.ErrConflict; a retry without an explicit number allocates a
// fresh one.
var ErrNumberInUse = fmt.Errorf("invoice number already in use, retry: %w", store.ErrConflict)

type invoiceTerms struct {
	status      domain.InvoiceStatus
	invoiceDate time.Time
	dueDate     time.Time
	taxPercent  decimal.Decimal
}

// CreateInvoice validates and totals the items, resolves the invoice number
// and persists invoice, items and the lead's value in one transaction.
func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	req.LeadID = strings.TrimSpace(req.LeadID)
	req.Number = strings.TrimSpace(req.Number)
	normalizeItems(req.Items)
	if err := s.validate(req); err != nil {
		return domain.Invoice{}, err
	}

	terms, err := s.resolveTerms(req.Status, req.InvoiceDate, req.DueDate, req.TaxPercent, nil)
	if err != nil {
		return domain.Invoice{}, err
	}

	invoice := buildInvoice(req.Items, terms)
	invoice.LeadID = req.LeadID
	invoice.Notes = strings.TrimSpace(req.Notes)

	switch {
	case req.Number != "":
		invoice.Number = req.Number
	case s.numbering == NumberingScan:
		number, err := s.allocator.NextNumber(ctx, s.now())
		if err != nil {
			return domain.Invoice{}, fmt.Errorf("allocate invoice number: %w", err)
		}
		invoice.Number = number
	default:
		invoice.NumberPrefix = s.allocator.PrefixFor(s.now())
	}

	created, err := s.repo.CreateInvoice(ctx, invoice)
	if err != nil {
		return domain.Invoice{}, invoiceWriteError("create invoice", req.LeadID, err)
	}

	s.afterBoardWrite(ctx, "invoice_create", "invoice", created.ID, created.LeadID, "", fmt.Sprintf("number=%s,total=%s", created.Number, created.Total.StringFixed(2)))
	return *created, nil
}

// UpdateInvoice replaces the item set and terms of an existing invoice and
// re-propagates its total to the lead. Number and lead never change.
func (s *Service) UpdateInvoice(ctx context.Context, id string, req domain.InvoiceUpdateRequest) (domain.Invoice, error) {
	normalizeItems(req.Items)
	if err := s.validate(req); err != nil {
		return domain.Invoice{}, err
	}

	existing, err := s.repo.GetInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", id, err)
	}

	terms, err := s.resolveTerms(req.Status, req.InvoiceDate, req.DueDate, req.TaxPercent, existing)
	if err != nil {
		return domain.Invoice{}, err
	}

	invoice := buildInvoice(req.Items, terms)
	invoice.ID = existing.ID
	invoice.LeadID = existing.LeadID
	invoice.Number = existing.Number
	invoice.Notes = strings.TrimSpace(req.Notes)

	saved, err := s.repo.ReplaceInvoice(ctx, invoice)
	if err != nil {
		return domain.Invoice{}, invoiceWriteError("update invoice", existing.LeadID, err)
	}

	s.afterBoardWrite(ctx, "invoice_update", "invoice", saved.ID, saved.LeadID, "", fmt.Sprintf("number=%s,total=%s", saved.Number, saved.Total.StringFixed(2)))
	return *saved, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	invoice, err := s.repo.GetInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", id, err)
	}
	return *invoice, nil
}

func (s *Service) ListLeadInvoices(ctx context.Context, leadID string) (domain.InvoiceListResponse, error) {
	invoices, err := s.repo.ListInvoicesByLead(ctx, strings.TrimSpace(leadID))
	if err != nil {
		return domain.InvoiceListResponse{}, fmt.Errorf("lead %s invoices: %w", leadID, err)
	}
	if invoices == nil {
		invoices = []domain.Invoice{}
	}
	return domain.InvoiceListResponse{Invoices: invoices}, nil
}

// DeleteInvoice removes the invoice and its items. The lead keeps the value
// the invoice last set.
func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	existing, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return fmt.Errorf("invoice %s: %w", id, err)
	}
	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		return fmt.Errorf("delete invoice %s: %w", id, err)
	}
	s.logAudit(ctx, "invoice_delete", "invoice", id, fmt.Sprintf("number=%s,lead=%s", existing.Number, existing.LeadID))
	return nil
}

// PreviewNextNumber reports the number the next automatic allocation would
// most likely receive. It reserves nothing.
func (s *Service) PreviewNextNumber(ctx context.Context) (domain.NextNumberResponse, error) {
	number, err := s.allocator.NextNumber(ctx, s.now())
	if err != nil {
		return domain.NextNumberResponse{}, fmt.Errorf("preview invoice number: %w", err)
	}
	return domain.NextNumberResponse{InvoiceNumber: number}, nil
}

func (s *Service) resolveTerms(status domain.InvoiceStatus, invoiceDate string, dueDate string, taxPercent *decimal.Decimal, existing *domain.Invoice) (invoiceTerms, error) {
	terms := invoiceTerms{
		status:     domain.InvoiceStatusDraft,
		taxPercent: s.defaultTax,
	}
	if existing != nil {
		terms.status = existing.Status
		terms.invoiceDate = existing.InvoiceDate
		terms.dueDate = existing.DueDate
		terms.taxPercent = existing.TaxPercent
	}

	if status != "" {
		status = domain.InvoiceStatus(strings.ToUpper(string(status)))
		if !status.Valid() {
			return invoiceTerms{}, invalid("status", "oneof")
		}
		terms.status = status
	}
	if taxPercent != nil {
		terms.taxPercent = *taxPercent
	}

	if invoiceDate != "" {
		parsed, _ := time.Parse(validation.DateLayout, invoiceDate)
		terms.invoiceDate = parsed
	}
	if terms.invoiceDate.IsZero() {
		now := s.now()
		terms.invoiceDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	if dueDate != "" {
		parsed, _ := time.Parse(validation.DateLayout, dueDate)
		terms.dueDate = parsed
	}
	if terms.dueDate.IsZero() {
		terms.dueDate = terms.invoiceDate.AddDate(0, 0, s.dueDays)
	}
	if terms.dueDate.Before(terms.invoiceDate) {
		return invoiceTerms{}, invalid("due_date", "gtefield")
	}
	return terms, nil
}

// buildInvoice computes line totals, subtotal, tax and total. Subtotal is the
// exact item sum; tax is rounded to cents and total = subtotal + tax.
func buildInvoice(inputs []domain.InvoiceItemInput, terms invoiceTerms) domain.Invoice {
	items := make([]domain.InvoiceItem, 0, len(inputs))
	subtotal := decimal.Zero
	for _, in := range inputs {
		line := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
		subtotal = subtotal.Add(line)
		items = append(items, domain.InvoiceItem{
			Name:      in.Name,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			LineTotal: line,
		})
	}

	tax := subtotal.Mul(terms.taxPercent).Div(hundred).Round(2)
	return domain.Invoice{
		Status:      terms.status,
		InvoiceDate: terms.invoiceDate,
		DueDate:     terms.dueDate,
		Subtotal:    subtotal,
		TaxPercent:  terms.taxPercent,
		TaxAmount:   tax,
		Total:       subtotal.Add(tax),
		Items:       items,
	}
}

func normalizeItems(items []domain.InvoiceItemInput) {
	for i := range items {
		items[i].Name = strings.TrimSpace(items[i].Name)
	}
}

func invoiceWriteError(op string, leadID string, err error) error {
	switch {
	case errors.Is(err, store.ErrConflict):
		return ErrNumberInUse
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: lead %s: %w", op, leadID, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
