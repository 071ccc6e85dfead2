package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"salesboard/internal/domain"
	"salesboard/internal/numbering"
	"salesboard/internal/store"
	"salesboard/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	leads           map[string]domain.Lead
	leadOrder       []string
	invoicesByID    map[string]domain.Invoice
	invoiceByNumber map[string]string
	sequences       map[string]int64
	now             func() time.Time
}

func New() *Store {
	return &Store{
		leads:           make(map[string]domain.Lead),
		leadOrder:       make([]string, 0, 32),
		invoicesByID:    make(map[string]domain.Invoice),
		invoiceByNumber: make(map[string]string),
		sequences:       make(map[string]int64),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store holding a small demo pipeline for dev mode.
func NewSeeded() *Store {
	s := New()
	seed := []struct {
		title string
		value int64
		stage string
	}{
		{"Acme renewal", 12000, "Lead In"},
		{"Globex onboarding", 4500, "Lead In"},
		{"Initech licences", 8000, "Contact Made"},
		{"Umbrella pilot", 15000, "Needs Defined"},
		{"Hooli expansion", 30000, "Proposal Made"},
		{"Vandelay import deal", 9900, "Negotiation"},
	}
	for i, l := range seed {
		created := s.now().Add(time.Duration(i) * time.Second)
		_, _ = s.CreateLead(context.Background(), domain.Lead{
			Title:     l.title,
			Value:     decimal.NewFromInt(l.value),
			Currency:  "USD",
			Status:    domain.LeadStatusActive,
			Stage:     l.stage,
			CreatedAt: created,
			UpdatedAt: created,
		})
	}
	return s
}

func (s *Store) CreateLead(_ context.Context, lead domain.Lead) (*domain.Lead, error) {
	if strings.TrimSpace(lead.Title) == "" || lead.Stage == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if lead.ID == "" {
		lead.ID = xid.New("lead")
	}
	if _, exists := s.leads[lead.ID]; exists {
		return nil, store.ErrConflict
	}
	if lead.Status == "" {
		lead.Status = domain.LeadStatusActive
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = s.now()
	}
	if lead.UpdatedAt.IsZero() {
		lead.UpdatedAt = lead.CreatedAt
	}

	s.leads[lead.ID] = lead
	s.leadOrder = append(s.leadOrder, lead.ID)
	return cloneLead(lead), nil
}

func (s *Store) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.leads[id]
	if !ok || lead.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	return cloneLead(lead), nil
}

func (s *Store) ListActiveLeads(_ context.Context) ([]domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Lead, 0, len(s.leadOrder))
	for _, id := range s.leadOrder {
		lead := s.leads[id]
		if lead.DeletedAt != nil || lead.Status != domain.LeadStatusActive {
			continue
		}
		out = append(out, lead)
	}
	return out, nil
}

func (s *Store) UpdateLeadStage(_ context.Context, id string, stage string, status domain.LeadStatus) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok || lead.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	lead.Stage = stage
	lead.Status = status
	lead.UpdatedAt = s.now()
	s.leads[id] = lead
	return cloneLead(lead), nil
}

func (s *Store) SoftDeleteLead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok || lead.DeletedAt != nil {
		return store.ErrNotFound
	}
	at := s.now()
	lead.DeletedAt = &at
	lead.UpdatedAt = at
	s.leads[id] = lead
	return nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if len(invoice.Items) == 0 {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[invoice.LeadID]
	if !ok || lead.DeletedAt != nil {
		return nil, store.ErrNotFound
	}

	if invoice.Number == "" {
		if invoice.NumberPrefix == "" {
			return nil, store.ErrInvalid
		}
		invoice.Number = s.nextSequenceLocked(invoice.NumberPrefix)
	}
	if _, taken := s.invoiceByNumber[invoice.Number]; taken {
		return nil, store.ErrConflict
	}

	now := s.now()
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	invoice.NumberPrefix = ""
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	invoice.Items = stampItems(invoice.ID, invoice.Items)

	s.invoicesByID[invoice.ID] = cloneInvoice(invoice)
	s.invoiceByNumber[invoice.Number] = invoice.ID

	lead.Value = invoice.Total
	lead.UpdatedAt = now
	s.leads[lead.ID] = lead

	return cloneInvoicePtr(invoice), nil
}

func (s *Store) ReplaceInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if len(invoice.Items) == 0 {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.invoicesByID[invoice.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	lead, ok := s.leads[existing.LeadID]
	if !ok || lead.DeletedAt != nil {
		return nil, store.ErrNotFound
	}

	now := s.now()
	invoice.LeadID = existing.LeadID
	invoice.Number = existing.Number
	invoice.NumberPrefix = ""
	invoice.CreatedAt = existing.CreatedAt
	invoice.UpdatedAt = now
	invoice.Items = stampItems(invoice.ID, invoice.Items)
	s.invoicesByID[invoice.ID] = cloneInvoice(invoice)

	lead.Value = invoice.Total
	lead.UpdatedAt = now
	s.leads[lead.ID] = lead

	return cloneInvoicePtr(invoice), nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneInvoicePtr(invoice), nil
}

func (s *Store) ListInvoicesByLead(_ context.Context, leadID string) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.leads[leadID]; !ok {
		return nil, store.ErrNotFound
	}

	out := make([]domain.Invoice, 0, 4)
	for _, invoice := range s.invoicesByID {
		if invoice.LeadID == leadID {
			out = append(out, cloneInvoice(invoice))
		}
	}
	sortInvoices(out)
	return out, nil
}

// DeleteInvoice leaves the lead's value as it was.
func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoicesByID[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.invoicesByID, id)
	delete(s.invoiceByNumber, invoice.Number)
	return nil
}

func (s *Store) LatestInvoiceNumber(_ context.Context, prefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest, best := "", int64(0)
	for number := range s.invoiceByNumber {
		p, seq, err := numbering.Split(number)
		if err != nil || p != prefix {
			continue
		}
		if seq > best {
			latest, best = number, seq
		}
	}
	if latest == "" {
		return "", store.ErrNotFound
	}
	return latest, nil
}

// nextSequenceLocked mirrors the postgres counter row: it never hands out a
// value at or below the greatest number already persisted for the prefix.
func (s *Store) nextSequenceLocked(prefix string) string {
	last := s.sequences[prefix]
	for number := range s.invoiceByNumber {
		p, seq, err := numbering.Split(number)
		if err == nil && p == prefix && seq > last {
			last = seq
		}
	}
	last++
	s.sequences[prefix] = last
	return numbering.Format(prefix, last)
}

func stampItems(invoiceID string, items []domain.InvoiceItem) []domain.InvoiceItem {
	stamped := make([]domain.InvoiceItem, len(items))
	for i, item := range items {
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.InvoiceID = invoiceID
		stamped[i] = item
	}
	return stamped
}

func sortInvoices(invoices []domain.Invoice) {
	sort.Slice(invoices, func(i, j int) bool {
		if invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].Number < invoices[j].Number
		}
		return invoices[i].CreatedAt.Before(invoices[j].CreatedAt)
	})
}

func cloneLead(lead domain.Lead) *domain.Lead {
	copied := lead
	if lead.DeletedAt != nil {
		at := *lead.DeletedAt
		copied.DeletedAt = &at
	}
	return &copied
}

func cloneInvoice(invoice domain.Invoice) domain.Invoice {
	copied := invoice
	copied.Items = append([]domain.InvoiceItem(nil), invoice.Items...)
	return copied
}

func cloneInvoicePtr(invoice domain.Invoice) *domain.Invoice {
	copied := cloneInvoice(invoice)
	return &copied
}
