package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LeadStatus string

const (
	LeadStatusActive LeadStatus = "ACTIVE"
	LeadStatusWon    LeadStatus = "WON"
	LeadStatusLost   LeadStatus = "LOST"
)

type Lead struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Value     decimal.Decimal `json:"value"`
	Currency  string          `json:"currency"`
	Status    LeadStatus      `json:"status"`
	Stage     string          `json:"stage"`
	OwnerID   string          `json:"owner_id,omitempty"`
	ContactID string          `json:"contact_id,omitempty"`
	CompanyID string          `json:"company_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

func (l Lead) Summary() LeadSummary {
	return LeadSummary{
		ID:       l.ID,
		Title:    l.Title,
		Value:    l.Value,
		Currency: l.Currency,
		Stage:    l.Stage,
	}
}

type LeadSummary struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
	Stage    string          `json:"stage"`
}

type LeadCreateRequest struct {
	Title     string          `json:"title" validate:"required,max=200"`
	Value     decimal.Decimal `json:"value" validate:"gte=0"`
	Currency  string          `json:"currency" validate:"omitempty,len=3"`
	Stage     string          `json:"stage"`
	OwnerID   string          `json:"owner_id"`
	ContactID string          `json:"contact_id"`
	CompanyID string          `json:"company_id"`
}

type StageUpdateRequest struct {
	Stage string `json:"stage" validate:"required"`
}

type PipelineColumn struct {
	Name        string          `json:"name"`
	Probability int             `json:"probability"`
	Leads       []LeadSummary   `json:"leads"`
	Total       decimal.Decimal `json:"total"`
}

type PipelineBoard struct {
	Stages    []PipelineColumn `json:"stages"`
	FetchedAt time.Time        `json:"fetched_at"`
}

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "DRAFT"
	InvoiceStatusSent  InvoiceStatus = "SENT"
	InvoiceStatusPaid  InvoiceStatus = "PAID"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid:
		return true
	default:
		return false
	}
}

type Invoice struct {
	ID          string          `json:"id"`
	LeadID      string          `json:"lead_id"`
	Number      string          `json:"invoice_number"`
	Status      InvoiceStatus   `json:"status"`
	InvoiceDate time.Time       `json:"invoice_date"`
	DueDate     time.Time       `json:"due_date"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxPercent  decimal.Decimal `json:"tax_percent"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Total       decimal.Decimal `json:"total"`
	Notes       string          `json:"notes,omitempty"`
	Items       []InvoiceItem   `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// NumberPrefix asks the repository to allocate Number from its
	// per-prefix counter inside the write transaction. Never persisted.
	NumberPrefix string `json:"-"`
}

type InvoiceItem struct {
	ID        string          `json:"id"`
	InvoiceID string          `json:"invoice_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type InvoiceItemInput struct {
	Name      string          `json:"name" validate:"required,max=200"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gt=0"`
}

type InvoiceCreateRequest struct {
	LeadID      string             `json:"lead_id" validate:"required"`
	Number      string             `json:"invoice_number,omitempty" validate:"omitempty,invoicenumber"`
	Status      InvoiceStatus      `json:"status,omitempty"`
	Items       []InvoiceItemInput `json:"items" validate:"required,min=1,dive"`
	TaxPercent  *decimal.Decimal   `json:"tax_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	InvoiceDate string             `json:"invoice_date,omitempty" validate:"omitempty,date"`
	DueDate     string             `json:"due_date,omitempty" validate:"omitempty,date"`
	Notes       string             `json:"notes,omitempty" validate:"max=2000"`
}

type InvoiceUpdateRequest struct {
	Status      InvoiceStatus      `json:"status,omitempty"`
	Items       []InvoiceItemInput `json:"items" validate:"required,min=1,dive"`
	TaxPercent  *decimal.Decimal   `json:"tax_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	InvoiceDate string             `json:"invoice_date,omitempty" validate:"omitempty,date"`
	DueDate     string             `json:"due_date,omitempty" validate:"omitempty,date"`
	Notes       string             `json:"notes,omitempty" validate:"max=2000"`
}

type InvoiceListResponse struct {
	Invoices []Invoice `json:"invoices"`
}

type NextNumberResponse struct {
	InvoiceNumber string `json:"invoice_number"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id" bson:"_id"`
	ActorUsername string    `json:"actor_username" bson:"actor_username"`
	ActorRole     string    `json:"actor_role" bson:"actor_role"`
	Action        string    `json:"action" bson:"action"`
	EntityType    string    `json:"entity_type" bson:"entity_type"`
	EntityID      string    `json:"entity_id" bson:"entity_id"`
	Detail        string    `json:"detail" bson:"detail"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// BoardEvent is pushed to board subscribers after any server-side pipeline write.
type BoardEvent struct {
	Action string    `json:"action"`
	LeadID string    `json:"lead_id"`
	Stage  string    `json:"stage,omitempty"`
	At     time.Time `json:"at"`
}
