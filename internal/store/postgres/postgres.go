package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"salesboard/internal/domain"
	"salesboard/internal/numbering"
	"salesboard/internal/store"
	"salesboard/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const leadColumns = `id, title, value, currency, status, stage, owner_id, contact_id, company_id, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*domain.Lead, error) {
	var (
		lead                        domain.Lead
		status                      string
		ownerID, contactID, company sql.NullString
		deletedAt                   sql.NullTime
	)
	if err := row.Scan(&lead.ID, &lead.Title, &lead.Value, &lead.Currency, &status, &lead.Stage,
		&ownerID, &contactID, &company, &lead.CreatedAt, &lead.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	lead.Status = domain.LeadStatus(status)
	lead.OwnerID = ownerID.String
	lead.ContactID = contactID.String
	lead.CompanyID = company.String
	if deletedAt.Valid {
		at := deletedAt.Time.UTC()
		lead.DeletedAt = &at
	}
	return &lead, nil
}

func (s *Store) CreateLead(ctx context.Context, lead domain.Lead) (*domain.Lead, error) {
	if strings.TrimSpace(lead.Title) == "" || lead.Stage == "" {
		return nil, store.ErrInvalid
	}
	if lead.ID == "" {
		lead.ID = xid.New("lead")
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, title, value, currency, status, stage, owner_id, contact_id, company_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, lead.ID, lead.Title, lead.Value, lead.Currency, string(lead.Status), lead.Stage,
		nullIfEmpty(lead.OwnerID), nullIfEmpty(lead.ContactID), nullIfEmpty(lead.CompanyID),
		lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := lead
	return &created, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return lead, nil
}

func (s *Store) ListActiveLeads(ctx context.Context) ([]domain.Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE status = 'ACTIVE' AND deleted_at IS NULL
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0, 64)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return leads, nil
}

func (s *Store) UpdateLeadStage(ctx context.Context, id string, stage string, status domain.LeadStatus) (*domain.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx, `
		UPDATE leads
		SET stage = $2, status = $3, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+leadColumns,
		id, stage, string(status), s.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return lead, nil
}

func (s *Store) SoftDeleteLead(ctx context.Context, id string) error {
	at := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateInvoice runs lead lock, optional number allocation, invoice and item
// inserts and the lead value write in one read-committed transaction. The
// FOR UPDATE lock serialises concurrent invoice writes for the same lead.
func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if len(invoice.Items) == 0 {
		return nil, store.ErrInvalid
	}
	if invoice.Number == "" && invoice.NumberPrefix == "" {
		return nil, store.ErrInvalid
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockLead(ctx, tx, invoice.LeadID); err != nil {
		return nil, err
	}

	if invoice.Number == "" {
		number, err := nextSequence(ctx, tx, invoice.NumberPrefix)
		if err != nil {
			return nil, err
		}
		invoice.Number = number
	}

	now := s.now()
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	invoice.NumberPrefix = ""
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, lead_id, invoice_number, status, invoice_date, due_date,
			subtotal, tax_percent, tax_amount, total, notes, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, invoice.ID, invoice.LeadID, invoice.Number, string(invoice.Status), dateUTC(invoice.InvoiceDate), dateUTC(invoice.DueDate),
		invoice.Subtotal, invoice.TaxPercent, invoice.TaxAmount, invoice.Total, invoice.Notes, invoice.CreatedAt, invoice.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	items, err := insertItems(ctx, tx, invoice.ID, invoice.Items)
	if err != nil {
		return nil, err
	}
	invoice.Items = items

	if err := setLeadValue(ctx, tx, invoice.LeadID, invoice.Total, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	invoice.InvoiceDate = dateUTC(invoice.InvoiceDate)
	invoice.DueDate = dateUTC(invoice.DueDate)
	return &invoice, nil
}

func (s *Store) ReplaceInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if len(invoice.Items) == 0 {
		return nil, store.ErrInvalid
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing domain.Invoice
	err = tx.QueryRowContext(ctx, `
		SELECT lead_id, invoice_number, created_at
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, invoice.ID).Scan(&existing.LeadID, &existing.Number, &existing.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := lockLead(ctx, tx, existing.LeadID); err != nil {
		return nil, err
	}

	now := s.now()
	invoice.LeadID = existing.LeadID
	invoice.Number = existing.Number
	invoice.NumberPrefix = ""
	invoice.CreatedAt = existing.CreatedAt.UTC()
	invoice.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET status = $2, invoice_date = $3, due_date = $4, subtotal = $5, tax_percent = $6,
			tax_amount = $7, total = $8, notes = $9, updated_at = $10
		WHERE id = $1
	`, invoice.ID, string(invoice.Status), dateUTC(invoice.InvoiceDate), dateUTC(invoice.DueDate), invoice.Subtotal,
		invoice.TaxPercent, invoice.TaxAmount, invoice.Total, invoice.Notes, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoice.ID); err != nil {
		return nil, err
	}
	items, err := insertItems(ctx, tx, invoice.ID, invoice.Items)
	if err != nil {
		return nil, err
	}
	invoice.Items = items

	if err := setLeadValue(ctx, tx, invoice.LeadID, invoice.Total, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	invoice.InvoiceDate = dateUTC(invoice.InvoiceDate)
	invoice.DueDate = dateUTC(invoice.DueDate)
	return &invoice, nil
}

const invoiceColumns = `id, lead_id, invoice_number, status, invoice_date, due_date, subtotal, tax_percent, tax_amount, total, notes, created_at, updated_at`

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var (
		invoice domain.Invoice
		status  string
	)
	if err := row.Scan(&invoice.ID, &invoice.LeadID, &invoice.Number, &status, &invoice.InvoiceDate, &invoice.DueDate,
		&invoice.Subtotal, &invoice.TaxPercent, &invoice.TaxAmount, &invoice.Total, &invoice.Notes,
		&invoice.CreatedAt, &invoice.UpdatedAt); err != nil {
		return nil, err
	}
	invoice.Status = domain.InvoiceStatus(status)
	invoice.InvoiceDate = dateUTC(invoice.InvoiceDate)
	invoice.DueDate = dateUTC(invoice.DueDate)
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	invoice.UpdatedAt = invoice.UpdatedAt.UTC()
	return &invoice, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	invoice, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadItems(ctx, []string{invoice.ID})
	if err != nil {
		return nil, err
	}
	invoice.Items = items[invoice.ID]
	return invoice, nil
}

func (s *Store) ListInvoicesByLead(ctx context.Context, leadID string) ([]domain.Invoice, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, leadID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE lead_id = $1
		ORDER BY created_at, invoice_number
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 4)
	ids := make([]string, 0, 4)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *invoice)
		ids = append(ids, invoice.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Items = items[invoices[i].ID]
	}
	return invoices, nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// LatestInvoiceNumber orders by the numeric sequence so that SEQ 1000 sorts
// after 999 even though it is lexicographically smaller.
func (s *Store) LatestInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := s.db.QueryRowContext(ctx, `
		SELECT invoice_number
		FROM invoices
		WHERE invoice_number LIKE $1 ESCAPE '\'
		  AND split_part(invoice_number, '/', 4) ~ '^[0-9]+$'
		ORDER BY CAST(split_part(invoice_number, '/', 4) AS BIGINT) DESC
		LIMIT 1
	`, likePrefix(prefix)).Scan(&number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return number, nil
}

func (s *Store) loadItems(ctx context.Context, invoiceIDs []string) (map[string][]domain.InvoiceItem, error) {
	result := make(map[string][]domain.InvoiceItem, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, name, quantity, unit_price, line_total
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, position
	`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Name, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		result[item.InvoiceID] = append(result[item.InvoiceID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func lockLead(ctx context.Context, tx *sql.Tx, leadID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM leads
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, leadID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

// nextSequence bumps the month counter row, seeding it from the greatest
// number already stored so explicit numbers and pre-counter rows are never
// handed out again.
func nextSequence(ctx context.Context, tx *sql.Tx, prefix string) (string, error) {
	var seed int64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(split_part(invoice_number, '/', 4) AS BIGINT)), 0)
		FROM invoices
		WHERE invoice_number LIKE $1 ESCAPE '\'
		  AND split_part(invoice_number, '/', 4) ~ '^[0-9]+$'
	`, likePrefix(prefix)).Scan(&seed)
	if err != nil {
		return "", fmt.Errorf("seed invoice sequence: %w", err)
	}

	var next int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (prefix, last_value)
		VALUES ($1, $2 + 1)
		ON CONFLICT (prefix)
		DO UPDATE SET last_value = GREATEST(invoice_sequences.last_value, EXCLUDED.last_value - 1) + 1
		RETURNING last_value
	`, prefix, seed).Scan(&next)
	if err != nil {
		return "", fmt.Errorf("bump invoice sequence: %w", err)
	}
	return numbering.Format(prefix, next), nil
}

func insertItems(ctx context.Context, tx *sql.Tx, invoiceID string, items []domain.InvoiceItem) ([]domain.InvoiceItem, error) {
	stamped := make([]domain.InvoiceItem, len(items))
	for i, item := range items {
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.InvoiceID = invoiceID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (id, invoice_id, position, name, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, invoiceID, i, item.Name, item.Quantity, item.UnitPrice, item.LineTotal); err != nil {
			return nil, err
		}
		stamped[i] = item
	}
	return stamped, nil
}

func setLeadValue(ctx context.Context, tx *sql.Tx, leadID string, total decimal.Decimal, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE leads
		SET value = $2, updated_at = $3
		WHERE id = $1
	`, leadID, total, at)
	return err
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "/%"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
