package invoice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// ErrNotFound is returned when an invoice does not exist or belongs to
// another user
var ErrNotFound = errors.New("invoice not found")

// Service defines invoice operations. Every call is scoped to the owner.
type Service interface {
	// Create issues a new invoice. created is false when idempotencyKey
	// matched an earlier invoice, which is returned unchanged.
	Create(ctx context.Context, userID uuid.UUID, draft Draft, idempotencyKey string) (inv *Invoice, created bool, err error)
	Get(ctx context.Context, userID, id uuid.UUID) (*Invoice, error)
	List(ctx context.Context, userID uuid.UUID, filter Filter) (*Page, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	MarkPaid(ctx context.Context, userID, id uuid.UUID) (*Invoice, error)
	SetPDFKey(ctx context.Context, userID, id uuid.UUID, key string) error
	Usage(ctx context.Context, userID uuid.UUID) (*plans.Usage, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, id uuid.UUID)
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db       *sql.DB
	reader   func() *sql.DB
	users    users.Repository
	enforcer *plans.Enforcer
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, userRepo users.Repository, enforcer *plans.Enforcer, metrics *observability.Metrics) *PostgresService {
	return &PostgresService{
		db:       db,
		reader:   func() *sql.DB { return db },
		users:    userRepo,
		enforcer: enforcer,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetReader routes history listings to the connection pick returns. It is
// called per listing so replicas dropped as unhealthy stop being used.
// Single invoice reads stay on the primary to see fresh writes.
func (s *PostgresService) SetReader(pick func() *sql.DB) {
	if pick != nil {
		s.reader = pick
	}
}

// DefaultsFromUser extracts the invoice defaults of a profile
func DefaultsFromUser(u *users.User) Defaults {
	return Defaults{
		Business: Business{
			Name:     u.BusinessName,
			Address:  u.BusinessAddress,
			Phone:    u.BusinessPhone,
			Email:    u.BusinessEmail,
			TIN:      u.BusinessTIN,
			RCNumber: u.BusinessRCNumber,
		},
		VATRegistered:    u.VATRegistered,
		VATRate:          u.VATRate,
		PricesIncludeVAT: u.PricesIncludeVAT,
		PaymentTerms:     PaymentTerms(u.DefaultPaymentTerms),
		Currency:         u.DefaultCurrency,
	}
}

const selectColumns = `id, user_id, invoice_number, sequence, idempotency_key,
	invoice_date, due_date, client_name, client_tin, client_email, business,
	currency, vat_rate, prices_include_vat, payment_terms, payment_terms_custom,
	notes, items, subtotal, tax_total, total, status, paid_at, logo_key, pdf_key,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	inv := &Invoice{}
	var idemKey sql.NullString
	var dueDate, paidAt sql.NullTime
	var businessJSON, itemsJSON []byte

	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.Number, &inv.Sequence, &idemKey,
		&inv.Date.Time, &dueDate, &inv.ClientName, &inv.ClientTIN, &inv.ClientEmail, &businessJSON,
		&inv.Currency, &inv.VATRate, &inv.PricesIncludeVAT, &inv.PaymentTerms, &inv.PaymentTermsCustom,
		&inv.Notes, &itemsJSON, &inv.Subtotal, &inv.TaxTotal, &inv.Total, &inv.Status, &paidAt,
		&inv.LogoKey, &inv.PDFKey, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.IdempotencyKey = idemKey.String
	if dueDate.Valid {
		d := NewDate(dueDate.Time)
		inv.DueDate = &d
	}
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	if len(businessJSON) > 0 {
		if err := json.Unmarshal(businessJSON, &inv.Business); err != nil {
			return nil, fmt.Errorf("failed to unmarshal business: %w", err)
		}
	}
	if err := json.Unmarshal(itemsJSON, &inv.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items: %w", err)
	}
	return inv, nil
}

// Create issues an invoice in one transaction. The user row lock serializes
// creates per user, so the quota check, the idempotency check and the
// sequence increment cannot interleave.
func (s *PostgresService) Create(ctx context.Context, userID uuid.UUID, draft Draft, idempotencyKey string) (*Invoice, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := users.Scan(tx.QueryRowContext(ctx,
		`SELECT `+users.SelectColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("failed to lock user: %w", err)
	}

	if idempotencyKey != "" {
		existing, err := scanInvoice(tx.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM invoices WHERE user_id = $1 AND idempotency_key = $2`,
			userID, idempotencyKey))
		if err == nil {
			s.metrics.InvoiceReplayed()
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	if err := s.enforcer.CheckInvoiceQuota(user.Account()); err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	inv, err := Build(draft, DefaultsFromUser(user), now)
	if err != nil {
		return nil, false, err
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (user_id, last_value)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET last_value = invoice_sequences.last_value + 1, updated_at = now()
		RETURNING last_value`, userID).Scan(&seq)
	if err != nil {
		return nil, false, fmt.Errorf("failed to allocate invoice number: %w", err)
	}

	inv.UserID = userID
	inv.Sequence = seq
	inv.Number = FormatNumber(user.IsPro, user.CompanyName, user.ClientNumber, now, seq)
	inv.IdempotencyKey = idempotencyKey
	if user.IsPro {
		inv.LogoKey = user.LogoKey
	}

	if err := s.insert(ctx, tx, inv); err != nil {
		return nil, false, err
	}

	plan := plans.TierFor(user.IsPro)
	used := user.Account().CurrentCount(now) + 1
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET monthly_invoice_count = $2, usage_period = $3, updated_at = now()
		WHERE id = $1`, userID, used, plans.PeriodStart(now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to update usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit invoice: %w", err)
	}

	if c, ok := s.users.(cacheInvalidator); ok {
		c.Invalidate(ctx, userID)
	}
	s.metrics.InvoiceCreated(string(plan))
	return inv, true, nil
}

func (s *PostgresService) insert(ctx context.Context, tx *sql.Tx, inv *Invoice) error {
	businessJSON, err := json.Marshal(inv.Business)
	if err != nil {
		return fmt.Errorf("failed to marshal business: %w", err)
	}
	itemsJSON, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	var dueDate sql.NullTime
	if inv.DueDate != nil {
		dueDate = sql.NullTime{Time: inv.DueDate.Time, Valid: true}
	}
	idemKey := sql.NullString{String: inv.IdempotencyKey, Valid: inv.IdempotencyKey != ""}

	query := `
		INSERT INTO invoices (
			user_id, invoice_number, sequence, idempotency_key,
			invoice_date, due_date, client_name, client_tin, client_email, business,
			currency, vat_rate, prices_include_vat, payment_terms, payment_terms_custom,
			notes, items, subtotal, tax_total, total, status, logo_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id, created_at, updated_at`
	err = tx.QueryRowContext(ctx, query,
		inv.UserID, inv.Number, inv.Sequence, idemKey,
		inv.Date.Time, dueDate, inv.ClientName, inv.ClientTIN, inv.ClientEmail, businessJSON,
		inv.Currency, inv.VATRate, inv.PricesIncludeVAT, inv.PaymentTerms, inv.PaymentTermsCustom,
		inv.Notes, itemsJSON, inv.Subtotal, inv.TaxTotal, inv.Total, inv.Status, inv.LogoKey,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("invoice number %s already exists: %w", inv.Number, err)
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

// Get returns an invoice owned by userID
func (s *PostgresService) Get(ctx context.Context, userID, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM invoices WHERE id = $1 AND user_id = $2`, id, userID))
}

// List returns the newest invoices matching filter, capped by the plan's
// history limit
func (s *PostgresService) List(ctx context.Context, userID uuid.UUID, filter Filter) (*Page, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	history := s.enforcer.HistoryLimit(user.IsPro)

	limit := filter.Limit
	if limit <= 0 || limit > history {
		limit = history
	}
	offset := max(filter.Offset, 0)
	page := &Page{Invoices: []*Invoice{}, Limit: limit, Offset: offset}

	where, args := filterClause(userID, filter)

	reader := s.reader()
	var total int
	if err := reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count invoices: %w", err)
	}
	page.Total = min(total, history)

	if offset >= history {
		return page, nil
	}
	limit = min(limit, history-offset)

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE %s ORDER BY created_at DESC, sequence DESC LIMIT $%d OFFSET $%d`,
		selectColumns, where, len(args)-1, len(args))
	rows, err := reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		page.Invoices = append(page.Invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	return page, nil
}

func filterClause(userID uuid.UUID, f Filter) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		add("(invoice_number ILIKE $%[1]d OR client_name ILIKE $%[1]d)", pattern)
	}
	if f.From != nil {
		add("invoice_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("invoice_date <= $%d", *f.To)
	}
	if f.MinAmount != nil {
		add("total >= $%d", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		add("total <= $%d", *f.MaxAmount)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Delete removes an invoice. Usage already counted for the month is kept.
func (s *PostgresService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid sets the invoice paid. Marking twice keeps the first paid time.
func (s *PostgresService) MarkPaid(ctx context.Context, userID, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(s.db.QueryRowContext(ctx, `
		UPDATE invoices
		SET status = $3, paid_at = COALESCE(paid_at, now()), updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+selectColumns, id, userID, StatusPaid))
}

// SetPDFKey records where the rendered PDF was archived. updated_at is left
// alone because it identifies the rendered content.
func (s *PostgresService) SetPDFKey(ctx context.Context, userID, id uuid.UUID, key string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET pdf_key = $3 WHERE id = $1 AND user_id = $2`, id, userID, key)
	if err != nil {
		return fmt.Errorf("failed to set pdf key: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Usage reports the user's consumption for the current month
func (s *PostgresService) Usage(ctx context.Context, userID uuid.UUID) (*plans.Usage, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u := s.enforcer.Usage(user.Account())
	return &u, nil
}

// ReseedSequences raises each user's sequence to at least the highest
// number found in their existing invoices. It is used after importing
// invoices created before sequences were stored.
func (s *PostgresService) ReseedSequences(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, invoice_number FROM invoices`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan invoice numbers: %w", err)
	}
	defer rows.Close()

	highest := make(map[uuid.UUID]int64)
	for rows.Next() {
		var userID uuid.UUID
		var number string
		if err := rows.Scan(&userID, &number); err != nil {
			return 0, fmt.Errorf("failed to scan invoice number: %w", err)
		}
		if seq, ok := ParseSequence(number); ok && seq > highest[userID] {
			highest[userID] = seq
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate invoice numbers: %w", err)
	}

	for userID, seq := range highest {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO invoice_sequences (user_id, last_value)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET last_value = GREATEST(invoice_sequences.last_value, EXCLUDED.last_value), updated_at = now()`,
			userID, seq)
		if err != nil {
			return 0, fmt.Errorf("failed to seed sequence for %s: %w", userID, err)
		}
	}
	return len(highest), nil
}
