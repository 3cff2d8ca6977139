package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository persists users
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByOIDCSubject(ctx context.Context, subject string) (*User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) (*User, error)
	SetPlan(ctx context.Context, id uuid.UUID, isPro bool) error
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
	SetLogoKey(ctx context.Context, id uuid.UUID, key string) error
	ResetMonthlyUsage(ctx context.Context, period time.Time) (int64, error)
}

// Columns lists the users columns in the order Scan expects
var Columns = []string{
	"id", "email", "password_hash", "oidc_subject", "is_pro", "stripe_customer_id",
	"monthly_invoice_count", "usage_period", "company_name", "client_number",
	"business_name", "business_address", "business_phone", "business_email",
	"business_tin", "business_rc_number",
	"vat_registered", "vat_rate", "prices_include_vat", "default_payment_terms", "default_currency",
	"logo_key", "created_at", "updated_at",
}

// SelectColumns is Columns joined for use in a SELECT or RETURNING clause
var SelectColumns = strings.Join(Columns, ", ")

// RowScanner is satisfied by *sql.Row and *sql.Rows
type RowScanner interface {
	Scan(dest ...any) error
}

// Scan reads a user row selected with SelectColumns
func Scan(row RowScanner) (*User, error) {
	u := &User{}
	var passwordHash, oidcSubject, customerID sql.NullString
	err := row.Scan(
		&u.ID, &u.Email, &passwordHash, &oidcSubject, &u.IsPro, &customerID,
		&u.MonthlyInvoiceCount, &u.UsagePeriod, &u.CompanyName, &u.ClientNumber,
		&u.BusinessName, &u.BusinessAddress, &u.BusinessPhone, &u.BusinessEmail,
		&u.BusinessTIN, &u.BusinessRCNumber,
		&u.VATRegistered, &u.VATRate, &u.PricesIncludeVAT, &u.DefaultPaymentTerms, &u.DefaultCurrency,
		&u.LogoKey, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.PasswordHash = passwordHash.String
	u.OIDCSubject = oidcSubject.String
	u.StripeCustomerID = customerID.String
	return u, nil
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Create inserts a user and fills in the generated columns
func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (email, password_hash, oidc_subject, company_name)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + SelectColumns
	created, err := Scan(r.db.QueryRowContext(ctx, query,
		NormalizeEmail(u.Email), nullString(u.PasswordHash), nullString(u.OIDCSubject), u.CompanyName))
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	*u = *created
	return nil
}

func (r *PostgresRepository) getBy(ctx context.Context, column string, value any) (*User, error) {
	query := `SELECT ` + SelectColumns + ` FROM users WHERE ` + column + ` = $1`
	u, err := Scan(r.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by id
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail retrieves a user by email
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "email", NormalizeEmail(email))
}

// GetByOIDCSubject retrieves a user by identity provider subject
func (r *PostgresRepository) GetByOIDCSubject(ctx context.Context, subject string) (*User, error) {
	return r.getBy(ctx, "oidc_subject", subject)
}

// GetByStripeCustomerID retrieves a user by Stripe customer id
func (r *PostgresRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	return r.getBy(ctx, "stripe_customer_id", customerID)
}

// UpdateProfile applies the non-nil fields of update
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) (*User, error) {
	query := `
		UPDATE users SET
			company_name = COALESCE($2, company_name),
			client_number = COALESCE($3, client_number),
			business_name = COALESCE($4, business_name),
			business_address = COALESCE($5, business_address),
			business_phone = COALESCE($6, business_phone),
			business_email = COALESCE($7, business_email),
			business_tin = COALESCE($8, business_tin),
			business_rc_number = COALESCE($9, business_rc_number),
			vat_registered = COALESCE($10, vat_registered),
			vat_rate = COALESCE($11, vat_rate),
			prices_include_vat = COALESCE($12, prices_include_vat),
			default_payment_terms = COALESCE($13, default_payment_terms),
			default_currency = COALESCE($14, default_currency),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + SelectColumns
	u, err := Scan(r.db.QueryRowContext(ctx, query, id,
		update.CompanyName, update.ClientNumber,
		update.BusinessName, update.BusinessAddress, update.BusinessPhone, update.BusinessEmail,
		update.BusinessTIN, update.BusinessRCNumber,
		update.VATRegistered, update.VATRate, update.PricesIncludeVAT,
		update.DefaultPaymentTerms, update.DefaultCurrency,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
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

// SetPlan switches a user between the free and pro tiers
func (r *PostgresRepository) SetPlan(ctx context.Context, id uuid.UUID, isPro bool) error {
	return r.execOne(ctx, "set plan",
		`UPDATE users SET is_pro = $2, updated_at = now() WHERE id = $1`, id, isPro)
}

// SetStripeCustomerID records the billing customer of a user
func (r *PostgresRepository) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	return r.execOne(ctx, "set stripe customer",
		`UPDATE users SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`, id, customerID)
}

// SetLogoKey records the object key of the user's logo
func (r *PostgresRepository) SetLogoKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.execOne(ctx, "set logo",
		`UPDATE users SET logo_key = $2, updated_at = now() WHERE id = $1`, id, key)
}

// ResetMonthlyUsage zeroes the invoice counter of every user whose usage
// period predates period
func (r *PostgresRepository) ResetMonthlyUsage(ctx context.Context, period time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET monthly_invoice_count = 0, usage_period = $1, updated_at = now()
		WHERE usage_period < $1`, period)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	return result.RowsAffected()
}
