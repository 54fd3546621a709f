package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/models"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository opens the database and applies pending migrations
func NewPostgresRepository(ctx context.Context, databaseURI string) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", databaseURI)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("goose up: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(
		ctx,
		`INSERT INTO users (email, name, role, password_hash) VALUES ($1, $2, $3, $4)
         ON CONFLICT (email) DO NOTHING
         RETURNING id, created_at`,
		user.Email, user.Name, user.Role, user.PasswordHash,
	).Scan(&id, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserExists
		}
		return 0, err
	}

	user.ID = id
	return id, nil
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, "SELECT id, email, name, role, password_hash, created_at FROM users WHERE email = $1", email)
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getUser(ctx, "SELECT id, email, name, role, password_hash, created_at FROM users WHERE id = $1", id)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.PasswordHash, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

// Purchase ledger methods
func (r *PostgresRepository) AppendPurchase(ctx context.Context, p *models.PurchaseRecord) error {
	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO purchases
            (stripe_session_id, stripe_customer_id, customer_email, customer_name, package_name, amount, created_at, processed)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         ON CONFLICT (stripe_session_id) DO NOTHING`,
		p.StripeSessionID, p.StripeCustomerID, p.CustomerEmail, p.CustomerName,
		p.PackageName, p.Amount, p.Timestamp, p.Processed,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicatePurchase
	}
	return nil
}

const purchaseColumns = `stripe_session_id, stripe_customer_id, customer_email, customer_name, package_name, amount, created_at, processed`

func scanPurchase(row interface{ Scan(...any) error }) (models.PurchaseRecord, error) {
	var p models.PurchaseRecord
	err := row.Scan(
		&p.StripeSessionID,
		&p.StripeCustomerID,
		&p.CustomerEmail,
		&p.CustomerName,
		&p.PackageName,
		&p.Amount,
		&p.Timestamp,
		&p.Processed,
	)
	return p, err
}

func (r *PostgresRepository) ListPurchases(ctx context.Context) ([]models.PurchaseRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+purchaseColumns+" FROM purchases ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := []models.PurchaseRecord{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return purchases, nil
}

func (r *PostgresRepository) MarkPurchaseProcessed(ctx context.Context, sessionID string) (*models.PurchaseRecord, error) {
	p, err := scanPurchase(r.db.QueryRowContext(
		ctx,
		"UPDATE purchases SET processed = TRUE WHERE stripe_session_id = $1 RETURNING "+purchaseColumns,
		sessionID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Customer record methods
func (r *PostgresRepository) GetCustomer(ctx context.Context, email string) (*models.CustomerRecord, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, "SELECT data FROM customers WHERE email = $1", email).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var rec models.CustomerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode customer %s: %w", email, err)
	}
	return &rec, nil
}

func (r *PostgresRepository) ListCustomers(ctx context.Context) ([]models.CustomerRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT data FROM customers ORDER BY email")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []models.CustomerRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.CustomerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		customers = append(customers, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (r *PostgresRepository) SaveCustomer(ctx context.Context, rec *models.CustomerRecord) error {
	next := *rec
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(next)
	if err != nil {
		return err
	}

	var res sql.Result
	if rec.Version == 0 {
		res, err = r.db.ExecContext(
			ctx,
			`INSERT INTO customers (email, version, data, updated_at) VALUES ($1, $2, $3, $4)
             ON CONFLICT (email) DO NOTHING`,
			next.Email, next.Version, data, next.UpdatedAt,
		)
	} else {
		res, err = r.db.ExecContext(
			ctx,
			"UPDATE customers SET version = $1, data = $2, updated_at = $3 WHERE email = $4 AND version = $5",
			next.Version, data, next.UpdatedAt, next.Email, rec.Version,
		)
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}

	rec.Version = next.Version
	rec.UpdatedAt = next.UpdatedAt
	return nil
}

// Onboarding submission methods
func (r *PostgresRepository) CreateSubmission(ctx context.Context, s *models.OnboardingSubmission) error {
	form, err := json.Marshal(s.FormData)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(
		ctx,
		`INSERT INTO onboarding_submissions
            (id, customer_email, project_id, service, form_data, submitted_at, status, admin_notes, reviewed_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.CustomerEmail, s.ProjectID, s.Service, form, s.SubmittedAt, s.Status, s.AdminNotes, nullTime(s.ReviewedAt),
	)
	return err
}

const submissionColumns = `id, customer_email, project_id, service, form_data, submitted_at, status, admin_notes, reviewed_at`

func scanSubmission(row interface{ Scan(...any) error }) (*models.OnboardingSubmission, error) {
	var (
		s        models.OnboardingSubmission
		form     []byte
		reviewed sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.CustomerEmail, &s.ProjectID, &s.Service, &form, &s.SubmittedAt, &s.Status, &s.AdminNotes, &reviewed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(form, &s.FormData); err != nil {
		return nil, fmt.Errorf("decode submission %s: %w", s.ID, err)
	}
	if reviewed.Valid {
		t := reviewed.Time
		s.ReviewedAt = &t
	}
	return &s, nil
}

func (r *PostgresRepository) GetSubmission(ctx context.Context, id string) (*models.OnboardingSubmission, error) {
	s, err := scanSubmission(r.db.QueryRowContext(ctx, "SELECT "+submissionColumns+" FROM onboarding_submissions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) ListSubmissions(ctx context.Context) ([]models.OnboardingSubmission, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+submissionColumns+" FROM onboarding_submissions ORDER BY submitted_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	submissions := []models.OnboardingSubmission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *PostgresRepository) UpdateSubmission(ctx context.Context, s *models.OnboardingSubmission) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE onboarding_submissions SET status = $1, admin_notes = $2, reviewed_at = $3 WHERE id = $4",
		s.Status, s.AdminNotes, nullTime(s.ReviewedAt), s.ID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
