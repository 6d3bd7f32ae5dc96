package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/HassanGilani11/namegenai/internal/ids"
	"github.com/HassanGilani11/namegenai/internal/ledger"
)

// Store implements ledger.Store on PostgreSQL. Every mutating method is a
// single transaction; contended rows are taken with SELECT ... FOR UPDATE so
// concurrent requests across processes serialize in the database.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const accountColumns = `id, email, name, password_hash, role, plan, credits, coalesce(organization_id,''), created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var acc ledger.Account
	err := row.Scan(&acc.ID, &acc.Email, &acc.Name, &acc.PasswordHash,
		&acc.Role, &acc.Plan, &acc.Credits, &acc.OrganizationID, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

func (s *Store) CreateAccount(ctx context.Context, in ledger.NewAccount) (ledger.Account, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	orgID := ids.New()
	if _, err := tx.ExecContext(ctx, `
		insert into organizations(id, name, slug, created_at)
		values ($1, $2, $3, now())
	`, orgID, ledger.OrgNameFor(in.Name, email), ledger.OrgSlugFor(email)); err != nil {
		return ledger.Account{}, err
	}

	accID := ids.New()
	res, err := tx.ExecContext(ctx, `
		insert into accounts(id, email, name, password_hash, role, plan, credits, organization_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, now())
		on conflict (email) do nothing
	`, accID, email, in.Name, in.PasswordHash,
		ledger.RoleMember, ledger.PlanFree, ledger.TrialCredits, orgID)
	if err != nil {
		return ledger.Account{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.Account{}, ledger.ErrEmailTaken
	}

	acc, err := scanAccount(tx.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, accID))
	if err != nil {
		return ledger.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

func (s *Store) Account(ctx context.Context, id string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`,
		strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) UpdateName(ctx context.Context, accountID, name string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		update accounts set name=$2 where id=$1
		returning `+accountColumns,
		accountID, name))
}

func (s *Store) SetPasswordHash(ctx context.Context, accountID, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2 where id=$1`, accountID, hash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (s *Store) ResolveOrganization(ctx context.Context, accountID string) (ledger.Organization, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Organization{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the account row so two concurrent billable requests cannot both
	// create an organization for it.
	var orgID, name, email string
	err = tx.QueryRowContext(ctx, `
		select coalesce(organization_id,''), name, email
		from accounts where id=$1 for update
	`, accountID).Scan(&orgID, &name, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Organization{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Organization{}, err
	}

	var org ledger.Organization
	if orgID != "" {
		err = tx.QueryRowContext(ctx, `
			select id, name, slug, coalesce(customer_ref,''), created_at
			from organizations where id=$1
		`, orgID).Scan(&org.ID, &org.Name, &org.Slug, &org.CustomerRef, &org.CreatedAt)
		if err == nil {
			return org, tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return ledger.Organization{}, err
		}
		// Dangling reference: fall through and heal it.
	}

	org = ledger.Organization{
		ID:        ids.New(),
		Name:      ledger.OrgNameFor(name, email),
		Slug:      ledger.OrgSlugFor(email),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into organizations(id, name, slug, created_at)
		values ($1, $2, $3, $4)
	`, org.ID, org.Name, org.Slug, org.CreatedAt); err != nil {
		return ledger.Organization{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`update accounts set organization_id=$2 where id=$1`, accountID, org.ID); err != nil {
		return ledger.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Organization{}, err
	}
	return org, nil
}

func (s *Store) Organization(ctx context.Context, id string) (ledger.Organization, error) {
	var org ledger.Organization
	err := s.db.QueryRowContext(ctx, `
		select id, name, slug, coalesce(customer_ref,''), created_at
		from organizations where id=$1
	`, id).Scan(&org.ID, &org.Name, &org.Slug, &org.CustomerRef, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Organization{}, ledger.ErrOrganizationNotFound
	}
	if err != nil {
		return ledger.Organization{}, err
	}
	return org, nil
}

func (s *Store) OrganizationByCustomerRef(ctx context.Context, ref string) (ledger.Organization, error) {
	var org ledger.Organization
	err := s.db.QueryRowContext(ctx, `
		select id, name, slug, coalesce(customer_ref,''), created_at
		from organizations where customer_ref=$1
	`, ref).Scan(&org.ID, &org.Name, &org.Slug, &org.CustomerRef, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Organization{}, ledger.ErrOrganizationNotFound
	}
	if err != nil {
		return ledger.Organization{}, err
	}
	return org, nil
}

func (s *Store) FirstMember(ctx context.Context, organizationID string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+` from accounts
		where organization_id=$1
		order by created_at asc, id asc
		limit 1
	`, organizationID))
}

func (s *Store) Balance(ctx context.Context, accountID string) (ledger.Balance, error) {
	var bal ledger.Balance
	err := s.db.QueryRowContext(ctx,
		`select credits, plan from accounts where id=$1`, accountID).
		Scan(&bal.Credits, &bal.Plan)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Balance{}, err
	}
	return bal, nil
}

func (s *Store) DeductCredits(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the balance so concurrent deductions cannot both pass the check.
	var credits int64
	err = tx.QueryRowContext(ctx,
		`select credits from accounts where id=$1 for update`, accountID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	if credits < amount {
		return 0, ledger.ErrInsufficientCredits
	}

	var remaining int64
	if err := tx.QueryRowContext(ctx, `
		update accounts set credits = credits - $2 where id=$1 returning credits
	`, accountID, amount).Scan(&remaining); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return remaining, nil
}

func (s *Store) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var processed bool
	err := s.db.QueryRowContext(ctx,
		`select processed from webhook_events where id=$1`, eventID).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return processed, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsertEvent records the event as processed. Zero affected rows means a
// concurrent or earlier delivery already handled it.
func upsertEvent(ctx context.Context, q execer, eventID string) error {
	res, err := q.ExecContext(ctx, `
		insert into webhook_events(id, processed, created_at)
		values ($1, true, now())
		on conflict (id) do update set processed = true
		where webhook_events.processed = false
	`, eventID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrEventAlreadyProcessed
	}
	return nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) error {
	return upsertEvent(ctx, s.db, eventID)
}

func (s *Store) ApplyCheckout(ctx context.Context, app ledger.CheckoutApplication) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertEvent(ctx, tx, app.EventID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`update organizations set customer_ref=$2 where id=$1`,
		app.OrganizationID, app.CustomerRef)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrOrganizationNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		insert into billing_records(id, organization_id, account_id, amount, currency, status, type, session_ref, created_at)
		values ($1, $2, $3, $4, $5, 'SUCCESS', $6, $7, now())
	`, ids.New(), app.OrganizationID, app.AccountID,
		app.Amount, app.Currency, app.RecordType, app.SessionRef); err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx, `
		update accounts
		set credits = credits + $2,
		    plan = case when $3 then 'PRO' else plan end
		where id=$1
	`, app.AccountID, app.Credits, app.UpgradeToPro)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrAccountNotFound
	}

	return tx.Commit()
}

func (s *Store) ApplyRenewal(ctx context.Context, app ledger.RenewalApplication) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertEvent(ctx, tx, app.EventID); err != nil {
		return err
	}

	beneficiary := app.AccountID
	if beneficiary == "" {
		beneficiary = ledger.SystemBeneficiary
	}
	if _, err := tx.ExecContext(ctx, `
		insert into billing_records(id, organization_id, account_id, amount, currency, status, type, session_ref, created_at)
		values ($1, $2, $3, $4, $5, 'SUCCESS', $6, $7, now())
	`, ids.New(), app.OrganizationID, beneficiary,
		app.Amount, app.Currency, ledger.BillingTypeRenewal, app.SessionRef); err != nil {
		return err
	}

	if app.AccountID != "" {
		if _, err := tx.ExecContext(ctx,
			`update accounts set credits = credits + $2 where id=$1`,
			app.AccountID, app.Credits); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) BillingRecords(ctx context.Context, organizationID string) ([]ledger.BillingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, account_id, amount, currency, status, type, coalesce(session_ref,''), created_at
		from billing_records
		where organization_id=$1
		order by created_at desc
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.BillingRecord
	for rows.Next() {
		var rec ledger.BillingRecord
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.AccountID, &rec.Amount,
			&rec.Currency, &rec.Status, &rec.Type, &rec.SessionRef, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (s *Store) CreateGeneration(ctx context.Context, rec ledger.GenerationRecord) (ledger.GenerationRecord, error) {
	rec.ID = ids.New()
	err := s.db.QueryRowContext(ctx, `
		insert into generations(id, account_id, organization_id, prompt, result, model, tokens_used, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, now())
		returning created_at
	`, rec.ID, rec.AccountID, rec.OrganizationID, rec.Prompt, rec.Result, rec.Model, rec.TokensUsed).
		Scan(&rec.CreatedAt)
	if err != nil {
		return ledger.GenerationRecord{}, err
	}
	return rec, nil
}

func (s *Store) CountGenerationsSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from generations where account_id=$1 and created_at >= $2
	`, accountID, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) Generations(ctx context.Context, accountID string, limit int) ([]ledger.GenerationRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, account_id, organization_id, prompt, result, model, tokens_used, created_at
		from generations
		where account_id=$1
		order by created_at desc
		limit $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.GenerationRecord
	for rows.Next() {
		var g ledger.GenerationRecord
		if err := rows.Scan(&g.ID, &g.AccountID, &g.OrganizationID, &g.Prompt,
			&g.Result, &g.Model, &g.TokensUsed, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (s *Store) UpsertResetToken(ctx context.Context, tok ledger.PasswordResetToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Supersede any earlier token for the same email.
	if _, err := tx.ExecContext(ctx,
		`delete from password_reset_tokens where email=$1`, tok.Email); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into password_reset_tokens(email, token, expires_at)
		values ($1, $2, $3)
	`, tok.Email, tok.Token, tok.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ResetToken(ctx context.Context, token string) (ledger.PasswordResetToken, error) {
	var tok ledger.PasswordResetToken
	err := s.db.QueryRowContext(ctx, `
		select email, token, expires_at from password_reset_tokens where token=$1
	`, token).Scan(&tok.Email, &tok.Token, &tok.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PasswordResetToken{}, ledger.ErrTokenNotFound
	}
	if err != nil {
		return ledger.PasswordResetToken{}, err
	}
	return tok, nil
}

func (s *Store) ConsumeResetToken(ctx context.Context, token, email, newHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var storedEmail string
	err = tx.QueryRowContext(ctx,
		`select email from password_reset_tokens where token=$1 for update`, token).
		Scan(&storedEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrTokenNotFound
	}
	if err != nil {
		return err
	}
	if !strings.EqualFold(storedEmail, email) {
		return ledger.ErrTokenNotFound
	}

	res, err := tx.ExecContext(ctx,
		`update accounts set password_hash=$2 where email=$1`,
		strings.ToLower(email), newHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrAccountNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`delete from password_reset_tokens where token=$1`, token); err != nil {
		return err
	}
	return tx.Commit()
}
