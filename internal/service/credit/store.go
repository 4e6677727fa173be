// Package credit reads user credit profiles for context injection and
// provisions simulated data for first-contact WhatsApp users.
package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoProfile marks the expected, common case of a user with no credit
// insights row yet. It is not a failure.
var ErrNoProfile = errors.New("no credit profile for user")

// Profile is one usercreditinsights row.
type Profile struct {
	UserID                string    `json:"user_id"`
	CreditScore           int       `json:"credit_score"`
	KOLScore              int       `json:"kol_score"`
	OutstandingAmount     float64   `json:"outstanding_amount"`
	NumberOfUnsecuredLoan int       `json:"number_of_unsecured_loan"`
	NumberOfSecuredLoan   int       `json:"number_of_secured_loan"`
	PenaltyAmount         float64   `json:"penalty_amount"`
	MaxDPD                int       `json:"max_dpd"`
	NumberOfCC            int       `json:"number_of_cc"`
	FullName              string    `json:"full_name"`
	Email                 string    `json:"email"`
	LastUpdated           time.Time `json:"last_updated"`
}

// Tradeline is one usertradelinedata row, optionally carrying its
// payment history.
type Tradeline struct {
	TradelineID    int64     `json:"-"`
	Creditor       string    `json:"creditor"`
	LoanType       string    `json:"loan_type"`
	CreditLimit    float64   `json:"credit_limit"`
	Outstanding    float64   `json:"outstanding"`
	MonthlyPayment float64   `json:"monthly_payment"`
	InterestRate   float64   `json:"interest_rate"`
	Tenure         int       `json:"tenure"`
	OpenDate       time.Time `json:"open_date"`
	Status         string    `json:"status"`
	PaymentHistory []Payment `json:"paymentHistory,omitempty"`
}

// Payment is one userpaymenthistory row.
type Payment struct {
	PaymentDate   time.Time `json:"payment_date"`
	PaymentAmount float64   `json:"payment_amount"`
	PenaltyAmount float64   `json:"penalty_amount"`
	DPD           int       `json:"dpd"`
}

// Store is the read-mostly credit database.
type Store struct {
	db *sql.DB
}

// Open connects to the credit database. An empty path yields a disabled
// store; the orchestrator treats that as a configuration error per turn.
func Open(path string) (*Store, error) {
	if path == "" {
		return &Store{}, nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open credit store: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Enabled reports whether a backing database is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS usercreditinsights (
	user_id TEXT PRIMARY KEY,
	credit_score INTEGER NOT NULL,
	kol_score INTEGER NOT NULL,
	outstanding_amount REAL NOT NULL,
	number_of_unsecured_loan INTEGER NOT NULL,
	number_of_secured_loan INTEGER NOT NULL,
	penalty_amount REAL NOT NULL,
	max_dpd INTEGER NOT NULL,
	number_of_cc INTEGER NOT NULL,
	full_name TEXT,
	email TEXT,
	last_updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS usertradelinedata (
	tradeline_id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	creditor TEXT NOT NULL,
	loan_type TEXT NOT NULL,
	credit_limit REAL NOT NULL,
	outstanding REAL NOT NULL,
	monthly_payment REAL NOT NULL,
	interest_rate REAL NOT NULL,
	tenure INTEGER NOT NULL,
	open_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS userpaymenthistory (
	payment_id INTEGER PRIMARY KEY AUTOINCREMENT,
	tradeline_id INTEGER NOT NULL,
	payment_date TIMESTAMP NOT NULL,
	payment_amount REAL NOT NULL,
	penalty_amount REAL NOT NULL DEFAULT 0,
	dpd INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tradeline_user ON usertradelinedata(user_id);
CREATE INDEX IF NOT EXISTS idx_payment_tradeline ON userpaymenthistory(tradeline_id, payment_date);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ensure credit schema: %w", err)
	}
	return nil
}

// GetProfile fetches the user's credit insights. Returns ErrNoProfile for
// users without a row.
func (s *Store) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if !s.Enabled() {
		return Profile{}, errors.New("credit store not configured")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, credit_score, kol_score, outstanding_amount,
		        number_of_unsecured_loan, number_of_secured_loan, penalty_amount,
		        max_dpd, number_of_cc, COALESCE(full_name, ''), COALESCE(email, ''), last_updated
		 FROM usercreditinsights WHERE user_id = ?`, userID)

	var p Profile
	err := row.Scan(&p.UserID, &p.CreditScore, &p.KOLScore, &p.OutstandingAmount,
		&p.NumberOfUnsecuredLoan, &p.NumberOfSecuredLoan, &p.PenaltyAmount,
		&p.MaxDPD, &p.NumberOfCC, &p.FullName, &p.Email, &p.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNoProfile
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// GetTradelines fetches every tradeline for the user, without payment
// history.
func (s *Store) GetTradelines(ctx context.Context, userID string) ([]Tradeline, error) {
	if !s.Enabled() {
		return nil, errors.New("credit store not configured")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT tradeline_id, creditor, loan_type, credit_limit, outstanding,
		        monthly_payment, interest_rate, tenure, open_date, status
		 FROM usertradelinedata WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("get tradelines: %w", err)
	}
	defer rows.Close()

	tradelines := []Tradeline{}
	for rows.Next() {
		var t Tradeline
		if err := rows.Scan(&t.TradelineID, &t.Creditor, &t.LoanType, &t.CreditLimit,
			&t.Outstanding, &t.MonthlyPayment, &t.InterestRate, &t.Tenure, &t.OpenDate, &t.Status); err != nil {
			return nil, fmt.Errorf("scan tradeline: %w", err)
		}
		tradelines = append(tradelines, t)
	}
	return tradelines, rows.Err()
}

// GetPaymentHistory fetches a tradeline's payments, newest first.
func (s *Store) GetPaymentHistory(ctx context.Context, tradelineID int64) ([]Payment, error) {
	if !s.Enabled() {
		return nil, errors.New("credit store not configured")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payment_date, payment_amount, penalty_amount, dpd
		 FROM userpaymenthistory WHERE tradeline_id = ?
		 ORDER BY payment_date DESC`, tradelineID)
	if err != nil {
		return nil, fmt.Errorf("get payment history: %w", err)
	}
	defer rows.Close()

	payments := []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.PaymentDate, &p.PaymentAmount, &p.PenaltyAmount, &p.DPD); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// EnsureUser creates the user's simulated credit profile on first contact:
// an insights row, two tradelines and their payment history. Reports
// whether the user was newly created.
func (s *Store) EnsureUser(ctx context.Context, userID, fullName, email string) (bool, error) {
	if !s.Enabled() {
		return false, errors.New("credit store not configured")
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM usercreditinsights WHERE user_id = ?`, userID).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check user: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usercreditinsights (
			user_id, credit_score, kol_score, outstanding_amount,
			number_of_unsecured_loan, number_of_secured_loan, penalty_amount,
			max_dpd, number_of_cc, full_name, email, last_updated
		) VALUES (?, 650, 1, 10000000, 2, 1, 0, 5, 1, ?, ?, CURRENT_TIMESTAMP)`,
		userID, fullName, email); err != nil {
		return false, fmt.Errorf("insert insights: %w", err)
	}

	seedTradelines := []struct {
		creditor string
		loanType string
		limit    float64
		out      float64
		monthly  float64
		rate     float64
		tenure   int
	}{
		{"Bank ABC", "personal_loan", 5000000, 3000000, 500000, 12.5, 24},
		{"Bank XYZ", "credit_card", 10000000, 2000000, 300000, 18.0, 36},
	}

	for _, seed := range seedTradelines {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO usertradelinedata (
				user_id, creditor, loan_type, credit_limit, outstanding,
				monthly_payment, interest_rate, tenure, open_date, status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, 'active')`,
			userID, seed.creditor, seed.loanType, seed.limit, seed.out,
			seed.monthly, seed.rate, seed.tenure)
		if err != nil {
			return false, fmt.Errorf("insert tradeline: %w", err)
		}
		tradelineID, err := res.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("tradeline id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO userpaymenthistory (tradeline_id, payment_date, payment_amount, penalty_amount, dpd)
			 VALUES (?, datetime('now', '-30 days'), ?, 0, 0),
			        (?, datetime('now', '-60 days'), ?, 0, 0)`,
			tradelineID, seed.monthly, tradelineID, seed.monthly); err != nil {
			return false, fmt.Errorf("insert payment history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}
	return true, nil
}
