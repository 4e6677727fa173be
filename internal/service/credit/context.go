package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

// NoDataContext is the sentinel placed into the LLM context for users
// without a credit insights row. Missing data is a valid state, not an
// error.
const NoDataContext = "No specific credit data found for your account in the simulation database."

// ProfileReader is the read surface the assembler needs from the store.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
	GetTradelines(ctx context.Context, userID string) ([]Tradeline, error)
	GetPaymentHistory(ctx context.Context, tradelineID int64) ([]Payment, error)
}

// Assembler turns a user's credit data into the system-level context
// string injected into every completion call. The consumer is a language
// model, so the format favors completeness over schema rigidity.
type Assembler struct {
	store ProfileReader
}

// NewAssembler builds an assembler over the given store.
func NewAssembler(store ProfileReader) *Assembler {
	return &Assembler{store: store}
}

// redactedInsights is the profile as the LLM is allowed to see it: no
// user id, no email, no raw last_updated timestamp.
type redactedInsights struct {
	CreditScore           int     `json:"credit_score"`
	KOLScore              int     `json:"kol_score"`
	OutstandingAmount     float64 `json:"outstanding_amount"`
	NumberOfUnsecuredLoan int     `json:"number_of_unsecured_loan"`
	NumberOfSecuredLoan   int     `json:"number_of_secured_loan"`
	PenaltyAmount         float64 `json:"penalty_amount"`
	MaxDPD                int     `json:"max_dpd"`
	NumberOfCC            int     `json:"number_of_cc"`
	FullName              string  `json:"full_name"`
}

// BuildContext fetches the user's profile, tradelines and payment history
// and serializes them for the LLM. A missing profile yields NoDataContext
// and no error; store failures propagate to the caller, which treats them
// as fatal for the turn only.
func (a *Assembler) BuildContext(ctx context.Context, userID string) (string, error) {
	profile, err := a.store.GetProfile(ctx, userID)
	if errors.Is(err, ErrNoProfile) {
		log.Printf("[credit] no insights for user %s", userID)
		return NoDataContext, nil
	}
	if err != nil {
		return "", err
	}

	tradelines, err := a.store.GetTradelines(ctx, userID)
	if err != nil {
		return "", err
	}
	for i := range tradelines {
		history, err := a.store.GetPaymentHistory(ctx, tradelines[i].TradelineID)
		if err != nil {
			return "", err
		}
		tradelines[i].PaymentHistory = history
	}

	insightsJSON, err := json.Marshal(redact(profile))
	if err != nil {
		return "", fmt.Errorf("marshal insights: %w", err)
	}
	tradelinesJSON, err := json.Marshal(tradelines)
	if err != nil {
		return "", fmt.Errorf("marshal tradelines: %w", err)
	}

	return fmt.Sprintf("User Credit Data:\nInsights: %s\nTradelines: %s", insightsJSON, tradelinesJSON), nil
}

func redact(p Profile) redactedInsights {
	return redactedInsights{
		CreditScore:           p.CreditScore,
		KOLScore:              p.KOLScore,
		OutstandingAmount:     p.OutstandingAmount,
		NumberOfUnsecuredLoan: p.NumberOfUnsecuredLoan,
		NumberOfSecuredLoan:   p.NumberOfSecuredLoan,
		PenaltyAmount:         p.PenaltyAmount,
		MaxDPD:                p.MaxDPD,
		NumberOfCC:            p.NumberOfCC,
		FullName:              p.FullName,
	}
}
