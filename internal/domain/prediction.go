package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// RecurringSource is a detected recurring income source with its next expected payment.
// Money fields are pre-formatted with two decimals; the JSON keys follow the
// wire format consumed by the web client.
type RecurringSource struct {
	Source            string `json:"source"`
	TransactionCount  int    `json:"transactions"`
	AveragePayment    string `json:"averagePayment"`
	MostRecentPayment string `json:"mostRecentPayment"`
	EstimatedPayDate  string `json:"estimatedPayDate"`
}

// DetectRequest is the body of POST /v1/predictions/detect.
type DetectRequest struct {
	Transactions  []DetectTransaction `json:"transactions"`
	ToleranceDays *int                `json:"toleranceDays,omitempty"`
}

// DetectTransaction is a transaction as posted by a client. Amount is kept
// raw so a bad value can be reported against its transaction instead of
// failing the whole body.
type DetectTransaction struct {
	ID     string          `json:"id,omitempty"`
	Email  string          `json:"email,omitempty"`
	Name   string          `json:"name"`
	Date   string          `json:"date"`
	Amount json.RawMessage `json:"amount"`
}

// DomainTransactions converts the posted transactions. A missing or null
// amount is zero; a JSON number or a numeric string is accepted; anything
// else is *ErrMalformedInput.
func (r DetectRequest) DomainTransactions() ([]Transaction, error) {
	txs := make([]Transaction, len(r.Transactions))
	for i, t := range r.Transactions {
		amount, ok := parseAmount(t.Amount)
		if !ok {
			return nil, &ErrMalformedInput{
				Index:  i,
				Name:   t.Name,
				Field:  "amount",
				Value:  rawText(t.Amount),
				Reason: "not a number",
			}
		}
		txs[i] = Transaction{ID: t.ID, Email: t.Email, Name: t.Name, Date: t.Date, Amount: amount}
	}
	return txs, nil
}

func parseAmount(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// PredictionReport bundles a user with their predictions.
type PredictionReport struct {
	ID            string            `json:"id"`
	User          *User             `json:"user"`
	ToleranceDays int               `json:"toleranceDays"`
	Predictions   []RecurringSource `json:"predictions"`
	GeneratedAt   time.Time         `json:"generatedAt"`
}
