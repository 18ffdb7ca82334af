// Package recurrence detects recurring income sources in a transaction history
// and projects the next expected payment date for each of them.
//
// The package is pure: no I/O, no shared state. Every call builds its own
// intermediate values and returns freshly allocated results.
package recurrence

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
)

const (
	// DefaultToleranceDays is the accepted drift around the estimated cadence.
	DefaultToleranceDays = 5
	// DefaultDateLayout renders pay dates the way an en-US browser does.
	DefaultDateLayout = "1/2/2006"
	// MinPayments is the number of distinct-date payments needed before a
	// source is considered at all.
	MinPayments = 3
)

// Rejection reasons reported by Analyze.
const (
	ReasonInsufficientSamples = "insufficient_samples"
	ReasonInconsistentCadence = "inconsistent_cadence"
)

// Config tunes the detector.
type Config struct {
	ToleranceDays int
	// DateLayout is the time layout used for EstimatedPayDate. Empty means DefaultDateLayout.
	DateLayout string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{ToleranceDays: DefaultToleranceDays, DateLayout: DefaultDateLayout}
}

// Rejection records why a source group was left out of the predictions.
type Rejection struct {
	Source string
	Reason string
}

// Analysis is the full outcome of a detection run.
type Analysis struct {
	Predictions []domain.RecurringSource
	Rejections  []Rejection
}

// Gap is the distance in days to the previous payment. Valid is false for the
// first payment of a source.
type Gap struct {
	Days  float64
	Valid bool
}

type entry struct {
	date   time.Time
	amount float64
	gap    Gap
}

type sourceGroup struct {
	key     string
	entries []entry
}

type candidate struct {
	prediction domain.RecurringSource
	payDate    time.Time
}

// Detect returns the recurring income sources found in txs, ordered by
// estimated pay date. An empty or outflow-only history yields an empty slice.
func Detect(txs []domain.Transaction, cfg Config) ([]domain.RecurringSource, error) {
	a, err := Analyze(txs, cfg)
	if err != nil {
		return nil, err
	}
	return a.Predictions, nil
}

// Analyze runs the detector and also reports the sources it rejected.
//
// The first malformed positive-amount transaction aborts the whole call with
// *domain.ErrMalformedInput.
func Analyze(txs []domain.Transaction, cfg Config) (*Analysis, error) {
	if cfg.ToleranceDays < 0 {
		return nil, &domain.ErrValidation{Field: "toleranceDays", Message: "must be non-negative"}
	}
	layout := cfg.DateLayout
	if layout == "" {
		layout = DefaultDateLayout
	}

	groups, err := groupBySource(txs)
	if err != nil {
		return nil, err
	}

	tol := float64(cfg.ToleranceDays)
	candidates := make([]candidate, 0, len(groups))
	var rejections []Rejection

	for _, g := range groups {
		entries := mergeSameDay(g.entries)
		if len(entries) < MinPayments {
			rejections = append(rejections, Rejection{Source: g.key, Reason: ReasonInsufficientSamples})
			continue
		}

		cadence, ok := estimateCadence(entries, tol)
		if !ok {
			rejections = append(rejections, Rejection{Source: g.key, Reason: ReasonInconsistentCadence})
			continue
		}

		candidates = append(candidates, project(g.key, entries, cadence, layout))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].payDate.Before(candidates[j].payDate)
	})

	predictions := make([]domain.RecurringSource, len(candidates))
	for i, c := range candidates {
		predictions[i] = c.prediction
	}
	return &Analysis{Predictions: predictions, Rejections: rejections}, nil
}

// groupBySource drops outflows and folds the rest into groups keyed by the
// lower-cased name, in first-seen order.
func groupBySource(txs []domain.Transaction) ([]sourceGroup, error) {
	var groups []sourceGroup
	index := make(map[string]int)

	for i, tx := range txs {
		if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
			return nil, &domain.ErrMalformedInput{
				Index: i, Name: tx.Name, Field: "amount",
				Value:  strconv.FormatFloat(tx.Amount, 'g', -1, 64),
				Reason: "not a finite number",
			}
		}
		if tx.Amount <= 0 {
			continue
		}

		date, err := ParseDate(tx.Date)
		if err != nil {
			return nil, &domain.ErrMalformedInput{
				Index: i, Name: tx.Name, Field: "date", Value: tx.Date,
				Reason: "unrecognised date format",
			}
		}

		key := strings.ToLower(tx.Name)
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, sourceGroup{key: key})
		}
		groups[pos].entries = append(groups[pos].entries, entry{date: date, amount: tx.Amount})
	}
	return groups, nil
}

// mergeSameDay sorts a group's entries and collapses payments sharing the
// exact same date into one, filling in the gap of every kept entry.
func mergeSameDay(in []entry) []entry {
	sorted := make([]entry, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].date.Before(sorted[j].date)
	})

	out := make([]entry, 0, len(sorted))
	for _, e := range sorted {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.date.Equal(e.date) {
				last.amount += e.amount
				continue
			}
			e.gap = Gap{Days: e.date.Sub(last.date).Hours() / 24, Valid: true}
		}
		out = append(out, e)
	}
	return out
}

// estimateCadence takes the first gap as the benchmark and checks every later
// gap against it. Bounds are inclusive.
func estimateCadence(entries []entry, tol float64) (float64, bool) {
	var cadence Gap
	for _, e := range entries {
		if !e.gap.Valid {
			continue
		}
		if !cadence.Valid {
			cadence = e.gap
			continue
		}
		if e.gap.Days > cadence.Days+tol || e.gap.Days < cadence.Days-tol {
			return 0, false
		}
	}
	return cadence.Days, cadence.Valid
}

// project computes the output record. Fractional cadences are truncated to
// whole days before being added to the last payment date.
func project(key string, entries []entry, cadence float64, layout string) candidate {
	var total float64
	for _, e := range entries {
		total += e.amount
	}
	last := entries[len(entries)-1]
	payDate := last.date.AddDate(0, 0, int(math.Trunc(cadence)))

	return candidate{
		prediction: domain.RecurringSource{
			Source:            key,
			TransactionCount:  len(entries),
			AveragePayment:    formatMoney(total / float64(len(entries))),
			MostRecentPayment: formatMoney(last.amount),
			EstimatedPayDate:  payDate.Format(layout),
		},
		payDate: payDate,
	}
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
