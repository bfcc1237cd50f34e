package vendors

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mvdveen/bouwdepot/internal/invoice"
	"github.com/mvdveen/bouwdepot/internal/metrics"
)

// Round-number heuristic: totals divisible by 10 above this floor
// count as suspicious when most of the invoice looks like that.
const roundNumberFloor = 50

// DetectAnomalies evaluates the invoice against the profile snapshot
// taken before this invoice was folded into the statistics. All
// applicable anomalies are reported; they are not mutually exclusive.
//
// Vendors with at most one invoice on record only receive the
// history-independent checks (registration, address, round numbers):
// statistical anomalies against a one-point history would be noise.
func (e *Engine) DetectAnomalies(snapshot *Profile, inv *invoice.Invoice) []AnomalyRecord {
	now := e.now()
	var out []AnomalyRecord

	add := func(t AnomalyType, severity float64, desc string) {
		out = append(out, AnomalyRecord{
			Type:        t,
			Description: desc,
			Severity:    clamp01(severity),
			DetectedAt:  now,
		})
		metrics.AnomaliesTotal.WithLabelValues(string(t)).Inc()
	}

	if !inv.Vendor.HasTaxID() {
		add(AnomalyMissingRegistration, 0.6, "vendor has neither a KvK number nor a VAT number")
	}
	if strings.TrimSpace(inv.Vendor.Address) == "" {
		add(AnomalyMissingAddress, 0.3, "vendor address is missing from the invoice")
	}
	if hasRoundNumberPattern(inv.LineItems) {
		add(AnomalyRoundNumbers, 0.4, "line item prices are dominated by round amounts")
	}

	if snapshot == nil || snapshot.InvoiceCount <= 1 {
		return out
	}

	if iban := invoice.NormalizeIBAN(inv.Payment.IBAN); iban != "" && len(snapshot.Accounts) > 0 && !snapshot.KnowsAccount(iban) {
		add(AnomalyNewBankAccount, 0.7,
			fmt.Sprintf("payment account not among %d known accounts for this vendor", len(snapshot.Accounts)))
	}

	if holder := invoice.NormalizeName(inv.Payment.AccountHolder); holder != "" && snapshot.NormalizedName != "" {
		if !strings.Contains(holder, snapshot.NormalizedName) && !strings.Contains(snapshot.NormalizedName, holder) {
			add(AnomalyAccountNameMismatch, 0.8,
				fmt.Sprintf("account holder %q does not resemble vendor name %q", inv.Payment.AccountHolder, snapshot.LegalName))
		}
	}

	out = append(out, e.priceAnomalies(snapshot, inv, now)...)

	if unknown := e.unknownServiceCount(snapshot, inv.LineItems); unknown > 0 {
		severity := minFloat(0.3+0.1*float64(unknown), 0.7)
		add(AnomalyUnusualServices, severity,
			fmt.Sprintf("%d line items match no known service pattern for this vendor", unknown))
	}

	if len(snapshot.Specialties) > 0 && len(inv.LineItems) > 0 && !e.matchesAnySpecialty(snapshot, inv.LineItems) {
		add(AnomalyNoSpecialtyServices, 0.5, "no line item matches the vendor's declared specialties")
	}

	return out
}

// priceAnomalies flags unit prices far outside the vendor's own
// history. The anomaly bands (min*0.6, max*1.4) are wider than the
// validation bands, so anything flagged here has already failed the
// price-reasonableness check too.
func (e *Engine) priceAnomalies(snapshot *Profile, inv *invoice.Invoice, now time.Time) []AnomalyRecord {
	var out []AnomalyRecord
	for _, item := range inv.LineItems {
		bucket, ok := matchBucket(snapshot.Prices, item.Description)
		if !ok || bucket.SampleSize < 2 {
			continue
		}
		price := item.EffectiveUnitPrice()

		if low := bucket.Min * AnomalyBandLow; low > 0 && price < low {
			deviation := (bucket.Min - price) / bucket.Min
			if deviation > 0.2 {
				out = append(out, AnomalyRecord{
					Type:     AnomalySuspiciouslyLowPrice,
					Severity: minFloat(0.3+deviation, 0.7),
					Description: fmt.Sprintf("%q priced at %.2f, far below historical minimum %.2f",
						item.Description, price, bucket.Min),
					DetectedAt: now,
				})
				metrics.AnomaliesTotal.WithLabelValues(string(AnomalySuspiciouslyLowPrice)).Inc()
			}
		}

		if high := bucket.Max * AnomalyBandHigh; price > high {
			deviation := (price - bucket.Max) / bucket.Max
			if deviation > 0.2 {
				out = append(out, AnomalyRecord{
					Type:     AnomalySuspiciouslyHighPrice,
					Severity: minFloat(0.4+deviation, 0.8),
					Description: fmt.Sprintf("%q priced at %.2f, far above historical maximum %.2f",
						item.Description, price, bucket.Max),
					DetectedAt: now,
				})
				metrics.AnomaliesTotal.WithLabelValues(string(AnomalySuspiciouslyHighPrice)).Inc()
			}
		}
	}
	return out
}

// hasRoundNumberPattern reports whether at least three line items (or
// every item, when there are fewer than three) carry a price divisible
// by 10 and larger than the floor.
func hasRoundNumberPattern(items []invoice.LineItem) bool {
	if len(items) == 0 {
		return false
	}
	round := 0
	for _, item := range items {
		p := item.TotalPrice
		if p > roundNumberFloor && math.Mod(p, 10) == 0 {
			round++
		}
	}
	if len(items) < 3 {
		return round == len(items)
	}
	return round >= 3
}

func (e *Engine) unknownServiceCount(snapshot *Profile, items []invoice.LineItem) int {
	if len(snapshot.Services) == 0 {
		return 0
	}
	unknown := 0
	for _, item := range items {
		if strings.TrimSpace(item.Description) == "" {
			continue
		}
		if !e.knowsService(snapshot, item.Description) {
			unknown++
		}
	}
	return unknown
}

func (e *Engine) matchesAnySpecialty(snapshot *Profile, items []invoice.LineItem) bool {
	for _, item := range items {
		desc := strings.ToLower(strings.TrimSpace(item.Description))
		if desc == "" {
			continue
		}
		for _, specialty := range snapshot.Specialties {
			if e.matcher.Match(strings.ToLower(specialty), desc) {
				return true
			}
		}
	}
	return false
}
