// Package vendors implements behavioral vendor profiling for invoice validation.
//
// A profile accumulates running statistics per vendor: price buckets per
// line-item category, service-pattern frequencies, and blended trust
// metrics. The engine resolves vendor identity (tax id before name,
// exact before fuzzy), updates statistics per invoice, and detects
// anomalies by comparing a new invoice against the profile as it stood
// before that invoice contributed to the statistics.
package vendors

import (
	"fmt"
	"math"
	"time"
)

// PriceBucket is a running per-category price statistic.
// Invariant: SampleSize >= 1 and Min <= Average <= Max.
type PriceBucket struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Average    float64 `json:"average"`
	SampleSize int     `json:"sampleSize"`
}

// Observe folds a new unit price into the bucket.
func (b *PriceBucket) Observe(price float64) {
	if b.SampleSize == 0 {
		b.Min, b.Max, b.Average, b.SampleSize = price, price, price, 1
		return
	}
	if price < b.Min {
		b.Min = price
	}
	if price > b.Max {
		b.Max = price
	}
	b.Average = (b.Average*float64(b.SampleSize) + price) / float64(b.SampleSize+1)
	b.SampleSize++
}

// ServicePattern tracks how often a vendor bills a given service.
type ServicePattern struct {
	Frequency int       `json:"frequency"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// TrustMetrics are blended behavioral scores, each in [0,1].
type TrustMetrics struct {
	Reliability     float64         `json:"reliability"`
	PriceStability  float64         `json:"priceStability"`
	DocumentQuality float64         `json:"documentQuality"`
	Anomalies       []AnomalyRecord `json:"anomalies,omitempty"`
}

// AnomalyRecord is a detected irregularity appended to a profile.
// Records are never removed automatically; resolution is an
// administrative action.
type AnomalyRecord struct {
	Type        AnomalyType `json:"type"`
	Description string      `json:"description"`
	Severity    float64     `json:"severity"` // 0.0-1.0
	DetectedAt  time.Time   `json:"detectedAt"`
	Resolved    bool        `json:"resolved"`
}

// AnomalyType tags the kind of irregularity detected.
type AnomalyType string

const (
	AnomalyMissingRegistration  AnomalyType = "missing_registration"
	AnomalyMissingAddress       AnomalyType = "missing_address"
	AnomalyRoundNumbers         AnomalyType = "round_numbers"
	AnomalyNewBankAccount       AnomalyType = "new_bank_account"
	AnomalyAccountNameMismatch  AnomalyType = "account_name_mismatch"
	AnomalySuspiciouslyLowPrice AnomalyType = "suspiciously_low_price"
	AnomalySuspiciouslyHighPrice AnomalyType = "suspiciously_high_price"
	AnomalyUnusualServices      AnomalyType = "unusual_services"
	AnomalyNoSpecialtyServices  AnomalyType = "no_specialty_services"
)

// Profile is the full behavioral record of one vendor.
type Profile struct {
	ID             string   `json:"id"`
	LegalName      string   `json:"legalName"`
	NormalizedName string   `json:"normalizedName"`
	KvKNumber      string   `json:"kvkNumber,omitempty"`
	VATNumber      string   `json:"vatNumber,omitempty"`
	Addresses      []string `json:"addresses,omitempty"`
	Accounts       []string `json:"accounts,omitempty"` // normalized IBANs
	Categories     []string `json:"categories,omitempty"`
	Specialties    []string `json:"specialties,omitempty"`

	Services map[string]ServicePattern `json:"services,omitempty"` // exact description → pattern
	Prices   map[string]PriceBucket    `json:"prices,omitempty"`   // item category → bucket

	Trust        TrustMetrics `json:"trust"`
	InvoiceCount int          `json:"invoiceCount"`

	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NeutralTrust is the prior assigned to every new vendor.
const NeutralTrust = 0.5

// HistoricalWeightCap keeps a profile at least 20% responsive to new
// evidence no matter how long its history is.
const HistoricalWeightCap = 0.8

// HistoricalWeight returns the blending weight given to a profile's
// stored metrics: min(0.8, invoiceCount/10).
func HistoricalWeight(invoiceCount int) float64 {
	w := float64(invoiceCount) / 10
	if w > HistoricalWeightCap {
		return HistoricalWeightCap
	}
	if w < 0 {
		return 0
	}
	return w
}

// Blend mixes a stored score with incoming evidence using the
// historical weight for the given invoice count.
func Blend(current, incoming float64, invoiceCount int) float64 {
	hw := HistoricalWeight(invoiceCount)
	return current*hw + incoming*(1-hw)
}

// Dispersion returns the profile's current price dispersion signal:
// for each bucket with more than one sample, the larger of the two
// spreads around the average relative to the average, averaged across
// buckets. Returns (0, false) when no bucket is eligible.
func (p *Profile) Dispersion() (float64, bool) {
	var sum float64
	var n int
	for _, b := range p.Prices {
		if b.SampleSize <= 1 || b.Average == 0 {
			continue
		}
		dev := math.Max(math.Abs(b.Max-b.Average), math.Abs(b.Min-b.Average)) / b.Average
		sum += dev
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// HasTaxID reports whether the profile carries any registration number.
func (p *Profile) HasTaxID() bool {
	return p.KvKNumber != "" || p.VATNumber != ""
}

// KnowsAccount reports whether the normalized IBAN is already on file.
func (p *Profile) KnowsAccount(iban string) bool {
	for _, a := range p.Accounts {
		if a == iban {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Addresses = append([]string(nil), p.Addresses...)
	out.Accounts = append([]string(nil), p.Accounts...)
	out.Categories = append([]string(nil), p.Categories...)
	out.Specialties = append([]string(nil), p.Specialties...)
	out.Trust.Anomalies = append([]AnomalyRecord(nil), p.Trust.Anomalies...)
	if p.Services != nil {
		out.Services = make(map[string]ServicePattern, len(p.Services))
		for k, v := range p.Services {
			out.Services[k] = v
		}
	}
	if p.Prices != nil {
		out.Prices = make(map[string]PriceBucket, len(p.Prices))
		for k, v := range p.Prices {
			out.Prices[k] = v
		}
	}
	return &out
}

// TrustAnalysis summarizes a vendor's standing for a validation result.
type TrustAnalysis struct {
	OverallScore float64  `json:"overallScore"` // 0.0-1.0
	Factors      []string `json:"factors,omitempty"`
}

// PriceCheckSource says which statistic a price check was measured against.
type PriceCheckSource string

const (
	PriceSourceVendor   PriceCheckSource = "vendor"
	PriceSourceIndustry PriceCheckSource = "industry"
	PriceSourceNone     PriceCheckSource = "none"
)

// PriceCheck is the outcome of a price-reasonableness check for one
// line item.
type PriceCheck struct {
	InRange   bool             `json:"inRange"`
	Source    PriceCheckSource `json:"source"`
	LowBound  float64          `json:"lowBound,omitempty"`
	HighBound float64          `json:"highBound,omitempty"`
	Deviation float64          `json:"deviation,omitempty"` // vs the violated bound
}

func (c PriceCheck) String() string {
	if c.Source == PriceSourceNone {
		return "no price history"
	}
	state := "within"
	if !c.InRange {
		state = "outside"
	}
	return fmt.Sprintf("%s %s band [%.2f, %.2f]", state, c.Source, c.LowBound, c.HighBound)
}
