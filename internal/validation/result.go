// Package validation defines the invoice validation result model.
//
// A Result accumulates findings from every processing stage: structural
// issues, fraud indicators, confidence scoring, and a step-by-step audit
// trail. Partial results produced by independent checks are combined
// with Merge, and the final result is sealed with an HMAC signature so
// downstream consumers can verify it was not tampered with after the
// fact.
package validation

import (
	"time"

	"github.com/mvdveen/bouwdepot/internal/invoice"
)

// Severity classifies how serious an issue is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a single finding attached to a validation result.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// RiskLevel is a human-readable banding of the fraud risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"    // 0-30
	RiskMedium RiskLevel = "medium" // 31-70
	RiskHigh   RiskLevel = "high"   // 71-100
)

// RiskLevelFor maps a 0-100 risk score to its band.
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score <= 30:
		return RiskLow
	case score <= 70:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// FraudIndicator is a single fraud signal with its own weight.
type FraudIndicator struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Severity    float64 `json:"severity"` // 0.0-1.0
}

// FraudSignals aggregates fraud indicators into a bounded risk score.
type FraudSignals struct {
	RiskScore  int              `json:"riskScore"` // 0-100
	RiskLevel  RiskLevel        `json:"riskLevel"`
	Indicators []FraudIndicator `json:"indicators,omitempty"`
}

// IsZero reports whether no fraud data has been recorded yet.
func (f *FraudSignals) IsZero() bool {
	return f.RiskScore == 0 && len(f.Indicators) == 0
}

// Raise adds an indicator and bumps the risk score, capped at 100.
func (f *FraudSignals) Raise(ind FraudIndicator, points int) {
	f.Indicators = append(f.Indicators, ind)
	f.RiskScore += points
	if f.RiskScore > 100 {
		f.RiskScore = 100
	}
	f.RiskLevel = RiskLevelFor(f.RiskScore)
}

// ProcessingStep records one entry in the audit trail.
type ProcessingStep struct {
	Stage string    `json:"stage"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// AuditReport is the ordered history of how a result was produced.
type AuditReport struct {
	AppliedRules []string         `json:"appliedRules,omitempty"`
	Steps        []ProcessingStep `json:"steps,omitempty"`
}

func (a *AuditReport) isEmpty() bool {
	return len(a.AppliedRules) == 0 && len(a.Steps) == 0
}

// PurchaseAnalysis is the external judgment service's reading of what
// the invoice actually buys.
type PurchaseAnalysis struct {
	Summary            string   `json:"summary,omitempty"`
	Categories         []string `json:"categories,omitempty"`
	PermanentlyAttached bool    `json:"permanentlyAttached"`
	QualityImprovement  bool    `json:"qualityImprovement"`
}

// Result is the full outcome of validating one invoice.
type Result struct {
	ID                string            `json:"id"`
	VendorID          string            `json:"vendorId,omitempty"`
	IsValid           bool              `json:"isValid"`
	ConfidenceScore   float64           `json:"confidenceScore"` // 0.0-1.0
	ConfidenceFactors []string          `json:"confidenceFactors,omitempty"`
	PossibleTampering bool              `json:"possibleTampering"`
	Fraud             FraudSignals      `json:"fraud"`
	Issues            []Issue           `json:"issues,omitempty"`
	Audit             AuditReport       `json:"audit"`
	Purchase          *PurchaseAnalysis `json:"purchase,omitempty"`
	Invoice           *invoice.Invoice  `json:"invoice,omitempty"`

	// Signature seals the result. Once set the result is immutable;
	// it is computed over the canonical JSON with this field cleared.
	Signature string     `json:"signature,omitempty"`
	SignedAt  *time.Time `json:"signedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// AddIssue appends an issue, skipping exact (severity, message) duplicates.
func (r *Result) AddIssue(sev Severity, msg string) {
	for _, existing := range r.Issues {
		if existing.Severity == sev && existing.Message == msg {
			return
		}
	}
	r.Issues = append(r.Issues, Issue{Severity: sev, Message: msg})
}

// AddStep appends an audit trail entry.
func (r *Result) AddStep(stage, note string) {
	r.Audit.Steps = append(r.Audit.Steps, ProcessingStep{
		Stage: stage,
		Note:  note,
		At:    time.Now().UTC(),
	})
}

// AddRule records a rule name in the audit trail once.
func (r *Result) AddRule(name string) {
	for _, existing := range r.Audit.AppliedRules {
		if existing == name {
			return
		}
	}
	r.Audit.AppliedRules = append(r.Audit.AppliedRules, name)
}

// HasErrors reports whether any error-severity issue is present.
func (r *Result) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Sealed reports whether the result has been signed.
func (r *Result) Sealed() bool {
	return r.Signature != ""
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.ConfidenceFactors = append([]string(nil), r.ConfidenceFactors...)
	out.Issues = append([]Issue(nil), r.Issues...)
	out.Fraud.Indicators = append([]FraudIndicator(nil), r.Fraud.Indicators...)
	out.Audit.AppliedRules = append([]string(nil), r.Audit.AppliedRules...)
	out.Audit.Steps = append([]ProcessingStep(nil), r.Audit.Steps...)
	if r.Purchase != nil {
		p := *r.Purchase
		p.Categories = append([]string(nil), r.Purchase.Categories...)
		out.Purchase = &p
	}
	if r.Invoice != nil {
		inv := *r.Invoice
		inv.LineItems = append([]invoice.LineItem(nil), r.Invoice.LineItems...)
		out.Invoice = &inv
	}
	if r.SignedAt != nil {
		t := *r.SignedAt
		out.SignedAt = &t
	}
	return &out
}
