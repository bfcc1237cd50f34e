package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mvdveen/bouwdepot/internal/extraction"
	"github.com/mvdveen/bouwdepot/internal/oracle"
	"github.com/mvdveen/bouwdepot/internal/rules"
	"github.com/mvdveen/bouwdepot/internal/sanitize"
	"github.com/mvdveen/bouwdepot/internal/signing"
	"github.com/mvdveen/bouwdepot/internal/validation"
	"github.com/mvdveen/bouwdepot/internal/vendors"
)

// Stage names, also used as labels on stage metrics.
const (
	StageTamperCheck   = "tamper_check"
	StageExtraction    = "extraction"
	StageVendorLookup  = "vendor_lookup"
	StageJudgment      = "judgment"
	StageRules         = "rules"
	StageProfileUpdate = "profile_update"
	StageAnomalies     = "anomaly_detection"
	StageSigning       = "signing"
)

// Points added to the fraud score per detected anomaly. Flat rate;
// only the >0.5 severity gate decides which anomalies additionally
// become fraud indicators.
const anomalyFraudPoints = 5

type tamperStage struct {
	checker extraction.TamperChecker
}

func (tamperStage) Name() string            { return StageTamperCheck }
func (tamperStage) CanSkip(pc *Context) bool { return pc.Document == nil }

func (s tamperStage) Execute(ctx context.Context, pc *Context) error {
	report, err := s.checker.Check(ctx, pc.Document)
	if err != nil {
		return fmt.Errorf("tampering check: %w", err)
	}
	if !report.Tampered {
		pc.Result.AddStep(StageTamperCheck, "no signs of manipulation")
		return nil
	}

	// Tampering is fatal: anything computed from a manipulated
	// document is meaningless.
	pc.Result.IsValid = false
	pc.Result.PossibleTampering = true
	pc.Result.AddIssue(validation.SeverityError, "document shows signs of tampering")
	for _, ev := range report.Evidence {
		pc.Result.AddIssue(validation.SeverityError, "tampering evidence: "+ev)
	}
	pc.Result.AddStep(StageTamperCheck, "tampering detected, run halted")
	pc.Halted = true
	return nil
}

type extractStage struct {
	extractor extraction.Extractor
}

func (extractStage) Name() string             { return StageExtraction }
func (extractStage) CanSkip(pc *Context) bool { return pc.Document == nil && pc.Invoice != nil }

func (s extractStage) Execute(ctx context.Context, pc *Context) error {
	if pc.Invoice == nil {
		inv, err := s.extractor.Extract(ctx, pc.Document)
		if err != nil {
			return fmt.Errorf("extraction: %w", err)
		}
		pc.Invoice = inv
	}
	pc.Result.Invoice = pc.Invoice

	// Missing critical fields are warnings, not rejections: the rest
	// of the pipeline still produces useful signal from what is there.
	if strings.TrimSpace(pc.Invoice.InvoiceNumber) == "" {
		pc.Result.AddIssue(validation.SeverityWarning, "invoice number could not be extracted")
	}
	if pc.Invoice.InvoiceDate.IsZero() {
		pc.Result.AddIssue(validation.SeverityWarning, "invoice date could not be extracted")
	}
	if pc.Invoice.TotalAmount <= 0 {
		pc.Result.AddIssue(validation.SeverityWarning, "invoice total amount is missing or zero")
	}

	// Malformed identifiers get the same treatment: warn and continue,
	// vendor resolution falls back to name matching.
	v := pc.Invoice.Vendor
	for _, ve := range sanitize.Validate(
		sanitize.ValidKvKField("vendor.kvkNumber", v.KvKNumber),
		sanitize.ValidIBANField("payment.iban", pc.Invoice.Payment.IBAN),
	) {
		pc.Result.AddIssue(validation.SeverityWarning, ve.Field+" "+ve.Message)
	}
	if v.VATNumber != "" && !sanitize.IsValidVAT(v.VATNumber) {
		pc.Result.AddIssue(validation.SeverityWarning, "vendor.vatNumber is not a valid Dutch VAT number")
	}

	pc.Result.AddStep(StageExtraction,
		fmt.Sprintf("extracted %d line items", len(pc.Invoice.LineItems)))
	return nil
}

type vendorLookupStage struct {
	engine *vendors.Engine
}

func (vendorLookupStage) Name() string             { return StageVendorLookup }
func (vendorLookupStage) CanSkip(pc *Context) bool { return pc.Invoice == nil }

func (s vendorLookupStage) Execute(ctx context.Context, pc *Context) error {
	profile, created, err := s.engine.Resolve(ctx, pc.Invoice.Vendor)
	if err != nil {
		return fmt.Errorf("vendor lookup: %w", err)
	}
	pc.Snapshot = profile
	pc.ProfileCreated = created
	pc.Result.VendorID = profile.ID

	note := fmt.Sprintf("matched vendor %s (%d invoices on record)", profile.ID, profile.InvoiceCount)
	if created {
		note = "no matching vendor, created profile " + profile.ID
	}
	pc.Result.AddStep(StageVendorLookup, note)
	return nil
}

type judgmentStage struct {
	client oracle.Client
}

func (judgmentStage) Name() string             { return StageJudgment }
func (judgmentStage) CanSkip(pc *Context) bool { return pc.Invoice == nil }

func (s judgmentStage) Execute(ctx context.Context, pc *Context) error {
	var images [][]byte
	if pc.Document != nil {
		images = pc.Document.PageImages
	}
	judgment, err := s.client.Judge(ctx, &oracle.Submission{
		Invoice:    pc.Invoice,
		PageImages: images,
	})
	if err != nil {
		return fmt.Errorf("external judgment: %w", err)
	}
	pc.Judgment = judgment

	// The oracle's verdict arrives as a partial result and goes
	// through the merger, so locally raised issues survive.
	partial := &validation.Result{
		IsValid:         judgment.IsHomeImprovement && !judgment.Undetermined,
		ConfidenceScore: judgment.Confidence,
	}
	if judgment.Reasoning != "" {
		partial.Purchase = &validation.PurchaseAnalysis{Summary: judgment.Reasoning}
	}
	for _, indicator := range judgment.FraudIndicators {
		partial.Fraud.Raise(validation.FraudIndicator{
			Category:    "OracleSignal",
			Description: indicator,
			Severity:    0.5,
		}, 10)
	}
	if judgment.Undetermined {
		partial.AddIssue(validation.SeverityWarning,
			"external judgment unavailable, continuing with rule-based checks only")
	} else if !judgment.IsHomeImprovement {
		partial.AddIssue(validation.SeverityError,
			"external judgment: invoice is not a home-improvement expense")
	}

	validation.Merge(pc.Result, partial)
	pc.Result.AddStep(StageJudgment,
		fmt.Sprintf("home improvement=%t confidence=%.2f undetermined=%t",
			judgment.IsHomeImprovement, judgment.Confidence, judgment.Undetermined))
	return nil
}

type rulesStage struct {
	service *rules.Service
}

func (rulesStage) Name() string { return StageRules }

// Rules only run on invoices the oracle accepted: a rejected or
// undetermined invoice gains nothing from rule narratives.
func (rulesStage) CanSkip(pc *Context) bool {
	return pc.Invoice == nil || pc.Judgment == nil ||
		!pc.Judgment.IsHomeImprovement || !pc.Result.IsValid
}

// Execute writes rule outcomes onto the live result. Rules are the
// one check that extends the audit trail, so they bypass the merger's
// first-writer object policy.
func (s rulesStage) Execute(ctx context.Context, pc *Context) error {
	s.service.Validate(pc.Invoice, pc.Result)
	return nil
}

type profileUpdateStage struct {
	engine *vendors.Engine
}

func (profileUpdateStage) Name() string             { return StageProfileUpdate }
func (profileUpdateStage) CanSkip(pc *Context) bool { return pc.Invoice == nil || pc.Snapshot == nil }

// Execute buffers the trust observation for this run. The actual
// store mutation happens in the orchestrator's commit, after every
// stage has finished: rejected invoices still carry behavior signal,
// but a cancelled run must leave the profile untouched.
func (s profileUpdateStage) Execute(ctx context.Context, pc *Context) error {
	pc.Observation = vendors.Observation{
		DocumentQuality: pc.Result.ConfidenceScore,
	}
	if pc.Result.IsValid {
		pc.Observation.Reliability = 1
	}
	pc.HasPending = true

	analysis := s.engine.AnalyzeTrust(pc.Snapshot)
	pc.Result.ConfidenceFactors = append(pc.Result.ConfidenceFactors,
		fmt.Sprintf("vendor trust %.2f", analysis.OverallScore))
	pc.Result.ConfidenceFactors = append(pc.Result.ConfidenceFactors, analysis.Factors...)

	pc.Result.AddStep(StageProfileUpdate, "vendor statistics update buffered")
	return nil
}

type anomalyStage struct {
	engine *vendors.Engine
}

func (anomalyStage) Name() string             { return StageAnomalies }
func (anomalyStage) CanSkip(pc *Context) bool { return pc.Invoice == nil || pc.Snapshot == nil }

func (s anomalyStage) Execute(ctx context.Context, pc *Context) error {
	anomalies := s.engine.DetectAnomalies(pc.Snapshot, pc.Invoice)
	pc.Anomalies = anomalies

	for _, a := range anomalies {
		pc.Result.AddIssue(validation.SeverityWarning,
			fmt.Sprintf("anomaly %s: %s", a.Type, a.Description))

		pc.Result.Fraud.RiskScore += anomalyFraudPoints
		if pc.Result.Fraud.RiskScore > 100 {
			pc.Result.Fraud.RiskScore = 100
		}
		if a.Severity > 0.5 {
			pc.Result.Fraud.Indicators = append(pc.Result.Fraud.Indicators, validation.FraudIndicator{
				Category:    "VendorIssue",
				Description: a.Description,
				Severity:    a.Severity,
			})
		}
	}
	pc.Result.Fraud.RiskLevel = validation.RiskLevelFor(pc.Result.Fraud.RiskScore)

	pc.Result.AddStep(StageAnomalies, fmt.Sprintf("%d anomalies detected", len(anomalies)))
	return nil
}

type signStage struct {
	signer *signing.Signer
}

func (signStage) Name() string             { return StageSigning }
func (signStage) CanSkip(pc *Context) bool { return false }

func (s signStage) Execute(ctx context.Context, pc *Context) error {
	// The signature must cover the final audit trail, so the step is
	// recorded before sealing.
	pc.Result.AddStep(StageSigning, "result sealed")
	if err := s.signer.Sign(pc.Result); err != nil {
		// Losing the certification is a warning, not a rejection:
		// the result itself is still sound.
		pc.Result.Audit.Steps = pc.Result.Audit.Steps[:len(pc.Result.Audit.Steps)-1]
		pc.Result.AddIssue(validation.SeverityWarning,
			"result could not be signed: certification unavailable")
		pc.Result.AddStep(StageSigning, "signing failed, result returned unsigned")
	}
	return nil
}
