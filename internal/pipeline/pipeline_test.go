package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mvdveen/bouwdepot/internal/extraction"
	"github.com/mvdveen/bouwdepot/internal/invoice"
	"github.com/mvdveen/bouwdepot/internal/oracle"
	"github.com/mvdveen/bouwdepot/internal/rules"
	"github.com/mvdveen/bouwdepot/internal/signing"
	"github.com/mvdveen/bouwdepot/internal/validation"
	"github.com/mvdveen/bouwdepot/internal/vendors"
)

const testSecret = "pipeline-test-secret-pipeline-test"

func fullInvoice() *invoice.Invoice {
	return &invoice.Invoice{
		InvoiceNumber: "2026-0042",
		InvoiceDate:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Vendor: invoice.Vendor{
			Name:      "Jansen Installatietechniek B.V.",
			KvKNumber: "12345678",
			Address:   "Keizersgracht 1, Amsterdam",
		},
		Payment: invoice.Payment{
			IBAN:          "NL91ABNA0417164300",
			AccountHolder: "Jansen Installatietechniek",
		},
		LineItems: []invoice.LineItem{
			{Description: "Badkamer installatie", Quantity: 1, UnitPrice: 4200, TotalPrice: 4200},
			{Description: "Tegelwerk", Quantity: 1, UnitPrice: 1250.50, TotalPrice: 1250.50},
		},
		TotalAmount: 5450.50,
	}
}

type testDeps struct {
	deps  Deps
	store *vendors.MemoryStore
}

func defaultDeps(t *testing.T) *testDeps {
	t.Helper()
	store := vendors.NewMemoryStore(nil)
	return &testDeps{
		store: store,
		deps: Deps{
			TamperChecker: &extraction.StaticTamperChecker{},
			Extractor:     &extraction.StaticExtractor{Invoice: fullInvoice()},
			Oracle: &oracle.Static{Judgment: &oracle.Judgment{
				IsHomeImprovement: true,
				Confidence:        0.9,
				Reasoning:         "bathroom renovation with fixed installations",
			}},
			Rules:            rules.NewService(),
			Signer:           signing.NewSigner(testSecret),
			Engine:           vendors.NewEngine(store),
			ProfilingEnabled: true,
		},
	}
}

func mustOrchestrator(t *testing.T, d *testDeps) *Orchestrator {
	t.Helper()
	o, err := New(d.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func hasIssueContaining(r *validation.Result, substr string) bool {
	for _, issue := range r.Issues {
		if strings.Contains(issue.Message, substr) {
			return true
		}
	}
	return false
}

func TestNewRequiresCollaborators(t *testing.T) {
	d := defaultDeps(t)
	d.deps.Signer = nil
	if _, err := New(d.deps); err == nil {
		t.Error("missing signer should be rejected")
	}

	d = defaultDeps(t)
	d.deps.Engine = nil
	if _, err := New(d.deps); err == nil {
		t.Error("profiling without an engine should be rejected")
	}

	// Profiling disabled: engine genuinely optional
	d.deps.ProfilingEnabled = false
	if _, err := New(d.deps); err != nil {
		t.Errorf("New without engine, profiling off: %v", err)
	}
}

func TestHappyPath(t *testing.T) {
	d := defaultDeps(t)
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{Filename: "invoice.pdf"})

	if !result.IsValid {
		t.Fatalf("result invalid: %+v", result.Issues)
	}
	if result.ConfidenceScore != 0.9 {
		t.Errorf("ConfidenceScore = %v, want the oracle's 0.9", result.ConfidenceScore)
	}
	if !result.Sealed() {
		t.Error("result not signed")
	}
	if !signing.NewSigner(testSecret).Verify(result) {
		t.Error("signature does not verify")
	}
	if result.VendorID == "" {
		t.Error("no vendor resolved")
	}
	if len(result.Audit.AppliedRules) != 2 {
		t.Errorf("AppliedRules = %v", result.Audit.AppliedRules)
	}
	ruleSteps := 0
	for _, step := range result.Audit.Steps {
		if step.Stage == StageRules {
			ruleSteps++
		}
	}
	if ruleSteps != 2 {
		t.Errorf("audit trail carries %d rule narratives, want 2: %+v", ruleSteps, result.Audit.Steps)
	}

	// Profile committed after the run
	profile, err := d.store.Get(context.Background(), result.VendorID)
	if err != nil {
		t.Fatalf("profile not created: %v", err)
	}
	if profile.InvoiceCount != 1 {
		t.Errorf("InvoiceCount = %d, want 1", profile.InvoiceCount)
	}
	if len(profile.Prices) != 2 {
		t.Errorf("price buckets = %v, want one per line item", profile.Prices)
	}
}

func TestTamperingHaltsRun(t *testing.T) {
	d := defaultDeps(t)
	d.deps.TamperChecker = &extraction.StaticTamperChecker{Report: &extraction.TamperReport{
		Tampered: true,
		Evidence: []string{"creation date later than modification date"},
	}}
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	if result.IsValid || !result.PossibleTampering {
		t.Errorf("tampered document accepted: valid=%v tampering=%v", result.IsValid, result.PossibleTampering)
	}
	if result.Sealed() {
		t.Error("halted run must not reach signing")
	}
	if result.Invoice != nil {
		t.Error("halted run must not extract")
	}

	// No profile mutation from a halted run
	if n, _ := d.store.Count(context.Background()); n != 0 {
		t.Errorf("vendor profiles created by a halted run: %d", n)
	}
}

func TestExtractionWarningsAreNonFatal(t *testing.T) {
	inv := fullInvoice()
	inv.InvoiceNumber = ""
	inv.InvoiceDate = time.Time{}
	inv.TotalAmount = 0

	d := defaultDeps(t)
	d.deps.Extractor = &extraction.StaticExtractor{Invoice: inv}
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	if !result.IsValid {
		t.Errorf("missing fields must not reject: %+v", result.Issues)
	}
	for _, want := range []string{"invoice number", "invoice date", "total amount"} {
		if !hasIssueContaining(result, want) {
			t.Errorf("missing warning about %s: %+v", want, result.Issues)
		}
	}
	for _, issue := range result.Issues {
		if issue.Severity == validation.SeverityError {
			t.Errorf("unexpected error issue: %+v", issue)
		}
	}
}

func TestMalformedIdentifiersWarnButContinue(t *testing.T) {
	inv := fullInvoice()
	inv.Vendor.KvKNumber = "123"            // not 8 digits
	inv.Payment.IBAN = "NL00ABNA0417164300" // bad check digits
	inv.Vendor.VATNumber = "DE123456789"    // not a Dutch VAT number

	d := defaultDeps(t)
	d.deps.Extractor = &extraction.StaticExtractor{Invoice: inv}
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	if !result.IsValid {
		t.Errorf("malformed identifiers must not reject: %+v", result.Issues)
	}
	for _, want := range []string{"kvkNumber", "iban", "vatNumber"} {
		if !hasIssueContaining(result, want) {
			t.Errorf("missing warning about %s: %+v", want, result.Issues)
		}
	}
}

func TestExtractionFailure(t *testing.T) {
	d := defaultDeps(t)
	d.deps.Extractor = &extraction.StaticExtractor{Err: errors.New("unreadable scan")}
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	if result.IsValid {
		t.Error("failed extraction should reject")
	}
	if !hasIssueContaining(result, "unreadable scan") {
		t.Errorf("extraction error not surfaced: %+v", result.Issues)
	}
	// Later stages had nothing to work with but the result is still
	// populated and signed.
	if !result.Sealed() {
		t.Error("result should still be signed")
	}
}

func TestOracleRejectionSkipsRulesButUpdatesProfile(t *testing.T) {
	d := defaultDeps(t)
	d.deps.Oracle = &oracle.Static{Judgment: &oracle.Judgment{
		IsHomeImprovement: false,
		Confidence:        0.85,
		Reasoning:         "invoice covers garden furniture",
	}}
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	if result.IsValid {
		t.Error("oracle rejection should mark the result invalid")
	}
	if len(result.Audit.AppliedRules) != 0 {
		t.Errorf("rules ran on a rejected invoice: %v", result.Audit.AppliedRules)
	}

	// Rejected invoices still carry vendor-behavior signal
	profile, err := d.store.Get(context.Background(), result.VendorID)
	if err != nil {
		t.Fatalf("profile not committed: %v", err)
	}
	if profile.InvoiceCount != 1 {
		t.Errorf("InvoiceCount = %d, want 1", profile.InvoiceCount)
	}
}

func TestUndeterminedJudgmentKeepsLocalIssues(t *testing.T) {
	inv := fullInvoice()
	inv.InvoiceNumber = ""

	d := defaultDeps(t)
	d.deps.Extractor = &extraction.StaticExtractor{Invoice: inv}
	d.deps.Oracle = &oracle.Static{} // degrades to undetermined
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	if result.IsValid {
		t.Error("undetermined judgment must not approve")
	}
	// The merge must not drop the locally raised extraction warning
	if !hasIssueContaining(result, "invoice number") {
		t.Errorf("local warning lost in merge: %+v", result.Issues)
	}
	if !hasIssueContaining(result, "judgment unavailable") {
		t.Errorf("no degradation notice: %+v", result.Issues)
	}
}

type panickyChecker struct{}

func (panickyChecker) Check(ctx context.Context, doc *extraction.Document) (*extraction.TamperReport, error) {
	panic("boom")
}

func TestStagePanicIsContained(t *testing.T) {
	d := defaultDeps(t)
	d.deps.TamperChecker = panickyChecker{}
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	if result.IsValid {
		t.Error("panicking stage should invalidate the result")
	}
	if !hasIssueContaining(result, "internal failure") {
		t.Errorf("panic not converted to an issue: %+v", result.Issues)
	}
	// The run continues past the failed stage
	if result.Invoice == nil {
		t.Error("extraction should still have run")
	}
}

func TestCancelledRunCommitsNothing(t *testing.T) {
	d := defaultDeps(t)
	o := mustOrchestrator(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := o.Execute(ctx, &extraction.Document{})

	if result.IsValid {
		t.Error("cancelled run must not approve")
	}
	if n, _ := d.store.Count(context.Background()); n != 0 {
		t.Errorf("cancelled run mutated the store: %d profiles", n)
	}
}

func TestAnomaliesRaiseFraudScore(t *testing.T) {
	inv := fullInvoice()
	inv.Vendor.KvKNumber = "" // MissingRegistration
	inv.Vendor.Address = ""   // MissingAddress

	d := defaultDeps(t)
	d.deps.Extractor = &extraction.StaticExtractor{Invoice: inv}
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	// Flat 5 points per anomaly
	if result.Fraud.RiskScore != 10 {
		t.Errorf("RiskScore = %d, want 10 for two anomalies", result.Fraud.RiskScore)
	}
	if result.Fraud.RiskLevel != validation.RiskLow {
		t.Errorf("RiskLevel = %v, want low", result.Fraud.RiskLevel)
	}

	// MissingRegistration (0.6) gates into a fraud indicator,
	// MissingAddress (0.3) does not.
	var vendorIssues int
	for _, ind := range result.Fraud.Indicators {
		if ind.Category == "VendorIssue" {
			vendorIssues++
		}
	}
	if vendorIssues != 1 {
		t.Errorf("VendorIssue indicators = %d, want 1: %+v", vendorIssues, result.Fraud.Indicators)
	}
}

func TestProfilingDisabledSkipsVendorStages(t *testing.T) {
	d := defaultDeps(t)
	d.deps.ProfilingEnabled = false
	d.deps.Engine = nil
	o := mustOrchestrator(t, d)

	result := o.Execute(context.Background(), &extraction.Document{})

	if !result.IsValid {
		t.Fatalf("result invalid: %+v", result.Issues)
	}
	if result.VendorID != "" {
		t.Error("vendor resolved with profiling disabled")
	}
	if n, _ := d.store.Count(context.Background()); n != 0 {
		t.Errorf("profiles created with profiling disabled: %d", n)
	}
}

func TestSigningFailureReturnsUnsignedResult(t *testing.T) {
	// A nil *Signer fails closed; the stage downgrades that to a
	// warning and returns the result unsigned.
	pc := &Context{Result: &validation.Result{IsValid: true}}
	stage := signStage{signer: signing.NewSigner("")}

	if err := stage.Execute(context.Background(), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if pc.Result.Sealed() {
		t.Error("result sealed despite signing failure")
	}
	if !pc.Result.IsValid {
		t.Error("signing failure must not reject the result")
	}
	if !hasIssueContaining(pc.Result, "could not be signed") {
		t.Errorf("no signing warning: %+v", pc.Result.Issues)
	}
}
