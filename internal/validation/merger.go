package validation

// Merge folds a partial result produced by one check into the running
// result for the whole pipeline. The merge policy is asymmetric on
// purpose:
//
//   - Scalars (validity, confidence) take the incoming value: the most
//     recent check is authoritative.
//   - Error findings are sticky: a result that carries an
//     error-severity issue stays invalid, a later approving check
//     cannot resurrect it.
//   - Tampering is sticky: once any check flags it, it stays flagged.
//   - Lists (issues, confidence factors) are unioned, deduplicated so
//     re-running a check never double-reports a finding.
//   - Structured blocks (fraud, audit, purchase analysis) keep the
//     value already present and only adopt the incoming one when the
//     target has nothing yet.
//
// The target is mutated in place; source is never modified.
func Merge(target, source *Result) {
	if target == nil || source == nil {
		return
	}

	target.IsValid = source.IsValid
	target.ConfidenceScore = source.ConfidenceScore
	if source.PossibleTampering {
		target.PossibleTampering = true
	}
	if source.VendorID != "" && target.VendorID == "" {
		target.VendorID = source.VendorID
	}

	for _, issue := range source.Issues {
		target.AddIssue(issue.Severity, issue.Message)
	}
	if target.HasErrors() {
		target.IsValid = false
	}
	for _, factor := range source.ConfidenceFactors {
		if !containsString(target.ConfidenceFactors, factor) {
			target.ConfidenceFactors = append(target.ConfidenceFactors, factor)
		}
	}

	if target.Fraud.IsZero() && !source.Fraud.IsZero() {
		target.Fraud = FraudSignals{
			RiskScore:  source.Fraud.RiskScore,
			RiskLevel:  source.Fraud.RiskLevel,
			Indicators: append([]FraudIndicator(nil), source.Fraud.Indicators...),
		}
	}
	if target.Audit.isEmpty() && !source.Audit.isEmpty() {
		target.Audit = AuditReport{
			AppliedRules: append([]string(nil), source.Audit.AppliedRules...),
			Steps:        append([]ProcessingStep(nil), source.Audit.Steps...),
		}
	}
	if target.Purchase == nil && source.Purchase != nil {
		p := *source.Purchase
		p.Categories = append([]string(nil), source.Purchase.Categories...)
		target.Purchase = &p
	}
	if target.Invoice == nil && source.Invoice != nil {
		target.Invoice = source.Invoice
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
