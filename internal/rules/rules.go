// Package rules holds the deterministic validation rules applied to an
// invoice after the external judgment has accepted it as a
// home-improvement expense. Rules are pure functions over the
// extracted invoice: no I/O, no randomness, so outcomes are fully
// reproducible in the audit trail.
package rules

import (
	"fmt"
	"strings"

	"github.com/mvdveen/bouwdepot/internal/invoice"
	"github.com/mvdveen/bouwdepot/internal/validation"
)

// Outcome is a single rule's verdict with narrative notes for the
// audit trail.
type Outcome struct {
	Passed bool
	Notes  []string
}

// Rule is one deterministic check over an invoice.
type Rule interface {
	Name() string
	Apply(inv *invoice.Invoice) Outcome
}

// Service runs the configured rules and records their outcomes on a
// validation result.
type Service struct {
	rules []Rule
}

// NewService creates a rule service with the default disbursement
// rules: permanent attachment and quality improvement.
func NewService(rules ...Rule) *Service {
	if len(rules) == 0 {
		rules = []Rule{PermanentAttachment{}, QualityImprovement{}}
	}
	return &Service{rules: rules}
}

// Validate applies every rule directly to the result: rule names and
// narrative notes go into the audit trail, passes contribute
// confidence factors, and a failed rule marks the result invalid with
// an error issue. Returns the same result for convenience.
func (s *Service) Validate(inv *invoice.Invoice, result *validation.Result) *validation.Result {
	if result == nil {
		result = &validation.Result{IsValid: true}
	}

	for _, rule := range s.rules {
		outcome := rule.Apply(inv)
		result.AddRule(rule.Name())

		note := strings.Join(outcome.Notes, "; ")
		result.AddStep("rules", fmt.Sprintf("%s: %s", rule.Name(), note))

		if outcome.Passed {
			result.ConfidenceFactors = append(result.ConfidenceFactors,
				fmt.Sprintf("rule %s passed", rule.Name()))
		} else {
			result.IsValid = false
			result.AddIssue(validation.SeverityError,
				fmt.Sprintf("rule %s failed: %s", rule.Name(), note))
		}
	}
	return result
}

// PermanentAttachment requires the invoice to be dominated by work
// that becomes part of the building. Construction-fund money may only
// pay for permanently attached improvements, not movable goods.
type PermanentAttachment struct{}

func (PermanentAttachment) Name() string { return "permanent_attachment" }

var attachedKeywords = []string{
	"install", "installatie", "montage", "tiling", "tegel", "plumbing",
	"leidingwerk", "bathroom", "badkamer", "kitchen", "keuken", "roof",
	"dak", "insulation", "isolatie", "stucwerk", "plaster", "schilderwerk",
	"painting", "heating", "verwarming", "cv-ketel", "boiler", "kozijn",
	"window frame", "fundering", "foundation", "electrical", "elektra",
}

var movableKeywords = []string{
	"furniture", "meubel", "refrigerator", "koelkast", "washing machine",
	"wasmachine", "television", "televisie", "curtain", "gordijn",
	"lamp", "rug", "vloerkleed", "appliance", "bbq", "barbecue",
	"garden furniture", "tuinmeubel",
}

func (PermanentAttachment) Apply(inv *invoice.Invoice) Outcome {
	var attached, movable []string
	for _, item := range inv.LineItems {
		desc := strings.ToLower(item.Description)
		switch {
		case matchesAny(desc, movableKeywords):
			movable = append(movable, item.Description)
		case matchesAny(desc, attachedKeywords):
			attached = append(attached, item.Description)
		}
	}

	if len(movable) > 0 {
		return Outcome{
			Passed: false,
			Notes: []string{fmt.Sprintf("movable goods are not disbursable: %s",
				strings.Join(movable, ", "))},
		}
	}
	if len(attached) == 0 {
		return Outcome{
			Passed: false,
			Notes:  []string{"no line item identifiably describes permanently attached work"},
		}
	}
	return Outcome{
		Passed: true,
		Notes:  []string{fmt.Sprintf("%d of %d line items describe permanently attached work", len(attached), len(inv.LineItems))},
	}
}

// QualityImprovement requires the work to improve the property rather
// than merely maintain it. Routine maintenance and repairs are the
// owner's running cost, not a fund disbursement.
type QualityImprovement struct{}

func (QualityImprovement) Name() string { return "quality_improvement" }

var maintenanceKeywords = []string{
	"repair", "reparatie", "maintenance", "onderhoud", "fix",
	"herstel", "cleaning", "reiniging", "ontstopping", "unclogging",
	"service visit", "servicebeurt",
}

var improvementKeywords = []string{
	"renovation", "renovatie", "verbouwing", "new", "nieuwe", "upgrade",
	"uitbreiding", "extension", "aanbouw", "install", "installatie",
	"replacement", "vervanging", "verduurzaming", "insulation", "isolatie",
}

func (QualityImprovement) Apply(inv *invoice.Invoice) Outcome {
	var maintenance, improvement []string
	for _, item := range inv.LineItems {
		desc := strings.ToLower(item.Description)
		if matchesAny(desc, improvementKeywords) {
			improvement = append(improvement, item.Description)
			continue
		}
		if matchesAny(desc, maintenanceKeywords) {
			maintenance = append(maintenance, item.Description)
		}
	}

	if len(improvement) == 0 && len(maintenance) > 0 {
		return Outcome{
			Passed: false,
			Notes: []string{fmt.Sprintf("only maintenance work found: %s",
				strings.Join(maintenance, ", "))},
		}
	}
	if len(improvement) == 0 {
		// Nothing recognized either way: pass with a neutral note,
		// the oracle already judged the invoice home-improvement.
		return Outcome{
			Passed: true,
			Notes:  []string{"no maintenance-only indicators found"},
		}
	}
	return Outcome{
		Passed: true,
		Notes:  []string{fmt.Sprintf("%d line items describe quality improvements", len(improvement))},
	}
}

func matchesAny(desc string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}
