// Package pipeline sequences the invoice validation stages: tampering
// check, extraction, vendor lookup, external judgment, rule validation,
// profile update, anomaly detection and signing. Stages have differing
// failure policies: tampering halts the run, extraction problems are
// warnings, everything else degrades but keeps going. Every submission
// yields a populated result; only a missing collaborator (a
// configuration error) makes the orchestrator itself fail.
package pipeline

import (
	"context"

	"github.com/mvdveen/bouwdepot/internal/extraction"
	"github.com/mvdveen/bouwdepot/internal/invoice"
	"github.com/mvdveen/bouwdepot/internal/oracle"
	"github.com/mvdveen/bouwdepot/internal/validation"
	"github.com/mvdveen/bouwdepot/internal/vendors"
)

// Context is the mutable state threaded through the stages of one run.
type Context struct {
	Document *extraction.Document
	Invoice  *invoice.Invoice
	Result   *validation.Result

	// Snapshot is the vendor profile as it stood before this invoice;
	// anomaly detection compares against it so an invoice is never
	// judged against statistics it just contributed to.
	Snapshot       *vendors.Profile
	ProfileCreated bool

	Judgment  *oracle.Judgment
	Anomalies []vendors.AnomalyRecord

	// Observation is buffered here by the profile-update stage and
	// committed by the orchestrator only after the full run succeeds.
	Observation vendors.Observation
	HasPending  bool

	// Halted stops all remaining stages; set by the tampering check.
	Halted bool
}

// Stage is one step of the validation pipeline.
type Stage interface {
	Name() string
	CanSkip(pc *Context) bool
	Execute(ctx context.Context, pc *Context) error
}
