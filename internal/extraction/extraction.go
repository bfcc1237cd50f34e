// Package extraction defines the interfaces to the document-processing
// collaborators: text extraction and tampering analysis. The actual
// PDF/image machinery lives behind these interfaces; the pipeline only
// consumes their outputs.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mvdveen/bouwdepot/internal/invoice"
)

// Document is a submitted invoice document: raw bytes plus optional
// rendered page images for collaborators that want them.
type Document struct {
	Filename    string   `json:"filename,omitempty"`
	ContentType string   `json:"contentType,omitempty"`
	Data        []byte   `json:"data,omitempty"`
	PageImages  [][]byte `json:"-"`
}

// Extractor turns a document into a structured invoice.
type Extractor interface {
	Extract(ctx context.Context, doc *Document) (*invoice.Invoice, error)
}

// TamperChecker analyzes a document for signs of manipulation.
type TamperChecker interface {
	Check(ctx context.Context, doc *Document) (*TamperReport, error)
}

// TamperReport is the outcome of a tampering analysis.
type TamperReport struct {
	Tampered bool     `json:"tampered"`
	Evidence []string `json:"evidence,omitempty"`
}

// JSONExtractor handles pre-extracted submissions: the document body
// is the invoice JSON itself. This is the default when no OCR backend
// is configured.
type JSONExtractor struct{}

func (JSONExtractor) Extract(ctx context.Context, doc *Document) (*invoice.Invoice, error) {
	if doc == nil || len(doc.Data) == 0 {
		return nil, errors.New("empty document")
	}
	var inv invoice.Invoice
	if err := json.Unmarshal(doc.Data, &inv); err != nil {
		return nil, fmt.Errorf("parse invoice json: %w", err)
	}
	return &inv, nil
}

// StaticExtractor returns a fixed invoice; a stand-in used in tests
// and demo mode where no OCR backend is wired up.
type StaticExtractor struct {
	Invoice *invoice.Invoice
	Err     error
}

func (s *StaticExtractor) Extract(ctx context.Context, doc *Document) (*invoice.Invoice, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Invoice, nil
}

// StaticTamperChecker returns a fixed report; the demo-mode twin of
// StaticExtractor.
type StaticTamperChecker struct {
	Report *TamperReport
	Err    error
}

func (s *StaticTamperChecker) Check(ctx context.Context, doc *Document) (*TamperReport, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Report == nil {
		return &TamperReport{}, nil
	}
	return s.Report, nil
}
