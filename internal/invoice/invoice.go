// Package invoice defines the extracted-invoice domain types shared by the
// validation pipeline and the vendor trust engine.
package invoice

import (
	"strings"
	"time"
	"unicode"
)

// Invoice is the structured representation of a submitted invoice after
// text extraction. Fields may be empty when extraction was partial.
type Invoice struct {
	InvoiceNumber string     `json:"invoiceNumber"`
	InvoiceDate   time.Time  `json:"invoiceDate"`
	Vendor        Vendor     `json:"vendor"`
	Payment       Payment    `json:"payment"`
	LineItems     []LineItem `json:"lineItems"`
	Subtotal      float64    `json:"subtotal"`
	VATAmount     float64    `json:"vatAmount"`
	TotalAmount   float64    `json:"totalAmount"`
	Description   string     `json:"description,omitempty"`
}

// Vendor holds the vendor identity block printed on the invoice.
type Vendor struct {
	Name      string `json:"name"`
	KvKNumber string `json:"kvkNumber,omitempty"`
	VATNumber string `json:"vatNumber,omitempty"`
	Address   string `json:"address,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Payment holds the payment instruction block.
type Payment struct {
	IBAN          string `json:"iban,omitempty"`
	AccountHolder string `json:"accountHolder,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

// LineItem is a single billed line on the invoice.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
	Category    string  `json:"category,omitempty"`
}

// EffectiveUnitPrice returns the per-unit price, treating non-positive
// quantities as 1.
func (li LineItem) EffectiveUnitPrice() float64 {
	q := li.Quantity
	if q <= 0 {
		q = 1
	}
	return li.TotalPrice / q
}

// HasTaxID reports whether the vendor block carries any registration number.
func (v Vendor) HasTaxID() bool {
	return strings.TrimSpace(v.KvKNumber) != "" || strings.TrimSpace(v.VATNumber) != ""
}

// legalSuffixes are Dutch legal-form suffixes stripped during normalization.
// "Jansen Installatie B.V." and "Jansen Installatie" are the same business.
var legalSuffixes = []string{"bv", "b.v", "nv", "n.v", "vof", "v.o.f", "cv", "c.v", "holding"}

// NormalizeName lowercases a vendor name, strips legal-form suffixes and
// punctuation, and collapses whitespace. Used for profile resolution.
// Suffixes are stripped before punctuation folds, so dotted forms
// ("B.V.") resolve the same as their plain spellings ("BV").
func NormalizeName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	for len(fields) > 1 {
		if !isLegalSuffix(strings.Trim(fields[len(fields)-1], ".")) {
			break
		}
		fields = fields[:len(fields)-1]
	}

	var b strings.Builder
	for _, r := range strings.Join(fields, " ") {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '&' || r == '.':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isLegalSuffix(word string) bool {
	for _, s := range legalSuffixes {
		if word == s || word == strings.ReplaceAll(s, ".", "") {
			return true
		}
	}
	return false
}

// NormalizeIBAN uppercases an IBAN and strips spaces so account comparisons
// are format-insensitive.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}
