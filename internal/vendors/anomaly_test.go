package vendors

import (
	"testing"
	"time"

	"github.com/mvdveen/bouwdepot/internal/invoice"
)

func anomalyEngine() *Engine {
	return NewEngine(NewMemoryStore(nil), WithClock(func() time.Time {
		return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	}))
}

func establishedProfile() *Profile {
	return &Profile{
		ID:             "ven_est",
		LegalName:      "Bouwbedrijf De Vries B.V.",
		NormalizedName: "bouwbedrijf de vries",
		KvKNumber:      "87654321",
		InvoiceCount:   6,
		Addresses:      []string{"Dam 1, Amsterdam"},
		Accounts:       []string{"NL91ABNA0417164300", "NL69INGB0123456789"},
		Specialties:    []string{"bathroom", "tiling"},
		Services: map[string]ServicePattern{
			"Bathroom installation": {Frequency: 4},
			"Tiling work":           {Frequency: 2},
		},
		Prices: map[string]PriceBucket{
			"Bathroom installation": {Min: 2500, Max: 7500, Average: 4200, SampleSize: 5},
		},
	}
}

func countByType(anomalies []AnomalyRecord, t AnomalyType) int {
	n := 0
	for _, a := range anomalies {
		if a.Type == t {
			n++
		}
	}
	return n
}

func findByType(anomalies []AnomalyRecord, t AnomalyType) (AnomalyRecord, bool) {
	for _, a := range anomalies {
		if a.Type == t {
			return a, true
		}
	}
	return AnomalyRecord{}, false
}

func TestMissingRegistrationAndAddress(t *testing.T) {
	engine := anomalyEngine()
	inv := &invoice.Invoice{
		Vendor:    invoice.Vendor{Name: "Anoniem Bouw"},
		LineItems: []invoice.LineItem{{Description: "Painting", Quantity: 1, TotalPrice: 675}},
	}

	anomalies := engine.DetectAnomalies(nil, inv)

	reg, ok := findByType(anomalies, AnomalyMissingRegistration)
	if !ok || reg.Severity != 0.6 {
		t.Errorf("MissingRegistration = %+v ok=%v, want severity 0.6", reg, ok)
	}
	addr, ok := findByType(anomalies, AnomalyMissingAddress)
	if !ok || addr.Severity != 0.3 {
		t.Errorf("MissingAddress = %+v ok=%v, want severity 0.3", addr, ok)
	}
}

func TestRegistrationPresentSuppressesAnomaly(t *testing.T) {
	engine := anomalyEngine()
	inv := &invoice.Invoice{
		Vendor:    invoice.Vendor{Name: "Geregistreerd BV", VATNumber: "NL123456789B01", Address: "Straat 1"},
		LineItems: []invoice.LineItem{{Description: "Painting", Quantity: 1, TotalPrice: 675}},
	}

	anomalies := engine.DetectAnomalies(nil, inv)
	if countByType(anomalies, AnomalyMissingRegistration) != 0 {
		t.Error("VAT number alone should satisfy registration")
	}
	if countByType(anomalies, AnomalyMissingAddress) != 0 {
		t.Error("address is present")
	}
}

func TestRoundNumbersPattern(t *testing.T) {
	engine := anomalyEngine()

	tests := []struct {
		name   string
		prices []float64
		want   bool
	}{
		{"three round items", []float64{100, 250, 1500, 333}, true},
		{"two of two round", []float64{100, 250}, true},
		{"one of two round", []float64{100, 333}, false},
		{"round but small", []float64{20, 30, 40}, false},
		{"no items", nil, false},
		{"non-round majority", []float64{101, 251, 1501}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var items []invoice.LineItem
			for _, p := range tt.prices {
				items = append(items, invoice.LineItem{Description: "Work", Quantity: 1, TotalPrice: p})
			}
			inv := &invoice.Invoice{
				Vendor:    invoice.Vendor{Name: "X", KvKNumber: "12345678", Address: "Straat 1"},
				LineItems: items,
			}
			got := countByType(engine.DetectAnomalies(nil, inv), AnomalyRoundNumbers) > 0
			if got != tt.want {
				t.Errorf("round numbers = %v, want %v for %v", got, tt.want, tt.prices)
			}
		})
	}
}

// A vendor with two known IBANs paying to a third produces exactly one
// NewBankAccount anomaly at severity 0.7.
func TestNewBankAccount(t *testing.T) {
	engine := anomalyEngine()
	profile := establishedProfile()

	inv := &invoice.Invoice{
		Vendor:  invoice.Vendor{Name: "Bouwbedrijf De Vries B.V.", KvKNumber: "87654321", Address: "Dam 1"},
		Payment: invoice.Payment{IBAN: "NL18RABO0123459876", AccountHolder: "Bouwbedrijf De Vries"},
		LineItems: []invoice.LineItem{
			{Description: "Bathroom installation", Quantity: 1, TotalPrice: 4000},
		},
	}

	anomalies := engine.DetectAnomalies(profile, inv)
	if n := countByType(anomalies, AnomalyNewBankAccount); n != 1 {
		t.Fatalf("NewBankAccount count = %d, want exactly 1: %+v", n, anomalies)
	}
	a, _ := findByType(anomalies, AnomalyNewBankAccount)
	if a.Severity != 0.7 {
		t.Errorf("severity = %v, want 0.7", a.Severity)
	}
}

func TestKnownBankAccountNoAnomaly(t *testing.T) {
	engine := anomalyEngine()
	profile := establishedProfile()

	inv := &invoice.Invoice{
		Vendor:  invoice.Vendor{Name: "Bouwbedrijf De Vries B.V.", KvKNumber: "87654321", Address: "Dam 1"},
		Payment: invoice.Payment{IBAN: "NL91 ABNA 0417 1643 00", AccountHolder: "Bouwbedrijf De Vries"},
		LineItems: []invoice.LineItem{
			{Description: "Bathroom installation", Quantity: 1, TotalPrice: 4000},
		},
	}

	if n := countByType(engine.DetectAnomalies(profile, inv), AnomalyNewBankAccount); n != 0 {
		t.Errorf("known IBAN (with spacing) flagged as new")
	}
}

func TestNewVendorSkipsHistoryDependentAnomalies(t *testing.T) {
	engine := anomalyEngine()
	fresh := establishedProfile()
	fresh.InvoiceCount = 1

	inv := &invoice.Invoice{
		Vendor:  invoice.Vendor{Name: "Totally Unrelated Name"},
		Payment: invoice.Payment{IBAN: "NL18RABO0123459876", AccountHolder: "Someone Else Entirely"},
		LineItems: []invoice.LineItem{
			{Description: "Never seen service", Quantity: 1, TotalPrice: 99999},
		},
	}

	for _, a := range engine.DetectAnomalies(fresh, inv) {
		switch a.Type {
		case AnomalyMissingRegistration, AnomalyMissingAddress, AnomalyRoundNumbers:
		default:
			t.Errorf("history-dependent anomaly %v produced for a vendor with one invoice", a.Type)
		}
	}
}

func TestAccountNameMismatch(t *testing.T) {
	engine := anomalyEngine()
	profile := establishedProfile()

	inv := &invoice.Invoice{
		Vendor:  invoice.Vendor{Name: "Bouwbedrijf De Vries B.V.", KvKNumber: "87654321", Address: "Dam 1"},
		Payment: invoice.Payment{IBAN: "NL91ABNA0417164300", AccountHolder: "J. Pietersen Beheer"},
		LineItems: []invoice.LineItem{
			{Description: "Bathroom installation", Quantity: 1, TotalPrice: 4000},
		},
	}

	a, ok := findByType(engine.DetectAnomalies(profile, inv), AnomalyAccountNameMismatch)
	if !ok || a.Severity != 0.8 {
		t.Errorf("AccountNameMismatch = %+v ok=%v, want severity 0.8", a, ok)
	}
}

func TestSuspiciousPrices(t *testing.T) {
	engine := anomalyEngine()
	profile := establishedProfile()

	tests := []struct {
		name  string
		price float64
		want  AnomalyType
	}{
		{"far below minimum", 900, AnomalySuspiciouslyLowPrice},   // < 2500*0.6 = 1500
		{"far above maximum", 12000, AnomalySuspiciouslyHighPrice}, // > 7500*1.4 = 10500
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &invoice.Invoice{
				Vendor:  invoice.Vendor{Name: "Bouwbedrijf De Vries B.V.", KvKNumber: "87654321", Address: "Dam 1"},
				Payment: invoice.Payment{IBAN: "NL91ABNA0417164300", AccountHolder: "Bouwbedrijf De Vries"},
				LineItems: []invoice.LineItem{
					{Description: "Bathroom installation", Quantity: 1, TotalPrice: tt.price},
				},
			}
			a, ok := findByType(engine.DetectAnomalies(profile, inv), tt.want)
			if !ok {
				t.Fatalf("%v not detected at price %v", tt.want, tt.price)
			}
			if a.Severity < 0 || a.Severity > 1 {
				t.Errorf("severity %v outside [0,1]", a.Severity)
			}
		})
	}
}

func TestSuspiciousPriceSeverityCaps(t *testing.T) {
	engine := anomalyEngine()
	profile := establishedProfile()

	inv := &invoice.Invoice{
		Vendor:  invoice.Vendor{Name: "Bouwbedrijf De Vries B.V.", KvKNumber: "87654321", Address: "Dam 1"},
		Payment: invoice.Payment{IBAN: "NL91ABNA0417164300", AccountHolder: "Bouwbedrijf De Vries"},
		LineItems: []invoice.LineItem{
			{Description: "Bathroom installation", Quantity: 1, TotalPrice: 1},       // extreme low
			{Description: "Bathroom installation x", Quantity: 1, TotalPrice: 500000}, // extreme high
		},
	}

	anomalies := engine.DetectAnomalies(profile, inv)
	if low, ok := findByType(anomalies, AnomalySuspiciouslyLowPrice); ok && low.Severity > 0.7 {
		t.Errorf("low-price severity %v exceeds cap 0.7", low.Severity)
	}
	if high, ok := findByType(anomalies, AnomalySuspiciouslyHighPrice); ok && high.Severity > 0.8 {
		t.Errorf("high-price severity %v exceeds cap 0.8", high.Severity)
	}
}

func TestUnusualServices(t *testing.T) {
	engine := anomalyEngine()
	profile := establishedProfile()

	inv := &invoice.Invoice{
		Vendor:  invoice.Vendor{Name: "Bouwbedrijf De Vries B.V.", KvKNumber: "87654321", Address: "Dam 1"},
		Payment: invoice.Payment{IBAN: "NL91ABNA0417164300", AccountHolder: "Bouwbedrijf De Vries"},
		LineItems: []invoice.LineItem{
			{Description: "Asbestos removal", Quantity: 1, TotalPrice: 3000},
			{Description: "Garden landscaping", Quantity: 1, TotalPrice: 2000},
		},
	}

	a, ok := findByType(engine.DetectAnomalies(profile, inv), AnomalyUnusualServices)
	if !ok {
		t.Fatal("UnusualServices not detected")
	}
	if want := 0.3 + 0.1*2; a.Severity != want {
		t.Errorf("severity = %v, want %v", a.Severity, want)
	}
}

func TestNoSpecialtyServices(t *testing.T) {
	engine := anomalyEngine()
	profile := establishedProfile()

	inv := &invoice.Invoice{
		Vendor:  invoice.Vendor{Name: "Bouwbedrijf De Vries B.V.", KvKNumber: "87654321", Address: "Dam 1"},
		Payment: invoice.Payment{IBAN: "NL91ABNA0417164300", AccountHolder: "Bouwbedrijf De Vries"},
		LineItems: []invoice.LineItem{
			{Description: "Garden landscaping", Quantity: 1, TotalPrice: 2000},
		},
	}

	a, ok := findByType(engine.DetectAnomalies(profile, inv), AnomalyNoSpecialtyServices)
	if !ok || a.Severity != 0.5 {
		t.Errorf("NoSpecialtyServices = %+v ok=%v, want severity 0.5", a, ok)
	}

	// An item matching a declared specialty suppresses it
	inv.LineItems = append(inv.LineItems, invoice.LineItem{Description: "Tiling work", Quantity: 1, TotalPrice: 500})
	if _, ok := findByType(engine.DetectAnomalies(profile, inv), AnomalyNoSpecialtyServices); ok {
		t.Error("specialty match should suppress NoSpecialtyServices")
	}
}

func TestAllSeveritiesInRange(t *testing.T) {
	engine := anomalyEngine()
	profile := establishedProfile()

	inv := &invoice.Invoice{
		Vendor:  invoice.Vendor{Name: "Nameless"},
		Payment: invoice.Payment{IBAN: "NL18RABO0123459876", AccountHolder: "Unrelated Holder"},
		LineItems: []invoice.LineItem{
			{Description: "Mystery service", Quantity: 1, TotalPrice: 100},
			{Description: "Bathroom installation", Quantity: 1, TotalPrice: 250000},
		},
	}

	for _, a := range engine.DetectAnomalies(profile, inv) {
		if a.Severity < 0 || a.Severity > 1 {
			t.Errorf("%v severity %v outside [0,1]", a.Type, a.Severity)
		}
		if a.DetectedAt.IsZero() {
			t.Errorf("%v has no detection timestamp", a.Type)
		}
	}
}
