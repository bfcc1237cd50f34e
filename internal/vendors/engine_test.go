package vendors

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mvdveen/bouwdepot/internal/invoice"
)

func testEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(nil)
	engine := NewEngine(store, WithClock(func() time.Time {
		return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	}))
	return engine, store
}

func testInvoice() *invoice.Invoice {
	return &invoice.Invoice{
		InvoiceNumber: "2026-0042",
		Vendor: invoice.Vendor{
			Name:      "Jansen Installatietechniek B.V.",
			KvKNumber: "12345678",
			Address:   "Keizersgracht 1, Amsterdam",
		},
		Payment: invoice.Payment{
			IBAN:          "NL91 ABNA 0417 1643 00",
			AccountHolder: "Jansen Installatietechniek",
		},
		LineItems: []invoice.LineItem{
			{Description: "Bathroom installation", Quantity: 1, UnitPrice: 1200, TotalPrice: 1200},
			{Description: "Tiling work", Quantity: 1, UnitPrice: 300, TotalPrice: 300},
		},
		TotalAmount: 1500,
	}
}

func TestPriceBucketObserveProperties(t *testing.T) {
	tests := []struct {
		name   string
		old    PriceBucket
		price  float64
	}{
		{"new low", PriceBucket{Min: 100, Max: 200, Average: 150, SampleSize: 4}, 50},
		{"new high", PriceBucket{Min: 100, Max: 200, Average: 150, SampleSize: 4}, 500},
		{"interior", PriceBucket{Min: 100, Max: 200, Average: 150, SampleSize: 4}, 160},
		{"single sample", PriceBucket{Min: 80, Max: 80, Average: 80, SampleSize: 1}, 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.old
			b.Observe(tt.price)

			if b.Min != math.Min(tt.old.Min, tt.price) {
				t.Errorf("Min = %v, want %v", b.Min, math.Min(tt.old.Min, tt.price))
			}
			if b.Max != math.Max(tt.old.Max, tt.price) {
				t.Errorf("Max = %v, want %v", b.Max, math.Max(tt.old.Max, tt.price))
			}
			if b.SampleSize != tt.old.SampleSize+1 {
				t.Errorf("SampleSize = %d, want %d", b.SampleSize, tt.old.SampleSize+1)
			}
			// Mass conservation: new total minus old total is the price
			gained := b.Average*float64(b.SampleSize) - tt.old.Average*float64(tt.old.SampleSize)
			if math.Abs(gained-tt.price) > 1e-9 {
				t.Errorf("average mass gained = %v, want %v", gained, tt.price)
			}
			if b.Min > b.Average || b.Average > b.Max {
				t.Errorf("invariant broken: min %v <= avg %v <= max %v", b.Min, b.Average, b.Max)
			}
		})
	}
}

func TestHistoricalWeight(t *testing.T) {
	prev := -1.0
	for count := 0; count <= 20; count++ {
		w := HistoricalWeight(count)
		if w < prev {
			t.Errorf("weight decreased at count %d: %v < %v", count, w, prev)
		}
		if w > HistoricalWeightCap {
			t.Errorf("weight %v exceeds cap at count %d", w, count)
		}
		prev = w
	}
	if HistoricalWeight(10) != HistoricalWeightCap {
		t.Errorf("weight at 10 invoices = %v, want %v", HistoricalWeight(10), HistoricalWeightCap)
	}
}

func TestBlendIdempotent(t *testing.T) {
	for _, count := range []int{1, 5, 10, 50} {
		if got := Blend(0.73, 0.73, count); math.Abs(got-0.73) > 1e-12 {
			t.Errorf("Blend(0.73, 0.73, %d) = %v, want 0.73", count, got)
		}
	}
}

// Brand-new vendor: two line items create two buckets with a single
// sample each, and trust stays at the neutral prior.
func TestNewVendorFirstInvoice(t *testing.T) {
	ctx := context.Background()
	engine, store := testEngine(t)
	inv := testInvoice()

	profile, created, err := engine.Resolve(ctx, inv.Vendor)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !created {
		t.Fatal("expected a new profile")
	}

	updated, err := engine.CommitInvoice(ctx, profile.ID, inv, Observation{Reliability: 1, DocumentQuality: 0.9}, nil)
	if err != nil {
		t.Fatalf("CommitInvoice: %v", err)
	}

	if len(updated.Prices) != 2 {
		t.Fatalf("got %d price buckets, want 2: %v", len(updated.Prices), updated.Prices)
	}
	for category, b := range updated.Prices {
		if b.SampleSize != 1 || b.Min != b.Max || b.Min != b.Average {
			t.Errorf("bucket %q = %+v, want min=max=average and sampleSize=1", category, b)
		}
	}
	if updated.Trust.Reliability != NeutralTrust ||
		updated.Trust.PriceStability != NeutralTrust ||
		updated.Trust.DocumentQuality != NeutralTrust {
		t.Errorf("trust = %+v, want all dimensions at %v", updated.Trust, NeutralTrust)
	}
	if updated.InvoiceCount != 1 {
		t.Errorf("InvoiceCount = %d, want 1", updated.InvoiceCount)
	}

	stored, err := store.Get(ctx, profile.ID)
	if err != nil {
		t.Fatalf("Get after commit: %v", err)
	}
	if stored.InvoiceCount != 1 {
		t.Errorf("stored InvoiceCount = %d, want 1", stored.InvoiceCount)
	}
}

// At the band boundary the validation check and the anomaly check must
// agree: 9500 against {min 2500, max 7500} is inside the validation
// band [1750, 9750] and inside the anomaly band [1500, 10500].
func TestPriceBandBoundaryAgreement(t *testing.T) {
	engine, _ := testEngine(t)
	profile := &Profile{
		ID:             "ven_band",
		NormalizedName: "bouwbedrijf de vries",
		InvoiceCount:   5,
		Accounts:       []string{"NL91ABNA0417164300"},
		Prices: map[string]PriceBucket{
			"Bathroom installation": {Min: 2500, Max: 7500, Average: 4200, SampleSize: 5},
		},
	}
	item := invoice.LineItem{Description: "Bathroom installation", Quantity: 1, UnitPrice: 9500, TotalPrice: 9500}

	check := engine.CheckPrice(context.Background(), profile, item)
	if !check.InRange {
		t.Errorf("9500 should be inside the validation band: %+v", check)
	}
	if check.Source != PriceSourceVendor {
		t.Errorf("Source = %v, want vendor", check.Source)
	}

	inv := &invoice.Invoice{
		Vendor:    invoice.Vendor{Name: "Bouwbedrijf De Vries", KvKNumber: "87654321", Address: "Dam 1"},
		Payment:   invoice.Payment{IBAN: "NL91ABNA0417164300", AccountHolder: "Bouwbedrijf De Vries"},
		LineItems: []invoice.LineItem{item},
	}
	for _, a := range engine.DetectAnomalies(profile, inv) {
		if a.Type == AnomalySuspiciouslyHighPrice || a.Type == AnomalySuspiciouslyLowPrice {
			t.Errorf("9500 should not trigger a price anomaly, got %+v", a)
		}
	}
}

// A vendor with one invoice scores neutral regardless of stored metrics.
func TestTrustAnalysisLimitedHistory(t *testing.T) {
	engine, _ := testEngine(t)
	profile := &Profile{
		InvoiceCount: 1,
		Trust:        TrustMetrics{Reliability: 0.95, PriceStability: 0.1, DocumentQuality: 0.9},
	}

	analysis := engine.AnalyzeTrust(profile)
	if analysis.OverallScore != NeutralTrust {
		t.Errorf("OverallScore = %v, want %v", analysis.OverallScore, NeutralTrust)
	}
	if len(analysis.Factors) != 1 {
		t.Errorf("Factors = %v, want a single limited-history note", analysis.Factors)
	}
}

func TestTrustAnalysisEstablishedVendor(t *testing.T) {
	engine, _ := testEngine(t)
	profile := &Profile{
		InvoiceCount: 12,
		Trust: TrustMetrics{
			Reliability:     0.9,
			PriceStability:  0.6,
			DocumentQuality: 0.9,
			Anomalies: []AnomalyRecord{
				{Type: AnomalyRoundNumbers, Severity: 0.4},
				{Type: AnomalyNewBankAccount, Severity: 0.7, Resolved: true},
			},
		},
	}

	analysis := engine.AnalyzeTrust(profile)
	want := (0.9 + 0.6 + 0.9) / 3
	if math.Abs(analysis.OverallScore-want) > 1e-9 {
		t.Errorf("OverallScore = %v, want %v", analysis.OverallScore, want)
	}
	if len(analysis.Factors) != 4 {
		t.Errorf("Factors = %v, want 3 metric factors plus the unresolved-anomaly note", analysis.Factors)
	}
}

func TestResolvePrecedence(t *testing.T) {
	ctx := context.Background()
	engine, store := testEngine(t)

	seeded := &Profile{
		ID:             "ven_seed",
		LegalName:      "Jansen Installatietechniek B.V.",
		NormalizedName: "jansen installatietechniek",
		KvKNumber:      "12345678",
		InvoiceCount:   3,
	}
	if _, err := store.Upsert(ctx, seeded); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Tax id beats name, even a wrong name
	p, created, err := engine.Resolve(ctx, invoice.Vendor{Name: "Totally Different", KvKNumber: "12345678"})
	if err != nil || created {
		t.Fatalf("Resolve by tax id: created=%v err=%v", created, err)
	}
	if p.ID != "ven_seed" {
		t.Errorf("resolved %q, want ven_seed", p.ID)
	}

	// Exact normalized name
	p, created, err = engine.Resolve(ctx, invoice.Vendor{Name: "Jansen Installatietechniek BV"})
	if err != nil || created {
		t.Fatalf("Resolve by exact name: created=%v err=%v", created, err)
	}
	if p.ID != "ven_seed" {
		t.Errorf("resolved %q, want ven_seed", p.ID)
	}

	// Fuzzy substring
	p, created, err = engine.Resolve(ctx, invoice.Vendor{Name: "Jansen Installatietechniek Noord B.V."})
	if err != nil || created {
		t.Fatalf("Resolve by fuzzy name: created=%v err=%v", created, err)
	}
	if p.ID != "ven_seed" {
		t.Errorf("resolved %q, want ven_seed", p.ID)
	}

	// No match creates a fresh neutral profile
	p, created, err = engine.Resolve(ctx, invoice.Vendor{Name: "Pietersen Dakwerken"})
	if err != nil {
		t.Fatalf("Resolve new vendor: %v", err)
	}
	if !created {
		t.Fatal("expected a new profile")
	}
	if p.Trust.Reliability != NeutralTrust {
		t.Errorf("new profile reliability = %v, want %v", p.Trust.Reliability, NeutralTrust)
	}
}

func TestApplyInvoiceDoesNotMutateSnapshot(t *testing.T) {
	engine, _ := testEngine(t)
	snapshot := &Profile{
		ID:             "ven_snap",
		NormalizedName: "jansen installatietechniek",
		InvoiceCount:   2,
		Prices: map[string]PriceBucket{
			"Tiling work": {Min: 250, Max: 400, Average: 300, SampleSize: 3},
		},
		Trust: TrustMetrics{Reliability: 0.5, PriceStability: 0.5, DocumentQuality: 0.5},
	}

	updated := engine.ApplyInvoice(snapshot, testInvoice(), Observation{Reliability: 1, DocumentQuality: 1})

	if snapshot.InvoiceCount != 2 {
		t.Errorf("snapshot InvoiceCount mutated to %d", snapshot.InvoiceCount)
	}
	if snapshot.Prices["Tiling work"].SampleSize != 3 {
		t.Errorf("snapshot bucket mutated: %+v", snapshot.Prices["Tiling work"])
	}
	if updated.InvoiceCount != 3 {
		t.Errorf("updated InvoiceCount = %d, want 3", updated.InvoiceCount)
	}
	if updated.Prices["Tiling work"].SampleSize != 4 {
		t.Errorf("updated bucket = %+v, want sampleSize 4", updated.Prices["Tiling work"])
	}
}

func TestBucketMatchingSubstring(t *testing.T) {
	engine, _ := testEngine(t)
	profile := &Profile{
		Prices: map[string]PriceBucket{
			"Bathroom installation complete": {Min: 2000, Max: 5000, Average: 3200, SampleSize: 4},
		},
	}

	// "Bathroom installation" is contained in the bucket key, so the
	// existing bucket is updated rather than a new one created.
	updated := engine.ApplyInvoice(profile, &invoice.Invoice{
		Vendor:    invoice.Vendor{Name: "X"},
		LineItems: []invoice.LineItem{{Description: "Bathroom installation", Quantity: 1, TotalPrice: 3000}},
	}, Observation{})

	if len(updated.Prices) != 1 {
		t.Fatalf("got %d buckets, want the existing bucket reused: %v", len(updated.Prices), updated.Prices)
	}
	if updated.Prices["Bathroom installation complete"].SampleSize != 5 {
		t.Errorf("bucket = %+v, want sampleSize 5", updated.Prices["Bathroom installation complete"])
	}
}

func TestQuantityZeroTreatedAsOne(t *testing.T) {
	engine, _ := testEngine(t)
	updated := engine.ApplyInvoice(&Profile{}, &invoice.Invoice{
		Vendor:    invoice.Vendor{Name: "X"},
		LineItems: []invoice.LineItem{{Description: "Demolition", Quantity: 0, TotalPrice: 800}},
	}, Observation{})

	b := updated.Prices["Demolition"]
	if b.Average != 800 {
		t.Errorf("unit price with zero quantity = %v, want 800", b.Average)
	}
}

func TestIndustryFallback(t *testing.T) {
	ctx := context.Background()
	engine, store := testEngine(t)

	// Another vendor's history provides the industry statistics
	other := &Profile{
		ID:             "ven_other",
		NormalizedName: "pietersen dakwerken",
		Prices: map[string]PriceBucket{
			"Roofing repair": {Min: 1000, Max: 2000, Average: 1400, SampleSize: 6},
		},
	}
	if _, err := store.Upsert(ctx, other); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	newcomer := &Profile{ID: "ven_new", NormalizedName: "nieuw bedrijf"}
	item := invoice.LineItem{Description: "Roofing repair", Quantity: 1, TotalPrice: 450}

	check := engine.CheckPrice(ctx, newcomer, item)
	if check.Source != PriceSourceIndustry {
		t.Fatalf("Source = %v, want industry", check.Source)
	}
	// Industry band is [1000*0.5, 2000*1.5] = [500, 3000]; 450 is below
	if check.InRange {
		t.Errorf("450 should be below the industry band [%v, %v]", check.LowBound, check.HighBound)
	}
	wantDev := (500.0 - 450.0) / 500.0
	if math.Abs(check.Deviation-wantDev) > 1e-9 {
		t.Errorf("Deviation = %v, want %v", check.Deviation, wantDev)
	}
}

func TestCommitInvoiceSerializesConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	engine, store := testEngine(t)

	profile, _, err := engine.Resolve(ctx, invoice.Vendor{Name: "Concurrent BV", KvKNumber: "11111111"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	const workers = 8
	done := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := engine.CommitInvoice(ctx, profile.ID, testInvoice(), Observation{Reliability: 1}, nil)
			done <- err
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-done; err != nil {
			t.Fatalf("CommitInvoice: %v", err)
		}
	}

	final, err := store.Get(ctx, profile.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.InvoiceCount != workers {
		t.Errorf("InvoiceCount = %d, want %d (lost update)", final.InvoiceCount, workers)
	}
	for category, b := range final.Prices {
		if b.SampleSize != workers {
			t.Errorf("bucket %q sampleSize = %d, want %d", category, b.SampleSize, workers)
		}
	}
}
