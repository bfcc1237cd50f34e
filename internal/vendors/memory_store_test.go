package vendors

import (
	"context"
	"testing"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(nil)
	profiles := []*Profile{
		{
			ID:             "ven_a",
			LegalName:      "Jansen Installatietechniek B.V.",
			NormalizedName: "jansen installatietechniek",
			KvKNumber:      "12345678",
			Categories:     []string{"installation"},
			Prices: map[string]PriceBucket{
				"Bathroom installation": {Min: 2000, Max: 6000, Average: 3500, SampleSize: 4},
			},
		},
		{
			ID:             "ven_b",
			LegalName:      "De Vries Sanitair",
			NormalizedName: "de vries sanitair",
			VATNumber:      "NL123456789B01",
			Categories:     []string{"installation", "plumbing"},
			Prices: map[string]PriceBucket{
				"Bathroom installation": {Min: 3000, Max: 9000, Average: 5000, SampleSize: 6},
			},
		},
	}
	for _, p := range profiles {
		if _, err := store.Upsert(context.Background(), p); err != nil {
			t.Fatalf("Upsert(%s): %v", p.ID, err)
		}
	}
	return store
}

func TestGetByTaxID(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	p, err := store.GetByTaxID(ctx, "12345678", "")
	if err != nil || p.ID != "ven_a" {
		t.Errorf("by KvK: got %v, %v", p, err)
	}
	p, err = store.GetByTaxID(ctx, "", "NL123456789B01")
	if err != nil || p.ID != "ven_b" {
		t.Errorf("by VAT: got %v, %v", p, err)
	}
	if _, err := store.GetByTaxID(ctx, "99999999", ""); err != ErrNotFound {
		t.Errorf("unknown KvK error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByTaxID(ctx, "", ""); err != ErrNotFound {
		t.Errorf("empty ids error = %v, want ErrNotFound", err)
	}
}

func TestGetByNameExactBeatsFuzzy(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	// A third vendor whose name contains ven_a's full name
	if _, err := store.Upsert(ctx, &Profile{
		ID:             "ven_c",
		NormalizedName: "jansen installatietechniek zuid",
	}); err != nil {
		t.Fatal(err)
	}

	p, err := store.GetByName(ctx, "jansen installatietechniek")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if p.ID != "ven_a" {
		t.Errorf("exact match should win, got %s", p.ID)
	}

	p, err = store.GetByName(ctx, "installatietechniek zuid")
	if err != nil {
		t.Fatalf("fuzzy GetByName: %v", err)
	}
	if p.ID != "ven_c" {
		t.Errorf("fuzzy match = %s, want ven_c", p.ID)
	}
}

func TestUpsertReturnsStableID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	p := &Profile{NormalizedName: "nieuw"}
	id, err := store.Upsert(ctx, p)
	if err != nil || id == "" {
		t.Fatalf("Upsert: id=%q err=%v", id, err)
	}

	p.InvoiceCount = 3
	id2, err := store.Upsert(ctx, p)
	if err != nil || id2 != id {
		t.Fatalf("second Upsert: id=%q err=%v, want %q", id2, err, id)
	}

	got, err := store.Get(ctx, id)
	if err != nil || got.InvoiceCount != 3 {
		t.Errorf("Get = %+v, %v", got, err)
	}
}

func TestListByCategory(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	both, err := store.ListByCategory(ctx, "installation")
	if err != nil || len(both) != 2 {
		t.Errorf("installation: %d profiles, err %v, want 2", len(both), err)
	}
	one, err := store.ListByCategory(ctx, "plumbing")
	if err != nil || len(one) != 1 {
		t.Errorf("plumbing: %d profiles, err %v, want 1", len(one), err)
	}
}

func TestAggregateIndustryPriceRanges(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	industry, err := store.AggregateIndustryPriceRanges(ctx)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	b, ok := industry["Bathroom installation"]
	if !ok {
		t.Fatalf("no industry bucket: %v", industry)
	}
	if b.Min != 2000 || b.Max != 9000 || b.SampleSize != 10 {
		t.Errorf("bucket = %+v, want min 2000, max 9000, sampleSize 10", b)
	}
	// Sample-size-weighted average: (3500*4 + 5000*6) / 10
	if want := (3500.0*4 + 5000.0*6) / 10; b.Average != want {
		t.Errorf("Average = %v, want %v", b.Average, want)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	p, _ := store.Get(ctx, "ven_a")
	p.Prices["Bathroom installation"] = PriceBucket{Min: 1, Max: 1, Average: 1, SampleSize: 1}
	p.Categories[0] = "mutated"

	again, _ := store.Get(ctx, "ven_a")
	if again.Prices["Bathroom installation"].Min == 1 {
		t.Error("store shares price map with callers")
	}
	if again.Categories[0] == "mutated" {
		t.Error("store shares category slice with callers")
	}
}

func TestCount(t *testing.T) {
	store := seedStore(t)
	n, err := store.Count(context.Background())
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v, want 2", n, err)
	}
}
