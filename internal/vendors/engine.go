package vendors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mvdveen/bouwdepot/internal/invoice"
	"github.com/mvdveen/bouwdepot/internal/metrics"
	"github.com/mvdveen/bouwdepot/internal/syncutil"
)

// Price tolerance bands. Validation uses the vendor's own history with
// 30% tolerance; when there is none it falls back to industry-wide
// statistics with a looser 50% band.
const (
	VendorBandLow    = 0.7
	VendorBandHigh   = 1.3
	IndustryBandLow  = 0.5
	IndustryBandHigh = 1.5
)

// Anomaly bands are looser than the validation bands so that the two
// checks agree near the boundary: a price can fail neither or both,
// but never only the anomaly check.
const (
	AnomalyBandLow  = 0.6
	AnomalyBandHigh = 1.4
)

// Observation carries the per-invoice evidence blended into a
// vendor's trust metrics. Values in [0,1].
type Observation struct {
	Reliability     float64
	DocumentQuality float64
}

// Engine maintains vendor profiles: identity resolution, running
// statistics, trust blending, price checks and anomaly detection.
//
// Statistical updates are buffered: ApplyInvoice is pure and operates
// on a snapshot, while CommitInvoice re-resolves the profile under a
// per-vendor lock and applies the mutation to fresh state. A cancelled
// or failed pipeline run that never commits leaves no trace.
type Engine struct {
	store   Store
	matcher MatchStrategy
	locks   *syncutil.ContextShardedMutex
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatcher overrides the fuzzy match strategy used for service
// grouping and specialty checks.
func WithMatcher(m MatchStrategy) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger overrides the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a vendor trust engine on top of the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		matcher: SubstringStrategy{},
		locks:   syncutil.NewContextShardedMutex(),
		logger:  slog.Default().With("component", "vendors"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve finds the profile for the invoice's vendor, or creates a new
// one seeded with neutral trust. Precedence: tax id, then exact
// normalized name, then fuzzy name. The returned profile is a snapshot;
// created reports whether a new profile was persisted.
func (e *Engine) Resolve(ctx context.Context, v invoice.Vendor) (profile *Profile, created bool, err error) {
	kvk := strings.TrimSpace(v.KvKNumber)
	vat := strings.ToUpper(strings.ReplaceAll(v.VATNumber, " ", ""))
	normalized := invoice.NormalizeName(v.Name)

	if kvk != "" || vat != "" {
		profile, err = e.store.GetByTaxID(ctx, kvk, vat)
		if err == nil {
			return profile, false, nil
		}
		if err != ErrNotFound {
			return nil, false, fmt.Errorf("tax id lookup: %w", err)
		}
	}

	if normalized != "" {
		profile, err = e.store.GetByName(ctx, normalized)
		if err == nil {
			return profile, false, nil
		}
		if err != ErrNotFound {
			return nil, false, fmt.Errorf("name lookup: %w", err)
		}
	}

	now := e.now()
	profile = &Profile{
		LegalName:      strings.TrimSpace(v.Name),
		NormalizedName: normalized,
		KvKNumber:      kvk,
		VATNumber:      vat,
		Trust: TrustMetrics{
			Reliability:     NeutralTrust,
			PriceStability:  NeutralTrust,
			DocumentQuality: NeutralTrust,
		},
		FirstSeen:   now,
		LastSeen:    now,
		LastUpdated: now,
	}
	if addr := strings.TrimSpace(v.Address); addr != "" {
		profile.Addresses = []string{addr}
	}

	id, err := e.store.Upsert(ctx, profile)
	if err != nil {
		return nil, false, fmt.Errorf("create vendor profile: %w", err)
	}
	profile.ID = id
	metrics.VendorProfilesCreatedTotal.Inc()
	e.logger.Info("created vendor profile",
		"vendor_id", id,
		"name", profile.LegalName,
		"has_tax_id", profile.HasTaxID())
	return profile, true, nil
}

// ApplyInvoice returns a copy of the profile with the invoice's
// statistics folded in: price buckets, service patterns, identity
// enrichment, and blended trust metrics. The input profile is not
// modified and nothing is persisted.
func (e *Engine) ApplyInvoice(profile *Profile, inv *invoice.Invoice, obs Observation) *Profile {
	p := profile.Clone()
	now := e.now()

	for _, item := range inv.LineItems {
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			continue
		}
		e.observePrice(p, desc, item.EffectiveUnitPrice())
		e.observeService(p, desc, now)
	}

	// Identity enrichment: learn registration numbers, addresses and
	// payment accounts as they appear.
	if p.KvKNumber == "" && inv.Vendor.KvKNumber != "" {
		p.KvKNumber = strings.TrimSpace(inv.Vendor.KvKNumber)
	}
	if p.VATNumber == "" && inv.Vendor.VATNumber != "" {
		p.VATNumber = strings.ToUpper(strings.ReplaceAll(inv.Vendor.VATNumber, " ", ""))
	}
	if addr := strings.TrimSpace(inv.Vendor.Address); addr != "" && !containsFold(p.Addresses, addr) {
		p.Addresses = append(p.Addresses, addr)
	}
	if iban := invoice.NormalizeIBAN(inv.Payment.IBAN); iban != "" && !p.KnowsAccount(iban) {
		p.Accounts = append(p.Accounts, iban)
	}

	// Blend trust with the weight taken before the count increment.
	// The very first invoice leaves the neutral prior untouched: with
	// no history the historical weight is zero and blending would
	// otherwise replace the prior with a single observation.
	count := p.InvoiceCount
	if count > 0 {
		p.Trust.Reliability = Blend(p.Trust.Reliability, obs.Reliability, count)
		p.Trust.DocumentQuality = Blend(p.Trust.DocumentQuality, obs.DocumentQuality, count)
		if dispersion, ok := p.Dispersion(); ok {
			incoming := 1 - minFloat(1, dispersion)
			p.Trust.PriceStability = Blend(p.Trust.PriceStability, incoming, count)
		}
	}

	p.InvoiceCount++
	p.LastSeen = now
	p.LastUpdated = now
	return p
}

// CommitInvoice applies the invoice to the vendor's current stored
// profile under a per-vendor lock and persists the result together
// with any anomaly records. It re-reads the profile inside the lock,
// so a concurrent commit for the same vendor is never lost.
func (e *Engine) CommitInvoice(ctx context.Context, vendorID string, inv *invoice.Invoice, obs Observation, anomalies []AnomalyRecord) (*Profile, error) {
	unlock, err := e.locks.LockContext(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := e.store.Get(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("reload vendor profile: %w", err)
	}

	updated := e.ApplyInvoice(current, inv, obs)
	updated.Trust.Anomalies = append(updated.Trust.Anomalies, anomalies...)

	if _, err := e.store.Upsert(ctx, updated); err != nil {
		return nil, fmt.Errorf("persist vendor profile: %w", err)
	}

	e.logger.Debug("committed invoice to vendor profile",
		"vendor_id", vendorID,
		"invoice_count", updated.InvoiceCount,
		"anomalies", len(anomalies))
	return updated, nil
}

// CheckPrice tests one line item's unit price against the vendor's
// history, falling back to industry-wide statistics when the vendor
// has no matching bucket.
func (e *Engine) CheckPrice(ctx context.Context, profile *Profile, item invoice.LineItem) PriceCheck {
	price := item.EffectiveUnitPrice()

	if profile != nil {
		if bucket, ok := matchBucket(profile.Prices, item.Description); ok {
			return bandCheck(price, bucket.Min*VendorBandLow, bucket.Max*VendorBandHigh, PriceSourceVendor)
		}
	}

	industry, err := e.store.AggregateIndustryPriceRanges(ctx)
	if err != nil {
		e.logger.Warn("industry price aggregation failed", "error", err)
		return PriceCheck{InRange: true, Source: PriceSourceNone}
	}
	if bucket, ok := matchBucket(industry, item.Description); ok {
		return bandCheck(price, bucket.Min*IndustryBandLow, bucket.Max*IndustryBandHigh, PriceSourceIndustry)
	}
	return PriceCheck{InRange: true, Source: PriceSourceNone}
}

// AnalyzeTrust summarizes a vendor's standing. Vendors with at most
// one prior invoice always score the neutral 0.5: one data point is
// not history.
func (e *Engine) AnalyzeTrust(profile *Profile) TrustAnalysis {
	if profile == nil || profile.InvoiceCount <= 1 {
		return TrustAnalysis{
			OverallScore: NeutralTrust,
			Factors:      []string{"limited history: fewer than two invoices on record"},
		}
	}

	t := profile.Trust
	overall := clamp01((t.Reliability + t.PriceStability + t.DocumentQuality) / 3)

	factors := []string{
		fmt.Sprintf("reliability %.2f over %d invoices", t.Reliability, profile.InvoiceCount),
		fmt.Sprintf("price stability %.2f", t.PriceStability),
		fmt.Sprintf("document quality %.2f", t.DocumentQuality),
	}
	if unresolved := countUnresolved(t.Anomalies); unresolved > 0 {
		factors = append(factors, fmt.Sprintf("%d unresolved anomalies on record", unresolved))
	}
	return TrustAnalysis{OverallScore: overall, Factors: factors}
}

// observePrice folds a unit price into the profile's bucket for the
// description: exact key first, then substring containment either
// direction, else a new bucket.
func (e *Engine) observePrice(p *Profile, desc string, price float64) {
	if p.Prices == nil {
		p.Prices = make(map[string]PriceBucket)
	}

	key := desc
	if _, ok := p.Prices[key]; !ok {
		if found, ok := matchBucketKey(p.Prices, desc); ok {
			key = found
		}
	}

	bucket := p.Prices[key]
	bucket.Observe(price)
	p.Prices[key] = bucket
}

// observeService bumps the exact-description service pattern. Fuzzy
// grouping happens only at read time; synonymous descriptions keep
// separate patterns on purpose.
func (e *Engine) observeService(p *Profile, desc string, now time.Time) {
	if p.Services == nil {
		p.Services = make(map[string]ServicePattern)
	}
	pattern, ok := p.Services[desc]
	if !ok {
		pattern.FirstSeen = now
	}
	pattern.Frequency++
	pattern.LastSeen = now
	p.Services[desc] = pattern
}

// knowsService reports whether the description matches any recorded
// service pattern under the engine's fuzzy strategy.
func (e *Engine) knowsService(p *Profile, desc string) bool {
	d := strings.ToLower(strings.TrimSpace(desc))
	for known := range p.Services {
		if e.matcher.Match(strings.ToLower(known), d) {
			return true
		}
	}
	return false
}

func matchBucket(buckets map[string]PriceBucket, desc string) (PriceBucket, bool) {
	key, ok := matchBucketKey(buckets, desc)
	if !ok {
		return PriceBucket{}, false
	}
	return buckets[key], true
}

func matchBucketKey(buckets map[string]PriceBucket, desc string) (string, bool) {
	desc = strings.ToLower(strings.TrimSpace(desc))
	if desc == "" {
		return "", false
	}
	var fuzzy string
	for key := range buckets {
		k := strings.ToLower(key)
		if k == desc {
			return key, true
		}
		if fuzzy == "" && (strings.Contains(k, desc) || strings.Contains(desc, k)) {
			fuzzy = key
		}
	}
	if fuzzy != "" {
		return fuzzy, true
	}
	return "", false
}

func bandCheck(price, low, high float64, source PriceCheckSource) PriceCheck {
	check := PriceCheck{
		InRange:   price >= low && price <= high,
		Source:    source,
		LowBound:  low,
		HighBound: high,
	}
	if !check.InRange {
		bound := low
		if price > high {
			bound = high
		}
		if bound != 0 {
			check.Deviation = absFloat(price-bound) / bound
		}
	}
	return check
}

func countUnresolved(anomalies []AnomalyRecord) int {
	n := 0
	for _, a := range anomalies {
		if !a.Resolved {
			n++
		}
	}
	return n
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
