package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/retailpulse/harvester/internal/metrics"
	"github.com/retailpulse/harvester/internal/pipeline"
)

func validPricingRecord() pipeline.Record {
	return pipeline.Record{
		"product_url":   "https://shop.example/item-1",
		"retailer":      "BigBox",
		"price":         12.999,
		"in_stock":      true,
		"currency":      "usd",
		"scraperid":     "2026-08-31",
		"date_download": "2026-08-31T14:05:00",
		"scrape_method": "api",
	}
}

func newTestSanitizer() *Sanitizer {
	metrics.Init()
	return New(PricingSchema, zap.NewNop())
}

func TestSanitize_ValidRecordPasses(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	out, rate := s.Sanitize([]pipeline.Record{validPricingRecord()})
	require.Len(t, out, 1)
	require.InDelta(t, 100.0, rate, 0.001)

	// Price truncated to two decimals, currency uppercased.
	require.Equal(t, 12.99, out[0]["price"])
	require.Equal(t, "USD", out[0]["currency"])
}

func TestSanitize_MissingRequiredFieldDrops(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	r := validPricingRecord()
	delete(r, "product_url")

	out, rate := s.Sanitize([]pipeline.Record{r, validPricingRecord()})
	require.Len(t, out, 1)
	require.InDelta(t, 50.0, rate, 0.001)
}

func TestSanitize_NullStringsCountAsMissing(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	for _, missing := range []any{nil, "", "null", "undefined"} {
		r := validPricingRecord()
		r["retailer"] = missing
		out, _ := s.Sanitize([]pipeline.Record{r})
		require.Emptyf(t, out, "value %v should be treated as missing", missing)
	}
}

func TestSanitize_AmazonMayOmitPrice(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	r := validPricingRecord()
	r["retailer"] = "Amazon"
	delete(r, "price")
	delete(r, "currency")

	out, _ := s.Sanitize([]pipeline.Record{r})
	require.Len(t, out, 1)
	require.NotContains(t, out[0], "price")
}

func TestSanitize_OutOfStockMayOmitPrice(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	r := validPricingRecord()
	r["in_stock"] = false
	delete(r, "price")
	delete(r, "currency")

	out, _ := s.Sanitize([]pipeline.Record{r})
	require.Len(t, out, 1)
}

func TestSanitize_InStockRequiresPrice(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	r := validPricingRecord()
	delete(r, "price")

	out, _ := s.Sanitize([]pipeline.Record{r})
	require.Empty(t, out)
}

func TestSanitize_RejectsNonUSDCurrency(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	r := validPricingRecord()
	r["currency"] = "EUR"

	out, _ := s.Sanitize([]pipeline.Record{r})
	require.Empty(t, out)
}

func TestSanitize_RejectsWrongTypes(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	r := validPricingRecord()
	r["price"] = "12.99"

	out, _ := s.Sanitize([]pipeline.Record{r})
	require.Empty(t, out)
}

func TestSanitize_RejectsMalformedDates(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	r := validPricingRecord()
	r["scraperid"] = "08/31/2026"
	out, _ := s.Sanitize([]pipeline.Record{r})
	require.Empty(t, out)

	r = validPricingRecord()
	r["date_download"] = "2026-08-31"
	out, _ = s.Sanitize([]pipeline.Record{r})
	require.Empty(t, out)
}

func TestSanitize_DropsUnknownFields(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	r := validPricingRecord()
	r["tracking_pixel"] = "evil"

	out, _ := s.Sanitize([]pipeline.Record{r})
	require.Len(t, out, 1)
	require.NotContains(t, out[0], "tracking_pixel")
}

func TestSanitize_MetadataDescriptionAndImages(t *testing.T) {
	t.Parallel()
	metrics.Init()
	s := New(MetadataSchema, zap.NewNop())

	r := pipeline.Record{
		"product_url":     "https://shop.example/item-1",
		"retailer":        "BigBox",
		"retailers_brand": "Acme",
		"retailers_mpn":   "ACM-1",
		"title":           "Widget",
		"description":     "<p>Great <b>widget</b></p>",
		"images":          []any{"a.jpg", "b.jpg", "a.jpg"},
		"avg_rating":      4.67,
		"scraperid":       "2026-08-31",
		"date_download":   "2026-08-31T14:05:00",
		"scrape_method":   "api",
	}
	out, _ := s.Sanitize([]pipeline.Record{r})
	require.Len(t, out, 1)
	require.Equal(t, "Great widget", out[0]["description"])
	require.Equal(t, []any{"a.jpg", "b.jpg"}, out[0]["images"])
	require.Equal(t, 4.6, out[0]["avg_rating"])
}

func TestSchemaFor(t *testing.T) {
	t.Parallel()

	schema, err := SchemaFor("ps")
	require.NoError(t, err)
	require.NotContains(t, schema, "title")
	require.True(t, schema["price"].Required)

	schema, err = SchemaFor("meta")
	require.NoError(t, err)
	require.Contains(t, schema, "title")
	require.False(t, schema["price"].Required)

	_, err = SchemaFor("pricing")
	require.Error(t, err)
}

func TestSanitize_EmptyBatch(t *testing.T) {
	t.Parallel()
	s := newTestSanitizer()

	out, rate := s.Sanitize(nil)
	require.Empty(t, out)
	require.Zero(t, rate)
}
