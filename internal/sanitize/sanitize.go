// Package sanitize validates and normalizes scraped product records
// before they enter the batch writer.
package sanitize

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retailpulse/harvester/internal/metrics"
	"github.com/retailpulse/harvester/internal/pipeline"
)

// Kind is the expected dynamic type of a record field.
type Kind int

// Field kinds supported by the schema table.
const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindBool
	KindList
)

// Rule describes one schema field.
type Rule struct {
	Kind     Kind
	Required bool
}

// Schema maps field names to validation rules. Field order in the
// output record follows the input record, not the schema.
type Schema map[string]Rule

// PricingSchema covers the daily-pricing record shape.
var PricingSchema = Schema{
	"product_url":     {Kind: KindString, Required: true},
	"retailer":        {Kind: KindString, Required: true},
	"retailers_brand": {Kind: KindString},
	"retailers_mpn":   {Kind: KindString},
	"sku":             {Kind: KindString},
	"price":           {Kind: KindFloat, Required: true},
	"in_stock":        {Kind: KindBool, Required: true},
	"currency":        {Kind: KindString, Required: true},
	"scraperid":       {Kind: KindString, Required: true},
	"date_download":   {Kind: KindString, Required: true},
	"scrape_method":   {Kind: KindString, Required: true},
}

// MetadataSchema covers the richer product-metadata record shape.
var MetadataSchema = Schema{
	"product_url":       {Kind: KindString, Required: true},
	"retailer":          {Kind: KindString, Required: true},
	"retailers_brand":   {Kind: KindString, Required: true},
	"retailers_mpn":     {Kind: KindString, Required: true},
	"title":             {Kind: KindString, Required: true},
	"sku":               {Kind: KindString},
	"avg_rating":        {Kind: KindFloat},
	"number_of_reviews": {Kind: KindInt},
	"price":             {Kind: KindFloat},
	"in_stock":          {Kind: KindBool},
	"images":            {Kind: KindList},
	"description":       {Kind: KindString},
	"currency":          {Kind: KindString},
	"retailers_upc":     {Kind: KindList},
	"scraperid":         {Kind: KindString, Required: true},
	"date_download":     {Kind: KindString, Required: true},
	"scrape_method":     {Kind: KindString, Required: true},
}

// SchemaFor maps a configured scraper type onto its record schema.
func SchemaFor(scraperType string) (Schema, error) {
	switch scraperType {
	case "ps":
		return PricingSchema, nil
	case "meta":
		return MetadataSchema, nil
	default:
		return nil, fmt.Errorf("unknown scraper type %q", scraperType)
	}
}

var htmlTagPattern = regexp.MustCompile(`<.*?>`)

const maxDescriptionLen = 2000

// Sanitizer validates records against a schema, dropping the ones that
// cannot be repaired. Dropping is final: a structurally invalid record
// stays invalid no matter how often it is retried.
type Sanitizer struct {
	schema Schema
	logger *zap.Logger
}

// New constructs a Sanitizer for the given schema.
func New(schema Schema, logger *zap.Logger) *Sanitizer {
	return &Sanitizer{schema: schema, logger: logger}
}

// Sanitize returns the valid subset of records plus the acceptance rate
// in percent. Invalid records are logged and skipped, never requeued.
func (s *Sanitizer) Sanitize(records []pipeline.Record) ([]pipeline.Record, float64) {
	sanitized := make([]pipeline.Record, 0, len(records))
	for _, record := range records {
		clean, err := s.sanitizeOne(record)
		if err != nil {
			s.logger.Info("dropping record failing sanitization",
				zap.Error(err),
				zap.Any("record", record),
			)
			metrics.ObserveRecordSkipped("sanitization")
			continue
		}
		sanitized = append(sanitized, clean)
	}

	rate := 0.0
	if len(records) > 0 {
		rate = float64(len(sanitized)) / float64(len(records)) * 100
	}
	metrics.SetSanitizationDropRate(100 - rate)
	return sanitized, rate
}

func (s *Sanitizer) sanitizeOne(record pipeline.Record) (pipeline.Record, error) {
	clean := make(pipeline.Record, len(s.schema))
	for field, rule := range s.schema {
		value, present := record[field]
		if !present || isMissing(value) {
			if !rule.Required {
				continue
			}
			if s.requiredFieldMayBeAbsent(field, record) {
				continue
			}
			return nil, fmt.Errorf("required field %q is missing", field)
		}
		if !matchesKind(value, rule.Kind) {
			return nil, fmt.Errorf("field %q has wrong type %T", field, value)
		}
		formatted, err := formatField(field, value)
		if err != nil {
			return nil, err
		}
		clean[field] = formatted
	}
	return clean, nil
}

// requiredFieldMayBeAbsent encodes the retailer-specific gaps the feed
// consumers tolerate: Amazon hides prices for some listings, prices are
// meaningless for out-of-stock items, and currency rides along with
// price.
func (s *Sanitizer) requiredFieldMayBeAbsent(field string, record pipeline.Record) bool {
	switch field {
	case "price":
		if retailer, _ := record["retailer"].(string); retailer == "Amazon" {
			return true
		}
		if inStock, ok := record["in_stock"].(bool); ok && !inStock {
			return true
		}
	case "currency":
		if isMissing(record["price"]) {
			return true
		}
	}
	return false
}

func formatField(field string, value any) (any, error) {
	switch field {
	case "price":
		if f, ok := toFloat(value); ok {
			return math.Trunc(f*100) / 100, nil
		}
	case "avg_rating":
		if f, ok := toFloat(value); ok {
			return math.Trunc(f*10) / 10, nil
		}
	case "scraperid":
		str := value.(string)
		if _, err := time.Parse("2006-01-02", str); err != nil {
			return nil, fmt.Errorf("field scraperid must match format YYYY-MM-DD")
		}
	case "date_download":
		str := value.(string)
		if _, err := time.Parse("2006-01-02T15:04:05", str); err != nil {
			return nil, fmt.Errorf("field date_download must match format YYYY-MM-DDTHH:MM:SS")
		}
	case "currency":
		str := strings.ToUpper(value.(string))
		if str != "USD" {
			return nil, fmt.Errorf("field currency must be USD")
		}
		return str, nil
	case "description":
		str := htmlTagPattern.ReplaceAllString(value.(string), "")
		if len(str) > maxDescriptionLen {
			str = strings.Join(strings.Fields(str), " ")
			if len(str) > maxDescriptionLen {
				str = str[:maxDescriptionLen]
			}
		}
		return str, nil
	case "images":
		if list, ok := value.([]any); ok {
			return dedupeList(list), nil
		}
	}
	return value, nil
}

func isMissing(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == "" || v == "null" || v == "undefined"
	default:
		return false
	}
}

func matchesKind(value any, kind Kind) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindFloat:
		_, ok := toFloat(value)
		return ok
	case KindInt:
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == math.Trunc(v)
		}
		return false
	case KindBool:
		_, ok := value.(bool)
		return ok
	case KindList:
		_, ok := value.([]any)
		return ok
	default:
		return false
	}
}

// toFloat accepts both native floats and JSON-decoded numbers.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// dedupeList removes duplicates while preserving first-occurrence order.
func dedupeList(list []any) []any {
	seen := make(map[string]struct{}, len(list))
	out := make([]any, 0, len(list))
	for _, v := range list {
		key := fmt.Sprintf("%v", v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
