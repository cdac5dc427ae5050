// Package jsonbody parses product records out of JSON API responses.
// Retailers with bespoke HTML layouts get their own Parser; this one
// covers the JSON product endpoints most modern storefronts expose.
package jsonbody

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/retailpulse/harvester/internal/pipeline"
)

// Parser implements pipeline.Parser for JSON bodies. It accepts a
// top-level array of objects, a single object, or newline-delimited
// objects.
type Parser struct{}

// New returns a JSON body parser.
func New() *Parser {
	return &Parser{}
}

// Parse decodes the response body into records.
func (p *Parser) Parse(response pipeline.FetchResponse) ([]pipeline.Record, error) {
	body := bytes.TrimSpace(response.Body)
	if len(body) == 0 {
		return nil, nil
	}

	switch body[0] {
	case '[':
		var records []pipeline.Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return records, nil
	case '{':
		// Either one object or NDJSON. Try the single object first,
		// fall back to line-by-line decoding.
		var record pipeline.Record
		if err := json.Unmarshal(body, &record); err == nil {
			return []pipeline.Record{record}, nil
		}
		var records []pipeline.Record
		dec := json.NewDecoder(bytes.NewReader(body))
		for dec.More() {
			var r pipeline.Record
			if err := dec.Decode(&r); err != nil {
				return nil, fmt.Errorf("decode record %d: %w", len(records), err)
			}
			records = append(records, r)
		}
		return records, nil
	default:
		return nil, fmt.Errorf("body of %s is not JSON", response.URL)
	}
}
