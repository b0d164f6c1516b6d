// Package payload decodes group responses sent by the backend integration.
package payload

import (
	"fmt"
	"strings"

	"github.com/dukex/devicegroups/pkg/groups"
	"github.com/dukex/devicegroups/pkg/models"
	json "github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON Schema a group response must satisfy. Unknown keys are
// allowed so the backend can add fields without breaking devices.
const Schema = `{
	"type": "object",
	"properties": {
		"groups": {
			"type": ["array", "null"],
			"items": {"type": "string"}
		},
		"name": {"type": ["string", "null"]},
		"product_id": {"type": ["integer", "null"]},
		"notes": {"type": ["string", "null"]},
		"development": {"type": ["boolean", "null"]}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ParseError describes a payload that is not a valid group response.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", groups.ErrParse, e.Reason, e.Err)
	}

	return fmt.Sprintf("%s: %s", groups.ErrParse, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is matches groups.ErrParse so callers can test with errors.Is.
func (e *ParseError) Is(target error) bool {
	return target == groups.ErrParse
}

type record struct {
	Groups      []string `json:"groups"`
	Name        *string  `json:"name"`
	ProductID   *int     `json:"product_id"`
	Notes       *string  `json:"notes"`
	Development *bool    `json:"development"`
}

// Parse validates and decodes a group response. A missing groups key yields an
// empty group list; missing metadata fields are left nil.
func Parse(data []byte) (*models.ParsedRecord, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &ParseError{Reason: "empty payload"}
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return nil, &ParseError{Reason: "schema validation failed: " + strings.Join(messages, "; ")}
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &ParseError{Reason: "decode failed", Err: err}
	}

	names := make([]string, 0, len(r.Groups))
	seen := make(map[string]struct{}, len(r.Groups))

	for _, name := range r.Groups {
		if name == "" {
			continue
		}

		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}
		names = append(names, name)
	}

	return &models.ParsedRecord{
		Groups:      names,
		Name:        r.Name,
		ProductID:   r.ProductID,
		Notes:       r.Notes,
		Development: r.Development,
	}, nil
}
