/*
Package extraction is the ingestion boundary for document-extraction output.

PURPOSE:
  The extraction model returns loosely shaped JSON. A field may be a plain
  value, a {value, confidence} wrapper, or an array of sub-records, and an
  absent field may be null, "", or the string "not_found". This package
  parses those shapes into one tagged type and normalizes them into a
  lease.Agreement. Nothing past this package sees raw extraction shapes.

KEY CONCEPTS:
  Field:      Tagged variant (Absent | Scalar | ConfidenceWrapped | RecordList)
  Extraction: Flat field set. Sectioned payloads ("rent": {...}) are
              flattened; "<field>_confidence" siblings attach to <field>.
  Normalize:  Extraction + identity → draft lease.Agreement

SEE ALSO:
  - extraction/normalize.go: Field mapping
  - lease/types.go: Agreement
*/
package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/grospace/lease-engine/lease"
)

// Kind tags the shape a field arrived in.
type Kind int

const (
	Absent Kind = iota
	Scalar
	ConfidenceWrapped
	RecordList
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case ConfidenceWrapped:
		return "confidence_wrapped"
	case RecordList:
		return "record_list"
	default:
		return "absent"
	}
}

// notFound is the model's marker for a field it could not find.
const notFound = "not_found"

// Field is one extracted value.
type Field struct {
	Kind       Kind
	Value      any // string, float64 or bool for Scalar and ConfidenceWrapped
	Confidence string
	Records    []map[string]Field
}

// Present reports whether the field carries a value or records.
func (f Field) Present() bool { return f.Kind != Absent }

// UnmarshalJSON decodes any of the extraction shapes.
func (f *Field) UnmarshalJSON(b []byte) error {
	*f = Field{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		records := make([]map[string]Field, 0, len(raw))
		for _, item := range raw {
			rec, err := decodeRecord(item)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		if len(records) > 0 {
			f.Kind = RecordList
			f.Records = records
		}
		return nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if v, ok := obj["value"]; ok {
			var inner Field
			if err := inner.UnmarshalJSON(v); err != nil {
				return err
			}
			if c, ok := obj["confidence"]; ok {
				_ = json.Unmarshal(c, &f.Confidence)
			}
			if inner.Kind == Scalar {
				f.Kind = ConfidenceWrapped
				f.Value = inner.Value
			}
			return nil
		}
		rec, err := decodeRecord(b)
		if err != nil {
			return err
		}
		f.Kind = RecordList
		f.Records = []map[string]Field{rec}
		return nil
	}

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, notFound) {
			return nil
		}
		v = s
	}
	f.Kind = Scalar
	f.Value = v
	return nil
}

func decodeRecord(b []byte) (map[string]Field, error) {
	var rec map[string]Field
	if err := json.Unmarshal(b, &rec); err != nil {
		var scalar Field
		if err2 := scalar.UnmarshalJSON(b); err2 != nil {
			return nil, err
		}
		return map[string]Field{"value": scalar}, nil
	}
	return rec, nil
}

func (f Field) scalar() (any, bool) {
	if f.Kind != Scalar && f.Kind != ConfidenceWrapped {
		return nil, false
	}
	return f.Value, true
}

// Text returns the value as text.
func (f Field) Text() (string, bool) {
	v, ok := f.scalar()
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// Decimal returns the value as a number. Numeric strings may carry
// thousands separators, a currency prefix, or a trailing "%".
func (f Field) Decimal() (decimal.Decimal, bool) {
	v, ok := f.scalar()
	if !ok {
		return decimal.Zero, false
	}
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case string:
		clean := strings.NewReplacer(",", "", "₹", "", "Rs.", "", "INR", "", "%", "", " ", "").Replace(x)
		d, err := decimal.NewFromString(clean)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// Int returns the value truncated to an integer.
func (f Field) Int() (int, bool) {
	d, ok := f.Decimal()
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}

var dateLayouts = []string{"2006-01-02", "02-01-2006", "02/01/2006", "2 January 2006", "January 2, 2006"}

// Date parses the value as a calendar date. A present value that is not a
// date (e.g. "60 days from handover") returns an InvalidDateError.
func (f Field) Date(name string) (lease.Date, error) {
	s, ok := f.Text()
	if !ok {
		return lease.Date{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return lease.DateOf(t), nil
		}
	}
	return lease.Date{}, &lease.InvalidDateError{Field: name, Value: s, Reason: "not a calendar date"}
}

// =============================================================================
// EXTRACTION
// =============================================================================

// Extraction is the flattened field set of one document.
type Extraction map[string]Field

// Field returns the named field, Absent if missing.
func (e Extraction) Field(name string) Field { return e[name] }

// Parse decodes an extraction payload. Top-level objects that are not
// {value, confidence} wrappers are treated as sections and flattened.
func Parse(b []byte) (Extraction, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, fmt.Errorf("extraction payload: %w", err)
	}

	out := Extraction{}
	confidence := map[string]string{}
	var add func(key string, raw json.RawMessage) error
	add = func(key string, raw json.RawMessage) error {
		if strings.HasSuffix(key, "_confidence") {
			var c string
			if json.Unmarshal(raw, &c) == nil {
				confidence[strings.TrimSuffix(key, "_confidence")] = c
			}
			return nil
		}
		var f Field
		if err := f.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		out[key] = f
		return nil
	}

	for key, raw := range top {
		if isSection(raw) {
			var section map[string]json.RawMessage
			if err := json.Unmarshal(raw, &section); err != nil {
				return nil, fmt.Errorf("section %s: %w", key, err)
			}
			for k, v := range section {
				if err := add(k, v); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := add(key, raw); err != nil {
			return nil, err
		}
	}

	for key, c := range confidence {
		if f, ok := out[key]; ok {
			f.Confidence = c
			out[key] = f
		}
	}
	return out, nil
}

func isSection(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	_, wrapped := obj["value"]
	return !wrapped
}
