package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/raine/listing-pipeline/internal/llm"
)

// DefaultConcurrency bounds per-image fan-out.
const DefaultConcurrency = 4

func errMissingField(name string) error {
	return fmt.Errorf("required field %s is missing", name)
}

// decodeObject extracts the JSON object from a model response and decodes it
// into v.
func decodeObject(text string, v any) error {
	obj, err := llm.ExtractJSONObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

// validObject returns the compacted JSON object found in a model response.
func validObject(text string) (json.RawMessage, error) {
	obj, err := llm.ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(obj)); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// stringList accepts a JSON array of strings or a single comma separated
// string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = cleanList(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// anything else (numbers, objects, null) reads as empty
		*l = nil
		return nil
	}
	*l = cleanList(strings.Split(s, ","))
	return nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// looseString accepts a JSON string or number.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = looseString(num.String())
		return nil
	}
	*s = ""
	return nil
}

// looseInt accepts a JSON number or numeric string; anything else is zero.
type looseInt int

func (n *looseInt) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = looseInt(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
			*n = looseInt(v)
			return nil
		}
	}
	*n = 0
	return nil
}
