package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// decodeArgs unmarshals a JSON object into v, reporting type mismatches as
// ErrInvalidArgs.
func decodeArgs(params json.RawMessage, v any) error {
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgs, field)
	}
	return nil
}

// optInt accepts a JSON number, a numeric string, or null. Models are not
// consistent about how they encode small integers.
type optInt struct {
	Set   bool
	Value int
}

func (o *optInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	o.Set, o.Value = true, int(f)
	return nil
}
