package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var errInvalidSnowflake = errors.New("snowflake must be a non-negative integer")

// Snowflake is a Discord id. It decodes from a JSON number or a numeric
// string and is stored in its decimal string form.
type Snowflake string

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		b = []byte(str)
	}
	if _, err := strconv.ParseUint(string(b), 10, 64); err != nil {
		return fmt.Errorf("%w: %q", errInvalidSnowflake, b)
	}
	*s = Snowflake(b)
	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

func (s Snowflake) String() string { return string(s) }
