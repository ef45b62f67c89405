package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Reactions maps a user id to that user's single emoji on a message.
type Reactions map[string]string

func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Reactions) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Reactions) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*r = Reactions{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("reactions: unsupported scan type %T", src)
	}

	out := Reactions{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, (*map[string]string)(&out)); err != nil {
			return fmt.Errorf("reactions: %w", err)
		}
	}
	*r = out
	return nil
}
