package backend

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// ID is a row identifier. Backends may return numeric or textual keys; both
// decode to the same string form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Decode maps rows onto a slice of typed row structs through their json tags.
func Decode(rows []Row, out any) error {
	if rows == nil {
		rows = []Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func DecodeRow(row Row, out any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Encode turns a tagged struct into a Row. Fields tagged omitempty are left out when empty.
func Encode(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	row := Row{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}
