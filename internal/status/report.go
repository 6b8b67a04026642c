package status

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// None marks a value that is absent on one side of a comparison.
const None = "none"

// Value is one side of a discrepancy: an address, alias, version or "none",
// or a count used when the ledger itself is inconsistent.
type Value struct {
	text    string
	count   int
	isCount bool
}

// Text returns a textual value.
func Text(s string) Value {
	return Value{text: s}
}

// Count returns a count value.
func Count(n int) Value {
	return Value{count: n, isCount: true}
}

// IsCount reports whether v is a count.
func (v Value) IsCount() bool {
	return v.isCount
}

// Int returns the count, or zero for textual values.
func (v Value) Int() int {
	return v.count
}

func (v Value) String() string {
	if v.isCount {
		return strconv.Itoa(v.count)
	}
	return v.text
}

// MarshalJSON encodes counts as numbers and text as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isCount {
		return []byte(strconv.Itoa(v.count)), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts a number or a string.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value must be a string or an integer: %w", err)
	}
	*v = Count(n)
	return nil
}

// Entry is a single discrepancy.
type Entry struct {
	Expected    Value  `json:"expected"`
	Observed    Value  `json:"observed"`
	Description string `json:"description"`
}

// Report is an ordered, append-only list of discrepancies. An empty report
// means the ledger matches the manifest.
type Report struct {
	entries []Entry
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{}
}

// Add appends a discrepancy.
func (r *Report) Add(expected, observed Value, description string) {
	r.entries = append(r.entries, Entry{Expected: expected, Observed: observed, Description: description})
}

// Entries returns a copy of the entries in report order.
func (r *Report) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Len returns the number of entries.
func (r *Report) Len() int {
	return len(r.entries)
}

// Empty reports whether no discrepancy was found.
func (r *Report) Empty() bool {
	return len(r.entries) == 0
}

// MarshalJSON encodes the report as an array of entries.
func (r *Report) MarshalJSON() ([]byte, error) {
	if r.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.entries)
}

// UnmarshalJSON decodes an array of entries.
func (r *Report) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	r.entries = entries
	return nil
}
