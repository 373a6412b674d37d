package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roach88/pageharness/internal/store"
)

// Field is one named value of an InteractionResult. Value is raw JSON.
// A Field with an empty Name holds a scalar capture.
type Field struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Text returns the value as a string: strings unquoted, everything else as
// its JSON text.
func (f Field) Text() string {
	return gjson.ParseBytes(f.Value).String()
}

// Truthy reports whether the value is truthy by JavaScript rules.
func (f Field) Truthy() bool {
	v := gjson.ParseBytes(f.Value)
	switch v.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	}
	return true
}

// InteractionResult is a structured record captured from the page. Fields
// keep the order the page produced them in.
type InteractionResult struct {
	Name   string
	Fields []Field
}

// decodeResult builds an InteractionResult from raw page JSON. Objects are
// split into ordered fields; anything else becomes a single scalar field.
func decodeResult(name string, raw []byte) (InteractionResult, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	if !gjson.ValidBytes(raw) {
		return InteractionResult{}, fmt.Errorf("result %s: invalid JSON %q", name, raw)
	}

	res := InteractionResult{Name: name}
	v := gjson.ParseBytes(raw)
	if !v.IsObject() {
		res.Fields = []Field{{Value: json.RawMessage(v.Raw)}}
		return res, nil
	}
	v.ForEach(func(key, value gjson.Result) bool {
		res.Fields = append(res.Fields, Field{Name: key.String(), Value: json.RawMessage(value.Raw)})
		return true
	})
	if res.Fields == nil {
		res.Fields = []Field{}
	}
	return res, nil
}

// Field returns the named field. The empty name selects a scalar capture.
func (r InteractionResult) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsScalar reports whether the result holds a single unnamed value.
func (r InteractionResult) IsScalar() bool {
	return len(r.Fields) == 1 && r.Fields[0].Name == ""
}

// MissingModule reports whether the page answered with the guarded
// missing-module reason.
func (r InteractionResult) MissingModule() bool {
	f, ok := r.Field("reason")
	return ok && f.Text() == ReasonMissingModule
}

// String renders the value the way the report prints it: scalars as text,
// objects as {key: value, ...} in capture order.
func (r InteractionResult) String() string {
	if r.IsScalar() {
		return r.Fields[0].Text()
	}
	var buf strings.Builder
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s: %s", f.Name, f.Value)
	}
	buf.WriteByte('}')
	return buf.String()
}

// MarshalJSON encodes the result as {"name": ..., "value": ...} with object
// keys in capture order.
func (r InteractionResult) MarshalJSON() ([]byte, error) {
	var value bytes.Buffer
	if r.IsScalar() {
		value.Write(r.Fields[0].Value)
	} else {
		value.WriteByte('{')
		for i, f := range r.Fields {
			if i > 0 {
				value.WriteByte(',')
			}
			key, err := json.Marshal(f.Name)
			if err != nil {
				return nil, err
			}
			value.Write(key)
			value.WriteByte(':')
			value.Write(f.Value)
		}
		value.WriteByte('}')
	}

	name, err := json.Marshal(r.Name)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"name":%s,"value":%s}`, name, value.Bytes())), nil
}

// Result is the outcome of one scenario run.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is true only if every step ran and every assertion held.
	Pass bool `json:"pass"`

	// Results are the captured interaction results in capture order.
	Results []InteractionResult `json:"results"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Steps is the step trace read back from the store.
	Steps []store.StepRecord `json:"steps,omitempty"`

	// Failure is the first typed error that aborted the run, if any.
	Failure error `json:"-"`
}

// NewResult creates a new passing result.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Results:  []InteractionResult{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Fail records err as an aborting failure.
func (r *Result) Fail(err error) {
	if r.Failure == nil {
		r.Failure = err
	}
	r.AddError(err.Error())
}

// Capture appends an interaction result.
func (r *Result) Capture(res InteractionResult) {
	r.Results = append(r.Results, res)
}

// Lookup returns the most recent result captured under name.
func (r *Result) Lookup(name string) (InteractionResult, bool) {
	for i := len(r.Results) - 1; i >= 0; i-- {
		if r.Results[i].Name == name {
			return r.Results[i], true
		}
	}
	return InteractionResult{}, false
}

// ExitCode maps the verdict to a process exit code.
func (r *Result) ExitCode() int {
	if r.Pass {
		return 0
	}
	return 1
}
