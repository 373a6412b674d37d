package stub

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// SchemaError reports a stub configuration rejected by the CUE schema.
type SchemaError struct {
	Definition string
	Detail     string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("stub %s: %s", e.Definition, e.Detail)
}

// validate unifies v with the named schema definition and requires every
// field to be concrete.
func validate(definition string, v any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile stub schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("stub schema has no definition %s", definition)
	}

	value := ctx.Encode(v)
	if err := value.Err(); err != nil {
		return &SchemaError{Definition: definition, Detail: errors.Details(err, nil)}
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Definition: definition, Detail: errors.Details(err, nil)}
	}
	return nil
}
