package tools

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// ValidateArgs checks args against the tool's parameter schema.
func ValidateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return errors.Wrap(err, "could not marshal schema")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(b), gojsonschema.NewGoLoader(args))
	if err != nil {
		return errors.Wrap(err, "failed to validate arguments")
	}
	if result.Valid() {
		return nil
	}

	var descriptions []string
	for _, desc := range result.Errors() {
		descriptions = append(descriptions, desc.String())
	}
	return errors.Errorf("invalid arguments: %s", strings.Join(descriptions, "; "))
}
