package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// ToolDefinition represents a tool that can be called by the model or by the user.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	Function    ToolFunc           `json:"-"`

	// DisplayName is shown in tool group entries. Defaults to the camel-cased name.
	DisplayName string `json:"display_name,omitempty"`
	// Mutating tools modify the workspace. They need approval and get checkpointed.
	Mutating bool `json:"mutating,omitempty"`
	// Summarize describes one invocation, e.g. the path a file tool works on.
	Summarize func(args map[string]any) string `json:"-"`
}

// ToolFunc wraps the actual function with a pre-compiled executor.
type ToolFunc struct {
	Fn        interface{} `json:"-"`
	executor  func(context.Context, []byte) (interface{}, error)
	inputType reflect.Type
}

// NewToolFromFunc creates a ToolDefinition from a Go function of the form
// func(Input) (Result, error) or func(context.Context, Input) (Result, error).
// The parameter schema is reflected from Input.
func NewToolFromFunc(name, description string, fn interface{}) (*ToolDefinition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}

	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 {
		errorType := reflect.TypeOf((*error)(nil)).Elem()
		if !funcType.Out(1).Implements(errorType) {
			return nil, errors.New("second return value must be an error")
		}
	}

	inType, err := inputTypeOf(funcType)
	if err != nil {
		return nil, err
	}

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  generateSchema(inType),
		Function: ToolFunc{
			Fn:        fn,
			executor:  createExecutor(fn, funcType, inType),
			inputType: inType,
		},
	}, nil
}

func inputTypeOf(funcType reflect.Type) (reflect.Type, error) {
	switch funcType.NumIn() {
	case 0:
		return nil, nil
	case 1:
		if funcType.In(0) == contextType {
			return nil, nil
		}
		return funcType.In(0), nil
	case 2:
		if funcType.In(0) != contextType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		return funcType.In(1), nil
	default:
		return nil, errors.New("function must take (Input) or (context.Context, Input)")
	}
}

// generateSchema reflects the JSON schema of the input type. Definitions are
// expanded inline since function parameters cannot carry $refs.
func generateSchema(inType reflect.Type) *jsonschema.Schema {
	if inType == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(reflect.New(inType).Elem().Interface())
	schema.Version = ""
	schema.ID = ""
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema
}

func createExecutor(fn interface{}, funcType reflect.Type, inType reflect.Type) func(context.Context, []byte) (interface{}, error) {
	funcValue := reflect.ValueOf(fn)
	takesContext := funcType.NumIn() > 0 && funcType.In(0) == contextType

	return func(ctx context.Context, args []byte) (interface{}, error) {
		var in []reflect.Value
		if takesContext {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inType != nil {
			input := reflect.New(inType).Interface()
			if len(args) > 0 {
				if err := json.Unmarshal(args, input); err != nil {
					log.Debug().Err(err).Str("input_type", inType.String()).Msg("tools: failed to unmarshal arguments")
					return nil, errors.Wrap(err, "failed to unmarshal arguments")
				}
			}
			in = append(in, reflect.ValueOf(input).Elem())
		}
		return extractResults(funcValue.Call(in))
	}
}

// Execute calls the tool function with the provided JSON arguments.
func (tf *ToolFunc) Execute(ctx context.Context, args []byte) (interface{}, error) {
	if tf.executor == nil {
		return nil, errors.New("tool function not properly initialized")
	}
	return tf.executor(ctx, args)
}

func extractResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		result := results[0].Interface()
		errInterface := results[1].Interface()
		if errInterface == nil {
			return result, nil
		}
		if err, ok := errInterface.(error); ok {
			return result, err
		}
		return result, fmt.Errorf("unexpected error type: %T", errInterface)
	default:
		return nil, fmt.Errorf("unexpected number of return values: %d", len(results))
	}
}

// ToolError is a failure attributed to one tool call.
type ToolError struct {
	ToolName string `json:"tool_name"`
	CallID   string `json:"call_id,omitempty"`
	Type     string `json:"type"` // "validation", "execution", "not_found", "cancelled"
	Message  string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error [%s]: %s", e.Type, e.Message)
}
