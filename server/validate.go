package server

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/localrivet/calcmcp/protocol"
)

// validateArguments checks a raw argument map against a tool's input schema
// before the handler runs: every required parameter must be present, every
// supplied parameter must be declared, and each value must match its declared
// type. Returns nil when the arguments are acceptable.
func validateArguments(schema protocol.ToolInputSchema, args map[string]interface{}) *protocol.MCPError {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return protocol.NewError(protocol.CodeInvalidParams,
				"missing required parameter %q", name)
		}
	}
	for name, value := range args {
		prop, declared := schema.Properties[name]
		if !declared {
			return protocol.NewError(protocol.CodeInvalidParams,
				"unexpected parameter %q", name)
		}
		if err := checkType(name, prop.Type, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, schemaType string, value interface{}) *protocol.MCPError {
	switch schemaType {
	case "number":
		if !isNumeric(value) {
			return protocol.NewError(protocol.CodeInvalidParams,
				"parameter %q must be a number, got %s", name, typeName(value))
		}
	case "integer":
		if !isInteger(value) {
			return protocol.NewError(protocol.CodeInvalidParams,
				"parameter %q must be an integer, got %s", name, typeName(value))
		}
	case "string":
		if _, ok := value.(string); !ok {
			return protocol.NewError(protocol.CodeInvalidParams,
				"parameter %q must be a string, got %s", name, typeName(value))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return protocol.NewError(protocol.CodeInvalidParams,
				"parameter %q must be a boolean, got %s", name, typeName(value))
		}
	}
	// Other schema types (object, array) are left to the handler's decoder.
	return nil
}

func isNumeric(value interface{}) bool {
	switch v := value.(type) {
	case json.Number:
		_, err := v.Float64()
		return err == nil
	case float64, float32, int, int32, int64:
		return true
	default:
		return false
	}
}

func isInteger(value interface{}) bool {
	switch v := value.(type) {
	case json.Number:
		_, err := v.Int64()
		return err == nil
	case int, int32, int64:
		return true
	case float64:
		return v == math.Trunc(v)
	default:
		return false
	}
}

func typeName(value interface{}) string {
	switch value.(type) {
	case json.Number, float64, float32, int, int32, int64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
