// Package schema generates MCP tool input schemas from Go structs and decodes
// raw argument maps into typed argument structs.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/localrivet/calcmcp/protocol"
)

var jsonNumberType = reflect.TypeOf(json.Number(""))

// goTypeToSchemaType maps a Go type to an MCP schema type name.
func goTypeToSchemaType(t reflect.Type) string {
	if t == jsonNumberType {
		// json.Number accepts both integer and floating-point input.
		return "number"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}

// FromStruct generates a protocol.ToolInputSchema from the struct tags of v.
// Parameter names come from the json tag (falling back to the lowercased field
// name), descriptions from the description tag. Non-pointer fields are marked
// required.
func FromStruct(v interface{}) protocol.ToolInputSchema {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	props := map[string]protocol.PropertyDetail{}
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}

		jsonTag := field.Tag.Get("json")
		var name string
		switch {
		case jsonTag == "-":
			continue
		case jsonTag != "":
			name = strings.Split(jsonTag, ",")[0]
		default:
			name = strings.ToLower(field.Name)
		}

		fieldType := field.Type
		isPtr := fieldType.Kind() == reflect.Ptr
		if isPtr {
			fieldType = fieldType.Elem()
		}
		if !isPtr {
			required = append(required, name)
		}

		props[name] = protocol.PropertyDetail{
			Type:        goTypeToSchemaType(fieldType),
			Description: field.Tag.Get("description"),
		}
	}

	return protocol.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// numberHook converts incoming numeric values into json.Number fields so that
// argument structs can distinguish integer from floating-point input even when
// the transport decoded numbers as float64.
func numberHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != jsonNumberType {
		return data, nil
	}
	switch v := data.(type) {
	case json.Number:
		return v, nil
	case float64:
		return json.Number(fmt.Sprintf("%g", v)), nil
	case float32:
		return json.Number(fmt.Sprintf("%g", v)), nil
	case int:
		return json.Number(fmt.Sprintf("%d", v)), nil
	case int64:
		return json.Number(fmt.Sprintf("%d", v)), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to number", data)
	}
}

// Decode decodes a raw argument map into the typed struct pointed to by
// target, honoring json tags. It fails on type mismatches rather than
// coercing, so a string supplied for a numeric parameter is an error.
func Decode(args map[string]interface{}, target interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     target,
		TagName:    "json",
		DecodeHook: numberHook,
	})
	if err != nil {
		return fmt.Errorf("failed to build argument decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
