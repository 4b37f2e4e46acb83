package tool

import (
	"fmt"
	"math"
)

// Contract is a JSON-Schema-subset declaration of a tool's input or output
// shape: type, required fields, nested properties and array items. It is
// deliberately small; tools needing richer validation do it in their body.
type Contract struct {
	Type       string               `json:"type"`
	Properties map[string]*Contract `json:"properties,omitempty"`
	Required   []string             `json:"required,omitempty"`
	Items      *Contract            `json:"items,omitempty"`
}

// Object is a shorthand constructor for an object contract.
func Object(properties map[string]*Contract, required ...string) *Contract {
	return &Contract{Type: "object", Properties: properties, Required: required}
}

// Scalar is a shorthand constructor for a scalar contract
// ("string", "number", "integer", "boolean").
func Scalar(typ string) *Contract {
	return &Contract{Type: typ}
}

// Array is a shorthand constructor for an array contract.
func Array(items *Contract) *Contract {
	return &Contract{Type: "array", Items: items}
}

// Check validates a decoded JSON value against the contract and returns the
// list of problems found. An empty list means the value conforms.
func (c *Contract) Check(value interface{}) []string {
	if c == nil {
		return nil
	}
	return c.check(value, "")
}

func (c *Contract) check(value interface{}, path string) []string {
	var problems []string
	at := func(field string) string {
		if path == "" {
			return field
		}
		return path + "." + field
	}

	switch c.Type {
	case "object":
		obj, ok := value.(map[string]interface{})
		if !ok {
			return []string{fmt.Sprintf("%s: expected object, got %T", orRoot(path), value)}
		}
		for _, field := range c.Required {
			if _, present := obj[field]; !present {
				problems = append(problems, fmt.Sprintf("missing required field '%s'", at(field)))
			}
		}
		for name, sub := range c.Properties {
			if v, present := obj[name]; present {
				problems = append(problems, sub.check(v, at(name))...)
			}
		}

	case "array":
		arr, ok := value.([]interface{})
		if !ok {
			return []string{fmt.Sprintf("%s: expected array, got %T", orRoot(path), value)}
		}
		if c.Items != nil {
			for i, item := range arr {
				problems = append(problems, c.Items.check(item, fmt.Sprintf("%s[%d]", path, i))...)
			}
		}

	case "string":
		if _, ok := value.(string); !ok {
			problems = append(problems, fmt.Sprintf("%s: expected string, got %T", orRoot(path), value))
		}

	case "number":
		if !isNumber(value) {
			problems = append(problems, fmt.Sprintf("%s: expected number, got %T", orRoot(path), value))
		}

	case "integer":
		if !isInteger(value) {
			problems = append(problems, fmt.Sprintf("%s: expected integer, got %T", orRoot(path), value))
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			problems = append(problems, fmt.Sprintf("%s: expected boolean, got %T", orRoot(path), value))
		}
	}

	return problems
}

func orRoot(path string) string {
	if path == "" {
		return "value"
	}
	return path
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func isInteger(v interface{}) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		// JSON decoding yields float64 for all numbers.
		return n == math.Trunc(n)
	case float32:
		return float64(n) == math.Trunc(float64(n))
	}
	return false
}
