package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool describes one operation advertised by the protocol service.
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON input schema as advertised by the service.
	Schema map[string]any
}

// Catalog is the set of tools discovered via ListTools, in advertisement order.
type Catalog struct {
	tools map[string]Tool
	order []string
}

func newCatalog(tools []mcp.Tool) *Catalog {
	c := &Catalog{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		c.tools[t.Name] = Tool{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaToMap(t.InputSchema),
		}
		c.order = append(c.order, t.Name)
	}
	return c
}

// Get returns the named tool.
func (c *Catalog) Get(name string) (Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// Names returns tool names in advertisement order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of advertised tools.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Describe renders the catalog as a compact text block suitable for
// inclusion in a reasoning prompt.
func (c *Catalog) Describe() string {
	var b strings.Builder
	for _, name := range c.order {
		tool := c.tools[name]
		fmt.Fprintf(&b, "- %s: %s", tool.Name, tool.Description)
		if schema, err := json.Marshal(tool.Schema); err == nil {
			fmt.Fprintf(&b, " (input schema: %s)", schema)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// schemaToMap converts the advertised input schema into a plain map.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	m := map[string]any{
		"type": schema.Type,
	}
	if schema.Type == "" {
		m["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	return m
}

// validateArgs checks the provided arguments against the tool's schema:
// required keys must be present, unknown keys are rejected when the schema
// declares properties, and primitive types must match.
func validateArgs(tool Tool, args map[string]any) error {
	required, _ := tool.Schema["required"].([]string)
	if required == nil {
		if raw, ok := tool.Schema["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}

	for _, key := range required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("%w: missing required argument %q for tool %q", ErrInvalidArgument, key, tool.Name)
		}
	}

	props, _ := tool.Schema["properties"].(map[string]any)
	if props == nil {
		return nil
	}

	for key, value := range args {
		propSchema, ok := props[key]
		if !ok {
			return fmt.Errorf("%w: unknown argument %q for tool %q", ErrInvalidArgument, key, tool.Name)
		}
		if err := validateType(key, value, propSchema); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}

	return nil
}

func validateType(key string, value, propSchema any) error {
	schema, ok := propSchema.(map[string]any)
	if !ok {
		return nil
	}
	want, ok := schema["type"].(string)
	if !ok {
		return nil
	}

	matches := false
	switch want {
	case "string":
		_, matches = value.(string)
	case "boolean":
		_, matches = value.(bool)
	case "number":
		matches = isNumeric(value)
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			matches = true
		case float64:
			matches = v == float64(int64(v))
		}
	case "array":
		switch value.(type) {
		case []any, []string, []int, []float64:
			matches = true
		}
	case "object":
		_, matches = value.(map[string]any)
	default:
		matches = true
	}

	if !matches {
		return fmt.Errorf("argument %q must be of type %s, got %T", key, want, value)
	}
	return nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}
