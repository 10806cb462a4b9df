package generate

import (
	"encoding/json"
	"strings"

	"github.com/zoobzio/sentinel"
)

// nested maps the struct names that appear inside Bundle to their fields.
func nested() map[string][]sentinel.FieldMetadata {
	return map[string][]sentinel.FieldMetadata{
		"Feature":        sentinel.Inspect[Feature]().Fields,
		"Dimension":      sentinel.Inspect[Dimension]().Fields,
		"Transformation": sentinel.Inspect[Transformation]().Fields,
		"Seeds":          sentinel.Inspect[Seeds]().Fields,
	}
}

// BundleSchema returns the JSON Schema of Bundle, derived from its struct tags.
func BundleSchema() string {
	schema := objectSchema(sentinel.Inspect[Bundle]().Fields, nested())
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func objectSchema(fields []sentinel.FieldMetadata, types map[string][]sentinel.FieldMetadata) map[string]any {
	properties := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, field := range fields {
		name := jsonFieldName(field)
		if name == "-" {
			continue
		}
		properties[name] = propertySchema(field, types)
		if !hasOmitempty(field) {
			required = append(required, name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func propertySchema(field sentinel.FieldMetadata, types map[string][]sentinel.FieldMetadata) map[string]any {
	prop := typeSchema(field.Type, types)
	if desc, ok := field.Tags["desc"]; ok {
		prop["description"] = desc
	}
	return prop
}

func typeSchema(goType string, types map[string][]sentinel.FieldMetadata) map[string]any {
	goType = strings.TrimPrefix(goType, "*")
	if strings.HasPrefix(goType, "[]") {
		return map[string]any{"type": "array", "items": typeSchema(goType[2:], types)}
	}
	if fields, ok := types[shortName(goType)]; ok {
		return objectSchema(fields, types)
	}
	return map[string]any{"type": jsonType(goType)}
}

func shortName(goType string) string {
	if i := strings.LastIndex(goType, "."); i >= 0 {
		return goType[i+1:]
	}
	return goType
}

func jsonFieldName(field sentinel.FieldMetadata) string {
	if tag, ok := field.Tags["json"]; ok {
		if name := strings.Split(tag, ",")[0]; name != "" {
			return name
		}
	}
	return strings.ToLower(field.Name[:1]) + field.Name[1:]
}

func hasOmitempty(field sentinel.FieldMetadata) bool {
	tag, ok := field.Tags["json"]
	return ok && strings.Contains(tag, "omitempty")
}

func jsonType(goType string) string {
	switch {
	case strings.HasPrefix(goType, "string"):
		return "string"
	case strings.HasPrefix(goType, "int"), strings.HasPrefix(goType, "uint"):
		return "integer"
	case strings.HasPrefix(goType, "float"):
		return "number"
	case strings.HasPrefix(goType, "bool"):
		return "boolean"
	case strings.HasPrefix(goType, "map["):
		return "object"
	default:
		return "object"
	}
}
