package protocol

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	accessRequestSchema = `{
  "type": "object",
  "required": ["device_id", "credential", "action"],
  "properties": {
    "device_id": {"type": "string", "minLength": 1, "pattern": "^[^/+#]+$"},
    "credential": {"type": "string", "minLength": 1, "maxLength": 64},
    "action": {"const": "unlock_request"},
    "request_token": {"type": "integer", "minimum": 0},
    "request_time": {"type": "string"}
  }
}`

	accessResponseSchema = `{
  "type": "object",
  "required": ["device_id", "granted"],
  "properties": {
    "device_id": {"type": "string", "minLength": 1},
    "granted": {"type": "boolean"},
    "reason": {"type": "string"},
    "request_token": {"type": "integer", "minimum": 0}
  }
}`

	telemetrySchema = `{
  "type": "object",
  "required": ["device_id", "temperature", "humidity"],
  "properties": {
    "device_id": {"type": "string", "minLength": 1, "pattern": "^[^/+#]+$"},
    "temperature": {"type": "number", "minimum": -50, "maximum": 150},
    "humidity": {"type": "number", "minimum": 0, "maximum": 100}
  }
}`

	lightCommandSchema = `{
  "type": "object",
  "required": ["mode"],
  "additionalProperties": false,
  "properties": {
    "mode": {"enum": ["off", "low", "med", "high"]},
    "device_id": {"type": "string"},
    "requested_by": {"type": "string"}
  }
}`

	lightStatusSchema = `{
  "type": "object",
  "required": ["device_id", "mode"],
  "properties": {
    "device_id": {"type": "string", "minLength": 1, "pattern": "^[^/+#]+$"},
    "mode": {"enum": ["off", "low", "med", "high"]},
    "startup": {"type": "boolean"}
  }
}`
)

// schemas is compiled once at package init; the sources above are constants,
// so a compile failure is a programming error.
var schemas = mustCompileSchemas(map[string]string{
	"access_request.json":  accessRequestSchema,
	"access_response.json": accessResponseSchema,
	"telemetry.json":       telemetrySchema,
	"light_command.json":   lightCommandSchema,
	"light_status.json":    lightStatusSchema,
})

func mustCompileSchemas(sources map[string]string) map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	for name, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			panic(fmt.Sprintf("protocol: parsing schema %s: %v", name, err))
		}
		if err := c.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("protocol: adding schema %s: %v", name, err))
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(sources))
	for name := range sources {
		s, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("protocol: compiling schema %s: %v", name, err))
		}
		compiled[name] = s
	}
	return compiled
}
