package manifest

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"wireit/internal/diagnostics"
)

// wireitConfigSchema is the JSON Schema for one wireit.<script> object.
// Compiled once and reused across every config decoded by this process,
// following the loadSchema/CompileString shape in
// sourceplane-lite-ci/internal/schema/validator.go.
//
// Schema validation runs in addition to, not instead of, the hand-written
// structural rules in validate.go (such as duplicate-dependency detection in
// decodeDependencies) and the analyzer's cross-package resolution, which
// needs the whole graph; neither is expressible as this JSON Schema.
const wireitConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "command": {"type": "string"},
    "dependencies": {"type": "array", "items": {"type": "string"}},
    "files": {"type": "array", "items": {"type": "string"}},
    "output": {"type": "array", "items": {"type": "string"}},
    "clean": {"enum": [true, false, "if-file-deleted"]},
    "packageLocks": {"type": "array", "items": {"type": "string"}},
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "service": {
      "type": "object",
      "properties": {
        "readyWhen": {
          "type": "object",
          "properties": {"lineMatches": {"type": "string"}}
        }
      }
    }
  },
  "additionalProperties": false
}`

var (
	compiledSchemaOnce sync.Once
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
)

func compiledWireitSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiledSchema, compiledSchemaErr = jsonschema.CompileString("wireit-config.schema.json", wireitConfigSchema)
	})
	return compiledSchema, compiledSchemaErr
}

// validateAgainstSchema runs JSON Schema validation over the raw decoded
// node and turns any violation into an invalid-config-syntax diagnostic
// carrying the schema's own error path.
func validateAgainstSchema(path, name string, node *yaml.Node) *diagnostics.Diagnostic {
	sch, err := compiledWireitSchema()
	if err != nil {
		// A broken schema is this program's bug, not the user's; surface it
		// loudly rather than silently skipping validation.
		panic(fmt.Sprintf("wireit config schema failed to compile: %v", err))
	}

	var generic any
	if err := node.Decode(&generic); err != nil {
		return &diagnostics.Diagnostic{
			Kind:     diagnostics.KindInvalidConfigSyntax,
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("wireit.%s: %v", name, err),
			Primary:  pos(path, node),
		}
	}
	generic = jsonify(generic)

	if err := sch.Validate(generic); err != nil {
		return &diagnostics.Diagnostic{
			Kind:     diagnostics.KindInvalidConfigSyntax,
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("wireit.%s: schema violation: %v", name, err),
			Primary:  pos(path, node),
		}
	}
	return nil
}

// jsonify converts yaml.v3's decoded map[string]interface{} (which uses
// map[string]interface{} already for mappings, but may nest
// map[string]interface{} with non-string-keyed children from anchors) into
// a form jsonschema/v5 accepts. In practice yaml.Node.Decode into `any`
// already produces JSON-compatible map[string]interface{}/[]interface{}
// trees for the subset of YAML this engine allows (manifests are JSON or
// JSON-shaped YAML), so this is the identity function; it exists as the one
// seam where a future looser manifest format would need real conversion.
func jsonify(v any) any { return v }
