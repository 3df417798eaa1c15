package hook

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Parameter shape schemas per tool type. A shape violation is an
// orchestrator-level error, not a validator finding: validators may assume
// the fields below are present and correctly typed.
var toolSchemaJSON = map[ToolType]string{
	ToolWrite: `{
		"type": "object",
		"required": ["file_path", "content"],
		"properties": {
			"file_path": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		}
	}`,
	ToolEdit: `{
		"type": "object",
		"required": ["file_path", "old_string", "new_string"],
		"properties": {
			"file_path": {"type": "string", "minLength": 1},
			"old_string": {"type": "string"},
			"new_string": {"type": "string"}
		}
	}`,
	ToolMultiEdit: `{
		"type": "object",
		"required": ["file_path", "edits"],
		"properties": {
			"file_path": {"type": "string", "minLength": 1},
			"edits": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["old_string", "new_string"],
					"properties": {
						"old_string": {"type": "string"},
						"new_string": {"type": "string"}
					}
				}
			}
		}
	}`,
	ToolBash: `{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": {"type": "string", "minLength": 1}
		}
	}`,
	ToolRead: `{
		"type": "object",
		"required": ["file_path"],
		"properties": {
			"file_path": {"type": "string", "minLength": 1}
		}
	}`,
}

// paramSchemas holds the compiled per-tool-type parameter schemas.
type paramSchemas struct {
	compiled map[ToolType]*jsonschema.Schema
}

// compileParamSchemas compiles the schema table once at orchestrator
// construction.
func compileParamSchemas() (*paramSchemas, error) {
	ps := &paramSchemas{compiled: make(map[ToolType]*jsonschema.Schema, len(toolSchemaJSON))}

	for toolType, raw := range toolSchemaJSON {
		var schemaObj any
		if err := json.Unmarshal([]byte(raw), &schemaObj); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", toolType, err)
		}

		c := jsonschema.NewCompiler()
		url := string(toolType) + ".json"
		if err := c.AddResource(url, schemaObj); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", toolType, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", toolType, err)
		}
		ps.compiled[toolType] = sch
	}

	return ps, nil
}

// validate checks a tool call's parameter map against its schema. Parameters
// are round-tripped through JSON so typed values (e.g. []Edit from the
// convenience entry points) validate the same as decoded wire input.
func (ps *paramSchemas) validate(call *ToolCall) error {
	sch, ok := ps.compiled[call.ToolType]
	if !ok {
		return fmt.Errorf("no parameter schema for tool type %s", call.ToolType)
	}

	raw, err := json.Marshal(call.Parameters)
	if err != nil {
		return fmt.Errorf("parameters are not serializable: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("parameters are not valid JSON: %w", err)
	}

	if err := sch.Validate(decoded); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", call.ToolType, err)
	}
	return nil
}
