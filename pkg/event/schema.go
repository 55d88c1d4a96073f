package event

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// categorySchemas holds one JSON Schema per category describing the
// shape Data must take. Categories with no schema here (process,
// activity, api, system) accept any JSON object — they carry
// free-form, producer-defined payloads.
var categorySchemas = map[Category]string{
	CategoryFile: `{
		"type": "object",
		"required": ["action", "extension", "contextTag"],
		"properties": {
			"action": {"enum": ["add", "modify", "delete", "rename"]},
			"newPath": {"type": "string"},
			"oldPath": {"type": "string"},
			"extension": {"type": "string"},
			"size": {"type": "number"},
			"isDirectory": {"type": "boolean"},
			"contextTag": {"enum": ["source", "test", "config", "docs", "build"]}
		}
	}`,
	CategoryGit: `{
		"type": "object",
		"required": ["action"],
		"properties": {
			"action": {"enum": ["commit", "branch_created", "branch_deleted", "merge", "pr"]},
			"hash": {"type": "string"},
			"message": {"type": "string"},
			"author": {"type": "string"},
			"branch": {"type": "string"},
			"parents": {"type": "array", "items": {"type": "string"}},
			"stats": {"type": "object"},
			"analysis": {"type": "object"}
		}
	}`,
	CategoryTest: runStatusSchema,
	CategoryBuild: runStatusSchema,
	CategoryAI: `{
		"type": "object",
		"required": ["tool", "interactionType", "elapsed_ms"],
		"properties": {
			"tool": {"type": "string"},
			"interactionType": {"enum": ["prompt", "completion", "suggestion"]},
			"accepted": {"type": "boolean"},
			"codeBlock": {"type": "string"},
			"elapsed_ms": {"type": "number"}
		}
	}`,
	CategoryStage: `{
		"type": "object",
		"required": ["toStage", "confidence", "reason"],
		"properties": {
			"fromStage": {"type": "string"},
			"toStage": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"reason": {"type": "string"}
		}
	}`,
}

const runStatusSchema = `{
	"type": "object",
	"required": ["status", "duration_ms"],
	"properties": {
		"status": {"enum": ["passed", "failed", "success"]},
		"target": {"type": "string"},
		"duration_ms": {"type": "number"},
		"coverage": {"type": "number"}
	}
}`

var schemaLoaders = buildSchemaLoaders()

func buildSchemaLoaders() map[Category]gojsonschema.JSONLoader {
	loaders := make(map[Category]gojsonschema.JSONLoader, len(categorySchemas))
	for category, schema := range categorySchemas {
		loaders[category] = gojsonschema.NewStringLoader(schema)
	}
	return loaders
}

// ValidatePayload checks e.Data against the JSON Schema registered for
// e.Category. Categories with no registered schema (process, activity,
// api, system) always pass. Called by pkg/bus.Publish after Event.Validate.
func ValidatePayload(e *Event) error {
	loader, ok := schemaLoaders[e.Category]
	if !ok {
		return nil
	}

	dataLoader := gojsonschema.NewGoLoader(e.Data)

	result, err := gojsonschema.Validate(loader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, firstErrorDescription(result.Errors()))
	}

	return nil
}

func firstErrorDescription(errs []gojsonschema.ResultError) string {
	if len(errs) == 0 {
		return "payload does not match schema"
	}
	return errs[0].String()
}
