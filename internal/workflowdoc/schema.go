package workflowdoc

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaJSON fixes spec §3's prose data model into a JSON Schema so the
// bulk of InvalidWorkflow conditions (missing action, unknown
// variationType, empty values/steps) are caught in one validation pass
// (spec §4.2 point 2, §7) instead of scattered nil-checks through the
// engine. This is the schema referenced by SPEC_FULL.md's "Workflow
// description schema" supplemented feature.
//
// "action" is only constrained to be a string here, not enumerated (an
// empty action is rejected afterwards by Load): §4.1's case/underscore normalization ("train_model",
// "trainModel", and "TrainModel" all resolve to the same handler) is
// CanonicalAction's job, applied after this schema pass succeeds.
// Enumerating exact spellings here would reject the very variants §4.1
// requires the engine to accept.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {
      "type": "string"
    },
    "actionConfigFile": {"type": "string"},
    "commonConfig": {
      "type": "object",
      "properties": {
        "randomSeed": {"type": ["integer", "string"]},
        "outputFormat": {"type": "string"}
      }
    },
    "pipeline": {
      "type": "array",
      "items": {"$ref": "#/$defs/step"}
    },
    "loop": {"$ref": "#/$defs/loop"}
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": {"type": "string"},
        "actionConfigFile": {"type": "string"},
        "inline": {"type": "object"},
        "description": {"type": "string"},
        "loop": {"$ref": "#/$defs/loop"},
        "parameterOverrides": {"type": "object"}
      }
    },
    "loop": {
      "type": "object",
      "required": ["variationType", "values", "steps"],
      "properties": {
        "variationType": {
          "type": "string",
          "enum": ["randomSeed", "attackSegments", "parameters", "singleAttacks", "dualAttackCombinations"]
        },
        "values": {"type": "array", "minItems": 1},
        "steps": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/step"}},
        "baselineDataset": {"type": "string"},
        "datasetPatterns": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["patternName", "segments"],
            "properties": {
              "patternName": {"type": "string"},
              "segments": {
                "type": "array",
                "items": {"type": "string", "enum": ["A1", "A2", "A1+A2", "A2+A1"]}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema *jsonschema.Schema

func compile() (*jsonschema.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}
	var schemaDoc any
	if err := json.Unmarshal([]byte(schemaJSON), &schemaDoc); err != nil {
		return nil, fmt.Errorf("workflowdoc: unmarshal embedded schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("workflowdoc: add schema resource: %w", err)
	}
	sch, err := c.Compile("workflow.json")
	if err != nil {
		return nil, fmt.Errorf("workflowdoc: compile schema: %w", err)
	}
	compiledSchema = sch
	return sch, nil
}

// Validate checks a decoded workflow document against the embedded
// schema, returning a descriptive error on mismatch.
func Validate(doc any) error {
	sch, err := compile()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("workflow description does not match schema: %w", err)
	}
	return nil
}
