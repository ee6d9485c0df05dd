package persona

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func strReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

// schemaJSON is the JSON Schema describing the Profile document shape.
// The Summariser's JSON-Patch is validated against this after application;
// a patch that would break the shape is discarded.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["bot", "user", "memorable_events", "commands_and_agreements"],
  "properties": {
    "bot": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "gender": {"type": "string"},
        "birthday": {"type": "string"},
        "role": {"type": "string"},
        "appearance": {"type": "string"},
        "likes": {"type": "array"},
        "dislikes": {"type": "array"},
        "language_style": {
          "type": "object",
          "properties": {
            "description": {"type": "string"},
            "examples": {"type": "array"}
          }
        },
        "personality": {
          "type": "object",
          "properties": {
            "mbti": {"type": "string"},
            "description": {"type": "string"},
            "worldview_and_values": {"type": "string"}
          }
        },
        "emotions_and_needs": {
          "type": "object",
          "properties": {
            "long_term": {"type": "string"},
            "short_term": {"type": "string"}
          }
        },
        "relationship_with_user": {"type": "string"}
      }
    },
    "user": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "gender": {"type": "string"},
        "birthday": {"type": "string"},
        "personal_facts": {"type": "array"},
        "abilities": {"type": "array"},
        "likes": {"type": "array"},
        "dislikes": {"type": "array"},
        "personality": {
          "type": "object",
          "properties": {
            "mbti": {"type": "string"},
            "description": {"type": "string"},
            "worldview_and_values": {"type": "string"}
          }
        },
        "emotions_and_needs": {
          "type": "object",
          "properties": {
            "long_term": {"type": "string"},
            "short_term": {"type": "string"}
          }
        }
      }
    },
    "memorable_events": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "time": {"type": "string"},
          "details": {"type": "string"}
        }
      }
    },
    "commands_and_agreements": {"type": "array"}
  }
}`

const schemaResourceName = "profile.schema.json"

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResourceName, strReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaResourceName)
}
