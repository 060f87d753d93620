package store

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaSet holds compiled JSON schemas keyed by collection name. The
// gateway uses it to reject malformed documents before they reach the
// store; collections without a schema pass through unchecked.
type SchemaSet struct {
	schemas map[string]*jsonschema.Schema
}

// DefaultSchemas compiles the document schemas for the four chat
// collections.
func DefaultSchemas() (*SchemaSet, error) {
	sources := map[string]string{
		"users": `{
			"type": "object",
			"required": ["uid", "email", "username", "status", "role"],
			"properties": {
				"uid": {"type": "string"},
				"email": {"type": "string"},
				"username": {"type": "string"},
				"avatar": {"type": "string"},
				"status": {"enum": ["online", "offline"]},
				"channels": {"type": "array"},
				"role": {"enum": ["user", "guest"]}
			}
		}`,
		"channels": `{
			"type": "object",
			"required": ["title", "creatorId", "users", "messages"],
			"properties": {
				"chaId": {"type": "string"},
				"title": {"type": "string", "minLength": 1},
				"creatorId": {"type": "string"},
				"description": {"type": "string"},
				"users": {"type": "array", "items": {"type": "string"}},
				"messages": {"type": "array"},
				"comments": {"type": "array"},
				"reactions": {"type": "array"}
			}
		}`,
		"conversations": `{
			"type": "object",
			"required": ["creatorId", "partnerId", "user", "messages"],
			"properties": {
				"conId": {"type": "string"},
				"creatorId": {"type": "string"},
				"partnerId": {"type": "string"},
				"user": {"type": "array", "items": {"type": "string"}, "maxItems": 2},
				"messages": {"type": "array"}
			}
		}`,
		"threads": `{
			"type": "object",
			"required": ["convId", "type", "messages"],
			"properties": {
				"id": {"type": "string"},
				"convId": {"type": "string"},
				"rootMessage": {"type": "string"},
				"messages": {"type": "array"},
				"type": {"enum": ["channel", "conversation", "newMsg"]}
			}
		}`,
	}

	set := &SchemaSet{schemas: make(map[string]*jsonschema.Schema, len(sources))}
	for collection, src := range sources {
		schema, err := jsonschema.CompileString(collection+".json", src)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", collection, err)
		}
		set.schemas[collection] = schema
	}
	return set, nil
}

// Validate checks a document payload against the collection's schema.
func (s *SchemaSet) Validate(collection string, data any) error {
	schema, ok := s.schemas[collection]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("document rejected by %s schema: %w", collection, err)
	}
	return nil
}
