package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentMetaSchema describes the shape every schema-version document must
// satisfy before it can be stored. Everything outside dataSource (ui layout,
// display hints) is passed through opaquely.
const documentMetaSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["dataSource"],
	"properties": {
		"dataSource": {
			"type": "object",
			"required": ["tableName", "fields"],
			"properties": {
				"tableName": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
				"versioned": {"type": "boolean"},
				"defaultSort": {"type": "string"},
				"filters": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["field"],
						"properties": {
							"field": {"type": "string"},
							"operator": {"type": "string"}
						}
					}
				},
				"fields": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["id", "dbType"],
						"properties": {
							"id": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
							"dbType": {
								"type": "string",
								"enum": [
									"string", "text", "decimal", "number", "numeric",
									"integer", "int", "boolean", "bool",
									"datetime", "timestamp", "json", "jsonb"
								]
							},
							"required": {"type": "boolean"},
							"defaultValue": {},
							"transforms": {
								"type": "array",
								"items": {
									"type": "object",
									"required": ["fn"],
									"properties": {
										"fn": {"type": "string"},
										"on": {"type": "string", "enum": ["request", "response", "both"]}
									}
								}
							},
							"validations": {
								"type": "array",
								"items": {
									"type": "object",
									"required": ["rule"],
									"properties": {
										"rule": {"type": "string"},
										"value": {},
										"message": {"type": "string"}
									}
								}
							}
						}
					}
				}
			}
		}
	}
}`

// DocumentValidator validates schema-version documents against the built-in
// meta-schema, compiled once via santhosh-tekuri/jsonschema.
type DocumentValidator struct {
	once     sync.Once
	compiled *jsonschema.Schema
	compErr  error
}

// NewDocumentValidator returns a validator; the meta-schema is compiled
// lazily on first use.
func NewDocumentValidator() *DocumentValidator {
	return &DocumentValidator{}
}

// Validate ensures the document is well-formed: valid JSON, meta-schema
// conformant, and with field ids that do not collide with the implicit
// record columns.
func (v *DocumentValidator) Validate(document json.RawMessage) error {
	if len(document) == 0 {
		return fmt.Errorf("%w: document is required", ErrInvalidArgument)
	}

	compiled, err := v.metaSchema()
	if err != nil {
		return err
	}

	var decoded any
	if err := json.Unmarshal(document, &decoded); err != nil {
		return fmt.Errorf("%w: decode document: %v", ErrInvalidArgument, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	// The meta-schema cannot express the reserved-name rule.
	if err := v.checkReservedFields(decoded); err != nil {
		return err
	}

	return nil
}

func (v *DocumentValidator) metaSchema() (*jsonschema.Schema, error) {
	v.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("memory://document-meta-schema.json", strings.NewReader(documentMetaSchema)); err != nil {
			v.compErr = fmt.Errorf("register meta-schema: %w", err)
			return
		}
		v.compiled, v.compErr = compiler.Compile("memory://document-meta-schema.json")
	})
	return v.compiled, v.compErr
}

func (v *DocumentValidator) checkReservedFields(decoded any) error {
	root, ok := decoded.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: document must be a JSON object", ErrInvalidArgument)
	}
	dataSource, ok := root["dataSource"].(map[string]any)
	if !ok {
		return nil
	}
	fields, ok := dataSource["fields"].([]any)
	if !ok {
		return nil
	}

	for _, raw := range fields {
		field, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := field["id"].(string)
		switch id {
		case ColumnNameID, ColumnNameTenantID, ColumnNameCreatedAt, ColumnNameUpdatedAt, ColumnNameVersion:
			return fmt.Errorf("%w: field id %q collides with an implicit column", ErrInvalidArgument, id)
		}
	}
	return nil
}
