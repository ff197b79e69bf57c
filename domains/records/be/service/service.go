package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	schemaversions "github.com/nivello-hq/nivello-core/domains/schema-versions/be/service"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// Service exposes schema-described CRUD: each operation resolves the
// published schema for the entity (tenant override first, global fallback),
// shapes the payload per the schema's field metadata, and runs the generic
// repository inside a tenant-marked unit of work.
type Service interface {
	List(ctx context.Context, entityKey, tenantID string, query url.Values) (persistence.ListResult, error)
	GetByID(ctx context.Context, entityKey, tenantID, id string) (persistence.Record, error)
	Create(ctx context.Context, entityKey, tenantID string, payload map[string]any) (persistence.Record, error)
	Update(ctx context.Context, entityKey, tenantID, id string, payload map[string]any, expectedVersion *int) (persistence.Record, error)
	Delete(ctx context.Context, entityKey, tenantID, id string) (bool, error)
}

type service struct {
	schemas schemaversions.Service
	db      *persistence.RecordDB
	repo    *persistence.RecordRepository
}

// New builds a records Service.
func New(schemas schemaversions.Service, db *persistence.RecordDB, repo *persistence.RecordRepository) Service {
	if schemas == nil {
		panic("schema version service is required")
	}
	if db == nil {
		panic("record db is required")
	}
	if repo == nil {
		panic("record repository is required")
	}
	return &service{schemas: schemas, db: db, repo: repo}
}

func (s *service) List(ctx context.Context, entityKey, tenantID string, query url.Values) (persistence.ListResult, error) {
	schema, err := s.resolveSchema(ctx, entityKey, tenantID)
	if err != nil {
		return persistence.ListResult{}, err
	}

	params, err := parseQuery(schema, query)
	if err != nil {
		return persistence.ListResult{}, err
	}

	var result persistence.ListResult
	err = s.db.WithTenant(ctx, tenantID, func(sess *persistence.Session) error {
		listed, txErr := s.repo.List(ctx, sess, schema.TableName, params)
		if txErr != nil {
			return txErr
		}
		result = listed
		return nil
	})
	if err != nil {
		return persistence.ListResult{}, err
	}

	for i, record := range result.Items {
		shaped, shapeErr := s.shapeResponse(schema, record)
		if shapeErr != nil {
			return persistence.ListResult{}, shapeErr
		}
		result.Items[i] = shaped
	}
	return result, nil
}

func (s *service) GetByID(ctx context.Context, entityKey, tenantID, id string) (persistence.Record, error) {
	schema, err := s.resolveSchema(ctx, entityKey, tenantID)
	if err != nil {
		return nil, err
	}

	var record persistence.Record
	err = s.db.WithTenant(ctx, tenantID, func(sess *persistence.Session) error {
		found, txErr := s.repo.GetByID(ctx, sess, schema.TableName, id)
		if txErr != nil {
			return txErr
		}
		record = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.shapeResponse(schema, record)
}

func (s *service) Create(ctx context.Context, entityKey, tenantID string, payload map[string]any) (persistence.Record, error) {
	schema, err := s.resolveSchema(ctx, entityKey, tenantID)
	if err != nil {
		return nil, err
	}

	data, err := s.shapeWrite(schema, payload, true)
	if err != nil {
		return nil, err
	}

	var record persistence.Record
	err = s.db.WithTenant(ctx, tenantID, func(sess *persistence.Session) error {
		created, txErr := s.repo.Create(ctx, sess, schema.TableName, tenantID, data)
		if txErr != nil {
			return txErr
		}
		record = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.shapeResponse(schema, record)
}

func (s *service) Update(ctx context.Context, entityKey, tenantID, id string, payload map[string]any, expectedVersion *int) (persistence.Record, error) {
	schema, err := s.resolveSchema(ctx, entityKey, tenantID)
	if err != nil {
		return nil, err
	}

	data, err := s.shapeWrite(schema, payload, false)
	if err != nil {
		return nil, err
	}

	var record persistence.Record
	err = s.db.WithTenant(ctx, tenantID, func(sess *persistence.Session) error {
		updated, txErr := s.repo.Update(ctx, sess, schema.TableName, id, data, expectedVersion)
		if txErr != nil {
			return txErr
		}
		record = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.shapeResponse(schema, record)
}

func (s *service) Delete(ctx context.Context, entityKey, tenantID, id string) (bool, error) {
	schema, err := s.resolveSchema(ctx, entityKey, tenantID)
	if err != nil {
		return false, err
	}

	var deleted bool
	err = s.db.WithTenant(ctx, tenantID, func(sess *persistence.Session) error {
		ok, txErr := s.repo.Delete(ctx, sess, schema.TableName, id)
		if txErr != nil {
			return txErr
		}
		deleted = ok
		return nil
	})
	return deleted, err
}

func (s *service) resolveSchema(ctx context.Context, entityKey, tenantID string) (entitySchema, error) {
	if strings.TrimSpace(tenantID) == "" {
		return entitySchema{}, fmt.Errorf("%w: tenant id is required", persistence.ErrInvalidArgument)
	}

	version, err := s.schemas.ResolvePublished(ctx, entityKey, &tenantID)
	if err != nil {
		return entitySchema{}, err
	}
	return parseEntitySchema(version.Document)
}

// shapeWrite prepares a payload for the repository: coercion per dbType,
// defaults on create, the field validation rules, then request-phase
// transforms. Keys the schema does not declare are dropped first so
// unknown input never reaches SQL building.
func (s *service) shapeWrite(schema entitySchema, payload map[string]any, creating bool) (persistence.Record, error) {
	data := persistence.Record{}
	for key, value := range payload {
		field, ok := schema.field(key)
		if !ok {
			continue
		}

		coerced, err := coerceValue(field, value)
		if err != nil {
			return nil, err
		}
		data[key] = coerced
	}

	if creating {
		for _, field := range schema.Fields {
			if _, supplied := data[field.ID]; supplied {
				continue
			}
			if field.DefaultValue != nil {
				coerced, err := coerceValue(field, field.DefaultValue)
				if err != nil {
					return nil, err
				}
				data[field.ID] = coerced
			}
		}
	}

	// Rules see the value as declared, before transforms rewrite it.
	if err := validateRecord(schema, data, creating); err != nil {
		return nil, err
	}

	for key, value := range data {
		field, _ := schema.field(key)
		transformed, err := applyTransforms(field, PhaseRequest, value)
		if err != nil {
			return nil, err
		}
		data[key] = transformed
	}

	return data, nil
}

// shapeResponse runs response-phase transforms over a stored record.
func (s *service) shapeResponse(schema entitySchema, record persistence.Record) (persistence.Record, error) {
	shaped := make(persistence.Record, len(record))
	for key, value := range record {
		field, ok := schema.field(key)
		if !ok {
			shaped[key] = value
			continue
		}
		transformed, err := applyTransforms(field, PhaseResponse, value)
		if err != nil {
			return nil, err
		}
		shaped[key] = transformed
	}
	return shaped, nil
}
