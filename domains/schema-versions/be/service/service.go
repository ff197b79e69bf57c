package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domainrepo "github.com/nivello-hq/nivello-core/domains/schema-versions/be/repo"
	"github.com/nivello-hq/nivello-core/platform/go/merge"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// CreateDraftInput defines the payload required to open a new draft.
type CreateDraftInput struct {
	EntityKey string
	Scope     persistence.VersionScope
	TenantID  *string
	Document  json.RawMessage
}

// Service exposes the schema version lifecycle.
type Service interface {
	CreateDraft(ctx context.Context, input CreateDraftInput) (persistence.SchemaVersion, error)
	UpdateDraftDocument(ctx context.Context, versionID uuid.UUID, document json.RawMessage) (persistence.SchemaVersion, error)
	Publish(ctx context.Context, versionID uuid.UUID) (persistence.SchemaVersion, error)
	Rollback(ctx context.Context, entityKey string, targetVersionID uuid.UUID, scope persistence.VersionScope, tenantID *string) (persistence.SchemaVersion, error)
	MergeTenantOverride(ctx context.Context, entityKey, tenantID string) (persistence.SchemaVersion, error)
	ResolvePublished(ctx context.Context, entityKey string, tenantID *string) (persistence.SchemaVersion, error)
	ListVersions(ctx context.Context, entityKey string, scope persistence.VersionScope, tenantID *string) ([]persistence.SchemaVersion, error)
}

type service struct {
	repo      domainrepo.Repository
	validator *persistence.DocumentValidator
}

var entityKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// New builds a lifecycle Service backed by the provided repository.
func New(repo domainrepo.Repository, validator *persistence.DocumentValidator) Service {
	if repo == nil {
		panic("schema version repo is required")
	}
	if validator == nil {
		panic("document validator is required")
	}

	return &service{repo: repo, validator: validator}
}

func (s *service) CreateDraft(ctx context.Context, input CreateDraftInput) (persistence.SchemaVersion, error) {
	entityKey, tenantID, err := s.validateCoordinate(input.EntityKey, input.Scope, input.TenantID)
	if err != nil {
		return persistence.SchemaVersion{}, err
	}
	if err := s.validator.Validate(input.Document); err != nil {
		return persistence.SchemaVersion{}, err
	}

	var created persistence.SchemaVersion
	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		latest, txErr := s.repo.LatestVersionNumber(ctx, tx, entityKey, input.Scope, tenantID)
		if txErr != nil {
			return txErr
		}

		draft := persistence.SchemaVersion{
			EntityKey:     entityKey,
			Scope:         input.Scope,
			TenantID:      tenantID,
			VersionNumber: latest + 1,
			Document:      input.Document,
			Status:        persistence.StatusDraft,
		}

		// Tenant drafts record which global version they were forked
		// from. Lineage only, no merge happens here.
		if input.Scope == persistence.ScopeTenant {
			global, globalErr := s.repo.GetPublished(ctx, tx, entityKey, persistence.ScopeGlobal, nil)
			switch {
			case globalErr == nil:
				draft.BaseVersionID = &global.ID
			case errors.Is(globalErr, persistence.ErrNotFound):
				// no global published version yet, lineage stays empty
			default:
				return globalErr
			}
		}

		created, txErr = s.repo.Insert(ctx, tx, draft)
		return txErr
	})
	return created, err
}

func (s *service) UpdateDraftDocument(ctx context.Context, versionID uuid.UUID, document json.RawMessage) (persistence.SchemaVersion, error) {
	if versionID == uuid.Nil {
		return persistence.SchemaVersion{}, fmt.Errorf("%w: version id is required", persistence.ErrInvalidArgument)
	}
	if err := s.validator.Validate(document); err != nil {
		return persistence.SchemaVersion{}, err
	}

	var updated persistence.SchemaVersion
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		current, txErr := s.repo.GetByID(ctx, tx, versionID)
		if txErr != nil {
			return txErr
		}
		if current.Status != persistence.StatusDraft {
			return fmt.Errorf("%w: version %s is %s, only drafts are editable",
				persistence.ErrInvariantViolation, versionID, current.Status)
		}

		updated, txErr = s.repo.UpdateDocument(ctx, tx, versionID, document)
		return txErr
	})
	return updated, err
}

func (s *service) Publish(ctx context.Context, versionID uuid.UUID) (persistence.SchemaVersion, error) {
	if versionID == uuid.Nil {
		return persistence.SchemaVersion{}, fmt.Errorf("%w: version id is required", persistence.ErrInvalidArgument)
	}

	var published persistence.SchemaVersion
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		target, txErr := s.repo.GetByID(ctx, tx, versionID)
		if txErr != nil {
			return txErr
		}
		if target.Status != persistence.StatusDraft {
			return fmt.Errorf("%w: version %s is %s, only drafts can be published",
				persistence.ErrInvariantViolation, versionID, target.Status)
		}

		if txErr = s.archiveCurrentPublished(ctx, tx, target.EntityKey, target.Scope, target.TenantID, uuid.Nil); txErr != nil {
			return txErr
		}

		published, txErr = s.repo.UpdateStatus(ctx, tx, versionID, persistence.StatusPublished)
		return txErr
	})
	return published, err
}

func (s *service) Rollback(ctx context.Context, entityKey string, targetVersionID uuid.UUID, scope persistence.VersionScope, tenantID *string) (persistence.SchemaVersion, error) {
	entityKey, tenantID, err := s.validateCoordinate(entityKey, scope, tenantID)
	if err != nil {
		return persistence.SchemaVersion{}, err
	}
	if targetVersionID == uuid.Nil {
		return persistence.SchemaVersion{}, fmt.Errorf("%w: target version id is required", persistence.ErrInvalidArgument)
	}

	var restored persistence.SchemaVersion
	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		target, txErr := s.repo.GetByID(ctx, tx, targetVersionID)
		if txErr != nil {
			return txErr
		}
		if target.EntityKey != entityKey || target.Scope != scope || !tenantIDsEqual(target.TenantID, tenantID) {
			return fmt.Errorf("%w: version %s does not belong to %s (%s)",
				persistence.ErrInvariantViolation, targetVersionID, entityKey, scope)
		}
		if target.Status == persistence.StatusDraft {
			return fmt.Errorf("%w: version %s is a draft, only published or archived versions can be restored",
				persistence.ErrInvariantViolation, targetVersionID)
		}
		if target.Status == persistence.StatusPublished {
			restored = target
			return nil
		}

		if txErr = s.archiveCurrentPublished(ctx, tx, entityKey, scope, tenantID, targetVersionID); txErr != nil {
			return txErr
		}

		restored, txErr = s.repo.UpdateStatus(ctx, tx, targetVersionID, persistence.StatusPublished)
		return txErr
	})
	return restored, err
}

func (s *service) MergeTenantOverride(ctx context.Context, entityKey, tenantID string) (persistence.SchemaVersion, error) {
	entityKey = strings.TrimSpace(entityKey)
	tenantID = strings.TrimSpace(tenantID)
	if entityKey == "" || tenantID == "" {
		return persistence.SchemaVersion{}, fmt.Errorf("%w: entity key and tenant id are required", persistence.ErrInvalidArgument)
	}

	var created persistence.SchemaVersion
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		global, txErr := s.repo.GetPublished(ctx, tx, entityKey, persistence.ScopeGlobal, nil)
		if errors.Is(txErr, persistence.ErrNotFound) {
			return fmt.Errorf("%w: no published global version of %s", persistence.ErrPrerequisiteMissing, entityKey)
		}
		if txErr != nil {
			return txErr
		}

		override, txErr := s.repo.GetPublished(ctx, tx, entityKey, persistence.ScopeTenant, &tenantID)
		if errors.Is(txErr, persistence.ErrNotFound) {
			return fmt.Errorf("%w: no published tenant version of %s for tenant %s",
				persistence.ErrPrerequisiteMissing, entityKey, tenantID)
		}
		if txErr != nil {
			return txErr
		}

		merged, txErr := merge.Documents(global.Document, override.Document)
		if txErr != nil {
			return fmt.Errorf("merge documents: %w", txErr)
		}

		latest, txErr := s.repo.LatestVersionNumber(ctx, tx, entityKey, persistence.ScopeTenant, &tenantID)
		if txErr != nil {
			return txErr
		}

		created, txErr = s.repo.Insert(ctx, tx, persistence.SchemaVersion{
			EntityKey:     entityKey,
			Scope:         persistence.ScopeTenant,
			TenantID:      &tenantID,
			BaseVersionID: &global.ID,
			VersionNumber: latest + 1,
			Document:      merged,
			Status:        persistence.StatusDraft,
		})
		return txErr
	})
	return created, err
}

func (s *service) ResolvePublished(ctx context.Context, entityKey string, tenantID *string) (persistence.SchemaVersion, error) {
	entityKey = strings.TrimSpace(entityKey)
	if entityKey == "" {
		return persistence.SchemaVersion{}, fmt.Errorf("%w: entity key is required", persistence.ErrInvalidArgument)
	}

	var resolved persistence.SchemaVersion
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		// Tenant override first, global fallback. Consumers depend on
		// this order.
		if tenantID != nil && strings.TrimSpace(*tenantID) != "" {
			found, txErr := s.repo.GetPublished(ctx, tx, entityKey, persistence.ScopeTenant, tenantID)
			if txErr == nil {
				resolved = found
				return nil
			}
			if !errors.Is(txErr, persistence.ErrNotFound) {
				return txErr
			}
		}

		found, txErr := s.repo.GetPublished(ctx, tx, entityKey, persistence.ScopeGlobal, nil)
		if txErr != nil {
			return txErr
		}
		resolved = found
		return nil
	})
	return resolved, err
}

func (s *service) ListVersions(ctx context.Context, entityKey string, scope persistence.VersionScope, tenantID *string) ([]persistence.SchemaVersion, error) {
	entityKey, tenantID, err := s.validateCoordinate(entityKey, scope, tenantID)
	if err != nil {
		return nil, err
	}

	var versions []persistence.SchemaVersion
	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		found, txErr := s.repo.ListVersions(ctx, tx, entityKey, scope, tenantID)
		if txErr != nil {
			return txErr
		}
		versions = found
		return nil
	})
	return versions, err
}

// archiveCurrentPublished demotes the group's published version, if one
// exists and it is not keep. Absence is not an error.
func (s *service) archiveCurrentPublished(ctx context.Context, tx pgx.Tx, entityKey string, scope persistence.VersionScope, tenantID *string, keep uuid.UUID) error {
	current, err := s.repo.GetPublished(ctx, tx, entityKey, scope, tenantID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.ID == keep {
		return nil
	}

	_, err = s.repo.UpdateStatus(ctx, tx, current.ID, persistence.StatusArchived)
	return err
}

func (s *service) validateCoordinate(entityKey string, scope persistence.VersionScope, tenantID *string) (string, *string, error) {
	entityKey = strings.TrimSpace(entityKey)
	if !entityKeyPattern.MatchString(entityKey) {
		return "", nil, fmt.Errorf("%w: invalid entity key %q", persistence.ErrInvalidArgument, entityKey)
	}

	switch scope {
	case persistence.ScopeGlobal:
		if tenantID != nil && strings.TrimSpace(*tenantID) != "" {
			return "", nil, fmt.Errorf("%w: tenant id must be empty for global scope", persistence.ErrInvalidArgument)
		}
		return entityKey, nil, nil
	case persistence.ScopeTenant:
		if tenantID == nil || strings.TrimSpace(*tenantID) == "" {
			return "", nil, fmt.Errorf("%w: tenant id is required for tenant scope", persistence.ErrInvalidArgument)
		}
		trimmed := strings.TrimSpace(*tenantID)
		return entityKey, &trimmed, nil
	default:
		return "", nil, fmt.Errorf("%w: unknown scope %q", persistence.ErrInvalidArgument, scope)
	}
}

func tenantIDsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
