// Package assets implements the versioned asset registry (spec.md §4.7):
// an append-only history of versions per (scope, asset kind), with a
// movable "best" pointer. Concurrent appends for the same (scope, kind)
// serialize under the caller's project lock — this package assumes that
// discipline rather than re-implementing it.
//
// Grounded on the teacher's AssetHistory-shaped JSON columns on
// projects/characters/locations/scenes (internal/domain models), adapted
// from the teacher's course-material asset shape to spec.md's
// {scope, assetKind} addressing with an explicit Best pointer.
package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/domain"
)

var ErrInvalidBest = errors.New("assets: best out of range")

// Scope identifies which child-row table owns an asset registry.
type Scope struct {
	Kind domain.AssetScope
	ID   uuid.UUID // project id / character id / location id / scene id
}

// Store reads and writes one row's AssetRegistry JSON column, named by
// Scope.Kind (project/character/location/scene each have their own table
// with an "assets" jsonb column).
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) tableFor(kind domain.AssetScope) (string, error) {
	switch kind {
	case domain.ScopeProject:
		return "projects", nil
	case domain.ScopeCharacter:
		return "characters", nil
	case domain.ScopeLocation:
		return "locations", nil
	case domain.ScopeScene:
		return "scenes", nil
	default:
		return "", fmt.Errorf("assets: unknown scope kind %q", kind)
	}
}

func (s *Store) loadRegistry(ctx context.Context, tx *gorm.DB, scope Scope) (domain.AssetRegistry, error) {
	table, err := s.tableFor(scope.Kind)
	if err != nil {
		return nil, err
	}
	var raw []byte
	row := tx.WithContext(ctx).Table(table).Select("assets").Where("id = ?", scope.ID).Row()
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("load asset registry: %w", err)
	}
	reg := domain.AssetRegistry{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reg); err != nil {
			return nil, fmt.Errorf("unmarshal asset registry: %w", err)
		}
	}
	return reg, nil
}

func (s *Store) saveRegistry(ctx context.Context, tx *gorm.DB, scope Scope, reg domain.AssetRegistry) error {
	table, err := s.tableFor(scope.Kind)
	if err != nil {
		return err
	}
	body, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal asset registry: %w", err)
	}
	return tx.WithContext(ctx).Table(table).
		Where("id = ?", scope.ID).
		Update("assets", body).Error
}

// GetNextVersionNumber returns len(versions)+1 for (scope, assetKind).
func (s *Store) GetNextVersionNumber(ctx context.Context, scope Scope, kind domain.AssetKind) (int, error) {
	reg, err := s.loadRegistry(ctx, s.db, scope)
	if err != nil {
		return 0, err
	}
	return reg.NextVersionNumber(kind), nil
}

type NewVersion struct {
	Type     domain.AssetType
	Data     string
	Metadata domain.AssetVersionMetadata
}

// CreateVersionedAssets appends one or more new versions for
// (scope, assetKind), optionally advancing best to the last one appended.
// Runs in a transaction so the read-modify-write of the JSON column is
// atomic; callers must still hold the project lock to serialize against
// other appends to the same address.
func (s *Store) CreateVersionedAssets(ctx context.Context, scope Scope, kind domain.AssetKind, versions []NewVersion, setAsBest bool) (domain.AssetHistory, error) {
	var history domain.AssetHistory
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg, err := s.loadRegistry(ctx, tx, scope)
		if err != nil {
			return err
		}
		hist := reg[kind]
		for _, v := range versions {
			n := len(hist.Versions) + 1
			hist.Versions = append(hist.Versions, domain.AssetVersion{
				Version:   n,
				Data:      v.Data,
				Type:      v.Type,
				Metadata:  v.Metadata,
				CreatedAt: time.Now(),
			})
			if setAsBest {
				hist.Best = n
			}
		}
		reg[kind] = hist
		if err := s.saveRegistry(ctx, tx, scope, reg); err != nil {
			return err
		}
		history = hist
		return nil
	})
	return history, err
}

// GetBestVersion returns the version at index best, or nil if best==0
// (unset).
func (s *Store) GetBestVersion(ctx context.Context, scope Scope, kind domain.AssetKind) (*domain.AssetVersion, error) {
	reg, err := s.loadRegistry(ctx, s.db, scope)
	if err != nil {
		return nil, err
	}
	return reg.Best(kind), nil
}

// SetBestVersion updates best directly; 0 is the "unset" sentinel.
// Idempotent: setting the same value twice is a no-op write.
func (s *Store) SetBestVersion(ctx context.Context, scope Scope, kind domain.AssetKind, best int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg, err := s.loadRegistry(ctx, tx, scope)
		if err != nil {
			return err
		}
		hist := reg[kind]
		if best < 0 || best > len(hist.Versions) {
			return ErrInvalidBest
		}
		hist.Best = best
		reg[kind] = hist
		return s.saveRegistry(ctx, tx, scope, reg)
	})
}
