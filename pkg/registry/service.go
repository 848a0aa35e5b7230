package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates no definition exists for the id/version.
	ErrNotFound = errors.New("api definition not found")

	// ErrAlreadyPublished indicates an attempt to overwrite a published
	// version; published versions are immutable.
	ErrAlreadyPublished = errors.New("api definition version already published")
)

// DefinitionService is the registration/storage surface the HTTP layer
// delegates to.
type DefinitionService interface {
	Register(ctx context.Context, def ApiDefinition) (ApiDefinition, error)
	Get(ctx context.Context, id DefinitionId, version Version) (ApiDefinition, error)
	GetAllVersions(ctx context.Context, id DefinitionId) ([]ApiDefinition, error)
	GetAll(ctx context.Context) ([]ApiDefinition, error)
	Delete(ctx context.Context, id DefinitionId, version Version) error
}

// InMemoryDefinitionService keeps definitions in a two-level map guarded by a
// read-write mutex.
type InMemoryDefinitionService struct {
	mu   sync.RWMutex
	defs map[DefinitionId]map[Version]ApiDefinition
}

func NewInMemoryDefinitionService() *InMemoryDefinitionService {
	return &InMemoryDefinitionService{
		defs: make(map[DefinitionId]map[Version]ApiDefinition),
	}
}

// Register upserts a definition. Draft versions can be overwritten freely;
// re-registering a published version fails with ErrAlreadyPublished.
func (s *InMemoryDefinitionService) Register(_ context.Context, def ApiDefinition) (ApiDefinition, error) {
	if err := def.Validate(); err != nil {
		return ApiDefinition{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.defs[def.Id]
	if !ok {
		versions = make(map[Version]ApiDefinition)
		s.defs[def.Id] = versions
	}

	if existing, ok := versions[def.Version]; ok && !existing.Draft {
		return ApiDefinition{}, fmt.Errorf("%s@%s: %w", def.Id, def.Version, ErrAlreadyPublished)
	}

	versions[def.Version] = def
	return def, nil
}

func (s *InMemoryDefinitionService) Get(_ context.Context, id DefinitionId, version Version) (ApiDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.defs[id][version]
	if !ok {
		return ApiDefinition{}, fmt.Errorf("%s@%s: %w", id, version, ErrNotFound)
	}
	return def, nil
}

func (s *InMemoryDefinitionService) GetAllVersions(_ context.Context, id DefinitionId) ([]ApiDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.defs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return sortedDefinitions(versions), nil
}

func (s *InMemoryDefinitionService) GetAll(_ context.Context) ([]ApiDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ApiDefinition
	for _, versions := range s.defs {
		out = append(out, sortedDefinitions(versions)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Id != out[j].Id {
			return out[i].Id < out[j].Id
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (s *InMemoryDefinitionService) Delete(_ context.Context, id DefinitionId, version Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.defs[id]
	if _, ok := versions[version]; !ok {
		return fmt.Errorf("%s@%s: %w", id, version, ErrNotFound)
	}
	delete(versions, version)
	if len(versions) == 0 {
		delete(s.defs, id)
	}
	return nil
}

func sortedDefinitions(versions map[Version]ApiDefinition) []ApiDefinition {
	out := make([]ApiDefinition, 0, len(versions))
	for _, def := range versions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
