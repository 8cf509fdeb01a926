package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orchestry/missiond/internal/domain/approval"
	"github.com/orchestry/missiond/internal/port/cache"
	"github.com/orchestry/missiond/internal/port/database"
)

const workflowCacheTTL = 10 * time.Minute

// RegistryService manages approval workflow templates: validation on
// registration, durable storage, and a read-through cache for the hot
// lookup every decision submission performs.
type RegistryService struct {
	store database.Store
	cache cache.Cache
}

// NewRegistryService creates a RegistryService.
func NewRegistryService(store database.Store, c cache.Cache) *RegistryService {
	return &RegistryService{store: store, cache: c}
}

// Register validates and persists a workflow template. Re-registering
// an existing ID replaces the template for future requests; in-flight
// requests keep replaying against the template they were created with
// only insofar as its structure still matches, so operators should
// version IDs for breaking changes.
func (s *RegistryService) Register(ctx context.Context, wf *approval.Workflow) error {
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("register workflow: %w", err)
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(wf.ID)); err != nil {
			slog.Warn("workflow cache invalidation failed", "workflow_id", wf.ID, "error", err)
		}
	}
	slog.Info("workflow registered", "workflow_id", wf.ID, "steps", len(wf.Steps))
	return nil
}

// Get returns a workflow template, consulting the cache first.
func (s *RegistryService) Get(ctx context.Context, id string) (*approval.Workflow, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cacheKey(id)); err == nil && ok {
			var wf approval.Workflow
			if err := json.Unmarshal(data, &wf); err == nil {
				return &wf, nil
			}
			// Unparseable cache entry: fall through to the store.
			_ = s.cache.Delete(ctx, cacheKey(id))
		}
	}

	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(wf); err == nil {
			if err := s.cache.Set(ctx, cacheKey(id), data, workflowCacheTTL); err != nil {
				slog.Warn("workflow cache set failed", "workflow_id", id, "error", err)
			}
		}
	}
	return wf, nil
}

// List returns all registered templates.
func (s *RegistryService) List(ctx context.Context) ([]approval.Workflow, error) {
	return s.store.ListWorkflows(ctx)
}

// workflowFile is the YAML document shape for file-based registration.
type workflowFile struct {
	Workflows []approval.Workflow `yaml:"workflows"`
}

// RegisterFromFile loads workflow templates from a YAML file and
// registers each one. Used at startup to seed the template set.
func (s *RegistryService) RegisterFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read workflow file: %w", err)
	}

	var doc workflowFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse workflow file %s: %w", path, err)
	}

	for i := range doc.Workflows {
		if err := s.Register(ctx, &doc.Workflows[i]); err != nil {
			return i, fmt.Errorf("workflow %d in %s: %w", i, path, err)
		}
	}
	return len(doc.Workflows), nil
}

func cacheKey(id string) string {
	return "workflow:" + id
}
