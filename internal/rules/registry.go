package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides rule management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Rule // Cached rules by ID
	cacheMu sync.RWMutex     // Protects cache
	logger  Logger
}

// NewRegistry creates a new rule registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Rule),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all rules from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	ruleList, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Rule, len(ruleList))
	for i := range ruleList {
		rule := ruleList[i]
		r.cache[rule.ID] = rule.DeepCopy()
	}

	r.logger.Info("rule cache refreshed", "count", len(ruleList))
	return nil
}

// GetRule retrieves a rule by ID.
// The returned rule is a deep copy; callers can safely modify it.
func (r *Registry) GetRule(_ context.Context, id string) (*Rule, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrRuleNotFound
}

// GetRuleBySlug retrieves a rule by its slug.
// The returned rule is a deep copy.
func (r *Registry) GetRuleBySlug(_ context.Context, slug string) (*Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, rule := range r.cache {
		if rule.Slug == slug {
			return rule.DeepCopy(), nil
		}
	}
	return nil, ErrRuleNotFound
}

// ListRules retrieves all rules from the cache.
// Returns deep copies sorted by sort_order then name for deterministic ordering.
func (r *Registry) ListRules(_ context.Context) ([]Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	ruleList := make([]Rule, 0, len(r.cache))
	for _, rule := range r.cache {
		ruleList = append(ruleList, *rule.DeepCopy())
	}
	sortRules(ruleList)
	return ruleList, nil
}

// ListEnabledRules retrieves all enabled rules from the cache.
func (r *Registry) ListEnabledRules(_ context.Context) ([]Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var ruleList []Rule
	for _, rule := range r.cache {
		if rule.Enabled {
			ruleList = append(ruleList, *rule.DeepCopy())
		}
	}
	sortRules(ruleList)
	return ruleList, nil
}

// sortRules sorts rules by sort_order then name, matching the DB query ordering.
func sortRules(ruleList []Rule) {
	sort.Slice(ruleList, func(i, j int) bool {
		if ruleList[i].SortOrder != ruleList[j].SortOrder {
			return ruleList[i].SortOrder < ruleList[j].SortOrder
		}
		return ruleList[i].Name < ruleList[j].Name
	})
}

// CreateRule validates, persists, and caches a new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	// Generate ID and slug if not provided
	if rule.ID == "" {
		rule.ID = GenerateID()
	}
	if rule.Slug == "" {
		rule.Slug = GenerateSlug(rule.Name)
	}

	// Set default sort order for actions that don't specify one.
	// ContinueOnError defaults to false (fail-fast) which is safer for building automation.
	for i := range rule.Actions {
		if rule.Actions[i].SortOrder == 0 {
			rule.Actions[i].SortOrder = i
		}
	}

	// Validate
	if err := ValidateRule(rule); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, rule); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule created", "id", rule.ID, "name", rule.Name)
	return nil
}

// UpdateRule validates, persists, and updates the cached rule.
func (r *Registry) UpdateRule(ctx context.Context, rule *Rule) error {
	// Validate
	if err := ValidateRule(rule); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, rule); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule updated", "id", rule.ID, "name", rule.Name)
	return nil
}

// DeleteRule removes a rule from persistence and cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("rule deleted", "id", id)
	return nil
}

// GetRuleCount returns the number of cached rules.
func (r *Registry) GetRuleCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
