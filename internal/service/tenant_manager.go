package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/pointgate/internal/config"
	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/pkg/metrics"
	"github.com/GoPolymarket/pointgate/internal/policy"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

// TenantManager is the live tenant configuration. Every config is validated
// before it is swapped in; a rejected config leaves the previous one serving.
type TenantManager struct {
	mu        sync.RWMutex
	tenants   map[string]*model.Tenant // Key: TenantID
	keys      map[string]string        // Key: API key, value: TenantID
	limiters  map[string]*rate.Limiter // Key: TenantID
	fileOwned map[string]bool

	defaultID string
	defaults  config.TenantDefaultsConfig
	repo      TenantRepo
	engine    *policy.Engine
	validate  *validator.Validate
	now       func() time.Time
}

type TenantRepo interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error)
}

func NewTenantManager(defaults config.TenantDefaultsConfig, engine *policy.Engine, repo TenantRepo) *TenantManager {
	return &TenantManager{
		tenants:   make(map[string]*model.Tenant),
		keys:      make(map[string]string),
		limiters:  make(map[string]*rate.Limiter),
		fileOwned: make(map[string]bool),
		defaults:  defaults,
		repo:      repo,
		engine:    engine,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Prepare validates a candidate config and assigns its next version without installing it.
func (tm *TenantManager) Prepare(t *model.Tenant) (*model.Tenant, error) {
	if t == nil {
		return nil, apperrors.NewValidation("tenant config is empty")
	}
	next, err := t.Clone()
	if err != nil {
		return nil, apperrors.NewValidation("tenant config is not serializable: %v", err)
	}
	next.ID = strings.TrimSpace(next.ID)
	next.APIKey = strings.TrimSpace(next.APIKey)
	if next.Rate.QPS == 0 {
		next.Rate.QPS = tm.defaults.QPS
	}
	if next.Rate.Burst == 0 {
		next.Rate.Burst = tm.defaults.Burst
	}

	if err := tm.validate.Struct(next); err != nil {
		return nil, apperrors.NewValidation("invalid tenant %s: %v", next.ID, err)
	}
	if tm.engine != nil {
		if err := tm.engine.Validate(next.Policies); err != nil {
			return nil, apperrors.NewValidation("invalid policies for tenant %s: %v", next.ID, err)
		}
	}

	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if owner, ok := tm.keys[next.APIKey]; ok && owner != next.ID {
		return nil, apperrors.NewValidation("api key already assigned to another tenant")
	}
	if prev, ok := tm.tenants[next.ID]; ok && next.Version <= prev.Version {
		next.Version = prev.Version + 1
	}
	if next.Version == 0 {
		next.Version = 1
	}
	next.UpdatedAt = tm.now().UTC()
	return next, nil
}

// Apply validates and installs a tenant config.
func (tm *TenantManager) Apply(t *model.Tenant) (*model.Tenant, error) {
	next, err := tm.Prepare(t)
	if err != nil {
		metrics.TenantReloads.WithLabelValues("rejected").Inc()
		id := ""
		if t != nil {
			id = t.ID
		}
		logger.Warn("tenant config rejected, keeping last known good", "tenant_id", id, "error", err)
		return nil, err
	}
	tm.install(next)
	metrics.TenantReloads.WithLabelValues("applied").Inc()
	return next, nil
}

// install swaps in an already prepared config.
func (tm *TenantManager) install(t *model.Tenant) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	prev, existed := tm.tenants[t.ID]
	if existed && prev.APIKey != t.APIKey {
		delete(tm.keys, prev.APIKey)
	}
	tm.tenants[t.ID] = t
	tm.keys[t.APIKey] = t.ID

	if !existed || prev.Rate != t.Rate {
		tm.limiters[t.ID] = newLimiter(t.Rate)
	}
}

func newLimiter(cfg model.RateLimitConfig) *rate.Limiter {
	limit := rate.Limit(cfg.QPS)
	if limit == 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// Tenant returns the live config. Callers must not mutate it.
func (tm *TenantManager) Tenant(id string) (*model.Tenant, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.tenants[id]
	return t, ok
}

func (tm *TenantManager) GetByAPIKey(apiKey string) (*model.Tenant, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	id, ok := tm.keys[apiKey]
	if !ok {
		return nil, false
	}
	t, ok := tm.tenants[id]
	return t, ok
}

// GetByAPIKeyWithFallback consults the repository for keys this process has not seen yet.
func (tm *TenantManager) GetByAPIKeyWithFallback(ctx context.Context, apiKey string) (*model.Tenant, bool) {
	if t, ok := tm.GetByAPIKey(apiKey); ok {
		return t, true
	}
	if tm.repo == nil || apiKey == "" {
		return nil, false
	}
	stored, err := tm.repo.GetByAPIKey(ctx, apiKey)
	if err != nil || stored == nil {
		return nil, false
	}
	t, err := tm.Apply(stored)
	if err != nil {
		return nil, false
	}
	return t, true
}

func (tm *TenantManager) List() []*model.Tenant {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	out := make([]*model.Tenant, 0, len(tm.tenants))
	for _, t := range tm.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tm *TenantManager) Remove(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.tenants[id]
	if !ok {
		return
	}
	delete(tm.keys, t.APIKey)
	delete(tm.tenants, id)
	delete(tm.limiters, id)
	delete(tm.fileOwned, id)
}

func (tm *TenantManager) Limiter(tenantID string) *rate.Limiter {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.limiters[tenantID]
}

// DefaultTenant serves requests without an API key when keys are not required.
func (tm *TenantManager) DefaultTenant() *model.Tenant {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.tenants[tm.defaultID]
}

// LoadEntries applies raw tenant definitions from config. Each entry stands on
// its own: one invalid tenant does not block the others.
func (tm *TenantManager) LoadEntries(entries []config.TenantFileEntry) ([]string, error) {
	var (
		errs    []error
		applied []string
	)
	for i, entry := range entries {
		t, err := decodeEntry(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant #%d: %w", i, err))
			continue
		}
		if _, err := tm.Apply(t); err != nil {
			errs = append(errs, err)
			continue
		}
		applied = append(applied, t.ID)
	}
	tm.mu.Lock()
	if tm.defaultID == "" && len(applied) > 0 {
		tm.defaultID = applied[0]
	}
	tm.mu.Unlock()
	return applied, errors.Join(errs...)
}

func decodeEntry(entry config.TenantFileEntry) (*model.Tenant, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	var t model.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// WatchFile loads tenants from a YAML file and re-applies them whenever it changes.
// Tenants dropped from the file are removed; tenants that fail validation keep their previous config.
func (tm *TenantManager) WatchFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read tenants file: %w", err)
	}
	if err := tm.reloadFile(v); err != nil {
		logger.Warn("tenants file loaded with errors", "path", path, "error", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("tenants file changed", "path", e.Name, "op", e.Op.String())
		if err := tm.reloadFile(v); err != nil {
			logger.Warn("tenants file reload had errors", "path", path, "error", err)
		}
	})
	v.WatchConfig()
	return nil
}

func (tm *TenantManager) reloadFile(v *viper.Viper) error {
	var entries []config.TenantFileEntry
	if err := v.UnmarshalKey("tenants", &entries); err != nil {
		metrics.TenantReloads.WithLabelValues("rejected").Inc()
		return err
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if id, ok := e["id"].(string); ok {
			present[strings.TrimSpace(id)] = true
		}
	}
	applied, err := tm.LoadEntries(entries)

	tm.mu.Lock()
	var gone []string
	for id := range tm.fileOwned {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	for _, id := range applied {
		tm.fileOwned[id] = true
	}
	tm.mu.Unlock()

	for _, id := range gone {
		logger.Info("tenant removed from tenants file", "tenant_id", id)
		tm.Remove(id)
	}
	return err
}

// TenantLister pages through persisted tenants.
type TenantLister interface {
	List(ctx context.Context, limit, offset int) ([]*model.Tenant, error)
}

// Sync installs persisted configs that are newer than the live ones.
func (tm *TenantManager) Sync(ctx context.Context, repo TenantLister) error {
	const page = 200
	for offset := 0; ; offset += page {
		batch, err := repo.List(ctx, page, offset)
		if err != nil {
			return err
		}
		for _, stored := range batch {
			if live, ok := tm.Tenant(stored.ID); ok && live.Version >= stored.Version {
				continue
			}
			tm.Apply(stored)
		}
		if len(batch) < page {
			return nil
		}
	}
}

// RunSync keeps replicas that share a database in step with admin edits made elsewhere.
func (tm *TenantManager) RunSync(ctx context.Context, repo TenantLister, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tm.Sync(ctx, repo); err != nil {
				logger.Warn("tenant sync failed", "error", err)
			}
		}
	}
}
