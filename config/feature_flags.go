package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles with gradual per-user rollout and
// tenant targeting.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// tenantOverrides force a feature on or off for a whole tenant.
	tenantOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent (0-100) buckets users by a hash of tenant, user and feature.
	RolloutPercent int

	// TargetTenants limits the feature to these tenants. Empty means all.
	TargetTenants []string

	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	TenantID string
	UserID   string
	IsAdmin  bool
}

// Predefined feature flag names.
const (
	// FeatureAutoAdvance re-evaluates the enrollment after every applied ledger write.
	FeatureAutoAdvance = "enrollment.auto_advance"

	// FeatureExpiryJob runs the overdue-enrollment sweep.
	FeatureExpiryJob = "enrollment.expiry_job"

	// FeatureCatalogLookup lets handlers ask the catalog when total_modules is omitted.
	FeatureCatalogLookup = "progress.catalog_lookup"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:        make(map[string]*Feature),
		tenantOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureAutoAdvance] = &Feature{
		Name:           FeatureAutoAdvance,
		Description:    "Advance enrollments from ledger writes",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureExpiryJob] = &Feature{
		Name:           FeatureExpiryJob,
		Description:    "Expire enrollments past their deadline",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureCatalogLookup] = &Feature{
		Name:           FeatureCatalogLookup,
		Description:    "Resolve module counts from the course catalog",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_ENROLLMENT_AUTO_ADVANCE=false
// Example: FEATURE_ENROLLMENT_AUTO_ADVANCE=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "enrollment.auto_advance" -> "FEATURE_ENROLLMENT_AUTO_ADVANCE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.TenantID != "" {
		if overrides, ok := ff.tenantOverrides[ctx.TenantID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if len(feature.TargetTenants) > 0 {
		if ctx == nil || !contains(feature.TargetTenants, ctx.TenantID) {
			return false
		}
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return isInRollout(ctx.TenantID+"/"+ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout buckets a subject with a stable hash so users keep their bucket.
func isInRollout(subject, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(subject))
	return int(h.Sum32()%100) < percent
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SetTenantOverride forces a feature on or off for a tenant.
func (ff *FeatureFlags) SetTenantOverride(tenantID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.tenantOverrides[tenantID]; !ok {
		ff.tenantOverrides[tenantID] = make(map[string]bool)
	}
	ff.tenantOverrides[tenantID][featureName] = enabled
}

// ClearTenantOverrides removes all overrides for a tenant.
func (ff *FeatureFlags) ClearTenantOverrides(tenantID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.tenantOverrides, tenantID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
