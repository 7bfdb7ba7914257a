// Package registry owns the lifecycle of trained model artifacts: versioned,
// immutable bundles with an atomically swappable active pointer. Scoring
// calls acquire a reference at run start and observe that artifact for the
// whole run even when the active version changes underneath them.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// Registry stores model artifacts keyed by version.
type Registry struct {
	logger *zap.Logger

	// schema is the feature builder's current output schema; artifacts
	// trained against anything else are rejected at registration.
	schema []string

	// storeDir, when set, persists each artifact as a YAML file.
	storeDir string

	mu            sync.RWMutex
	entries       map[string]*entry
	activeVersion string
}

type entry struct {
	artifact *domain.ModelArtifact
	refs     int
	retired  bool
}

// NewRegistry creates a registry validating against the given feature
// schema. storeDir may be empty for a memory-only registry.
func NewRegistry(logger *zap.Logger, schema []string, storeDir string) *Registry {
	return &Registry{
		logger:   logger,
		schema:   schema,
		storeDir: storeDir,
		entries:  make(map[string]*entry),
	}
}

// Register validates and stores a new artifact version. The artifact's
// feature schema must match the feature builder's output schema exactly;
// disagreement fails with a SchemaMismatchError.
func (r *Registry) Register(artifact *domain.ModelArtifact) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}

	if !schemaEqual(artifact.FeatureSchema, r.schema) {
		return &domain.SchemaMismatchError{
			Version:  artifact.Version,
			Expected: r.schema,
			Got:      artifact.FeatureSchema,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[artifact.Version]; exists {
		return fmt.Errorf("model version %s already registered", artifact.Version)
	}

	if r.storeDir != "" {
		if err := r.persist(artifact); err != nil {
			return fmt.Errorf("failed to persist artifact %s: %w", artifact.Version, err)
		}
	}

	r.entries[artifact.Version] = &entry{artifact: artifact}

	r.logger.Info("Registered model artifact",
		zap.String("version", artifact.Version),
		zap.Bool("degraded", artifact.Degraded()))

	return nil
}

// Activate atomically switches the active version. Concurrent readers never
// observe a partial swap: acquisitions before the swap keep the old
// artifact, acquisitions after it see the new one.
func (r *Registry) Activate(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[version]
	if !ok {
		return fmt.Errorf("model version %s not registered", version)
	}
	if e.retired {
		return fmt.Errorf("model version %s is retired", version)
	}

	previous := r.activeVersion
	r.activeVersion = version

	r.logger.Info("Activated model version",
		zap.String("version", version),
		zap.String("previous", previous))

	return nil
}

// Acquire returns an artifact reference plus a release func. An empty
// version acquires the currently active artifact. The reference count keeps
// retired versions alive until every in-flight scoring call releases them.
func (r *Registry) Acquire(version string) (*domain.ModelArtifact, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version == "" {
		if r.activeVersion == "" {
			return nil, nil, domain.ErrNoActiveModel
		}
		version = r.activeVersion
	}

	e, ok := r.entries[version]
	if !ok {
		return nil, nil, fmt.Errorf("model version %s not registered", version)
	}

	e.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.release(version)
		})
	}

	return e.artifact, release, nil
}

func (r *Registry) release(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[version]
	if !ok {
		return
	}

	e.refs--
	if e.retired && e.refs <= 0 {
		delete(r.entries, version)
		r.logger.Info("Removed retired model version", zap.String("version", version))
	}
}

// ActiveVersion returns the currently active version, or empty when none.
func (r *Registry) ActiveVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeVersion
}

// Retire marks a version for removal. The artifact stays available to
// in-flight scoring calls that already hold a reference and is removed once
// the last reference is released. The active version cannot be retired.
func (r *Registry) Retire(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[version]
	if !ok {
		return fmt.Errorf("model version %s not registered", version)
	}
	if version == r.activeVersion {
		return fmt.Errorf("cannot retire active model version %s", version)
	}

	e.retired = true
	if e.refs <= 0 {
		delete(r.entries, version)
	}

	r.logger.Info("Retired model version",
		zap.String("version", version),
		zap.Int("in_flight_refs", e.refs))

	return nil
}

// Versions lists registered, non-retired versions in sorted order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.entries))
	for v, e := range r.entries {
		if !e.retired {
			versions = append(versions, v)
		}
	}
	sort.Strings(versions)
	return versions
}

// LoadStore reads every persisted artifact from the store directory into the
// registry. Artifacts whose schema no longer matches are skipped with a
// warning rather than failing startup.
func (r *Registry) LoadStore() error {
	if r.storeDir == "" {
		return nil
	}

	pattern := filepath.Join(r.storeDir, "*.yaml")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to scan artifact store: %w", err)
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read artifact file %s: %w", file, err)
		}

		artifact := &domain.ModelArtifact{}
		if err := yaml.Unmarshal(data, artifact); err != nil {
			return fmt.Errorf("failed to parse artifact file %s: %w", file, err)
		}

		if !schemaEqual(artifact.FeatureSchema, r.schema) {
			r.logger.Warn("Skipping stored artifact with incompatible feature schema",
				zap.String("version", artifact.Version),
				zap.Strings("schema", artifact.FeatureSchema))
			continue
		}

		r.mu.Lock()
		if _, exists := r.entries[artifact.Version]; !exists {
			r.entries[artifact.Version] = &entry{artifact: artifact}
		}
		r.mu.Unlock()
	}

	r.logger.Info("Loaded artifact store",
		zap.String("dir", r.storeDir),
		zap.Int("versions", len(r.Versions())))

	return nil
}

func (r *Registry) persist(artifact *domain.ModelArtifact) error {
	if err := os.MkdirAll(r.storeDir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(artifact)
	if err != nil {
		return err
	}

	name := strings.ReplaceAll(artifact.Version, string(filepath.Separator), "_")
	return os.WriteFile(filepath.Join(r.storeDir, name+".yaml"), data, 0o644)
}

func schemaEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
