package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

func testArtifact(version string) *domain.ModelArtifact {
	return &domain.ModelArtifact{
		Version:       version,
		CreatedAt:     time.Now().UTC(),
		FeatureSchema: domain.FeatureSchema,
		CLV:           domain.CLVParams{RateShape: 1.2, RateScale: 150, MeanSpend: 42, SpendWeight: 5},
		SurvivalCurve: []domain.SurvivalBucket{
			{TenureDays: 0, Retention: 1.0},
			{TenureDays: 30, Retention: 0.8},
		},
		BlendWeight: 0.6,
	}
}

func TestRegisterAndAcquire(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	require.NoError(t, reg.Register(testArtifact("v1")))

	artifact, release, err := reg.Acquire("v1")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, "v1", artifact.Version)
	assert.Equal(t, []string{"v1"}, reg.Versions())
}

func TestRegisterRejectsSchemaMismatch(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	artifact := testArtifact("v1")
	artifact.FeatureSchema = []string{"recency_days", "something_else"}

	err := reg.Register(artifact)
	require.Error(t, err)

	var mismatch *domain.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "v1", mismatch.Version)
}

func TestRegisterRejectsDuplicateVersion(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	require.NoError(t, reg.Register(testArtifact("v1")))
	assert.Error(t, reg.Register(testArtifact("v1")))
}

func TestRegisterRejectsInvalidArtifact(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	artifact := testArtifact("v1")
	artifact.CLV.RateShape = -1
	assert.Error(t, reg.Register(artifact))
}

func TestAcquireActiveVersion(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	// No active model yet.
	_, _, err := reg.Acquire("")
	assert.ErrorIs(t, err, domain.ErrNoActiveModel)

	require.NoError(t, reg.Register(testArtifact("v1")))
	require.NoError(t, reg.Activate("v1"))
	assert.Equal(t, "v1", reg.ActiveVersion())

	artifact, release, err := reg.Acquire("")
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "v1", artifact.Version)
}

func TestAcquirePinsVersionAcrossSwap(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	require.NoError(t, reg.Register(testArtifact("v1")))
	require.NoError(t, reg.Register(testArtifact("v2")))
	require.NoError(t, reg.Activate("v1"))

	// A run acquires the active artifact, then the active version swaps
	// mid-run. The held reference must still be v1.
	held, release, err := reg.Acquire("")
	require.NoError(t, err)

	require.NoError(t, reg.Activate("v2"))
	assert.Equal(t, "v1", held.Version)

	// New acquisitions observe the swap.
	fresh, freshRelease, err := reg.Acquire("")
	require.NoError(t, err)
	assert.Equal(t, "v2", fresh.Version)

	release()
	freshRelease()
}

func TestActivateUnknownOrRetired(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	assert.Error(t, reg.Activate("missing"))

	require.NoError(t, reg.Register(testArtifact("v1")))
	require.NoError(t, reg.Retire("v1"))
	assert.Error(t, reg.Activate("v1"))
}

func TestRetireKeepsArtifactForInFlightRefs(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	require.NoError(t, reg.Register(testArtifact("v1")))
	require.NoError(t, reg.Register(testArtifact("v2")))
	require.NoError(t, reg.Activate("v2"))

	held, release, err := reg.Acquire("v1")
	require.NoError(t, err)

	require.NoError(t, reg.Retire("v1"))

	// Retired version is gone from listings but the held reference stays
	// usable until released.
	assert.Equal(t, []string{"v2"}, reg.Versions())
	assert.Equal(t, "v1", held.Version)

	release()

	_, _, err = reg.Acquire("v1")
	assert.Error(t, err, "retired version must be gone once the last reference drops")
}

func TestRetireActiveVersionFails(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	require.NoError(t, reg.Register(testArtifact("v1")))
	require.NoError(t, reg.Activate("v1"))
	assert.Error(t, reg.Retire("v1"))
}

func TestReleaseIsIdempotent(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")

	require.NoError(t, reg.Register(testArtifact("v1")))

	_, release, err := reg.Acquire("v1")
	require.NoError(t, err)

	release()
	release() // second call must not double-decrement

	// A fresh acquire-retire-release cycle still behaves.
	_, release2, err := reg.Acquire("v1")
	require.NoError(t, err)
	require.NoError(t, reg.Retire("v1"))
	release2()

	_, _, err = reg.Acquire("v1")
	assert.Error(t, err)
}

func TestPersistAndLoadStore(t *testing.T) {
	dir := t.TempDir()

	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, dir)
	require.NoError(t, reg.Register(testArtifact("v1")))
	require.NoError(t, reg.Register(testArtifact("v2")))

	// A second registry over the same store sees both versions.
	reloaded := NewRegistry(zap.NewNop(), domain.FeatureSchema, dir)
	require.NoError(t, reloaded.LoadStore())
	assert.Equal(t, []string{"v1", "v2"}, reloaded.Versions())

	artifact, release, err := reloaded.Acquire("v1")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, domain.FeatureSchema, artifact.FeatureSchema)
	assert.InDelta(t, 1.2, artifact.CLV.RateShape, 1e-9)
	assert.Len(t, artifact.SurvivalCurve, 2)
}

func TestLoadStoreSkipsIncompatibleSchema(t *testing.T) {
	dir := t.TempDir()

	old := NewRegistry(zap.NewNop(), []string{"recency_days", "frequency_count"}, dir)
	stale := testArtifact("stale")
	stale.FeatureSchema = []string{"recency_days", "frequency_count"}
	require.NoError(t, old.Register(stale))

	current := NewRegistry(zap.NewNop(), domain.FeatureSchema, dir)
	require.NoError(t, current.Register(testArtifact("fresh")))

	reloaded := NewRegistry(zap.NewNop(), domain.FeatureSchema, dir)
	require.NoError(t, reloaded.LoadStore())
	assert.Equal(t, []string{"fresh"}, reloaded.Versions())
}

func TestLoadStoreEmptyDir(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), domain.FeatureSchema, t.TempDir())
	require.NoError(t, reg.LoadStore())
	assert.Empty(t, reg.Versions())

	memory := NewRegistry(zap.NewNop(), domain.FeatureSchema, "")
	require.NoError(t, memory.LoadStore())
}
