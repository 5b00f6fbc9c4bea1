package registry

import (
	"testing"
	"time"

	"hybrid-learning-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func version(kind models.ModelKind, accuracy float64) models.ModelVersion {
	return models.ModelVersion{
		Kind:          kind,
		TrainedAt:     time.Now().UnixMilli(),
		Accuracy:      accuracy,
		SchemaVersion: 1,
	}
}

func TestSaveAndList(t *testing.T) {
	r, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	id1, err := r.Save(version(models.KindRF, 0.60), []byte("a"))
	require.NoError(t, err)
	id2, err := r.Save(version(models.KindRF, 0.65), []byte("b"))
	require.NoError(t, err)
	_, err = r.Save(version(models.KindGB, 0.55), []byte("c"))
	require.NoError(t, err)

	rf := r.List(models.KindRF)
	require.Len(t, rf, 2)
	assert.Equal(t, id1, rf[0].FileID)
	assert.Equal(t, id2, rf[1].FileID)
	assert.Len(t, r.ListAll(), 3)
}

func TestArtifactRoundTrip(t *testing.T) {
	r, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	payload := []byte(`{"weights":[1,2,3]}`)
	id, err := r.Save(version(models.KindGB, 0.5), payload)
	require.NoError(t, err)

	loaded, err := r.LoadArtifact(models.KindGB, id)
	require.NoError(t, err)
	assert.Equal(t, payload, loaded)
}

func TestPromoteNeverRegresses(t *testing.T) {
	r, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	good, err := r.Save(version(models.KindRF, 0.70), []byte("good"))
	require.NoError(t, err)
	require.NoError(t, r.Promote(models.KindRF, good))

	worse, err := r.Save(version(models.KindRF, 0.60), []byte("worse"))
	require.NoError(t, err)
	err = r.Promote(models.KindRF, worse)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindRegressionBlocked))

	active := r.GetActive(models.KindRF)
	require.NotNil(t, active)
	assert.Equal(t, good, active.FileID)

	equal, err := r.Save(version(models.KindRF, 0.70), []byte("equal"))
	require.NoError(t, err)
	assert.NoError(t, r.Promote(models.KindRF, equal), "equal accuracy may promote")
}

func TestPromoteRejectsStaleSchema(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, 1)
	require.NoError(t, err)

	id, err := r.Save(version(models.KindRF, 0.70), []byte("v1"))
	require.NoError(t, err)

	// Reopen under a bumped feature schema; the old version may no longer
	// be promoted.
	r2, err := Open(dir, 2)
	require.NoError(t, err)
	err = r2.Promote(models.KindRF, id)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindSchemaMismatch))
}

func TestActiveHiddenAfterSchemaBump(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, 1)
	require.NoError(t, err)

	id, err := r.Save(version(models.KindRF, 0.70), []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, r.Promote(models.KindRF, id))
	require.NotNil(t, r.GetActive(models.KindRF))

	// Reopen under a bumped schema: the promoted version no longer serves.
	bumped, err := Open(dir, 2)
	require.NoError(t, err)
	assert.Nil(t, bumped.GetActive(models.KindRF))

	// Rolling the bump back restores the pointer.
	rolledBack, err := Open(dir, 1)
	require.NoError(t, err)
	require.NotNil(t, rolledBack.GetActive(models.KindRF))
	assert.Equal(t, id, rolledBack.GetActive(models.KindRF).FileID)
}

func TestPromoteUnknownVersion(t *testing.T) {
	r, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	err = r.Promote(models.KindRF, "does-not-exist")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnknownKind))
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, 1)
	require.NoError(t, err)

	id, err := r.Save(version(models.KindVoting, 0.62), []byte("ensemble"))
	require.NoError(t, err)
	require.NoError(t, r.Promote(models.KindVoting, id))

	reopened, err := Open(dir, 1)
	require.NoError(t, err)

	assert.Len(t, reopened.List(models.KindVoting), 1)
	active := reopened.GetActive(models.KindVoting)
	require.NotNil(t, active)
	assert.Equal(t, id, active.FileID)
	assert.Equal(t, 0.62, active.Accuracy)
}
