package voicestore_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voiceforge-service/internal/audio"
	"github.com/book-expert/voiceforge-service/internal/core"
	"github.com/book-expert/voiceforge-service/internal/voicestore"
)

const (
	testRate           = 8000
	testMinSeconds     = 1.0
	testPreviewSeconds = 0.5
)

var errMockDerive = errors.New("mock derive error")

// mockEngine counts state derivations so tests can prove the state is
// recomputed on every load.
type mockEngine struct {
	deriveCalls      int
	deriveShouldFail bool
	lastAudioPath    string
}

func (m *mockEngine) DeriveState(_ context.Context, audioPath string) (*core.VoiceState, error) {
	if m.deriveShouldFail {
		return nil, errMockDerive
	}

	m.deriveCalls++
	m.lastAudioPath = audioPath

	return &core.VoiceState{Payload: []byte("state:" + audioPath)}, nil
}

func (m *mockEngine) Synthesize(_ context.Context, _ *core.VoiceState, _ string) (*audio.Buffer, error) {
	return nil, errMockDerive
}

func (m *mockEngine) SampleRate() int {
	return testRate
}

func newTestStore(t *testing.T) (*voicestore.Store, *mockEngine) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "voicestore-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	engine := &mockEngine{deriveCalls: 0, deriveShouldFail: false, lastAudioPath: ""}

	store, err := voicestore.New(t.TempDir(), engine, testMinSeconds, testPreviewSeconds, log)
	require.NoError(t, err)

	return store, engine
}

// writeReference writes a WAV reference clip and returns its path.
func writeReference(t *testing.T, seconds float64) string {
	t.Helper()

	count := int(seconds * testRate)
	samples := make([]float64, count)

	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*330*float64(i)/float64(testRate))
	}

	path := filepath.Join(t.TempDir(), "reference.wav")
	err := audio.WriteWAVFile(path, &audio.Buffer{Samples: samples, SampleRate: testRate})
	require.NoError(t, err)

	return path
}

func TestStore_Create_Success(t *testing.T) {
	t.Parallel()

	store, engine := newTestStore(t)
	referencePath := writeReference(t, testMinSeconds+1)

	metadata, err := store.Create(
		context.Background(), referencePath, "Narrator", []string{"calm"},
	)
	require.NoError(t, err)

	assert.NotEmpty(t, metadata.ID)
	assert.Equal(t, "Narrator", metadata.Name)
	assert.Equal(t, []string{"calm"}, metadata.Tags)
	assert.Equal(t, testRate, metadata.SampleRate)
	assert.InDelta(t, testMinSeconds+1, metadata.DurationSeconds, 0.01)
	assert.Equal(t, 1, engine.deriveCalls, "creation derives once to prove the reference is usable")
}

func TestStore_Create_TooShortReference(t *testing.T) {
	t.Parallel()

	store, engine := newTestStore(t)
	referencePath := writeReference(t, testMinSeconds/2)

	_, err := store.Create(context.Background(), referencePath, "Narrator", nil)
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Equal(t, 0, engine.deriveCalls, "validation must reject before the engine runs")
}

func TestStore_Create_EngineFailure(t *testing.T) {
	t.Parallel()

	store, engine := newTestStore(t)
	engine.deriveShouldFail = true
	referencePath := writeReference(t, testMinSeconds+1)

	_, err := store.Create(context.Background(), referencePath, "Narrator", nil)
	require.ErrorIs(t, err, core.ErrEngineFailure)

	models, listErr := store.List()
	require.NoError(t, listErr)
	assert.Empty(t, models, "a failed creation must leave nothing behind")
}

func TestStore_Load_RecomputesStateEveryTime(t *testing.T) {
	t.Parallel()

	store, engine := newTestStore(t)
	referencePath := writeReference(t, testMinSeconds+1)

	metadata, err := store.Create(context.Background(), referencePath, "Narrator", nil)
	require.NoError(t, err)

	callsAfterCreate := engine.deriveCalls

	first, _, err := store.Load(context.Background(), metadata.ID)
	require.NoError(t, err)

	second, _, err := store.Load(context.Background(), metadata.ID)
	require.NoError(t, err)

	assert.Equal(t, callsAfterCreate+2, engine.deriveCalls,
		"every load must derive fresh state from the stored reference")
	assert.Equal(t, first.Payload, second.Payload)
	assert.Contains(t, engine.lastAudioPath, "original.wav",
		"state must come from the persisted reference, not the upload")
}

func TestStore_Load_UnknownModel(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	_, _, err := store.Load(context.Background(), "no-such-model")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_List_NewestFirst(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	referencePath := writeReference(t, testMinSeconds+1)

	older, err := store.Create(context.Background(), referencePath, "Older", nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	newer, err := store.Create(context.Background(), referencePath, "Newer", nil)
	require.NoError(t, err)

	models, err := store.List()
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.Equal(t, newer.ID, models[0].ID)
	assert.Equal(t, older.ID, models[1].ID)
}

func TestStore_Get(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	referencePath := writeReference(t, testMinSeconds+1)

	created, err := store.Create(context.Background(), referencePath, "Narrator", nil)
	require.NoError(t, err)

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = store.Get("no-such-model")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	referencePath := writeReference(t, testMinSeconds+1)

	created, err := store.Create(context.Background(), referencePath, "Narrator", nil)
	require.NoError(t, err)

	assert.True(t, store.Delete(created.ID))
	assert.False(t, store.Delete(created.ID), "second delete finds nothing")

	_, err = store.Get(created.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_PreviewPath(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	referencePath := writeReference(t, testMinSeconds+1)

	created, err := store.Create(context.Background(), referencePath, "Narrator", nil)
	require.NoError(t, err)

	previewPath, ok := store.PreviewPath(created.ID)
	require.True(t, ok)

	preview, err := audio.ReadWAVFile(previewPath)
	require.NoError(t, err)
	assert.InDelta(t, testPreviewSeconds, preview.Duration(), 0.01)

	_, ok = store.PreviewPath("no-such-model")
	assert.False(t, ok)
}
