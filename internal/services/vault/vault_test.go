package vault_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lmpi-dev/lmpi/internal/crypto"
	"github.com/lmpi-dev/lmpi/internal/models"
	"github.com/lmpi-dev/lmpi/internal/services/session"
	"github.com/lmpi-dev/lmpi/internal/services/vault"
	"github.com/lmpi-dev/lmpi/internal/storage"
	"github.com/lmpi-dev/lmpi/test/testutil"
)

type fixture struct {
	store    *vault.Store
	sessions *session.Manager
	docs     *storage.FileStore
	provider crypto.Provider
	clock    *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	logger := testutil.NewTestLogger()
	provider := crypto.NewProvider(crypto.DefaultIterations)
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))

	docs := storage.NewFileStore(filepath.Join(dir, "lmpi_config.json"), storage.Options{}, logger)
	sessions := session.NewManager(session.Paths{
		Salt:    filepath.Join(dir, "lmpi_salt.bin"),
		Session: filepath.Join(dir, "lmpi_session.json"),
	}, provider, docs, logger, session.WithClock(clock.Now))

	return &fixture{
		store:    vault.NewStore(sessions, provider, docs, logger),
		sessions: sessions,
		docs:     docs,
		provider: provider,
		clock:    clock,
	}
}

func newUnlockedFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	require.NoError(t, f.sessions.SetPassword(testutil.TestPassword))
	return f
}

func TestScenarioSaveAndReadAPIKey(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sessions.SetPassword("hunter2"))

	companies, err := f.store.ListCompanies()
	require.NoError(t, err)
	assert.Empty(t, companies)

	require.NoError(t, f.store.SaveAPIKey("openai", "sk-abc"))

	apiKey, ok, err := f.store.APIKey("openai")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-abc", apiKey)

	require.NoError(t, f.sessions.EndSession())

	_, _, err = f.store.APIKey("openai")
	assert.ErrorIs(t, err, models.ErrNoSession)

	require.True(t, f.sessions.StartSession("hunter2"))

	apiKey, ok, err = f.store.APIKey("openai")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-abc", apiKey)
}

func TestScenarioWrongPassword(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sessions.SetPassword("hunter2"))
	require.NoError(t, f.sessions.EndSession())

	assert.False(t, f.sessions.StartSession("wrongpass"))
	assert.False(t, f.sessions.IsSessionValid())
}

func TestScenarioRemoveMissingAPIKey(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.SaveAPIKey("openai", "sk-abc"))

	before, err := os.ReadFile(f.docs.Path())
	require.NoError(t, err)

	removed, err := f.store.RemoveAPIKey("anthropic")
	require.NoError(t, err)
	assert.False(t, removed)

	companies, err := f.store.ListCompanies()
	require.NoError(t, err)
	assert.Equal(t, []string{"openai"}, companies)

	// Nothing removed, nothing written
	after, err := os.ReadFile(f.docs.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := newUnlockedFixture(t)

	values := map[string]interface{}{
		"model":   "gpt-4",
		"count":   float64(3),
		"enabled": true,
		"nothing": nil,
		"nested":  map[string]interface{}{"a": []interface{}{"x", float64(1)}},
		"unicode": "密钥 ✓",
	}

	require.NoError(t, f.store.Save(values))

	loaded, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, values, loaded)
}

func TestLoadHidesSentinel(t *testing.T) {
	f := newUnlockedFixture(t)

	loaded, err := f.store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	entries, err := f.docs.Read()
	require.NoError(t, err)
	assert.Contains(t, entries, models.SentinelKey)
}

func TestLoadWithoutDocument(t *testing.T) {
	f := newFixture(t)

	// No document and no session: empty, not an error
	loaded, err := f.store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestOperationsRequireSession(t *testing.T) {
	f := newUnlockedFixture(t)
	require.NoError(t, f.sessions.EndSession())

	_, err := f.store.Load()
	assert.ErrorIs(t, err, models.ErrNoSession)

	assert.ErrorIs(t, f.store.Save(map[string]interface{}{"a": 1}), models.ErrNoSession)
	assert.ErrorIs(t, f.store.Update(map[string]interface{}{"a": 1}), models.ErrNoSession)
	assert.ErrorIs(t, f.store.SaveAPIKey("openai", "sk"), models.ErrNoSession)
	assert.ErrorIs(t, f.store.ChangePassword("new"), models.ErrNoSession)

	_, err = f.store.ListCompanies()
	assert.ErrorIs(t, err, models.ErrNoSession)

	_, err = f.store.RemoveAPIKey("openai")
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestSessionExpiryLocksStore(t *testing.T) {
	f := newUnlockedFixture(t)
	require.NoError(t, f.store.Save(map[string]interface{}{"model": "gpt-4"}))

	f.clock.Advance(15 * time.Minute)

	_, err := f.store.Load()
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestSaveRejectsReservedKey(t *testing.T) {
	f := newUnlockedFixture(t)

	err := f.store.Save(map[string]interface{}{models.SentinelKey: "mine"})
	assert.ErrorIs(t, err, models.ErrReservedKey)
	assert.Equal(t, models.ErrCodeValidation, models.Code(err))

	err = f.store.Update(map[string]interface{}{models.SentinelKey: "mine"})
	assert.ErrorIs(t, err, models.ErrReservedKey)

	// The password still works
	require.NoError(t, f.sessions.EndSession())
	assert.True(t, f.sessions.StartSession(testutil.TestPassword))
}

func TestSaveReplacesContent(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.Save(map[string]interface{}{"a": "1", "b": "2"}))
	require.NoError(t, f.store.Save(map[string]interface{}{"c": "3"}))

	loaded, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"c": "3"}, loaded)
}

func TestEachValueSealedSeparately(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.Save(map[string]interface{}{"a": "same", "b": "same"}))

	entries, err := f.docs.Read()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.NotEqual(t, entries["a"], entries["b"])
	assert.NotContains(t, entries["a"], "same")
}

func TestUpdateMerges(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.Save(map[string]interface{}{"model": "gpt-4", "prompt": "hi"}))
	require.NoError(t, f.store.Update(map[string]interface{}{"prompt": "bye", "output": "out.json"}))

	loaded, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"model":  "gpt-4",
		"prompt": "bye",
		"output": "out.json",
	}, loaded)
}

// corruptEntry replaces one entry with a token sealed under another key.
func corruptEntry(t *testing.T, f *fixture, name string) string {
	t.Helper()

	other := make([]byte, crypto.KeySize)
	token, err := f.provider.Seal([]byte(`"foreign"`), other)
	require.NoError(t, err)

	entries, err := f.docs.Read()
	require.NoError(t, err)
	entries[name] = token
	require.NoError(t, f.docs.Write(entries))

	return token
}

func TestLoadIsolatesFailures(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.Save(map[string]interface{}{"good": "value", "bad": "value"}))
	corruptEntry(t, f, "bad")

	loaded, err := f.store.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDecryptionFailed)

	var loadErr *models.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, []string{"bad"}, loadErr.Keys())

	var decryptErr *models.DecryptError
	require.True(t, errors.As(loadErr.Failures["bad"], &decryptErr))
	assert.Equal(t, "bad", decryptErr.Key)

	assert.Equal(t, map[string]interface{}{"good": "value"}, loaded)
}

func TestUpdatePreservesUndecryptableEntries(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.Save(map[string]interface{}{"keep": "x", "bad": "y"}))
	token := corruptEntry(t, f, "bad")

	require.NoError(t, f.store.Update(map[string]interface{}{"new": "z"}))

	entries, err := f.docs.Read()
	require.NoError(t, err)
	assert.Equal(t, token, entries["bad"])

	loaded, err := f.store.Load()
	require.Error(t, err)
	assert.Equal(t, map[string]interface{}{"keep": "x", "new": "z"}, loaded)

	// Overwriting the broken entry repairs it
	require.NoError(t, f.store.Update(map[string]interface{}{"bad": "fixed"}))
	loaded, err = f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fixed", loaded["bad"])
}

func TestAPIKeys(t *testing.T) {
	f := newUnlockedFixture(t)

	for company, apiKey := range testutil.SampleAPIKeys {
		require.NoError(t, f.store.SaveAPIKey(company, apiKey))
	}

	companies, err := f.store.ListCompanies()
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "cohere", "openai"}, companies)

	// Overwrite
	require.NoError(t, f.store.SaveAPIKey("openai", "sk-rotated"))
	apiKey, ok, err := f.store.APIKey("openai")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-rotated", apiKey)

	_, ok, err = f.store.APIKey("mistral")
	require.NoError(t, err)
	assert.False(t, ok)

	// Idempotent removal
	removed, err := f.store.RemoveAPIKey("cohere")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.store.RemoveAPIKey("cohere")
	require.NoError(t, err)
	assert.False(t, removed)

	companies, err = f.store.ListCompanies()
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "openai"}, companies)
}

func TestAPIKeysLiveBesideConfig(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.Update(testutil.SampleConfig()))
	require.NoError(t, f.store.SaveAPIKey("openai", "sk-abc"))

	loaded, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", loaded["model"])
	assert.Equal(t, map[string]interface{}{"openai": "sk-abc"}, loaded[models.APIKeysKey])
}

func TestSaveAPIKeyValidation(t *testing.T) {
	f := newUnlockedFixture(t)

	assert.ErrorIs(t, f.store.SaveAPIKey("", "sk"), models.ErrMissingInput)
	assert.ErrorIs(t, f.store.SaveAPIKey("openai", ""), models.ErrMissingInput)
	assert.ErrorIs(t, f.store.SaveAPIKeys(map[string]string{"openai": "sk", " ": "x"}), models.ErrMissingInput)

	// Nothing was written
	companies, err := f.store.ListCompanies()
	require.NoError(t, err)
	assert.Empty(t, companies)
}

func TestSaveAPIKeys(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.SaveAPIKey("openai", "sk-old"))
	require.NoError(t, f.store.SaveAPIKeys(testutil.SampleAPIKeys))

	companies, err := f.store.ListCompanies()
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "cohere", "openai"}, companies)

	apiKey, _, err := f.store.APIKey("openai")
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleAPIKeys["openai"], apiKey)
}

func TestAPIKeyWithCorruptSubMap(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.SaveAPIKey("openai", "sk-abc"))
	corruptEntry(t, f, models.APIKeysKey)

	_, _, err := f.store.APIKey("openai")
	assert.ErrorIs(t, err, models.ErrDecryptionFailed)

	// Refuse to overwrite keys we cannot read
	assert.ErrorIs(t, f.store.SaveAPIKey("cohere", "co"), models.ErrDecryptionFailed)
}

func TestAPIKeysIgnoreUnrelatedFailures(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.Save(map[string]interface{}{"other": "x"}))
	require.NoError(t, f.store.SaveAPIKey("openai", "sk-abc"))
	corruptEntry(t, f, "other")

	apiKey, ok, err := f.store.APIKey("openai")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-abc", apiKey)
}

func TestChangePasswordPreservesData(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.SaveAPIKey("openai", "sk-abc"))
	require.NoError(t, f.store.Update(map[string]interface{}{"model": "gpt-4"}))

	require.NoError(t, f.store.ChangePassword("new-password"))

	// The new session is active immediately
	apiKey, _, err := f.store.APIKey("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-abc", apiKey)

	require.NoError(t, f.sessions.EndSession())
	assert.False(t, f.sessions.StartSession(testutil.TestPassword))
	require.True(t, f.sessions.StartSession("new-password"))

	loaded, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", loaded["model"])
}

func TestChangePasswordRefusesPartialData(t *testing.T) {
	f := newUnlockedFixture(t)

	require.NoError(t, f.store.Save(map[string]interface{}{"bad": "x"}))
	corruptEntry(t, f, "bad")

	before, err := os.ReadFile(f.docs.Path())
	require.NoError(t, err)

	err = f.store.ChangePassword("new-password")
	assert.ErrorIs(t, err, models.ErrDecryptionFailed)

	after, err := os.ReadFile(f.docs.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, f.sessions.EndSession())
	assert.True(t, f.sessions.StartSession(testutil.TestPassword))
}

func TestWritesRejectMismatchedSessionKey(t *testing.T) {
	tests := []struct {
		name    string
		write   func(*vault.Store) error
		wantErr error
	}{
		{
			name:    "save",
			write:   func(s *vault.Store) error { return s.Save(map[string]interface{}{"model": "gpt-4"}) },
			wantErr: models.ErrAuthenticationFailed,
		},
		{
			name:    "update",
			write:   func(s *vault.Store) error { return s.Update(map[string]interface{}{"model": "gpt-4"}) },
			wantErr: models.ErrAuthenticationFailed,
		},
		{
			name:    "save api key",
			write:   func(s *vault.Store) error { return s.SaveAPIKey("anthropic", "sk-ant") },
			wantErr: models.ErrDecryptionFailed,
		},
		{
			name: "remove api key",
			write: func(s *vault.Store) error {
				_, err := s.RemoveAPIKey("openai")
				return err
			},
			wantErr: models.ErrDecryptionFailed,
		},
		{
			name:    "change password",
			write:   func(s *vault.Store) error { return s.ChangePassword("third-password") },
			wantErr: models.ErrAuthenticationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.sessions.SetPassword("hunter2"))
			require.NoError(t, f.store.SaveAPIKey("openai", "sk-abc"))

			before, err := os.ReadFile(f.docs.Path())
			require.NoError(t, err)

			stale, err := f.sessions.DeriveKey("other-password")
			require.NoError(t, err)
			require.NoError(t, f.sessions.SetSessionKey(stale, 0))

			err = tt.write(f.store)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			after, err := os.ReadFile(f.docs.Path())
			require.NoError(t, err)
			assert.Equal(t, before, after)

			require.NoError(t, f.sessions.EndSession())
			assert.False(t, f.sessions.StartSession("other-password"))
			require.True(t, f.sessions.StartSession("hunter2"))

			apiKey, ok, err := f.store.APIKey("openai")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "sk-abc", apiKey)
		})
	}
}

func TestWritesRejectMismatchedKeyOnEmptyVault(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.SetPassword("hunter2"))

	stale, err := f.sessions.DeriveKey("other-password")
	require.NoError(t, err)
	require.NoError(t, f.sessions.SetSessionKey(stale, 0))

	// Only the verification entry is stored, so nothing else fails to open
	assert.ErrorIs(t, f.store.ChangePassword("third-password"), models.ErrAuthenticationFailed)
	assert.ErrorIs(t, f.store.SaveAPIKey("openai", "sk-abc"), models.ErrAuthenticationFailed)

	require.NoError(t, f.sessions.EndSession())
	assert.False(t, f.sessions.StartSession("third-password"))
	assert.True(t, f.sessions.StartSession("hunter2"))
}

// failingDocs fails writes on demand.
type failingDocs struct {
	*storage.FileStore
	failWrites bool
}

func (d *failingDocs) Write(entries map[string]string) error {
	if d.failWrites {
		return &models.StorageError{Op: "write", Path: d.Path(), Err: os.ErrPermission}
	}
	return d.FileStore.Write(entries)
}

func TestChangePasswordWriteFailureKeepsSession(t *testing.T) {
	dir := t.TempDir()
	logger := testutil.NewTestLogger()
	provider := crypto.NewProvider(crypto.DefaultIterations)

	docs := &failingDocs{
		FileStore: storage.NewFileStore(filepath.Join(dir, "lmpi_config.json"), storage.Options{}, logger),
	}
	sessions := session.NewManager(session.Paths{
		Salt:    filepath.Join(dir, "lmpi_salt.bin"),
		Session: filepath.Join(dir, "lmpi_session.json"),
	}, provider, docs, logger)
	store := vault.NewStore(sessions, provider, docs, logger)

	require.NoError(t, sessions.SetPassword("hunter2"))
	require.NoError(t, store.SaveAPIKey("openai", "sk-abc"))

	docs.failWrites = true
	err := store.ChangePassword("new-password")
	assert.ErrorIs(t, err, os.ErrPermission)
	docs.failWrites = false

	// The session still opens the vault and writes keep working
	key, ok := sessions.SessionKey()
	require.True(t, ok)
	require.NoError(t, sessions.VerifyKey(key))
	require.NoError(t, store.SaveAPIKey("cohere", "co-1"))

	require.NoError(t, sessions.EndSession())
	assert.False(t, sessions.StartSession("new-password"))
	require.True(t, sessions.StartSession("hunter2"))

	companies, err := store.ListCompanies()
	require.NoError(t, err)
	assert.Equal(t, []string{"cohere", "openai"}, companies)
}

func TestSaveSealFailureWritesNothing(t *testing.T) {
	provider := testutil.NewMockCryptoProvider()
	docs := testutil.NewMockDocumentStore()
	keys := &staticKeys{key: testutil.TestVaultKey()}

	docs.On("Exists").Return(false)
	provider.On("Seal", mock.Anything, keys.key).Return("", errors.New("entropy exhausted"))

	store := vault.NewStore(keys, provider, docs, testutil.NewTestLogger())
	err := store.Save(map[string]interface{}{"model": "gpt-4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy exhausted")

	docs.AssertNotCalled(t, "Write", mock.Anything)
	testutil.AssertMockExpectations(t, provider, docs)
}

func TestLoadPropagatesStorageErrors(t *testing.T) {
	provider := testutil.NewMockCryptoProvider()
	docs := testutil.NewMockDocumentStore()
	keys := &staticKeys{key: testutil.TestVaultKey()}

	storageErr := &models.StorageError{Op: "read", Path: "/vault", Err: os.ErrPermission}
	docs.On("Exists").Return(true)
	docs.On("Read").Return(nil, storageErr)

	store := vault.NewStore(keys, provider, docs, testutil.NewTestLogger())
	_, err := store.Load()
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, models.ErrCodeStorage, models.Code(err))

	testutil.AssertMockExpectations(t, docs)
}

func TestPath(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, f.docs.Path(), f.store.Path())
}

// staticKeys is a KeySource with a fixed session key.
type staticKeys struct {
	key []byte
}

func (s *staticKeys) SessionKey() ([]byte, bool) { return s.key, s.key != nil }

func (s *staticKeys) DeriveKey(string) ([]byte, error) { return s.key, nil }

func (s *staticKeys) SetSessionKey(key []byte, _ time.Duration) error {
	s.key = key
	return nil
}

func (s *staticKeys) SealSentinel([]byte) (string, error) { return "sentinel", nil }

func (s *staticKeys) VerifyKey([]byte) error { return nil }

func TestWriteCounts(t *testing.T) {
	dir := t.TempDir()
	logger := testutil.NewTestLogger()
	provider := crypto.NewProvider(crypto.DefaultIterations)
	docs := storage.NewMemoryStore()

	sessions := session.NewManager(session.Paths{
		Salt:    filepath.Join(dir, "salt"),
		Session: filepath.Join(dir, "session.json"),
	}, provider, docs, logger)
	store := vault.NewStore(sessions, provider, docs, logger)

	require.NoError(t, sessions.SetPassword(testutil.TestPassword))
	assert.Equal(t, 1, docs.Writes())

	require.NoError(t, store.SaveAPIKeys(testutil.SampleAPIKeys))
	assert.Equal(t, 2, docs.Writes())

	// Removing an absent key writes nothing
	removed, err := store.RemoveAPIKey("mistral")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 2, docs.Writes())

	// A failed change writes nothing either
	require.NoError(t, sessions.EndSession())
	assert.ErrorIs(t, store.ChangePassword("new"), models.ErrNoSession)
	assert.Equal(t, 2, docs.Writes())
}
