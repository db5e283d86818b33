package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qingrang/stream-rec/internal/model"
)

// TestLoadConfig verifies basic YAML parsing and validation.
func TestLoadConfig(t *testing.T) {
	configPath := filepath.Join("..", "..", "testdata", "config", "valid.yaml")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.MaxDownloadRetries != 3 {
		t.Errorf("MaxDownloadRetries = %d, want 3", cfg.MaxDownloadRetries)
	}
	if cfg.DownloadRetryDelaySeconds != 15 {
		t.Errorf("DownloadRetryDelaySeconds = %d, want 15", cfg.DownloadRetryDelaySeconds)
	}
	if len(cfg.Streamers) != 2 {
		t.Fatalf("len(Streamers) = %d, want 2", len(cfg.Streamers))
	}
	if !cfg.Health.Enabled {
		t.Error("Health.Enabled = false, want true")
	}
}

// TestLoadConfigStreamers verifies broadcaster list parsing.
func TestLoadConfigStreamers(t *testing.T) {
	configPath := filepath.Join("..", "..", "testdata", "config", "valid.yaml")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	alice := cfg.Streamers[0]
	if alice.ID != "alice" {
		t.Errorf("Streamers[0].ID = %q, want alice", alice.ID)
	}
	if alice.Platform != model.PlatformHuya {
		t.Errorf("Streamers[0].Platform = %q, want HUYA", alice.Platform)
	}
	if !alice.Activated {
		t.Error("Streamers[0].Activated = false, want true")
	}
	if alice.Download == nil || alice.Download.Container != "mp4" {
		t.Errorf("Streamers[0].Download.Container = %+v, want mp4", alice.Download)
	}

	bob := cfg.Streamers[1]
	if bob.Activated {
		t.Error("Streamers[1] (bob) Activated = true, want false (not yet broadcasting)")
	}
}

// TestActivatedStreamers verifies the activation filter used by the Supervisor.
func TestActivatedStreamers(t *testing.T) {
	cfg := &Config{
		Streamers: []model.Broadcaster{
			{ID: "a", Platform: model.PlatformHuya, URL: "u1", Activated: true},
			{ID: "b", Platform: model.PlatformDouyin, URL: "u2", Activated: false},
			{ID: "c", Platform: model.PlatformHuya, URL: "u3", Activated: true},
		},
		MaxDownloadRetries:        3,
		DownloadRetryDelaySeconds: 15,
	}

	got := cfg.ActivatedStreamers()
	if len(got) != 2 {
		t.Fatalf("ActivatedStreamers() returned %d entries, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("ActivatedStreamers() = %+v, want [a, c]", got)
	}
}

// TestValidateConfig verifies configuration validation.
func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: &Config{
				Streamers: []model.Broadcaster{
					{ID: "a", Platform: model.PlatformHuya, URL: "http://x"},
				},
				MaxDownloadRetries:        3,
				DownloadRetryDelaySeconds: 15,
			},
			wantErr: false,
		},
		{
			name: "negative max retries",
			config: &Config{
				MaxDownloadRetries:        -1,
				DownloadRetryDelaySeconds: 15,
			},
			wantErr: true,
			errMsg:  "max_download_retries must not be negative",
		},
		{
			name: "zero retry delay",
			config: &Config{
				MaxDownloadRetries:        3,
				DownloadRetryDelaySeconds: 0,
			},
			wantErr: true,
			errMsg:  "download_retry_delay_seconds must be positive",
		},
		{
			name: "streamer missing id",
			config: &Config{
				Streamers:                 []model.Broadcaster{{Platform: model.PlatformHuya, URL: "u"}},
				MaxDownloadRetries:        3,
				DownloadRetryDelaySeconds: 15,
			},
			wantErr: true,
			errMsg:  "streamer entry missing id",
		},
		{
			name: "duplicate streamer id",
			config: &Config{
				Streamers: []model.Broadcaster{
					{ID: "a", Platform: model.PlatformHuya, URL: "u1"},
					{ID: "a", Platform: model.PlatformDouyin, URL: "u2"},
				},
				MaxDownloadRetries:        3,
				DownloadRetryDelaySeconds: 15,
			},
			wantErr: true,
			errMsg:  `duplicate streamer id "a"`,
		},
		{
			name: "unsupported platform",
			config: &Config{
				Streamers:                 []model.Broadcaster{{ID: "a", Platform: "TWITCH", URL: "u"}},
				MaxDownloadRetries:        3,
				DownloadRetryDelaySeconds: 15,
			},
			wantErr: true,
			errMsg:  `streamer "a": unsupported platform "TWITCH"`,
		},
		{
			name: "empty url",
			config: &Config{
				Streamers:                 []model.Broadcaster{{ID: "a", Platform: model.PlatformHuya}},
				MaxDownloadRetries:        3,
				DownloadRetryDelaySeconds: 15,
			},
			wantErr: true,
			errMsg:  `streamer "a": url must not be empty`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.wantErr {
				if err == nil {
					t.Error("Validate() expected error, got nil")
				} else if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

// TestLoadConfigMissingFile verifies error handling for missing files.
func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Error("LoadConfig() expected error for missing file, got nil")
	}
}

// TestLoadConfigInvalidYAML verifies error handling for invalid YAML.
func TestLoadConfigInvalidYAML(t *testing.T) {
	configPath := filepath.Join("..", "..", "testdata", "config", "invalid.yaml")

	_, err := LoadConfig(configPath)
	if err == nil {
		t.Error("LoadConfig() expected error for invalid YAML, got nil")
	}
}

// TestDefaultConfig verifies default configuration values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxDownloadRetries != 3 {
		t.Errorf("MaxDownloadRetries = %d, want 3", cfg.MaxDownloadRetries)
	}
	if cfg.DownloadRetryDelaySeconds != 15 {
		t.Errorf("DownloadRetryDelaySeconds = %d, want 15", cfg.DownloadRetryDelaySeconds)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want ffmpeg", cfg.FFmpegPath)
	}
	if !cfg.Health.Enabled {
		t.Error("Health.Enabled = false, want true")
	}
	if len(cfg.Streamers) != 0 {
		t.Errorf("Streamers = %+v, want empty", cfg.Streamers)
	}
}

// TestSaveConfig verifies configuration file writing.
func TestSaveConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Streamers = []model.Broadcaster{
		{ID: "a", Platform: model.PlatformHuya, URL: "http://x", Activated: true},
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Save() did not create config file")
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() after Save() error = %v", err)
	}

	if len(loaded.Streamers) != 1 || loaded.Streamers[0].ID != "a" {
		t.Errorf("loaded.Streamers = %+v, want one entry with id=a", loaded.Streamers)
	}
}

// TestSaveConfigErrorPaths tests error handling in Save().
func TestSaveConfigErrorPaths(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("invalid path", func(t *testing.T) {
		invalidPath := "/tmp/\x00invalid/config.yaml"
		if err := cfg.Save(invalidPath); err == nil {
			t.Error("Save() with invalid path should return error")
		}
	})

	t.Run("unwritable directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		readOnlyDir := filepath.Join(tmpDir, "readonly")
		if err := os.Mkdir(readOnlyDir, 0444); err != nil {
			t.Skipf("Cannot create read-only directory: %v", err)
		}

		configPath := filepath.Join(readOnlyDir, "config.yaml")
		err := cfg.Save(configPath)
		_ = err
	})
}

// BenchmarkLoadConfig measures config loading performance.
func BenchmarkLoadConfig(b *testing.B) {
	configPath := filepath.Join("..", "..", "testdata", "config", "valid.yaml")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = LoadConfig(configPath)
	}
}

// TestSaveConfigAtomic verifies that Save() performs an atomic write using
// a temp file + rename pattern. After Save() returns, the file should contain
// complete valid YAML that can be loaded back.
func TestSaveConfigAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initialCfg := DefaultConfig()
	initialCfg.Streamers = []model.Broadcaster{{ID: "a", Platform: model.PlatformHuya, URL: "u"}}
	if err := initialCfg.Save(configPath); err != nil {
		t.Fatalf("initial Save() error = %v", err)
	}

	initialData, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("ReadFile initial error = %v", err)
	}

	newCfg := DefaultConfig()
	newCfg.Streamers = []model.Broadcaster{
		{ID: "a", Platform: model.PlatformHuya, URL: "u"},
		{ID: "b", Platform: model.PlatformDouyin, URL: "u2"},
	}
	if err := newCfg.Save(configPath); err != nil {
		t.Fatalf("overwrite Save() error = %v", err)
	}

	resultData, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("ReadFile result error = %v", err)
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig after atomic Save() error = %v", err)
	}
	if len(loaded.Streamers) != 2 {
		t.Errorf("len(Streamers) = %d, want 2", len(loaded.Streamers))
	}

	if string(resultData) == string(initialData) {
		t.Error("File content was not updated by Save()")
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir error = %v", err)
	}
	for _, entry := range entries {
		if entry.Name() != "config.yaml" {
			t.Errorf("Unexpected leftover file in directory: %s", entry.Name())
		}
	}
}

// TestSaveConfigAtomicPermissions verifies that the atomically-saved file
// has the correct permissions.
func TestSaveConfigAtomicPermissions(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Stat error = %v", err)
	}

	perm := info.Mode().Perm()
	if perm&0640 != 0640 {
		t.Errorf("File permissions = %o, want at least 0640", perm)
	}
}

// TestSaveConfigAtomicTempFileCleanupOnError verifies that temp files are
// cleaned up if the write fails mid-way.
func TestSaveConfigAtomicTempFileCleanupOnError(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Save("/nonexistent_dir_12345/config.yaml"); err == nil {
		t.Error("Save() to nonexistent directory should fail")
	}
}

// mockAtomicFile implements atomicFile for testing error injection.
type mockAtomicFile struct {
	name       string
	realFile   *os.File
	writeErr   error
	syncErr    error
	chmodErr   error
	closeErr   error
	writeCalls int
}

func (m *mockAtomicFile) Write(p []byte) (int, error) {
	m.writeCalls++
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return len(p), nil
}

func (m *mockAtomicFile) Sync() error               { return m.syncErr }
func (m *mockAtomicFile) Chmod(_ os.FileMode) error { return m.chmodErr }
func (m *mockAtomicFile) Close() error {
	if m.realFile != nil {
		_ = m.realFile.Close()
	}
	return m.closeErr
}
func (m *mockAtomicFile) Name() string { return m.name }

// newMockCreateTemp returns a createTemp func that produces a mockAtomicFile.
// A real temp file is created so cleanup (os.Remove) has a real path to remove.
func newMockCreateTemp(dir string, mock *mockAtomicFile) atomicCreateTemp {
	return func(d, pattern string) (atomicFile, error) {
		f, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return nil, err
		}
		mock.realFile = f
		mock.name = f.Name()
		return mock, nil
	}
}

// TestSaveWithInjectableErrors tests the error paths of saveWith.
func TestSaveWithInjectableErrors(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("write error", func(t *testing.T) {
		tmpDir := t.TempDir()
		mock := &mockAtomicFile{writeErr: errors.New("disk full")}
		err := cfg.saveWith(filepath.Join(tmpDir, "config.yaml"), newMockCreateTemp(tmpDir, mock))
		if err == nil {
			t.Fatal("saveWith() expected error on write failure")
		}
		if !strings.Contains(err.Error(), "failed to write temp config file") {
			t.Errorf("error = %q, want 'failed to write temp config file'", err.Error())
		}
	})

	t.Run("sync error", func(t *testing.T) {
		tmpDir := t.TempDir()
		mock := &mockAtomicFile{syncErr: errors.New("sync failed")}
		err := cfg.saveWith(filepath.Join(tmpDir, "config.yaml"), newMockCreateTemp(tmpDir, mock))
		if err == nil {
			t.Fatal("saveWith() expected error on sync failure")
		}
		if !strings.Contains(err.Error(), "failed to sync temp config file") {
			t.Errorf("error = %q, want 'failed to sync temp config file'", err.Error())
		}
	})

	t.Run("chmod error", func(t *testing.T) {
		tmpDir := t.TempDir()
		mock := &mockAtomicFile{chmodErr: errors.New("chmod failed")}
		err := cfg.saveWith(filepath.Join(tmpDir, "config.yaml"), newMockCreateTemp(tmpDir, mock))
		if err == nil {
			t.Fatal("saveWith() expected error on chmod failure")
		}
		if !strings.Contains(err.Error(), "failed to set config file permissions") {
			t.Errorf("error = %q, want 'failed to set config file permissions'", err.Error())
		}
	})

	t.Run("close error", func(t *testing.T) {
		tmpDir := t.TempDir()
		mock := &mockAtomicFile{closeErr: errors.New("close failed")}
		err := cfg.saveWith(filepath.Join(tmpDir, "config.yaml"), newMockCreateTemp(tmpDir, mock))
		if err == nil {
			t.Fatal("saveWith() expected error on close failure")
		}
		if !strings.Contains(err.Error(), "failed to close temp config file") {
			t.Errorf("error = %q, want 'failed to close temp config file'", err.Error())
		}
	})

	t.Run("createTemp error", func(t *testing.T) {
		failCreate := func(dir, pattern string) (atomicFile, error) {
			return nil, errors.New("createTemp failed")
		}
		err := cfg.saveWith("/tmp/config.yaml", failCreate)
		if err == nil {
			t.Fatal("saveWith() expected error when createTemp fails")
		}
		if !strings.Contains(err.Error(), "failed to create temp config file") {
			t.Errorf("error = %q, want 'failed to create temp config file'", err.Error())
		}
	})
}

// FuzzLoadConfig fuzz tests the YAML config loading path with arbitrary input.
//
// Invariants verified:
//   - No panics on any input
//   - If LoadConfig returns a non-nil *Config without error, the config is valid
//   - If LoadConfig returns an error, cfg is nil
func FuzzLoadConfig(f *testing.F) {
	seeds := []string{
		`max_download_retries: 3
download_retry_delay_seconds: 15
streamers:
  - id: a
    platform: HUYA
    url: http://example.invalid/a
    activated: true
`,
		`max_download_retries: 0
download_retry_delay_seconds: 15
`,
		"not: valid: yaml: [",
		"{{{invalid",
		"---\n- - -\n  broken",
		"",
		"   \n\n\t  ",
		"streamers: true",
		"streamers: [1, 2, 3]",
		`streamers:
  - id: a
    platform: TWITCH
    url: u
`,
		"\x00\x01\x02\x03",
		"\xff\xfe\xfd",
		"a: &a\n  b: *a\n",
	}

	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data string) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "fuzz_config.yaml")
		if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
			t.Fatalf("failed to write temp config file: %v", err)
		}

		cfg, err := LoadConfig(configPath)

		if err == nil && cfg == nil {
			t.Error("LoadConfig returned nil config without error")
		}
		if err != nil && cfg != nil {
			t.Errorf("LoadConfig returned non-nil config with error: %v", err)
		}
		if err == nil && cfg != nil {
			if validErr := cfg.Validate(); validErr != nil {
				t.Errorf("LoadConfig returned config that fails validation: %v", validErr)
			}
			_ = cfg.ActivatedStreamers()
		}
	})
}
