package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"

	"webchat/backend/internal/config"
)

// Settings are the user-adjustable knobs the retrieval pipeline reads on every turn.
type Settings struct {
	AutoSearch  bool   `json:"autoSearch"`
	ResultLimit int    `json:"resultLimit"`
	BackendURL  string `json:"backendUrl"`
	APIStyle    string `json:"apiStyle"`
	Model       string `json:"model"`
}

// Validate checks the result limit range and the backend API style.
func (s Settings) Validate() error {
	if s.ResultLimit < 1 || s.ResultLimit > 12 {
		return fmt.Errorf("result limit must be between 1 and 12, got %d", s.ResultLimit)
	}
	if s.APIStyle != config.APIStyleNative && s.APIStyle != config.APIStyleOpenAI {
		return fmt.Errorf("api style must be %q or %q, got %q", config.APIStyleNative, config.APIStyleOpenAI, s.APIStyle)
	}
	if strings.TrimSpace(s.BackendURL) == "" {
		return errors.New("backend url is required")
	}
	return nil
}

type Provider interface {
	Current(ctx context.Context) (Settings, error)
}

// Static always returns the same settings.
type Static Settings

func FromConfig(cfg config.Config) Static {
	return Static{
		AutoSearch:  cfg.AutoSearch,
		ResultLimit: cfg.ResultLimit,
		BackendURL:  cfg.BackendBaseURL,
		APIStyle:    cfg.BackendAPIStyle,
		Model:       cfg.DefaultModel,
	}
}

func (s Static) Current(context.Context) (Settings, error) {
	return Settings(s), nil
}

// fileSettings mirrors Settings with optional fields so that a YAML file only
// overrides what it names.
type fileSettings struct {
	AutoSearch  *bool   `yaml:"auto_search"`
	ResultLimit *int    `yaml:"result_limit"`
	BackendURL  *string `yaml:"backend_url"`
	APIStyle    *string `yaml:"api_style"`
	Model       *string `yaml:"model"`
}

// File layers a YAML settings file over a base. The file is re-read only when
// its modification time changes, so edits apply without a restart.
type File struct {
	path string
	base Settings

	mu      sync.Mutex
	modTime time.Time
	cached  Settings
	loaded  bool
}

func NewFile(path string, base Settings) *File {
	return &File{path: path, base: base}
}

// Current returns the merged settings. A missing file yields the base
// settings; an unreadable or invalid file is an error.
func (f *File) Current(context.Context) (Settings, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return f.base, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("stat settings file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded && info.ModTime().Equal(f.modTime) {
		return f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	merged, err := merge(f.base, data)
	if err != nil {
		return Settings{}, err
	}

	f.cached = merged
	f.modTime = info.ModTime()
	f.loaded = true
	return merged, nil
}

func merge(base Settings, data []byte) (Settings, error) {
	var overrides fileSettings
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Settings{}, fmt.Errorf("parse settings file: %w", err)
	}

	out := base
	if overrides.AutoSearch != nil {
		out.AutoSearch = *overrides.AutoSearch
	}
	if overrides.ResultLimit != nil {
		out.ResultLimit = *overrides.ResultLimit
	}
	if overrides.BackendURL != nil {
		out.BackendURL = strings.TrimRight(strings.TrimSpace(*overrides.BackendURL), "/")
	}
	if overrides.APIStyle != nil {
		out.APIStyle = strings.ToLower(strings.TrimSpace(*overrides.APIStyle))
	}
	if overrides.Model != nil {
		out.Model = strings.TrimSpace(*overrides.Model)
	}
	if err := out.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return out, nil
}
