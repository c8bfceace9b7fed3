// Package config resolves storyloom settings from flags, STORYLOOM_*
// environment variables, a YAML file, values saved with `storyloom config
// set`, and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable; dots in keys become
// underscores (STORYLOOM_OPENAI_API_KEY).
const EnvPrefix = "STORYLOOM"

var defaults = map[string]any{
	"provider":          "openai",
	"language":          "pl",
	"text_model":        "gpt-4o",
	"image_model":       "dall-e-3",
	"embedding_model":   "text-embedding-3-small",
	"timeout":           "90s",
	"data_dir":          "~/.storyloom",
	"openai.api_key":    "",
	"openai.base_url":   "",
	"gemini.api_key":    "",
	"anthropic.api_key": "",
	"ollama.host":       "",
	"cli.path":          "",
	"vector.backend":    "sqlite",
	"vector.url":        "",
	"vector.api_key":    "",
	"vector.collection": "stories",
	"vector.dimension":  1536,
}

// Providers and vector backends accepted by Validate.
var (
	Providers      = []string{"openai", "ollama", "gemini", "anthropic", "cli", "stub"}
	VectorBackends = []string{"sqlite", "chromem", "qdrant"}
)

type Settings struct {
	Provider       string        `mapstructure:"provider"`
	Language       string        `mapstructure:"language"`
	TextModel      string        `mapstructure:"text_model"`
	ImageModel     string        `mapstructure:"image_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	DataDir        string        `mapstructure:"data_dir"`

	OpenAI struct {
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"openai"`
	Gemini struct {
		APIKey string `mapstructure:"api_key"`
	} `mapstructure:"gemini"`
	Anthropic struct {
		APIKey string `mapstructure:"api_key"`
	} `mapstructure:"anthropic"`
	Ollama struct {
		Host string `mapstructure:"host"`
	} `mapstructure:"ollama"`
	CLI struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"cli"`

	Vector VectorSettings `mapstructure:"vector"`
}

type VectorSettings struct {
	Backend    string `mapstructure:"backend"`
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

// StoredSource lists values saved with `config set`.
type StoredSource interface {
	ListConfig() (map[string]string, error)
}

// Opener turns a stored, possibly sealed, value back into plaintext.
type Opener interface {
	Open(stored string) (string, error)
}

// New returns a viper instance with defaults and environment binding. Flags
// are bound onto it by the caller before Load.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (configFile, or storyloom.yaml in the working
// directory or ~/.config/storyloom) and layers stored values under it.
// stored and opener may be nil.
func Load(v *viper.Viper, configFile string, stored StoredSource, opener Opener) (*Settings, error) {
	if stored != nil {
		values, err := stored.ListConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to read stored configuration: %w", err)
		}
		for k, raw := range values {
			val := raw
			if opener != nil {
				if val, err = opener.Open(raw); err != nil {
					return nil, fmt.Errorf("failed to open stored value for %s: %w", k, err)
				}
			}
			// Stored values replace defaults and lose to everything else.
			v.SetDefault(k, val)
		}
	}

	if err := readFile(v, configFile); err != nil {
		return nil, err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	s.DataDir = expandHome(s.DataDir)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DataDir resolves data_dir from flags, environment, the config file and
// defaults. The store lives there, so stored values cannot move it.
func DataDir(v *viper.Viper, configFile string) (string, error) {
	if err := readFile(v, configFile); err != nil {
		return "", err
	}
	dir := expandHome(v.GetString("data_dir"))
	if dir == "" {
		return "", errors.New("data_dir must be set")
	}
	return dir, nil
}

// Unstorable keys cannot be saved with `config set`.
var Unstorable = []string{"data_dir"}

func readFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("storyloom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "storyloom"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// Validate checks enumerations and the values each backend needs.
func (s *Settings) Validate() error {
	var errs []error
	if !slices.Contains(Providers, s.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q (one of %s)", s.Provider, strings.Join(Providers, ", ")))
	}
	if s.Language != "pl" && s.Language != "en" {
		errs = append(errs, fmt.Errorf("unsupported language %q (pl or en)", s.Language))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if s.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if !slices.Contains(VectorBackends, s.Vector.Backend) {
		errs = append(errs, fmt.Errorf("unknown vector backend %q (one of %s)",
			s.Vector.Backend, strings.Join(VectorBackends, ", ")))
	}
	if s.Vector.Backend == "qdrant" && s.Vector.URL == "" {
		errs = append(errs, errors.New("vector.url is required for the qdrant backend"))
	}
	if s.Vector.Collection == "" {
		errs = append(errs, errors.New("vector.collection must be set"))
	}
	if s.Vector.Dimension <= 0 {
		errs = append(errs, errors.New("vector.dimension must be positive"))
	}
	return errors.Join(errs...)
}

// Known reports whether key is a recognised setting.
func Known(key string) bool {
	_, ok := defaults[strings.ToLower(key)]
	return ok
}

// Keys returns every recognised setting, sorted.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DBPath is the SQLite file holding sessions, artifacts and settings.
func (s *Settings) DBPath() string {
	return filepath.Join(s.DataDir, "storyloom.db")
}

// ArtifactDir is where exported files are written.
func (s *Settings) ArtifactDir() string {
	return filepath.Join(s.DataDir, "artifacts")
}

// VectorPath is the local vector store location for the sqlite and chromem
// backends.
func (s *Settings) VectorPath() string {
	if s.Vector.Backend == "chromem" {
		return filepath.Join(s.DataDir, "chromem")
	}
	return filepath.Join(s.DataDir, "vectors.db")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
