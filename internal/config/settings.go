package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TRACKLETS"

// Annotation store backends.
const (
	BackendPostgres = "postgres"
	BackendTator    = "tator"
)

// DefaultDatabaseURL is used when neither a flag nor the environment names a database.
const DefaultDatabaseURL = "postgres://localhost:5432/tracklets"

// TatorSettings locate the remote annotation service.
type TatorSettings struct {
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Project int64  `mapstructure:"project"`
}

// Settings are the runtime settings shared by all subcommands.
type Settings struct {
	DatabaseURL string        `mapstructure:"db"`
	Backend     string        `mapstructure:"backend"`
	Tator       TatorSettings `mapstructure:"tator"`
	// WorkerScript is the Python model worker, Python the interpreter running it
	WorkerScript string `mapstructure:"worker"`
	Python       string `mapstructure:"python"`
	LogLevel     string `mapstructure:"log-level"`
	LogFormat    string `mapstructure:"log-format"`
	OutputDir    string `mapstructure:"output-dir"`
}

// SetDefaults registers every key so environment overrides are picked up
// by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db", "")
	v.SetDefault("backend", BackendPostgres)
	v.SetDefault("tator.url", "https://cloud.tator.io")
	v.SetDefault("tator.token", "")
	v.SetDefault("tator.project", 0)
	v.SetDefault("worker", "python/comparator.py")
	v.SetDefault("python", "python3")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("output-dir", "work")
}

// Load resolves settings from flags bound on v, TRACKLETS_* variables and
// defaults, in that order of precedence.
func Load(v *viper.Viper) (*Settings, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error decoding settings: %w", err)
	}

	if s.DatabaseURL == "" {
		s.DatabaseURL = PostgresURLFromEnv(os.Getenv)
	}

	switch s.Backend {
	case BackendPostgres:
	case BackendTator:
		if s.Tator.Token == "" || s.Tator.Project == 0 {
			return nil, fmt.Errorf("the tator backend needs a token and a project")
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.Backend)
	}

	return &s, nil
}

// PostgresURLFromEnv builds a connection string from the POSTGRES_*
// variables, falling back to DefaultDatabaseURL when POSTGRES_HOST is unset.
func PostgresURLFromEnv(getenv func(string) string) string {
	host := getenv("POSTGRES_HOST")
	if host == "" {
		return DefaultDatabaseURL
	}
	port := getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"), host, port, getenv("POSTGRES_DB"))
}
