// Package config loads lexclean run settings from a YAML file, a .env file,
// and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/coolbeans/lexclean/pkg/citation"
)

const (
	configPathEnv      = "LEXCLEAN_CONFIG"
	inputEnv           = "LEXCLEAN_INPUT"
	outputEnv          = "LEXCLEAN_OUTPUT"
	lexiconEnv         = "LEXCLEAN_LEXICON"
	logLevelEnv        = "LEXCLEAN_LOG_LEVEL"
	articleOnlyEnv     = "LEXCLEAN_ARTICLE_ONLY_MAX_LEN"
	databaseDSNEnv     = "DATABASE_DSN"
	publishEndpointEnv = "LEXCLEAN_PUBLISH_ENDPOINT"
	publishBucketEnv   = "LEXCLEAN_PUBLISH_BUCKET"
	publishAccessEnv   = "LEXCLEAN_PUBLISH_ACCESS_KEY"
	publishSecretEnv   = "LEXCLEAN_PUBLISH_SECRET_KEY"
)

// Config holds every setting of a preprocessing run.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Rules   RulesConfig   `yaml:"rules"`
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
	Review  ReviewConfig  `yaml:"review"`
	Publish PublishConfig `yaml:"publish"`
	Watch   WatchConfig   `yaml:"watch"`
}

// PathsConfig names the run's input and every file it writes.
type PathsConfig struct {
	Input           string `yaml:"input"`
	Output          string `yaml:"output"`
	Failures        string `yaml:"failures"`
	Transformations string `yaml:"transformations"`
	Rejected        string `yaml:"rejected"`
	Review          string `yaml:"review"`
}

// RulesConfig selects the lexicon and the classifier threshold.
type RulesConfig struct {
	// Lexicon is a YAML lexicon file; empty uses the built-in tables.
	Lexicon string `yaml:"lexicon"`

	// ArticleOnlyMaxLen is the classifier's article-only length bound.
	ArticleOnlyMaxLen int `yaml:"articleOnlyMaxLen"`

	// ReferenceTable is the abbreviation triplets JSON used to resolve law
	// references to registry numbers in reports.
	ReferenceTable string `yaml:"referenceTable"`
}

// ReportConfig controls the end-of-run report and progress logging.
type ReportConfig struct {
	ExampleLimit  int `yaml:"exampleLimit"`
	ProgressEvery int `yaml:"progressEvery"`
	ContextWindow int `yaml:"contextWindow"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ReviewConfig describes the Postgres review queue. Empty DSN disables it.
type ReviewConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// PublishConfig describes the S3-compatible bucket that receives run
// artifacts. Empty endpoint or bucket disables publishing.
type PublishConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
}

// WatchConfig controls the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// ReviewEnabled reports whether a review database is configured.
func (c Config) ReviewEnabled() bool {
	return c.Review.DSN != ""
}

// PublishEnabled reports whether an artifact bucket is configured.
func (c Config) PublishEnabled() bool {
	return c.Publish.Endpoint != "" && c.Publish.Bucket != ""
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			Input:           "CSVs/data_filtered.csv",
			Output:          "CSVs/data_filtered_citations_changed.csv",
			Failures:        "logs/preprocessing_failures.jsonl",
			Transformations: "logs/citation_transformations.txt",
			Rejected:        "logs/rejected_citations.jsonl",
			Review:          "logs/review_citations.jsonl",
		},
		Rules: RulesConfig{
			ArticleOnlyMaxLen: citation.DefaultArticleOnlyMaxLen,
		},
		Report: ReportConfig{
			ExampleLimit:  20,
			ProgressEvery: 1000,
			ContextWindow: 300,
		},
		Logging: LoggingConfig{Level: "info"},
		Review:  ReviewConfig{Table: "citation_review"},
		Publish: PublishConfig{Prefix: "lexclean", UseSSL: true},
		Watch:   WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// Load reads .env (if present), then the YAML file at path (or at
// $LEXCLEAN_CONFIG when path is empty), merges it over the defaults, and
// applies environment overrides.
func Load(path string) (Config, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(inputEnv); v != "" {
		c.Paths.Input = v
	}
	if v := os.Getenv(outputEnv); v != "" {
		c.Paths.Output = v
	}
	if v := os.Getenv(lexiconEnv); v != "" {
		c.Rules.Lexicon = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(articleOnlyEnv)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", articleOnlyEnv, err)
		}
		c.Rules.ArticleOnlyMaxLen = n
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Review.DSN = v
	}
	if v := os.Getenv(publishEndpointEnv); v != "" {
		c.Publish.Endpoint = v
	}
	if v := os.Getenv(publishBucketEnv); v != "" {
		c.Publish.Bucket = v
	}
	if v := os.Getenv(publishAccessEnv); v != "" {
		c.Publish.AccessKeyID = v
	}
	if v := os.Getenv(publishSecretEnv); v != "" {
		c.Publish.SecretAccessKey = v
	}
	return nil
}

// Validate checks paths and ranges before a run starts.
func (c Config) Validate() error {
	if c.Paths.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if c.Paths.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if c.Paths.Input == c.Paths.Output {
		return fmt.Errorf("output path must differ from input path %s", c.Paths.Input)
	}
	if c.Paths.Failures == "" || c.Paths.Transformations == "" {
		return fmt.Errorf("failures and transformations log paths are required")
	}
	maxLen := c.Rules.ArticleOnlyMaxLen
	if maxLen < citation.MinArticleOnlyMaxLen || maxLen > citation.MaxArticleOnlyMaxLen {
		return fmt.Errorf("rules.articleOnlyMaxLen %d outside [%d, %d]",
			maxLen, citation.MinArticleOnlyMaxLen, citation.MaxArticleOnlyMaxLen)
	}
	if c.Report.ExampleLimit < 0 || c.Report.ProgressEvery < 0 || c.Report.ContextWindow < 0 {
		return fmt.Errorf("report settings must not be negative")
	}
	if c.PublishEnabled() && (c.Publish.AccessKeyID == "" || c.Publish.SecretAccessKey == "") {
		return fmt.Errorf("publish credentials are required when publishing is enabled")
	}
	return nil
}
