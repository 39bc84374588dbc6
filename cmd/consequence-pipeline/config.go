// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/consequence-pipeline/internal/httputil"
	"github.com/pdiddy/consequence-pipeline/internal/ingest"
	"github.com/pdiddy/consequence-pipeline/internal/oracle"
	"github.com/pdiddy/consequence-pipeline/internal/pipeline"
	"github.com/pdiddy/consequence-pipeline/internal/publish"
	"github.com/pdiddy/consequence-pipeline/internal/secrets"
	"github.com/pdiddy/consequence-pipeline/internal/sources"
	"github.com/pdiddy/consequence-pipeline/internal/stage"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// topicsFileKey names a YAML topic list that replaces sources.topics.
const topicsFileKey = "sources.topics_file"

// optionalKeys are omitted from the marshalled defaults but must be known
// to viper for environment overrides to apply.
var optionalKeys = []string{
	"sources.guardian.api_key", "sources.nyt.api_key",
	"oracle.base_url", "oracle.api_key",
	"publish.dsn", "publish.url", "publish.key",
}

// registerDefaults flattens DefaultPipelineConfig into viper defaults so
// every key can be overridden from the config file or the environment.
func registerDefaults(v *viper.Viper) error {
	tree, err := defaultTree()
	if err != nil {
		return err
	}
	setDefaults(v, "", tree)
	v.SetDefault(topicsFileKey, "")
	for _, key := range optionalKeys {
		v.SetDefault(key, "")
	}
	return nil
}

func defaultTree() (map[string]any, error) {
	raw, err := yaml.Marshal(types.DefaultPipelineConfig())
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// loadConfig decodes viper's merged settings onto the defaults and fills
// credentials from s where the config left them empty.
func loadConfig(v *viper.Viper, s secrets.Secrets) (types.PipelineConfig, error) {
	cfg := types.DefaultPipelineConfig()

	settings := v.AllSettings()
	if defaults, err := defaultTree(); err == nil {
		coerce(settings, defaults)
	}
	raw, err := yaml.Marshal(settings)
	if err != nil {
		return cfg, fmt.Errorf("encoding settings: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding settings: %w", err)
	}

	if path := v.GetString(topicsFileKey); path != "" {
		topics, err := ingest.LoadTopics(path)
		if err != nil {
			return cfg, err
		}
		cfg.Sources.Topics = topics
	}
	cfg.Sources.Topics = ingest.CleanTopics(cfg.Sources.Topics)

	cfg.Sources.Guardian.APIKey = s.Get(secrets.GuardianAPIKey, cfg.Sources.Guardian.APIKey)
	cfg.Sources.NYT.APIKey = s.Get(secrets.NYTAPIKey, cfg.Sources.NYT.APIKey)
	cfg.Oracle.APIKey = s.Get(secrets.OpenAIAPIKey, cfg.Oracle.APIKey)
	cfg.Publish.Key = s.Get(secrets.SupabaseKey, cfg.Publish.Key)
	cfg.Publish.DSN = s.Get(secrets.DatabaseDSN, cfg.Publish.DSN)
	return cfg, nil
}

// coerce converts string values, as they arrive from the environment, to
// the kind of the default at the same key.
func coerce(settings, defaults map[string]any) {
	for k, val := range settings {
		def := defaults[k]
		switch v := val.(type) {
		case map[string]any:
			if d, ok := def.(map[string]any); ok {
				coerce(v, d)
			}
		case string:
			switch def.(type) {
			case []any:
				var items []any
				for _, part := range strings.Split(v, ",") {
					if part = strings.TrimSpace(part); part != "" {
						items = append(items, part)
					}
				}
				settings[k] = items
			case int, float64, bool:
				var x any
				if err := yaml.Unmarshal([]byte(v), &x); err == nil && x != nil {
					settings[k] = x
				}
			}
		}
	}
}

func logConfig(v *viper.Viper) types.LoggingConfig {
	return types.LoggingConfig{
		Level:  v.GetString("logging.level"),
		Format: v.GetString("logging.format"),
	}
}

// buildAdapters returns the enabled adapters in the fixed order arXiv,
// Guardian, NYT. Keyed sources without a key are skipped with a warning.
func buildAdapters(cfg types.SourcesConfig, client *http.Client, logger *slog.Logger) []sources.Adapter {
	var adapters []sources.Adapter
	if cfg.Arxiv.Enabled {
		adapters = append(adapters, sources.NewArxivAdapter(client, cfg.HTTPConfig, cfg.Arxiv, logger))
	}
	if cfg.Guardian.Enabled {
		if cfg.Guardian.APIKey == "" {
			logger.Warn("guardian source disabled: no API key", "secret", secrets.GuardianAPIKey)
		} else {
			adapters = append(adapters, sources.NewGuardianAdapter(client, cfg.HTTPConfig, cfg.Guardian, logger))
		}
	}
	if cfg.NYT.Enabled {
		if cfg.NYT.APIKey == "" {
			logger.Warn("nyt source disabled: no API key", "secret", secrets.NYTAPIKey)
		} else {
			extractor := &sources.ReadabilityExtractor{Client: client, UserAgent: cfg.UserAgent}
			adapters = append(adapters, sources.NewNYTAdapter(client, cfg.HTTPConfig, cfg.NYT, extractor, logger))
		}
	}
	return adapters
}

// openBackend opens the production store. In dry-run mode nothing is
// written; existence checks still go to the configured store when it can
// be reached.
func openBackend(cfg types.PublishConfig, dryRun bool, logger *slog.Logger) (publish.Backend, error) {
	if !dryRun || cfg.Kind == types.StoreDryRun {
		return publish.Open(cfg, logger)
	}
	dry := &publish.DryRunStore{Logger: logger}
	lookup, err := publish.Open(cfg, logger)
	if err != nil {
		logger.Warn("dry run without production lookups", "error", err)
		return dry, nil
	}
	dry.Lookup = lookup
	return &lookupCloser{DryRunStore: dry, lookup: lookup}, nil
}

// lookupCloser closes the store a dry run reads from.
type lookupCloser struct {
	*publish.DryRunStore
	lookup publish.Backend
}

func (l *lookupCloser) Close() error { return l.lookup.Close() }

// buildRunner wires every component from cfg. The returned close function
// releases the production store.
func buildRunner(cfg types.PipelineConfig, dryRun bool, logger *slog.Logger) (*pipeline.Runner, func() error, error) {
	if len(cfg.Sources.Topics) == 0 {
		return nil, nil, fmt.Errorf("no topics configured")
	}

	client := httputil.NewClient(cfg.Sources.HTTPConfig)
	adapters := buildAdapters(cfg.Sources, client, logger)
	if len(adapters) == 0 {
		return nil, nil, fmt.Errorf("no sources enabled")
	}

	o, err := oracle.NewOpenAI(cfg.Oracle, logger)
	if err != nil {
		return nil, nil, err
	}

	backend, err := openBackend(cfg.Publish, dryRun, logger)
	if err != nil {
		return nil, nil, err
	}

	r := &pipeline.Runner{
		OpenStaging: pipeline.OpenStaging(cfg.Staging, logger),
		Ingest: &ingest.Coordinator{
			Adapters:   adapters,
			Topics:     cfg.Sources.Topics,
			WindowDays: cfg.Sources.WindowDays,
			Logger:     logger,
		},
		Processors:  stage.Processors(o, cfg.Stages, cfg.Sources.Topics),
		Publisher:   &publish.Syncer{Store: backend, Logger: logger},
		MaxAttempts: cfg.Stages.MaxAttempts,
		Backoff:     cfg.Stages.RetryBackoff,
		Logger:      logger,
	}
	return r, backend.Close, nil
}
