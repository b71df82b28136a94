package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"opsagent/internal/domain"
)

// Format is the syntax of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatForPath picks the format from the file extension, defaulting to YAML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("catalog")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	agent := domain.DefaultAgentConfig()
	v.SetDefault("agent.maxIterations", agent.MaxIterations)
	v.SetDefault("agent.firstStepTimeoutSeconds", agent.FirstStepTimeoutSeconds)
	v.SetDefault("agent.stepTimeoutSeconds", agent.StepTimeoutSeconds)
	v.SetDefault("agent.historyTurns", agent.HistoryTurns)
	v.SetDefault("llm.provider", domain.DefaultLLMProvider)
	v.SetDefault("llm.apiKeyEnvVar", domain.DefaultLLMAPIKeyEnvVar)
	v.SetDefault("store.path", domain.DefaultStorePath)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
	v.SetDefault("observability.metrics", true)
	v.SetDefault("observability.healthz", true)
	v.SetDefault("strictToolNames", true)
}

type rawConfig struct {
	Caches          map[string]rawCacheConfig     `mapstructure:"caches"`
	RateLimits      map[string]rawRateLimitConfig `mapstructure:"rateLimits"`
	Breakers        map[string]rawBreakerConfig   `mapstructure:"breakers"`
	Retries         map[string]rawRetryConfig     `mapstructure:"retries"`
	Agent           rawAgentConfig                `mapstructure:"agent"`
	LLM             rawLLMConfig                  `mapstructure:"llm"`
	Store           rawStoreConfig                `mapstructure:"store"`
	Observability   rawObservabilityConfig        `mapstructure:"observability"`
	Accounts        []rawAccount                  `mapstructure:"accounts"`
	StrictToolNames bool                          `mapstructure:"strictToolNames"`
}

type rawCacheConfig struct {
	TTLSeconds   int `mapstructure:"ttlSeconds"`
	Capacity     int `mapstructure:"capacity"`
	SweepSeconds int `mapstructure:"sweepSeconds"`
}

type rawRateLimitConfig struct {
	WindowSeconds int `mapstructure:"windowSeconds"`
	Max           int `mapstructure:"max"`
}

type rawBreakerConfig struct {
	FailureThreshold int `mapstructure:"failureThreshold"`
	OpenSeconds      int `mapstructure:"openSeconds"`
}

type rawRetryConfig struct {
	MaxAttempts    int     `mapstructure:"maxAttempts"`
	InitialDelayMs int     `mapstructure:"initialDelayMs"`
	MaxDelayMs     int     `mapstructure:"maxDelayMs"`
	Multiplier     float64 `mapstructure:"multiplier"`
}

type rawAgentConfig struct {
	MaxIterations           int    `mapstructure:"maxIterations"`
	FirstStepTimeoutSeconds int    `mapstructure:"firstStepTimeoutSeconds"`
	StepTimeoutSeconds      int    `mapstructure:"stepTimeoutSeconds"`
	HistoryTurns            int    `mapstructure:"historyTurns"`
	SystemPrompt            string `mapstructure:"systemPrompt"`
}

type rawLLMConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"apiKey"`
	APIKeyEnvVar string `mapstructure:"apiKeyEnvVar"`
	BaseURL      string `mapstructure:"baseURL"`
}

type rawStoreConfig struct {
	Path string `mapstructure:"path"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
	Metrics       bool   `mapstructure:"metrics"`
	Healthz       bool   `mapstructure:"healthz"`
}

type rawAccount struct {
	ID        string             `mapstructure:"id"`
	Provider  string             `mapstructure:"provider"`
	Resources []rawResource      `mapstructure:"resources"`
	Billing   []rawBillingRecord `mapstructure:"billing"`
}

type rawResource struct {
	ID     string            `mapstructure:"id"`
	Type   string            `mapstructure:"type"`
	Name   string            `mapstructure:"name"`
	Region string            `mapstructure:"region"`
	State  string            `mapstructure:"state"`
	Tags   map[string]string `mapstructure:"tags"`
}

type rawBillingRecord struct {
	ID         string  `mapstructure:"id"`
	ResourceID string  `mapstructure:"resourceId"`
	Service    string  `mapstructure:"service"`
	Date       any     `mapstructure:"date"`
	Amount     float64 `mapstructure:"amount"`
	Currency   string  `mapstructure:"currency"`
}

// Load reads, expands, decodes and validates the config file at path.
func (l *Loader) Load(ctx context.Context, path string) (domain.RuntimeConfig, error) {
	if path == "" {
		return domain.RuntimeConfig{}, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RuntimeConfig{}, fmt.Errorf("read config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.RuntimeConfig{}, err
	}
	cfg, err := l.Parse(data, FormatForPath(path))
	if err != nil {
		return domain.RuntimeConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes in the given format.
func (l *Loader) Parse(data []byte, format Format) (domain.RuntimeConfig, error) {
	expander := newEnvExpander()
	v := newConfigViper()

	switch format {
	case FormatTOML, FormatJSON:
		doc := map[string]any{}
		var err error
		if format == FormatTOML {
			err = toml.Unmarshal(data, &doc)
		} else {
			err = json.Unmarshal(data, &doc)
		}
		if err != nil {
			return domain.RuntimeConfig{}, fmt.Errorf("parse config: %w", err)
		}
		expander.expandValue(doc)
		if err := v.MergeConfigMap(doc); err != nil {
			return domain.RuntimeConfig{}, fmt.Errorf("parse config: %w", err)
		}
	default:
		expanded, err := expander.expandYAML(data)
		if err != nil {
			return domain.RuntimeConfig{}, err
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
			return domain.RuntimeConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if missing := expander.missingVars(); len(missing) > 0 {
		l.logger.Warn("missing environment variables in config", zap.Strings("missing", missing))
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.RuntimeConfig{}, fmt.Errorf("decode config: %w", err)
	}

	cfg, errs := normalizeConfig(raw)
	if len(errs) > 0 {
		return domain.RuntimeConfig{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

// DefaultRuntimeConfig is the config used when no file is given.
func DefaultRuntimeConfig() domain.RuntimeConfig {
	cfg, _ := normalizeConfig(rawConfig{
		Agent: rawAgentConfig{
			MaxIterations:           domain.DefaultAgentMaxIterations,
			FirstStepTimeoutSeconds: domain.DefaultAgentFirstStepTimeoutSeconds,
			StepTimeoutSeconds:      domain.DefaultAgentStepTimeoutSeconds,
			HistoryTurns:            domain.DefaultAgentHistoryTurns,
		},
		LLM:             rawLLMConfig{Provider: domain.DefaultLLMProvider, APIKeyEnvVar: domain.DefaultLLMAPIKeyEnvVar},
		Store:           rawStoreConfig{Path: domain.DefaultStorePath},
		Observability:   rawObservabilityConfig{ListenAddress: domain.DefaultObservabilityListenAddress, Metrics: true, Healthz: true},
		StrictToolNames: true,
	})
	return cfg
}

func normalizeConfig(raw rawConfig) (domain.RuntimeConfig, []string) {
	var errs []string

	caches := make(map[string]domain.CacheConfig, len(raw.Caches))
	for _, name := range sortedKeys(raw.Caches) {
		c := raw.Caches[name]
		def := domain.DefaultCacheConfig()
		if c.TTLSeconds < 0 {
			errs = append(errs, fmt.Sprintf("caches.%s.ttlSeconds must be >= 0", name))
		}
		if c.Capacity < 0 {
			errs = append(errs, fmt.Sprintf("caches.%s.capacity must be >= 0", name))
		}
		if c.SweepSeconds < 0 {
			errs = append(errs, fmt.Sprintf("caches.%s.sweepSeconds must be >= 0", name))
		}
		caches[name] = domain.CacheConfig{
			TTLSeconds:   orDefault(c.TTLSeconds, def.TTLSeconds),
			Capacity:     orDefault(c.Capacity, def.Capacity),
			SweepSeconds: orDefault(c.SweepSeconds, def.SweepSeconds),
		}
	}

	limits := make(map[string]domain.RateLimitConfig, len(raw.RateLimits))
	for _, name := range sortedKeys(raw.RateLimits) {
		c := raw.RateLimits[name]
		def := domain.DefaultRateLimitConfig()
		if c.WindowSeconds < 0 {
			errs = append(errs, fmt.Sprintf("rateLimits.%s.windowSeconds must be >= 0", name))
		}
		if c.Max < 0 {
			errs = append(errs, fmt.Sprintf("rateLimits.%s.max must be >= 0", name))
		}
		limits[name] = domain.RateLimitConfig{
			WindowSeconds: orDefault(c.WindowSeconds, def.WindowSeconds),
			Max:           orDefault(c.Max, def.Max),
		}
	}

	breakers := make(map[string]domain.BreakerConfig, len(raw.Breakers))
	for _, name := range sortedKeys(raw.Breakers) {
		c := raw.Breakers[name]
		def := domain.DefaultBreakerConfig()
		if c.FailureThreshold < 0 {
			errs = append(errs, fmt.Sprintf("breakers.%s.failureThreshold must be >= 0", name))
		}
		if c.OpenSeconds < 0 {
			errs = append(errs, fmt.Sprintf("breakers.%s.openSeconds must be >= 0", name))
		}
		breakers[name] = domain.BreakerConfig{
			FailureThreshold: orDefault(c.FailureThreshold, def.FailureThreshold),
			OpenSeconds:      orDefault(c.OpenSeconds, def.OpenSeconds),
		}
	}

	retries := make(map[string]domain.RetryConfig, len(raw.Retries))
	for _, name := range sortedKeys(raw.Retries) {
		c := raw.Retries[name]
		def := domain.DefaultRetryConfig()
		cfg := domain.RetryConfig{
			MaxAttempts:    orDefault(c.MaxAttempts, def.MaxAttempts),
			InitialDelayMs: orDefault(c.InitialDelayMs, def.InitialDelayMs),
			MaxDelayMs:     orDefault(c.MaxDelayMs, def.MaxDelayMs),
			Multiplier:     c.Multiplier,
		}
		if cfg.Multiplier == 0 {
			cfg.Multiplier = def.Multiplier
		}
		if c.MaxAttempts < 0 {
			errs = append(errs, fmt.Sprintf("retries.%s.maxAttempts must be >= 1", name))
		}
		if c.InitialDelayMs < 0 || c.MaxDelayMs < 0 {
			errs = append(errs, fmt.Sprintf("retries.%s delays must be >= 0", name))
		}
		if cfg.Multiplier < 1 {
			errs = append(errs, fmt.Sprintf("retries.%s.multiplier must be >= 1", name))
		}
		if cfg.MaxDelayMs < cfg.InitialDelayMs {
			errs = append(errs, fmt.Sprintf("retries.%s.maxDelayMs must be >= initialDelayMs", name))
		}
		retries[name] = cfg
	}

	agent := domain.AgentConfig{
		MaxIterations:           raw.Agent.MaxIterations,
		FirstStepTimeoutSeconds: raw.Agent.FirstStepTimeoutSeconds,
		StepTimeoutSeconds:      raw.Agent.StepTimeoutSeconds,
		HistoryTurns:            raw.Agent.HistoryTurns,
		SystemPrompt:            strings.TrimSpace(raw.Agent.SystemPrompt),
	}
	if agent.MaxIterations < 1 {
		errs = append(errs, "agent.maxIterations must be >= 1")
	}
	if agent.FirstStepTimeoutSeconds <= 0 {
		errs = append(errs, "agent.firstStepTimeoutSeconds must be > 0")
	}
	if agent.StepTimeoutSeconds <= 0 {
		errs = append(errs, "agent.stepTimeoutSeconds must be > 0")
	}
	if agent.HistoryTurns < 0 {
		errs = append(errs, "agent.historyTurns must be >= 0")
	}

	llm := domain.LLMConfig{
		Provider:     strings.ToLower(strings.TrimSpace(raw.LLM.Provider)),
		Model:        strings.TrimSpace(raw.LLM.Model),
		APIKey:       strings.TrimSpace(raw.LLM.APIKey),
		APIKeyEnvVar: strings.TrimSpace(raw.LLM.APIKeyEnvVar),
		BaseURL:      strings.TrimSpace(raw.LLM.BaseURL),
	}
	if llm.Provider == "" {
		llm.Provider = domain.DefaultLLMProvider
	}
	if llm.Provider != domain.DefaultLLMProvider {
		errs = append(errs, fmt.Sprintf("llm.provider must be %s", domain.DefaultLLMProvider))
	}

	observability := domain.ObservabilityConfig{
		ListenAddress: strings.TrimSpace(raw.Observability.ListenAddress),
		Metrics:       raw.Observability.Metrics,
		Healthz:       raw.Observability.Healthz,
	}
	if observability.ListenAddress == "" {
		observability.ListenAddress = domain.DefaultObservabilityListenAddress
	}
	if _, _, err := net.SplitHostPort(observability.ListenAddress); err != nil {
		errs = append(errs, fmt.Sprintf("observability.listenAddress %q must be host:port", observability.ListenAddress))
	}

	storePath := strings.TrimSpace(raw.Store.Path)
	if storePath == "" {
		storePath = domain.DefaultStorePath
	}

	accounts, accountErrs := normalizeAccounts(raw.Accounts)
	errs = append(errs, accountErrs...)

	return domain.RuntimeConfig{
		Caches:          caches,
		RateLimits:      limits,
		Breakers:        breakers,
		Retries:         retries,
		Agent:           agent,
		LLM:             llm,
		Store:           domain.StoreConfig{Path: storePath},
		Observability:   observability,
		Accounts:        accounts,
		StrictToolNames: raw.StrictToolNames,
	}, errs
}

func normalizeAccounts(raw []rawAccount) ([]domain.ProviderAccount, []string) {
	var errs []string
	seen := make(map[string]struct{}, len(raw))
	out := make([]domain.ProviderAccount, 0, len(raw))
	for i, acct := range raw {
		id := strings.TrimSpace(acct.ID)
		if id == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d]: id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Sprintf("accounts[%d]: duplicate id %q", i, id))
			continue
		}
		seen[id] = struct{}{}

		account := domain.ProviderAccount{ID: id, Provider: strings.TrimSpace(acct.Provider)}
		for j, res := range acct.Resources {
			if strings.TrimSpace(res.ID) == "" {
				errs = append(errs, fmt.Sprintf("accounts[%d].resources[%d]: id is required", i, j))
				continue
			}
			account.Resources = append(account.Resources, domain.CloudResource{
				ID:        res.ID,
				AccountID: id,
				Provider:  account.Provider,
				Type:      res.Type,
				Name:      res.Name,
				Region:    res.Region,
				State:     res.State,
				Tags:      res.Tags,
			})
		}
		for j, rec := range acct.Billing {
			if strings.TrimSpace(rec.ID) == "" {
				errs = append(errs, fmt.Sprintf("accounts[%d].billing[%d]: id is required", i, j))
				continue
			}
			date, err := parseDate(rec.Date)
			if err != nil {
				errs = append(errs, fmt.Sprintf("accounts[%d].billing[%d]: date %v must be YYYY-MM-DD or RFC3339", i, j, rec.Date))
				continue
			}
			currency := strings.ToUpper(strings.TrimSpace(rec.Currency))
			if currency == "" {
				currency = "USD"
			}
			account.Billing = append(account.Billing, domain.BillingRecord{
				ID:         rec.ID,
				AccountID:  id,
				ResourceID: rec.ResourceID,
				Service:    rec.Service,
				Date:       date,
				Amount:     rec.Amount,
				Currency:   currency,
			})
		}
		out = append(out, account)
	}
	return out, errs
}

// parseDate accepts quoted strings as well as the native date values YAML
// and TOML decoders produce for bare dates.
func parseDate(value any) (time.Time, error) {
	var text string
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		text = v
	case fmt.Stringer:
		text = v.String()
	default:
		return time.Time{}, fmt.Errorf("unsupported date %T", value)
	}
	text = strings.TrimSpace(text)
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
