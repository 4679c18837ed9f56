package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
	"github.com/vietddude/govwatch/internal/source"
)

// DefaultSnapshotEndpoint is the public Snapshot hub.
const DefaultSnapshotEndpoint = "https://hub.snapshot.org/graphql"

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Chain.Name == "" {
		c.Chain.Name = "ethereum"
	}
	if c.Chain.SafetyLag == 0 {
		c.Chain.SafetyLag = 10
	}
	if c.Chain.BlockTime == 0 {
		c.Chain.BlockTime = 12 * time.Second
	}
	if c.Chain.HeadCacheTTL == 0 {
		c.Chain.HeadCacheTTL = 3 * time.Second
	}
	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = 60 * time.Second
	}

	if c.Snapshot.Endpoint == "" {
		c.Snapshot.Endpoint = DefaultSnapshotEndpoint
	}
	if c.Snapshot.RequestTimeout == 0 {
		c.Snapshot.RequestTimeout = 60 * time.Second
	}

	s := &c.Scheduler
	if s.Tick == 0 {
		s.Tick = time.Second
	}
	if s.QueueCapacity == 0 {
		s.QueueCapacity = 64
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	if s.LockTTL == 0 {
		s.LockTTL = 2 * time.Minute
	}
	if s.VoterReload == 0 {
		s.VoterReload = 60 * time.Second
	}
	if len(s.Kinds) == 0 {
		for _, k := range domain.AllKinds {
			s.Kinds = append(s.Kinds, string(k))
		}
	}
	if s.UptodateLag == 0 {
		s.UptodateLag = time.Hour
	}
	if s.PersistThreshold == 0 {
		s.PersistThreshold = time.Hour
	}

	if c.Rates == nil {
		c.Rates = make(map[domain.WorkKind]throttle.RateConfig)
	}
	for _, k := range domain.AllKinds {
		c.Rates[k] = c.Rates[k].WithDefaults(throttle.DefaultConfig(k))
	}

	d := &c.Delivery
	if d.PassInterval == 0 {
		d.PassInterval = 30 * time.Second
	}
	if d.BatchSize == 0 {
		d.BatchSize = 100
	}
	if d.PerSecond == 0 {
		d.PerSecond = 1
	}
	if d.Burst == 0 {
		d.Burst = 1
	}
	if d.EmailConcurrency == 0 {
		d.EmailConcurrency = 10
	}
	if d.BulletinInterval == 0 {
		d.BulletinInterval = 24 * time.Hour
	}
	if d.TriggerInterval == 0 {
		d.TriggerInterval = 5 * time.Minute
	}
	if d.JobRetention == 0 {
		d.JobRetention = 30 * 24 * time.Hour
	}
	if d.FloorStreak == 0 {
		d.FloorStreak = 10
	}
	if d.FailedJobs == 0 {
		d.FailedJobs = 100
	}

	if c.Slack.Timeout == 0 {
		c.Slack.Timeout = 10 * time.Second
	}
	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = 10 * time.Second
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
}

// Validate checks the configuration for mistakes that would only surface at runtime.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, fmt.Errorf("server.grpc_port %d clashes with server.port", c.Server.GRPCPort))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q unknown", c.Logging.Level))
	}
	if c.Chain.SafetyLag < 0 {
		errs = append(errs, fmt.Errorf("chain.safety_lag must not be negative"))
	}
	if c.Scheduler.Workers < 0 || c.Scheduler.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("scheduler.workers and queue_capacity must not be negative"))
	}
	for _, k := range c.Scheduler.Kinds {
		if _, err := domain.ParseWorkKind(k); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.kinds: %w", err))
		}
	}
	for kind, rc := range c.Rates {
		if _, err := domain.ParseWorkKind(string(kind)); err != nil {
			errs = append(errs, fmt.Errorf("rates: %w", err))
			continue
		}
		if err := rc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rates.%s: %w", kind, err))
		}
	}
	if c.Delivery.PerSecond < 0 || c.Delivery.Burst < 0 {
		errs = append(errs, fmt.Errorf("delivery pacing must not be negative"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, fmt.Errorf("smtp.from is required when smtp.host is set"))
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if err := c.validateSource(s); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
	}

	return errors.Join(errs...)
}

func (c *AppConfig) validateSource(s SourceConfig) error {
	if s.ID == "" || s.DAOID == "" {
		return fmt.Errorf("id and dao_id are required")
	}
	kind, err := domain.ParseWorkKind(s.Kind)
	if err != nil {
		return err
	}
	if s.Checkpoint < 0 {
		return fmt.Errorf("checkpoint must not be negative")
	}

	switch s.Family {
	case source.FamilyGovernor, source.FamilyGovernorBravo, source.FamilyAave:
		if !kind.OnChain() {
			return fmt.Errorf("family %s needs an on-chain kind, got %s", s.Family, kind)
		}
		if !common.IsHexAddress(s.Address) {
			return fmt.Errorf("address %q is not a contract address", s.Address)
		}
		if len(c.Chain.Endpoints) == 0 && c.Scheduler.RefreshURL == "" {
			return fmt.Errorf("on-chain source without chain.endpoints")
		}
	case source.FamilySnapshot:
		if kind.OnChain() {
			return fmt.Errorf("family snapshot needs an off-chain kind, got %s", kind)
		}
		if s.Space == "" {
			return fmt.Errorf("space is required for snapshot sources")
		}
	default:
		return fmt.Errorf("unknown family %q", s.Family)
	}
	return nil
}

// EnabledKinds returns the parsed scheduler kinds.
func (c *AppConfig) EnabledKinds() []domain.WorkKind {
	out := make([]domain.WorkKind, 0, len(c.Scheduler.Kinds))
	for _, k := range c.Scheduler.Kinds {
		if kind, err := domain.ParseWorkKind(k); err == nil {
			out = append(out, kind)
		}
	}
	return out
}
