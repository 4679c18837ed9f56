package config

import (
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
	redisclient "github.com/vietddude/govwatch/internal/infra/redis"
	"github.com/vietddude/govwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig                            `yaml:"server"`
	Logging   LoggingConfig                           `yaml:"logging"`
	Database  postgres.Config                         `yaml:"database"`
	Redis     redisclient.Config                      `yaml:"redis"`
	Chain     ChainConfig                             `yaml:"chain"`
	Snapshot  SnapshotConfig                          `yaml:"snapshot"`
	Scheduler SchedulerConfig                         `yaml:"scheduler"`
	Rates     map[domain.WorkKind]throttle.RateConfig `yaml:"rates"`
	Delivery  DeliveryConfig                          `yaml:"delivery"`
	Discord   DiscordConfig                           `yaml:"discord"`
	Slack     SlackConfig                             `yaml:"slack"`
	Telegram  TelegramConfig                          `yaml:"telegram"`
	SMTP      SMTPConfig                              `yaml:"smtp"`
	Sources   []SourceConfig                          `yaml:"sources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // serve refreshes over gRPC too (0: off)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig holds settings for the EVM chain the governance contracts live on.
type ChainConfig struct {
	Name           string        `yaml:"name"`
	Endpoints      []string      `yaml:"endpoints"`
	SafetyLag      int64         `yaml:"safety_lag"`      // blocks kept behind head (default: 10)
	BlockTime      time.Duration `yaml:"block_time"`      // average block interval (default: 12s)
	HeadCacheTTL   time.Duration `yaml:"head_cache_ttl"`  // (default: 3s)
	RequestTimeout time.Duration `yaml:"request_timeout"` // (default: 60s)
}

// SnapshotConfig holds settings for the Snapshot GraphQL hub.
type SnapshotConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // (default: 60s)
}

// SchedulerConfig holds producer and consumer settings.
type SchedulerConfig struct {
	Tick             time.Duration `yaml:"tick"`              // producer interval (default: 1s)
	QueueCapacity    int           `yaml:"queue_capacity"`    // per kind (default: 64)
	Workers          int           `yaml:"workers"`           // per kind (default: 4)
	LockTTL          time.Duration `yaml:"lock_ttl"`          // shared per-source lock (default: 2m)
	VoterReload      time.Duration `yaml:"voter_reload"`      // (default: 60s)
	Kinds            []string      `yaml:"kinds"`             // enabled kinds (default: all)
	RefreshURL       string        `yaml:"refresh_url"`       // delegate refreshes to a remote refresher
	UptodateLag      time.Duration `yaml:"uptodate_lag"`      // (default: 1h)
	PersistThreshold time.Duration `yaml:"persist_threshold"` // (default: 1h)
}

// DeliveryConfig holds notification settings.
type DeliveryConfig struct {
	Enabled          bool          `yaml:"enabled"`
	PassInterval     time.Duration `yaml:"pass_interval"`     // dispatcher pass (default: 30s)
	BatchSize        int           `yaml:"batch_size"`        // jobs per channel per pass (default: 100)
	PerSecond        float64       `yaml:"per_second"`        // per-channel pacing (default: 1)
	Burst            int           `yaml:"burst"`             // (default: 1)
	EmailConcurrency int           `yaml:"email_concurrency"` // bulletin fan-out (default: 10)
	BulletinInterval time.Duration `yaml:"bulletin_interval"` // (default: 24h)
	TriggerInterval  time.Duration `yaml:"trigger_interval"`  // generator pass (default: 5m)
	TriggerFeed      string        `yaml:"trigger_feed"`      // redis list of job requests, empty disables
	JobRetention     time.Duration `yaml:"job_retention"`     // terminal jobs kept (default: 720h)
	FloorStreak      int           `yaml:"floor_streak"`      // health: failures at rate floor (default: 10)
	FailedJobs       int           `yaml:"failed_jobs"`       // health: failed jobs before critical (default: 100)
}

// DiscordConfig holds the bot token. An empty token disables the channel.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// SlackConfig enables webhook delivery.
type SlackConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"` // (default: 10s)
}

// TelegramConfig holds the bot token. An empty token disables the channel.
type TelegramConfig struct {
	Token   string        `yaml:"token"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"` // (default: 10s)
}

// SMTPConfig holds mail server settings. An empty host disables email.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"` // (default: 587)
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	ImplicitTLS bool   `yaml:"implicit_tls"`
}

// SourceConfig describes one source seeded at startup.
type SourceConfig struct {
	ID          string `yaml:"id"`
	DAOID       string `yaml:"dao_id"`
	Kind        string `yaml:"kind"`
	Family      string `yaml:"family"`
	Address     string `yaml:"address"`
	Space       string `yaml:"space"`
	ProposalURL string `yaml:"proposal_url"`
	Checkpoint  int64  `yaml:"checkpoint"` // starting block or unix time
}

// Source converts the entry to a domain source. Kind must already be valid.
func (s SourceConfig) Source() domain.Source {
	return domain.Source{
		ID:          s.ID,
		DAOID:       s.DAOID,
		Kind:        domain.WorkKind(s.Kind),
		Family:      s.Family,
		Address:     s.Address,
		Space:       s.Space,
		ProposalURL: s.ProposalURL,
		Checkpoint:  s.Checkpoint,
		Status:      domain.RefreshDone,
	}
}
