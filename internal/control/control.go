package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/govwatch/internal/core/config"
	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/channel"
	"github.com/vietddude/govwatch/internal/delivery/channel/discord"
	"github.com/vietddude/govwatch/internal/delivery/channel/email"
	"github.com/vietddude/govwatch/internal/delivery/channel/slack"
	"github.com/vietddude/govwatch/internal/delivery/channel/telegram"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
	"github.com/vietddude/govwatch/internal/infra/chain/evm"
	"github.com/vietddude/govwatch/internal/infra/rpc"
	"github.com/vietddude/govwatch/internal/infra/storage"
	"github.com/vietddude/govwatch/internal/infra/storage/memory"
	"github.com/vietddude/govwatch/internal/infra/storage/postgres"
	"github.com/vietddude/govwatch/internal/source"
	"github.com/vietddude/govwatch/internal/source/aave"
	"github.com/vietddude/govwatch/internal/source/governor"
	"github.com/vietddude/govwatch/internal/source/snapshot"
)

// OpenStore connects the configured storage backend. PostgreSQL is migrated
// before use; without a database URL everything lives in memory. The returned
// db is nil in memory mode.
func OpenStore(ctx context.Context, cfg postgres.Config) (*storage.Store, *postgres.DB, error) {
	if cfg.URL == "" {
		slog.Info("Using memory storage")
		return memory.NewStore(), nil, nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	slog.Info("Using PostgreSQL storage")
	return db.Store(), db, nil
}

// chainAccess is the node transport shared by the on-chain fetchers and the
// head cache.
type chainAccess struct {
	rpc    *rpc.Client
	reader *evm.Client
	head   *throttle.HeadCache
}

func newChainAccess(cfg config.ChainConfig) *chainAccess {
	if len(cfg.Endpoints) == 0 {
		return nil
	}
	client := rpc.NewClient(cfg.Name, cfg.Endpoints, cfg.RequestTimeout)
	reader := evm.NewClient(cfg.Name, client)
	return &chainAccess{
		rpc:    client,
		reader: reader,
		head:   throttle.NewHeadCache(reader, cfg.HeadCacheTTL),
	}
}

// buildRegistry registers a fetcher for every family the configuration can
// serve. On-chain families are skipped when no chain endpoint is configured.
func buildRegistry(cfg *config.AppConfig, chain *chainAccess) (*source.Registry, error) {
	reg := source.NewRegistry()
	reg.Register(source.FamilySnapshot, snapshot.New(cfg.Snapshot.Endpoint, cfg.Snapshot.APIKey, cfg.Snapshot.RequestTimeout))

	if chain == nil {
		return reg, nil
	}
	for _, family := range []string{source.FamilyGovernor, source.FamilyGovernorBravo} {
		f, err := governor.New(chain.reader, family, cfg.Chain.BlockTime)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s fetcher: %w", family, err)
		}
		reg.Register(family, f)
	}
	reg.Register(source.FamilyAave, aave.New(chain.reader, cfg.Chain.BlockTime))
	return reg, nil
}

// buildControllers creates one rate controller per kind from the rate config.
func buildControllers(rates map[domain.WorkKind]throttle.RateConfig) map[domain.WorkKind]*throttle.RateController {
	ctrls := make(map[domain.WorkKind]*throttle.RateController, len(rates))
	for kind, rc := range rates {
		ctrls[kind] = throttle.NewRateController(kind, rc)
	}
	return ctrls
}

// buildChannels creates every configured delivery channel. The email channel
// is returned separately because the bulletin mails through it directly.
func buildChannels(cfg *config.AppConfig) (channel.Set, *email.Channel, error) {
	var chs []channel.Channel

	if cfg.Discord.Token != "" {
		d, err := discord.New(cfg.Discord.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create discord channel: %w", err)
		}
		chs = append(chs, d)
	}
	if cfg.Slack.Enabled {
		chs = append(chs, slack.New(cfg.Slack.Timeout))
	}
	if cfg.Telegram.Token != "" {
		chs = append(chs, telegram.New(cfg.Telegram.BaseURL, cfg.Telegram.Token, cfg.Telegram.Timeout))
	}

	var mailer *email.Channel
	if cfg.SMTP.Host != "" {
		mailer = email.New(email.Config{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			From:        cfg.SMTP.From,
			ImplicitTLS: cfg.SMTP.ImplicitTLS,
		})
		chs = append(chs, mailer)
	}

	set := channel.NewSet(chs...)
	for kind := range set {
		slog.Info("Delivery channel enabled", "channel", kind)
	}
	return set, mailer, nil
}

// seedSources inserts every configured source that is not stored yet.
// Existing rows keep their checkpoint and rate.
func seedSources(ctx context.Context, seeder interface {
	Seed(ctx context.Context, src domain.Source) (bool, error)
}, sources []config.SourceConfig) error {
	for _, sc := range sources {
		created, err := seeder.Seed(ctx, sc.Source())
		if err != nil {
			return fmt.Errorf("failed to seed source %s: %w", sc.ID, err)
		}
		if created {
			slog.Info("Seeded source", "source", sc.ID, "kind", sc.Kind, "checkpoint", sc.Checkpoint)
		}
	}
	return nil
}
