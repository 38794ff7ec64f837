package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/lpbot/config"
	"github.com/alejandrodnm/lpbot/internal/adapters/archive"
	"github.com/alejandrodnm/lpbot/internal/adapters/birdeye"
	"github.com/alejandrodnm/lpbot/internal/adapters/dexscreener"
	"github.com/alejandrodnm/lpbot/internal/adapters/meteora"
	"github.com/alejandrodnm/lpbot/internal/adapters/notify"
	lpredis "github.com/alejandrodnm/lpbot/internal/adapters/redis"
	"github.com/alejandrodnm/lpbot/internal/adapters/storage"
	"github.com/alejandrodnm/lpbot/internal/adapters/storage/postgres"
	"github.com/alejandrodnm/lpbot/internal/adapters/venue/gateway"
	"github.com/alejandrodnm/lpbot/internal/adapters/venue/paper"
	"github.com/alejandrodnm/lpbot/internal/application/driver"
	"github.com/alejandrodnm/lpbot/internal/application/lifecycle"
	"github.com/alejandrodnm/lpbot/internal/application/selector"
	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

type runOptions struct {
	once     bool
	table    bool
	listOnly bool
}

// run construye los adapters, el manager y el driver, y bloquea hasta que el
// driver termina. Un store inaccesible al arrancar es un error.
func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	capital, err := cfg.Capital()
	if err != nil {
		return err
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	console := notify.NewConsole(opts.table)
	if opts.listOnly {
		active, err := store.FindByStatus(ctx, domain.StatusActive)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		console.PrintPositions(active)
		return nil
	}

	venue, err := newVenue(cfg.Venue)
	if err != nil {
		return err
	}
	data := newMarketData(cfg.MarketData)
	notifiers := notify.Multi{console}

	var locker ports.Locker
	if cfg.Redis.Enabled {
		rdb, err := lpredis.Connect(ctx, lpredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		locker = lpredis.NewLocker(rdb, cfg.Redis.KeyPrefix)
		notifiers = append(notifiers, lpredis.NewPublisher(rdb, cfg.Redis.Channel))
		slog.Info("redis enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	var archiver ports.Archiver
	if cfg.Archive.Enabled {
		a, err := archive.NewS3Archiver(ctx, archive.Config{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			Prefix:         cfg.Archive.Prefix,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		archiver = a
		slog.Info("archive enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	}

	lc := cfg.Lifecycle
	manager, err := lifecycle.New(lifecycle.Config{
		VolumeThreshold:       lc.VolumeThreshold,
		CheckInterval:         lc.CheckInterval.Duration,
		MaxLifespan:           lc.MaxLifespan.Duration,
		Capital:               capital,
		RangeInterval:         lc.RangeInterval,
		RebalanceEnabled:      lc.RebalanceEnabled,
		RebalanceInterval:     lc.RebalanceInterval.Duration,
		RebalanceThresholdPct: lc.RebalanceThresholdPct,
		CallTimeout:           lc.CallTimeout.Duration,
		CloseMaxAttempts:      lc.CloseMaxAttempts,
		CloseBackoff:          lc.CloseBackoff.Duration,
		StoreWriteAttempts:    lc.StoreWriteAttempts,
		LeaseTTL:              cfg.Redis.LeaseTTL.Duration,
	}, lifecycle.Deps{
		Data:     data,
		Venue:    venue,
		Store:    store,
		Notifier: notifiers,
		Archiver: archiver,
		Locker:   locker,
	})
	if err != nil {
		return err
	}

	sel := selector.New(selector.Config{
		TrendingLimit: cfg.Selector.TrendingLimit,
		Workers:       cfg.Selector.Workers,
		Weights:       cfg.Selector.Weights,
	}, data)
	pools := meteora.NewDirectory(cfg.Venue.PoolsURL, cfg.Venue.PoolsCacheTTL.Duration)

	d := driver.New(driver.Config{
		MaxPositions: lc.MaxPositions,
		IdleInterval: cfg.Selector.IdleInterval.Duration,
		Once:         opts.once,
		BinStep:      cfg.Venue.BinStep,
	}, sel, pools, store, manager)

	err = d.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newMarketData(cfg config.MarketDataConfig) ports.MarketDataGateway {
	if cfg.Provider == "dexscreener" {
		return dexscreener.NewClient(dexscreener.Options{
			BaseURL:    cfg.DexscreenerURL,
			Chain:      cfg.Chain,
			RatePerSec: cfg.RatePerSec,
		})
	}
	return birdeye.NewClient(birdeye.Options{
		BaseURL:    cfg.BirdeyeBase,
		APIKey:     cfg.BirdeyeAPIKey,
		Chain:      cfg.Chain,
		RatePerSec: cfg.RatePerSec,
	})
}

func newVenue(cfg config.VenueConfig) (ports.Venue, error) {
	if cfg.Mode == "paper" {
		slog.Warn("paper venue: no liquidity will be moved")
		return paper.New(paper.Options{FeeRatePerHour: cfg.PaperFeeRateHr}), nil
	}
	return gateway.New(gateway.Options{
		BaseURL:   cfg.GatewayURL,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.Timeout.Duration,
	})
}

func newStore(ctx context.Context, cfg config.StorageConfig) (ports.PositionStore, error) {
	if cfg.Driver != "postgres" {
		return storage.NewSQLiteStore(cfg.DSN)
	}
	pool, err := postgres.Connect(ctx, postgres.ClientConfig{
		DSN:      cfg.DSN,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		SSLMode:  cfg.SSLMode,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return postgres.NewPositionStore(pool), nil
}
