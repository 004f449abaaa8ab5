package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"boost-service/internal/bolt"
	"boost-service/internal/boost"
	"boost-service/internal/config"
	"boost-service/internal/db"
	"boost-service/internal/directory"
	"boost-service/internal/ledger"
	mongostore "boost-service/internal/mongo"
	"github.com/redis/go-redis/v9"
)

type stores struct {
	transactions ledger.Store
	boosts       boost.Store
	closers      []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects the configured ledger backend. Mongo is always
// connected: it holds the user and event directory whichever driver is chosen.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, directory.Directory, error) {
	s := &stores{}

	client, err := mongostore.Connect(ctx, cfg.Mongo)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	s.closers = append(s.closers, func() { _ = client.Disconnect(context.Background()) })
	mongoDB := client.Database(cfg.Mongo.Database)

	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := db.GetPool(ctx, db.GetConnStr(cfg.Database))
		if err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		s.transactions = db.NewTransactionRepository(pool)
		s.boosts = db.NewBoostRequestRepository(pool)
	case "mongo":
		if err := mongostore.EnsureIndexes(ctx, mongoDB); err != nil {
			s.Close()
			return nil, nil, err
		}
		s.transactions = mongostore.NewTransactionStore(mongoDB)
		s.boosts = mongostore.NewBoostRequestStore(mongoDB)
	case "bolt":
		boltDB, err := bolt.Open(cfg.Storage.Bolt.Path)
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		s.closers = append(s.closers, func() { _ = boltDB.Close() })
		s.transactions = boltDB.Transactions()
		s.boosts = boltDB.BoostRequests()
	default:
		s.Close()
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	logger.Info("Storage connected", "driver", cfg.Storage.Driver)

	var dir directory.Directory = directory.NewMongo(mongoDB, mongostore.UsersCollection, mongostore.EventsCollection)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func() { _ = rdb.Close() })
		dir = directory.NewCached(dir, rdb, time.Duration(cfg.Redis.TTLSeconds)*time.Second, logger)
	}

	return s, dir, nil
}
