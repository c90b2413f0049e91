package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gonasi/gonasi-backend/internal/platform/deadletter"
	"github.com/gonasi/gonasi-backend/internal/platform/gcp"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/platform/paystack"
	"github.com/gonasi/gonasi-backend/internal/platform/redislock"
)

type Clients struct {
	Paystack   paystack.Client
	Buckets    gcp.BucketService
	Locks      redislock.Locker
	DeadLetter deadletter.Writer
	// Redis is nil when the in-process locker is used.
	Redis *goredis.Client
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	ps, err := paystack.New(log, paystack.Config{SecretKey: cfg.PaystackSecretKey, BaseURL: cfg.PaystackBaseURL, MaxRetries: 2})
	if err != nil {
		return out, fmt.Errorf("init paystack: %w", err)
	}
	out.Paystack = ps

	storageCfg, err := gcp.ResolveObjectStorageConfig(cfg.ObjectStorageMode, cfg.StorageEmulatorHost)
	if err != nil {
		return out, fmt.Errorf("object storage config: %w", err)
	}
	buckets, err := gcp.NewBucketService(log, gcp.BucketConfig{
		DraftBucket:        cfg.DraftBucket,
		PublishedBucket:    cfg.PublishedBucket,
		PublishedCDNDomain: cfg.PublishedCDNDomain,
		Credentials:        cfg.GCPCredentials,
		Storage:            storageCfg,
	})
	if err != nil {
		return out, fmt.Errorf("init buckets: %w", err)
	}
	out.Buckets = buckets

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			out.close(log)
			return out, fmt.Errorf("redis ping: %w", err)
		}
		out.Redis = rdb
		out.Locks = redislock.NewRedisLockerFromClient(log, rdb)
	} else {
		log.Warn("REDIS_ADDR not set; publish and subscription locks are process-local")
		out.Locks = redislock.NewLocalLocker()
	}

	if len(cfg.KafkaBrokers) > 0 {
		w, err := deadletter.NewKafkaWriter(log, cfg.KafkaBrokers, cfg.KafkaDeadLetterTopic)
		if err != nil {
			out.close(log)
			return out, fmt.Errorf("init dead letter writer: %w", err)
		}
		out.DeadLetter = w
	} else {
		log.Warn("KAFKA_BROKERS not set; dead letters go to the error log")
		out.DeadLetter = deadletter.NewLogWriter(log)
	}
	return out, nil
}

func (c Clients) close(log *logger.Logger) {
	if c.DeadLetter != nil {
		if err := c.DeadLetter.Close(); err != nil {
			log.Warn("close dead letter writer", "error", err)
		}
	}
	if c.Locks != nil {
		if err := c.Locks.Close(); err != nil {
			log.Warn("close locker", "error", err)
		}
	}
	if c.Buckets != nil {
		if err := c.Buckets.Close(); err != nil {
			log.Warn("close buckets", "error", err)
		}
	}
}
