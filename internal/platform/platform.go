// Package platform owns the process-wide connections: the document store, the
// identity directory and the Redis client used for pubsub and dead letters.
//
// Init opens them once; later calls return the same platform until Close.
// Everything else reaches them through Get.
package platform

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/identity"
	"github.com/victornm/quizxp/internal/store"
	"github.com/victornm/quizxp/internal/store/mongostore"
	"github.com/victornm/quizxp/internal/store/pgstore"
	"github.com/victornm/quizxp/internal/store/redisstore"
	"github.com/victornm/quizxp/internal/telemetry"
)

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"

	connectTimeout = 10 * time.Second
)

var ErrNotInitialized = errors.New(errors.CodeUnavailable, errors.WithMessagef("platform not initialized"))

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr    string
	User    string
	Pass    string
	Name    string
	SSLMode string
}

func (c PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name)
	if c.SSLMode != "" {
		dsn += "?sslmode=" + c.SSLMode
	}

	return dsn
}

type MongoConfig struct {
	URI      string
	Database string
}

type Config struct {
	Store struct {
		Driver      string
		MaxAttempts int
	}

	Redis struct {
		Store  RedisConfig
		Pubsub RedisConfig
	}

	Postgres struct {
		Store PostgresConfig
	}

	Mongo MongoConfig
}

type Platform struct {
	Store      store.Store
	Identities identity.Store

	// Redis carries pubsub notifications, dead letters and throttles. It is
	// the pubsub client when configured, the store client otherwise.
	Redis       redis.UniversalClient
	RedisPrefix string

	closers []func() error
}

var (
	mu      sync.Mutex
	current *Platform
)

// Init opens the platform described by c. If a platform is already open it is
// returned unchanged and c is ignored.
func Init(ctx context.Context, c Config) (*Platform, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return current, nil
	}

	p, err := open(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}

	current = p
	slog.InfoContext(ctx, "platform: initialized", "driver", c.Store.Driver)
	return p, nil
}

// Get returns the platform opened by Init.
func Get() (*Platform, error) {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		return nil, ErrNotInitialized
	}

	return current, nil
}

// Close releases every connection and resets the platform so Init may run
// again.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		return nil
	}

	err := current.close()
	current = nil
	return err
}

func open(ctx context.Context, c Config) (*Platform, error) {
	p := &Platform{}
	opened := false
	defer func() {
		if !opened {
			_ = p.close()
		}
	}()

	var (
		storeRedis redis.UniversalClient
		pg         *pgxpool.Pool
		err        error
	)

	switch c.Store.Driver {
	case DriverRedis, "":
		storeRedis, err = connectRedis(ctx, c.Redis.Store)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		p.closers = append(p.closers, storeRedis.Close)

		p.Store = redisstore.New(redisstore.Config{
			Redis:       storeRedis,
			Prefix:      c.Redis.Store.Prefix,
			MaxAttempts: c.Store.MaxAttempts,
		})

	case DriverPostgres:
		pg, err = connectPostgres(ctx, c.Postgres.Store)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		p.closers = append(p.closers, func() error { pg.Close(); return nil })

		p.Store = pgstore.New(pgstore.Config{DB: pg, MaxAttempts: c.Store.MaxAttempts})

	case DriverMongo:
		client, err := connectMongo(ctx, c.Mongo)
		if err != nil {
			return nil, fmt.Errorf("mongo store: %w", err)
		}

		s := mongostore.New(mongostore.Config{Client: client, Database: c.Mongo.Database, MaxAttempts: c.Store.MaxAttempts})
		p.closers = append(p.closers, s.Close)

		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		p.Store = s

	default:
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown store driver %q", c.Store.Driver))
	}

	if pg == nil && c.Postgres.Store.Addr != "" {
		pg, err = connectPostgres(ctx, c.Postgres.Store)
		if err != nil {
			return nil, fmt.Errorf("postgres identities: %w", err)
		}
		p.closers = append(p.closers, func() error { pg.Close(); return nil })
	}

	if pg != nil {
		p.Identities = identity.NewPostgresStore(pg)
	} else {
		slog.WarnContext(ctx, "platform: postgres not configured, identities kept in memory")
		p.Identities = identity.NewMemoryStore()
	}

	p.Redis, p.RedisPrefix = storeRedis, c.Redis.Store.Prefix
	if len(c.Redis.Pubsub.Addrs) > 0 {
		p.Redis, err = connectRedis(ctx, c.Redis.Pubsub)
		if err != nil {
			return nil, fmt.Errorf("redis pubsub: %w", err)
		}
		p.closers = append(p.closers, p.Redis.Close)
		p.RedisPrefix = c.Redis.Pubsub.Prefix
	}

	opened = true
	return p, nil
}

func (p *Platform) close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil

	if err := stderrors.Join(errs...); err != nil {
		return fmt.Errorf("platform: close: %w", err)
	}

	return nil
}

func connectRedis(ctx context.Context, c RedisConfig) (redis.UniversalClient, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Password: c.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		_ = r.Close()
		return nil, err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, err
	}

	return r, nil
}

func connectPostgres(ctx context.Context, c PostgresConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	cc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func connectMongo(ctx context.Context, c MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return client, nil
}
