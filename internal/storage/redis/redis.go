package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "screentime"

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	usageStore   *usageStore
	batteryStore *batteryStore
	deviceStore  *deviceStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client, cfg.KeyPrefix), nil
}

// New wraps an existing client. An empty prefix selects DefaultKeyPrefix.
func New(client *redis.Client, prefix string) *Store {
	return newStore(client, prefix)
}

func newStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	k := keys{prefix: prefix}

	return &Store{
		client:       client,
		usageStore:   &usageStore{client: client, keys: k},
		batteryStore: &batteryStore{client: client, keys: k},
		deviceStore:  &deviceStore{client: client, keys: k},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Battery returns the BatteryStore implementation
func (s *Store) Battery() storage.BatteryStore {
	return s.batteryStore
}

// Devices returns the DeviceStore implementation
func (s *Store) Devices() storage.DeviceStore {
	return s.deviceStore
}

// keys builds the Redis key layout:
//
//	{prefix}:devices                 set of device IDs
//	{prefix}:usage:{date}:{device}   hash of day counters
//	{prefix}:session:{device}        hash of the open session
//	{prefix}:sessions:open           set of devices with an open session
//	{prefix}:battery:{device}        hash of the latest battery sample
type keys struct {
	prefix string
}

func (k keys) devices() string {
	return k.prefix + ":devices"
}

func (k keys) usage(date, deviceID string) string {
	return fmt.Sprintf("%s:usage:%s:%s", k.prefix, date, deviceID)
}

func (k keys) usagePattern() string {
	return k.prefix + ":usage:*"
}

func (k keys) session(deviceID string) string {
	return k.prefix + ":session:" + deviceID
}

func (k keys) openSessions() string {
	return k.prefix + ":sessions:open"
}

func (k keys) battery(deviceID string) string {
	return k.prefix + ":battery:" + deviceID
}

// usageDate extracts the date from a usage key.
func (k keys) usageDate(key string) (string, bool) {
	head := k.prefix + ":usage:"
	if len(key) < len(head)+len("2006-01-02") || key[:len(head)] != head {
		return "", false
	}
	return key[len(head) : len(head)+len("2006-01-02")], true
}
