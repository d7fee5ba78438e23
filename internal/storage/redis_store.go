package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr     string // Адрес Redis сервера
	Password string // Пароль (пустой если не требуется)
	DB       int    // Номер базы данных
	Key      string // Ключ хеша со снимком
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr: "localhost:6379",
		Key:  "blastguard:durability",
	}
}

// RedisStore хранит снимок в одном хеше Redis: поле - hex-ключ блока, значение - урон.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *logging.Logger
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(ctx context.Context, config *RedisConfig) (*RedisStore, error) {
	def := DefaultRedisConfig()
	if config == nil {
		config = def
	}
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.Key == "" {
		config.Key = def.Key
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, key: config.Key, logger: logging.GetStorageLogger()}, nil
}

func (rs *RedisStore) Load(ctx context.Context) (map[durability.BlockKey]int, error) {
	fields, err := rs.client.HGetAll(ctx, rs.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", rs.key, err)
	}

	out := make(map[durability.BlockKey]int, len(fields))
	skipped := 0
	for field, raw := range fields {
		key, err := durability.ParseKey(field)
		if err != nil {
			skipped++
			continue
		}
		damage, err := strconv.Atoi(raw)
		if err != nil || damage <= 0 {
			skipped++
			continue
		}
		out[key] = damage
	}
	if skipped > 0 {
		rs.logger.Warn("Redis: пропущено повреждённых записей урона: %d", skipped)
	}
	return out, nil
}

// Save заменяет хеш целиком в одной транзакции
func (rs *RedisStore) Save(ctx context.Context, data map[durability.BlockKey]int) error {
	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, rs.key)
	if len(data) > 0 {
		values := make(map[string]interface{}, len(data))
		for k, damage := range data {
			values[k.String()] = damage
		}
		pipe.HSet(ctx, rs.key, values)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save %s: %w", rs.key, err)
	}
	return nil
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
