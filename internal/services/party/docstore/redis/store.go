// Package redis provides a Redis docstore backend shared by several
// processes. Each root document is a hash holding its JSON body and version;
// writes use WATCH/MULTI and announce the changed root on a Pub/Sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/louisbranch/questparty/internal/services/party/docstore"
)

const (
	keyPrefix = "questparty:doc:"
	// ChangesChannel carries the root of every committed write.
	ChangesChannel = "questparty:changes"

	fieldBody    = "body"
	fieldVersion = "version"
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Backend stores root documents in Redis.
type Backend struct {
	client *goredis.Client
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Backend{client: client}, nil
}

// NewBackend wraps an existing client.
func NewBackend(client *goredis.Client) *Backend {
	return &Backend{client: client}
}

// Close closes the client. It is nil-safe.
func (b *Backend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func docKey(root string) string {
	return keyPrefix + root
}

// Load implements docstore.Backend.
func (b *Backend) Load(ctx context.Context, root string) (any, int64, error) {
	values, err := b.client.HMGet(ctx, docKey(root), fieldBody, fieldVersion).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load document: %w", err)
	}
	return decodeEntry(root, values)
}

func decodeEntry(root string, values []any) (any, int64, error) {
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return nil, 0, nil
	}
	body, _ := values[0].(string)
	rawVersion, _ := values[1].(string)
	var version int64
	if _, err := fmt.Sscan(rawVersion, &version); err != nil {
		return nil, 0, fmt.Errorf("decode version of %s: %w", root, err)
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, 0, fmt.Errorf("decode document %s: %w", root, err)
	}
	return doc, version, nil
}

func currentVersion(ctx context.Context, tx *goredis.Tx, key string) (int64, error) {
	version, err := tx.HGet(ctx, key, fieldVersion).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return version, err
}

// Save implements docstore.Backend.
func (b *Backend) Save(ctx context.Context, root string, doc any, expectVersion int64) (int64, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode document %s: %w", root, err)
	}
	key := docKey(root)
	next := expectVersion + 1
	err = b.client.Watch(ctx, func(tx *goredis.Tx) error {
		version, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if version != expectVersion {
			return docstore.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldBody, string(body), fieldVersion, next)
			pipe.Publish(ctx, ChangesChannel, root)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, mapWriteError(err)
	}
	return next, nil
}

// Remove implements docstore.Backend.
func (b *Backend) Remove(ctx context.Context, root string, expectVersion int64) error {
	key := docKey(root)
	err := b.client.Watch(ctx, func(tx *goredis.Tx) error {
		version, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if version != expectVersion {
			return docstore.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.Publish(ctx, ChangesChannel, root)
			return nil
		})
		return err
	}, key)
	return mapWriteError(err)
}

func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrVersionConflict), errors.Is(err, goredis.TxFailedErr):
		return docstore.ErrVersionConflict
	default:
		return fmt.Errorf("write document: %w", err)
	}
}

// Watch implements docstore.Watcher by following ChangesChannel.
func (b *Backend) Watch(ctx context.Context, notify func(root string)) error {
	pubsub := b.client.Subscribe(ctx, ChangesChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChangesChannel, err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				log.Printf("docstore redis: change channel closed")
				return nil
			}
			if msg.Payload != "" {
				notify(msg.Payload)
			}
		}
	}
}
