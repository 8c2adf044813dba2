// Package cache provides the byte-oriented cache in front of the connection
// store. Drivers are in-process (ristretto), shared (redis) or disabled.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache stores opaque values by key.
type Cache interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Config selects and sizes a driver.
type Config struct {
	Driver    string
	RedisAddr string
	RedisDB   int
	TTL       time.Duration
	MaxItems  int64
}

// New builds the driver named by cfg.Driver.
func New(cfg Config) (Cache, error) {
	switch cfg.Driver {
	case "", "none":
		return Noop{}, nil
	case "ristretto":
		return NewRistretto(cfg.MaxItems, cfg.TTL)
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// Noop never holds anything.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards val.
func (Noop) Set(context.Context, string, []byte) error { return nil }

// Delete does nothing.
func (Noop) Delete(context.Context, ...string) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }
