package lock

import (
	"fmt"
	"time"

	"cvc-go/internal/config"
	"cvc-go/internal/cvc"
)

// NewLockerFromConfig creates a Locker based on the locking config type.
// Lockers holding connections also implement io.Closer.
func NewLockerFromConfig(cfg config.LockingConfig, logger cvc.Logger) (cvc.Locker, error) {
	switch cfg.Type {
	case "none", "":
		return cvc.NopLocker{}, nil
	case "local":
		return NewLocalLocker(), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis locking requires redis_url to be set")
		}
		l, err := NewRedisLocker(cfg.RedisURL, time.Duration(cfg.TTLSeconds)*time.Second, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown locking type: %q", cfg.Type)
	}
}
