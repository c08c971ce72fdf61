package lock

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"cvc-go/internal/config"
	"cvc-go/internal/cvc"
)

func TestNewLockerFromConfig(t *testing.T) {
	s := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.LockingConfig
		wantErr bool
	}{
		{name: "none", cfg: config.LockingConfig{Type: "none"}},
		{name: "empty type", cfg: config.LockingConfig{}},
		{name: "local", cfg: config.LockingConfig{Type: "local"}},
		{name: "redis", cfg: config.LockingConfig{Type: "redis", RedisURL: "redis://" + s.Addr()}},
		{name: "redis without url", cfg: config.LockingConfig{Type: "redis"}, wantErr: true},
		{name: "unknown", cfg: config.LockingConfig{Type: "zookeeper"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewLockerFromConfig(tt.cfg, cvc.NewNopLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLockerFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewLockerFromConfig() returned nil locker")
			}
			if r, ok := got.(*RedisLocker); ok {
				if r.ttl != DefaultTTL {
					t.Errorf("redis ttl = %v, want %v", r.ttl, DefaultTTL)
				}
				r.Close()
			}
		})
	}
}
