package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// DefaultSnapshotKey names the record holding the serialized cache.
const DefaultSnapshotKey = "moodtrack:cache:snapshot"

type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

// ValkeyConfig describes the Redis/Valkey endpoint holding the snapshot.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
	// Key defaults to DefaultSnapshotKey.
	Key string
	// Expiry lets the server drop snapshots nobody refreshed. Zero keeps them.
	Expiry time.Duration
}

// ValkeyStore keeps the snapshot under a single Redis/Valkey key.
type ValkeyStore struct {
	client valkey.Client
	key    string
	expiry time.Duration
}

// NewValkeyStore connects to the configured server and verifies it with PING.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &ValkeyStore{client: client, key: key, expiry: cfg.Expiry}, nil
}

func (s *ValkeyStore) Load(ctx context.Context) ([]byte, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	return payload, nil
}

func (s *ValkeyStore) Save(ctx context.Context, payload []byte) error {
	var cmd valkey.Completed
	if s.expiry > 0 {
		cmd = s.client.B().Set().Key(s.key).Value(valkey.BinaryString(payload)).Px(s.expiry).Build()
	} else {
		cmd = s.client.B().Set().Key(s.key).Value(valkey.BinaryString(payload)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

func (s *ValkeyStore) Clear(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key).Build()).Error(); err != nil {
		return fmt.Errorf("cache: valkey del: %w", err)
	}
	return nil
}

func (s *ValkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
