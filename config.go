// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"fmt"
	"os"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/infinite-iroha/minato/lock"
	"github.com/infinite-iroha/minato/prop"
)

// Config is the JSON configuration of a server process. Provider and
// storage implementations are chosen by name, the way deployments select
// them in a config file rather than code.
type Config struct {
	Listen string        `json:"listen"`
	Shares []ShareConfig `json:"shares"`

	Storage StorageConfig `json:"storage"`
	Auth    AuthConfig    `json:"auth"`

	Browse bool `json:"browse"`
	Debug  bool `json:"debug"`

	// MaxLockTimeoutSeconds caps client lock Timeout requests.
	MaxLockTimeoutSeconds int64 `json:"max_lock_timeout_seconds"`
}

// ShareConfig declares one mounted share.
type ShareConfig struct {
	Prefix   string `json:"prefix"`
	Provider string `json:"provider"` // "os" or "mem"
	Root     string `json:"root"`     // backing directory for "os"
	Realm    string `json:"realm"`
	ReadOnly bool   `json:"read_only"`

	FinitePropfindDepth bool `json:"finite_propfind_depth"`
}

// StorageConfig selects the lock and property backends.
type StorageConfig struct {
	Backend  string `json:"backend"` // "memory" or "redis"
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// AuthConfig declares the authenticator and the simple domain
// controller's tables.
type AuthConfig struct {
	// Scheme is "digest", "basic", "both" or "none".
	Scheme string `json:"scheme"`

	// Users maps realm -> user -> password.
	Users map[string]map[string]string `json:"users"`

	// AnonymousRealms lists realms served without authentication.
	AnonymousRealms []string `json:"anonymous_realms"`
}

// LoadConfig reads and decodes a JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("minato: parsing %s: %w", path, err)
	}
	if len(cfg.Shares) == 0 {
		return nil, fmt.Errorf("minato: %s declares no shares", path)
	}
	return cfg, nil
}

// NewFromConfig instantiates the server a config describes.
func NewFromConfig(cfg *Config) (*Server, error) {
	opts := Options{
		Browse:         cfg.Browse,
		Debug:          cfg.Debug,
		MaxLockTimeout: time.Duration(cfg.MaxLockTimeoutSeconds) * time.Second,
	}

	switch cfg.Storage.Backend {
	case "", "memory":
	case "redis":
		opts.LockStorage = lock.NewRedisStore(cfg.Storage.Addr, cfg.Storage.Password, cfg.Storage.DB, cfg.Storage.Prefix)
		opts.PropertyStorage = prop.NewRedisStore(cfg.Storage.Addr, cfg.Storage.Password, cfg.Storage.DB, cfg.Storage.Prefix)
	default:
		return nil, fmt.Errorf("minato: unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Auth.Scheme != "" && cfg.Auth.Scheme != "none" {
		dc := &SimpleDC{
			Realms:    make(map[string]string),
			Users:     cfg.Auth.Users,
			Anonymous: make(map[string]bool),
		}
		for _, sh := range cfg.Shares {
			dc.Realms[sh.Prefix] = sh.Realm
		}
		for _, realm := range cfg.Auth.AnonymousRealms {
			dc.Anonymous[realm] = true
		}
		switch cfg.Auth.Scheme {
		case "digest":
			opts.Authenticator = NewAuthenticator(dc, false, true)
		case "basic":
			opts.Authenticator = NewAuthenticator(dc, true, false)
		case "both":
			opts.Authenticator = NewAuthenticator(dc, true, true)
		default:
			return nil, fmt.Errorf("minato: unknown auth scheme %q", cfg.Auth.Scheme)
		}
	}

	srv := New(opts)
	for _, shc := range cfg.Shares {
		var provider Provider
		switch shc.Provider {
		case "", "os":
			p, err := NewFSProvider(shc.Root, shc.ReadOnly)
			if err != nil {
				return nil, err
			}
			provider = p
		case "mem":
			provider = NewMemProvider()
		default:
			return nil, fmt.Errorf("minato: unknown provider %q for share %s", shc.Provider, shc.Prefix)
		}
		sh := srv.AddShare(shc.Prefix, provider, shc.Realm)
		sh.FinitePropfindDepth = shc.FinitePropfindDepth
	}
	return srv, nil
}
