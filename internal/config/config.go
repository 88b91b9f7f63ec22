// Package config loads the static cluster description the node daemon
// starts from.
package config

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/pbkdf2"
)

// NodeSpec is one entry of the static node array.
type NodeSpec struct {
	ID         string `mapstructure:"id"`
	IP         string `mapstructure:"ip"`
	ClientPort uint16 `mapstructure:"client_port"`
	PeerPort   uint16 `mapstructure:"peer_port"`
}

type Config struct {
	Nodes          []NodeSpec    `mapstructure:"nodes"`
	DataDir        string        `mapstructure:"data_dir"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	OpsPortOffset  int           `mapstructure:"ops_port_offset"`
}

// Load reads the cluster config. path may name a file; otherwise
// tessera.yaml is searched in the working directory and /etc/tessera.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tessera")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tessera")
	}
	v.SetDefault("data_dir", "./data")
	v.SetDefault("gossip_interval", "1s")
	v.SetDefault("flush_interval", "5s")
	v.SetDefault("ops_port_offset", 1000)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("config has no nodes")
	}
	return &cfg, nil
}

// dataKeySalt fixes the derivation salt so every node in the cluster maps
// the same passphrase to the same key.
var dataKeySalt = []byte("tessera-data-key")

// DataKey resolves the at-rest table key from the DB_KEY environment
// variable: a bare integer is used directly, anything else is run through
// PBKDF2 and truncated to 64 bits.
func DataKey() (uint64, error) {
	raw := os.Getenv("DB_KEY")
	if raw == "" {
		return 0, fmt.Errorf("DB_KEY is not set")
	}
	if key, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return key, nil
	}
	derived := pbkdf2.Key([]byte(raw), dataKeySalt, 100000, 8, sha256.New)
	return binary.BigEndian.Uint64(derived), nil
}
