package config

// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/zhtp-network/zhtp-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a zhtp node. It is
// unmarshalled from the YAML files Load reads (default.yaml plus an
// optional <env>.yaml, from cmd/config or config); the repository ships no
// such files.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		ChainID        int      `mapstructure:"chain_id" json:"chain_id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		GenesisFile    string   `mapstructure:"genesis_file" json:"genesis_file"`
		RPCEnabled     bool     `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		GenesisDifficulty  uint32 `mapstructure:"genesis_difficulty" json:"genesis_difficulty"`
		TargetBlockSeconds int    `mapstructure:"target_block_seconds" json:"target_block_seconds"`
		MinFeePerByte      uint64 `mapstructure:"min_fee_per_byte" json:"min_fee_per_byte"`
	} `mapstructure:"consensus" json:"consensus"`

	// Mesh configures the BLE/WiFi-Direct/mDNS peer fabric (spec.md §4.5-§4.7).
	Mesh struct {
		NodeID             string `mapstructure:"node_id" json:"node_id"`
		BLEEnabled         bool   `mapstructure:"ble_enabled" json:"ble_enabled"`
		WifiDirectEnabled  bool   `mapstructure:"wifi_direct_enabled" json:"wifi_direct_enabled"`
		MDNSServiceName    string `mapstructure:"mdns_service_name" json:"mdns_service_name"`
		PeerPruneSeconds   int    `mapstructure:"peer_prune_seconds" json:"peer_prune_seconds"`
		MaxInFlightPerPeer int    `mapstructure:"max_in_flight_per_peer" json:"max_in_flight_per_peer"`
	} `mapstructure:"mesh" json:"mesh"`

	// Web4 configures the domain registry's DHT-backed manifest storage and
	// fee minimums (spec.md §4.8).
	Web4 struct {
		DhtCacheCapacity int    `mapstructure:"dht_cache_capacity" json:"dht_cache_capacity"`
		MinFeeZHTP       uint64 `mapstructure:"min_fee_zhtp" json:"min_fee_zhtp"`
		SignatureWindow  int    `mapstructure:"signature_window_seconds" json:"signature_window_seconds"`
	} `mapstructure:"web4" json:"web4"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
		Prune  bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // reads matching environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNN_ENV", ""))
}
