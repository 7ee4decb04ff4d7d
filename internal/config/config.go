// Package config loads service configuration from YAML files with
// sensible defaults when the file is absent.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DBServer holds all configuration for the database service.
type DBServer struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// DataFile is the canonical JSON snapshot path.
	DataFile string `yaml:"data_file"`
}

// DefaultDBServer returns DBServer config with sensible defaults.
func DefaultDBServer() DBServer {
	return DBServer{
		BindAddress: "0.0.0.0",
		Port:        6420,
		DataFile:    "db.json",
	}
}

// DevServer holds all configuration for the developer service.
type DevServer struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	Database DatabaseConfig `yaml:"database"`

	// StorageDir is the root of the bundle storage tree.
	StorageDir string `yaml:"storage_dir"`
}

// DefaultDevServer returns DevServer config with sensible defaults.
func DefaultDevServer() DevServer {
	return DevServer{
		BindAddress: "0.0.0.0",
		Port:        6421,
		Database:    DefaultDatabaseConfig(),
		StorageDir:  "storage/games",
	}
}

// LobbyServer holds all configuration for the lobby service.
type LobbyServer struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	Database DatabaseConfig `yaml:"database"`

	// StorageDir is the bundle storage tree shared with the developer
	// service (read-only on the lobby side).
	StorageDir string `yaml:"storage_dir"`

	// PublicHost is the address clients use to reach spawned game
	// servers.
	PublicHost string `yaml:"public_host"`

	// Game server port allocation range.
	GamePortMin int `yaml:"game_port_min"`
	GamePortMax int `yaml:"game_port_max"`
}

// DefaultLobbyServer returns LobbyServer config with sensible defaults.
func DefaultLobbyServer() LobbyServer {
	return LobbyServer{
		BindAddress: "0.0.0.0",
		Port:        6422,
		Database:    DefaultDatabaseConfig(),
		StorageDir:  "storage/games",
		PublicHost:  "127.0.0.1",
		GamePortMin: 20000,
		GamePortMax: 30000,
	}
}

// DatabaseConfig points a service at the database service.
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DefaultDatabaseConfig returns the local database service address.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{Host: "127.0.0.1", Port: 6420}
}

// LoadDBServer loads database service config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadDBServer(path string) (DBServer, error) {
	cfg := DefaultDBServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDevServer loads developer service config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadDevServer(path string) (DevServer, error) {
	cfg := DefaultDevServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadLobbyServer loads lobby service config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadLobbyServer(path string) (LobbyServer, error) {
	cfg := DefaultLobbyServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func load(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}
