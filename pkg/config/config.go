// Package config loads the transmitter's node identity and CAN
// interface settings from a TOML file, the same shape of config
// surface most of the daemons in this codebase read at startup.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the top level of the TOML document.
type Config struct {
	Node Node `toml:"node"`
	Bus  Bus  `toml:"bus"`
	Log  Log  `toml:"log"`
}

// Node holds this transmitter's own identity on the bus.
type Node struct {
	ID uint8 `toml:"id"`
}

// Bus selects the CAN driver and the MTU it should talk.
type Bus struct {
	// Interface names a registered pkg/can driver: "socketcan",
	// "socketcanfd", or "virtual".
	Interface string `toml:"interface"`
	Channel   string `toml:"channel"`
	FD        bool   `toml:"fd"`
}

// Log controls the ambient slog handler.
type Log struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Node: Node{ID: 0x20},
		Bus:  Bus{Interface: "virtual", Channel: "vcan0", FD: true},
		Log:  Log{Level: "info"},
	}
}

// Load reads and validates a TOML configuration file.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Node.ID > 127 {
		return fmt.Errorf("config: node.id %d exceeds max node id 127", c.Node.ID)
	}
	if c.Bus.Interface == "" {
		return fmt.Errorf("config: bus.interface must be set")
	}
	if c.Bus.Channel == "" {
		return fmt.Errorf("config: bus.channel must be set")
	}
	return nil
}
