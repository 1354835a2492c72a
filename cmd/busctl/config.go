package main

import (
	"encoding/json"
	"os"
)

// Config is busctl's flat, JSON-taggable configuration, identical in
// shape and precedence to server/config.go / client/main.go in the
// teacher repo: CLI flags populate it first, and "-config <path>"
// overrides whatever flags set if given.
type Config struct {
	Identity  string `json:"identity"`
	Listen    string `json:"listen"`
	Connect   string `json:"connect"`
	AuthToken string `json:"auth_token"`

	TLS     bool   `json:"tls"`
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	NoExtraSizeCheck   bool `json:"no_extra_size_check"`
	WantCompression    bool `json:"want_compression"`
	MaxWriteQueueBytes int  `json:"max_write_queue_bytes"`

	Log         string `json:"log"`
	StatsLog    string `json:"stats_log"`
	StatsPeriod int    `json:"stats_period_seconds"`

	Quiet bool `json:"quiet"`
}

func parseJSONConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cfg)
}
