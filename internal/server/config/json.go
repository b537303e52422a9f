package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/admincore/userd/internal/flagx"
	"github.com/admincore/userd/internal/timex"
)

// JsonConfig is the intermediate DTO for the JSON configuration file. It
// uses timex.Duration for interval fields, which parses both string values
// such as "15m" and integer nanoseconds. After unmarshalling, set fields are
// copied into the runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP      string          `json:"endpoint_addr_http"`
	DatabaseDSN           string          `json:"database_dsn"`
	SecretKey             string          `json:"secret_key"`
	TokenValidityDuration *timex.Duration `json:"token_validity_duration"`
	LogLevel              string          `json:"log_level"`
	RebuildReadModel      *bool           `json:"rebuild_readmodel"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded. Only fields present in
// the file override the current values. If the file cannot be read or
// contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.TokenValidityDuration != nil {
		config.TokenValidityDuration = time.Duration(c.TokenValidityDuration.Duration)
	}
	if c.LogLevel != "" {
		config.LogLevel = c.LogLevel
	}
	if c.RebuildReadModel != nil {
		config.RebuildReadModel = *c.RebuildReadModel
	}
}
