package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/flagx"
	"github.com/dmitrijs2005/gophchat/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations use
// timex.Duration so both "30s" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddrHTTP    string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC    string         `json:"endpoint_addr_grpc"`
	DatabaseDSN         string         `json:"database_dsn"`
	SecretKey           string         `json:"secret_key"`
	LogLevel            string         `json:"log_level"`
	AllowedOrigins      []string       `json:"allowed_origins"`
	EventsPerSecond     float64        `json:"events_per_second"`
	EventBurst          int            `json:"event_burst"`
	SendBufferSize      int            `json:"send_buffer_size"`
	PingPeriod          timex.Duration `json:"ping_period"`
	WriteWait           timex.Duration `json:"write_wait"`
	ReadTimeout         timex.Duration `json:"read_timeout"`
	HealthCheckInterval timex.Duration `json:"health_check_interval"`
	S3RootUser          string         `json:"s3_root_user"`
	S3RootPassword      string         `json:"s3_root_password"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Region            string         `json:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint"`
	MediaURLExpiry      timex.Duration `json:"media_url_expiry"`
	MediaPublicBaseURL  string         `json:"media_public_base_url"`
}

// parseJson loads values from the file named by -c / -config into config.
// Only keys present in the file (non-zero values) replace what config
// already holds. An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
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

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.LogLevel, c.LogLevel)
	if len(c.AllowedOrigins) > 0 {
		config.AllowedOrigins = c.AllowedOrigins
	}
	if c.EventsPerSecond > 0 {
		config.EventsPerSecond = c.EventsPerSecond
	}
	if c.EventBurst > 0 {
		config.EventBurst = c.EventBurst
	}
	if c.SendBufferSize > 0 {
		config.SendBufferSize = c.SendBufferSize
	}
	setDuration(&config.PingPeriod, c.PingPeriod)
	setDuration(&config.WriteWait, c.WriteWait)
	setDuration(&config.ReadTimeout, c.ReadTimeout)
	setDuration(&config.HealthCheckInterval, c.HealthCheckInterval)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setDuration(&config.MediaURLExpiry, c.MediaURLExpiry)
	setString(&config.MediaPublicBaseURL, c.MediaPublicBaseURL)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
