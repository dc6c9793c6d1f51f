package config

import (
	"os"
	"strings"

	"github.com/dmitrijs2005/gophchat/internal/flagx"
)

// parseEnv overlays values from environment variables. cmd/server seeds the
// environment from a .env file before this runs.
//
// Recognized variables:
//
//	HTTP_ADDR, PORT           HTTP bind address (PORT=8080 becomes ":8080")
//	GRPC_ADDR                 gRPC health bind address
//	DATABASE_DSN, DB_URL      PostgreSQL DSN
//	SECRET_KEY                JWT HMAC secret
//	LOG_LEVEL                 debug|info|warn|error
//	ALLOWED_ORIGINS           comma separated origins
//	FRONTEND_URL              single frontend origin, used when ALLOWED_ORIGINS is unset
//	S3_ROOT_USER, S3_ROOT_PASSWORD, S3_BUCKET, S3_REGION, S3_BASE_ENDPOINT
//	MEDIA_PUBLIC_BASE_URL
func parseEnv(config *Config) {
	if v, ok := lookup("PORT"); ok {
		config.EndpointAddrHTTP = ":" + strings.TrimPrefix(v, ":")
	}
	envString(&config.EndpointAddrHTTP, "HTTP_ADDR")
	envString(&config.EndpointAddrGRPC, "GRPC_ADDR")
	envString(&config.DatabaseDSN, "DB_URL")
	envString(&config.DatabaseDSN, "DATABASE_DSN")
	envString(&config.SecretKey, "SECRET_KEY")
	envString(&config.LogLevel, "LOG_LEVEL")

	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		config.AllowedOrigins = flagx.SplitList(v)
	} else if v, ok := lookup("FRONTEND_URL"); ok {
		config.AllowedOrigins = []string{v}
	}

	envString(&config.S3RootUser, "S3_ROOT_USER")
	envString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	envString(&config.S3Bucket, "S3_BUCKET")
	envString(&config.S3Region, "S3_REGION")
	envString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	envString(&config.MediaPublicBaseURL, "MEDIA_PUBLIC_BASE_URL")
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}
