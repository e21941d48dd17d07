package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MustBindPFlag binds a viper key to a cobra flag and panics if the binding
// fails.
func MustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func MustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

type flagBinding struct {
	key  string
	flag string
	env  string
}

var serveBindings = []flagBinding{
	{"log.format", "log-format", "PROCD_LOG_FORMAT"},
	{"log.level", "log-level", "PROCD_LOG_LEVEL"},
	{"http.addr", "http-addr", "PROCD_HTTP_ADDR"},
	{"http.timeout", "http-timeout", "PROCD_HTTP_TIMEOUT"},
	{"http.pretty", "http-pretty", "PROCD_HTTP_PRETTY"},
	{"http.maxBodyBytes", "http-max-body-bytes", "PROCD_HTTP_MAX_BODY_BYTES"},
	{"http.corsAllowedOrigins", "http-cors-allowed-origins", "PROCD_HTTP_CORS_ALLOWED_ORIGINS"},
	{"http.metadataHeaders", "http-metadata-headers", "PROCD_HTTP_METADATA_HEADERS"},
	{"metrics.enabled", "metrics-enabled", "PROCD_METRICS_ENABLED"},
	{"metrics.path", "metrics-path", "PROCD_METRICS_PATH"},
	{"trace.endpoint", "trace-endpoint", "PROCD_TRACE_ENDPOINT"},
	{"trace.serviceName", "trace-service-name", "PROCD_TRACE_SERVICE_NAME"},
	{"authn.secret", "authn-secret", "PROCD_AUTHN_SECRET"},
	{"authn.issuer", "authn-issuer", "PROCD_AUTHN_ISSUER"},
	{"authn.audience", "authn-audience", "PROCD_AUTHN_AUDIENCE"},
	{"cache.enabled", "cache-enabled", "PROCD_CACHE_ENABLED"},
	{"cache.size", "cache-size", "PROCD_CACHE_SIZE"},
	{"cache.ttl", "cache-ttl", "PROCD_CACHE_TTL"},
	{"procedure.timeout", "procedure-timeout", "PROCD_PROCEDURE_TIMEOUT"},
	{"procedure.maxRetries", "procedure-max-retries", "PROCD_PROCEDURE_MAX_RETRIES"},
}

// defineServeFlags declares the serve flags with DefaultConfig values.
// NOTE: if you add a flag here, add its binding to serveBindings, too.
func defineServeFlags(flags *pflag.FlagSet) {
	defaultConfig := DefaultConfig()

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in: 'text' or 'json'")
	flags.String("log-level", defaultConfig.Log.Level, "the log level: 'none', 'debug', 'info', 'warn' or 'error'")
	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve procedures on")
	flags.Duration("http-timeout", defaultConfig.HTTP.Timeout, "the default timeout for queries and mutations")
	flags.Bool("http-pretty", defaultConfig.HTTP.Pretty, "pretty-print JSON responses")
	flags.Int64("http-max-body-bytes", defaultConfig.HTTP.MaxBodyBytes, "the maximum size of a request body, 0 for unlimited")
	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "origins allowed to call procedures from a browser")
	flags.StringSlice("http-metadata-headers", defaultConfig.HTTP.MetadataHeaders, "HTTP headers forwarded into procedure metadata")
	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "expose Prometheus metrics")
	flags.String("metrics-path", defaultConfig.Metrics.Path, "the HTTP path serving Prometheus metrics")
	flags.String("trace-endpoint", defaultConfig.Trace.Endpoint, "the OTLP gRPC collector endpoint; empty disables tracing")
	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name reported with traces")
	flags.String("authn-secret", defaultConfig.Authn.Secret, "the HMAC secret verifying bearer tokens; empty disables authenticated procedures")
	flags.String("authn-issuer", defaultConfig.Authn.Issuer, "the required token issuer")
	flags.String("authn-audience", defaultConfig.Authn.Audience, "the required token audience")
	flags.Bool("cache-enabled", defaultConfig.Cache.Enabled, "cache query results")
	flags.Int64("cache-size", defaultConfig.Cache.Size, "the maximum number of cached query results")
	flags.Duration("cache-ttl", defaultConfig.Cache.TTL, "how long a cached query result is served")
	flags.Duration("procedure-timeout", defaultConfig.Procedure.Timeout, "the deadline of a single procedure call, including stream consumption")
	flags.Uint64("procedure-max-retries", defaultConfig.Procedure.MaxRetries, "how often a query failing with a transient error is retried")
}

// bindFlagsFunc binds the cobra cmd flags to the equivalent config values
// managed by viper. Binding happens in PreRun so that commands sharing a key
// do not steal each other's flags.
func bindFlagsFunc(flags *pflag.FlagSet, bindings []flagBinding) func(*cobra.Command, []string) {
	return func(*cobra.Command, []string) {
		for _, b := range bindings {
			MustBindPFlag(b.key, flags.Lookup(b.flag))
			if b.env != "" {
				MustBindEnv(b.key, b.env)
			}
		}
	}
}
