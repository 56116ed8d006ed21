package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"learnhub-media/internal/media"
	"learnhub-media/internal/storage"
)

const envPrefix = "LEARNHUB_MEDIA_"

type config struct {
	Addr      string
	LogLevel  string
	LogFormat string

	StorageDriver          string
	DataPath               string
	PostgresDSN            string
	PostgresMaxConns       int
	PostgresMinConns       int
	PostgresAcquireTimeout time.Duration
	Migrate                bool

	Object     storage.ObjectStorageConfig
	PresignTTL time.Duration

	Profiles             media.ProfileTable
	TranscodeEnabled     bool
	TranscodeConcurrency int
	EncodeTimeout        time.Duration
	FFmpegPath           string
	FFmpegThreads        int
	FFmpegMaxProcesses   int
	PosterEnabled        bool
	AllowedMimeTypes     []string
	MaxUploadBytes       int64
	PublicBaseURL        string

	SweeperEnabled  bool
	SweeperInterval time.Duration
	SweeperTTL      time.Duration
	ReconcileEvery  int
	ReconcileDelete bool

	JWTSecret      string
	JWTIssuer      string
	AllowAnonymous bool

	RedisAddr           string
	RedisPassword       string
	RateLimitRPS        float64
	RateLimitBurst      int
	RateLimitUploads    int
	RateLimitUploadSpan time.Duration

	EventsDriver string
	KafkaBrokers []string
	KafkaTopic   string
	AMQPURL      string
	AMQPQueue    string
	RedisStream  string

	CORSOrigins []string
	TLSCert     string
	TLSKey      string
}

// settings layers the raw string values: explicit flags win over
// environment variables, which win over the YAML file.
type settings struct {
	flags  map[string]string
	file   map[string]string
	getenv func(string) string
}

func envKey(name string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (s settings) get(name string) string {
	if value, ok := s.flags[name]; ok {
		return strings.TrimSpace(value)
	}
	return firstNonEmpty(s.getenv(envKey(name)), s.file[name])
}

type flagSpec struct {
	name  string
	usage string
}

var flagSpecs = []flagSpec{
	{"addr", "HTTP listen address (default :8080)"},
	{"log-level", "log level (debug, info, warn, error)"},
	{"log-format", "log format (json or text)"},
	{"storage-driver", "asset repository driver (json or postgres)"},
	{"data", "path to the JSON asset store"},
	{"postgres-dsn", "Postgres connection string"},
	{"postgres-max-conns", "maximum connections in the Postgres pool"},
	{"postgres-min-conns", "minimum idle connections in the Postgres pool"},
	{"postgres-acquire-timeout", "timeout when acquiring a pooled Postgres connection"},
	{"migrate", "apply embedded migrations when the Postgres repository opens"},
	{"object-endpoint", "S3-compatible endpoint; empty keeps objects in memory"},
	{"object-region", "object storage region"},
	{"object-access-key", "object storage access key"},
	{"object-secret-key", "object storage secret key"},
	{"object-bucket", "object storage bucket"},
	{"object-use-ssl", "use TLS for object storage requests"},
	{"object-prefix", "key prefix applied by the object store"},
	{"object-public-endpoint", "public endpoint used to build object URLs"},
	{"object-create-bucket", "create the bucket at startup when missing"},
	{"object-request-timeout", "timeout for a single object storage request"},
	{"presign-ttl", "lifetime of presigned URLs"},
	{"public-base-url", "base URL prepended to stored keys in ingest responses"},
	{"profiles", "resolution ladder as name:WxH:bitrate,..."},
	{"transcode-enabled", "encode uploads into the profile ladder"},
	{"transcode-concurrency", "profiles encoded in parallel per upload"},
	{"encode-timeout", "deadline for a single profile encode"},
	{"ffmpeg-path", "path to the ffmpeg binary"},
	{"ffmpeg-threads", "threads passed to ffmpeg"},
	{"ffmpeg-max-processes", "ffmpeg processes allowed across all uploads"},
	{"poster-enabled", "extract a poster frame for every upload"},
	{"allowed-mime-types", "comma separated video mime types accepted for upload"},
	{"max-upload-bytes", "largest accepted upload in bytes"},
	{"sweeper-enabled", "remove abandoned uploads on a timer"},
	{"sweeper-interval", "time between sweeps"},
	{"sweeper-ttl", "age after which a pending upload is abandoned"},
	{"reconcile-every", "run storage reconciliation every N sweeps (0 disables)"},
	{"reconcile-delete", "delete objects in folders without an asset row"},
	{"jwt-secret", "HMAC secret for bearer tokens"},
	{"jwt-issuer", "required token issuer"},
	{"allow-anonymous", "serve protected routes without a bearer token"},
	{"redis-addr", "Redis address for rate limiting and the redis event driver"},
	{"redis-password", "Redis password"},
	{"rate-limit-rps", "global request rate limit per second"},
	{"rate-limit-burst", "global rate limit burst"},
	{"rate-limit-uploads", "uploads allowed per client within the upload window"},
	{"rate-limit-upload-window", "window for counting uploads per client"},
	{"events-driver", "asset event driver (none, kafka, amqp, redis)"},
	{"kafka-brokers", "comma separated Kafka brokers"},
	{"kafka-topic", "Kafka topic for asset events"},
	{"amqp-url", "AMQP broker URL"},
	{"amqp-queue", "AMQP queue for asset events"},
	{"redis-stream", "Redis stream for asset events"},
	{"cors-origins", "comma separated browser origins allowed to call the API"},
	{"tls-cert", "path to TLS certificate file"},
	{"tls-key", "path to TLS private key file"},
}

// loadConfig parses args and resolves every setting. A .env file in the
// working directory is loaded into the environment first when present.
func loadConfig(args []string, getenv func(string) string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	for _, spec := range flagSpecs {
		fs.String(spec.name, "", spec.usage)
	}
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	s := settings{flags: make(map[string]string), getenv: getenv}
	fs.Visit(func(f *flag.Flag) {
		if f.Name != "config" {
			s.flags[f.Name] = f.Value.String()
		}
	})
	path := firstNonEmpty(*configPath, getenv(envPrefix+"CONFIG"))
	if path != "" {
		file, err := readConfigFile(path)
		if err != nil {
			return config{}, err
		}
		s.file = file
	}
	return resolveConfig(s)
}

func loadDotEnv(logf func(string, ...any)) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logf("ignoring unreadable .env file", "error", err)
	}
}

func readConfigFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(doc))
	for key, value := range doc {
		switch typed := value.(type) {
		case nil:
			continue
		case []interface{}:
			parts := make([]string, 0, len(typed))
			for _, item := range typed {
				parts = append(parts, fmt.Sprint(item))
			}
			values[key] = strings.Join(parts, ",")
		case map[interface{}]interface{}:
			return nil, fmt.Errorf("config key %q: nested values are not supported", key)
		default:
			values[key] = fmt.Sprint(typed)
		}
	}
	return values, nil
}

func resolveConfig(s settings) (config, error) {
	var errs []error
	intValue := func(name string, fallback int) int {
		value, err := resolveInt(s.get(name), fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return value
	}
	int64Value := func(name string, fallback int64) int64 {
		value, err := resolveInt64(s.get(name), fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return value
	}
	durationValue := func(name string, fallback time.Duration) time.Duration {
		value, err := resolveDuration(s.get(name), fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return value
	}
	boolValue := func(name string, fallback bool) bool {
		value, err := resolveBool(s.get(name), fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return value
	}
	floatValue := func(name string) float64 {
		raw := s.get(name)
		if raw == "" {
			return 0
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return value
	}

	cfg := config{
		Addr:      firstNonEmpty(s.get("addr"), ":8080"),
		LogLevel:  firstNonEmpty(s.get("log-level"), "info"),
		LogFormat: firstNonEmpty(s.get("log-format"), "json"),

		StorageDriver:          strings.ToLower(firstNonEmpty(s.get("storage-driver"), "json")),
		DataPath:               firstNonEmpty(s.get("data"), filepath.Join("data", "media.json")),
		PostgresDSN:            s.get("postgres-dsn"),
		PostgresMaxConns:       intValue("postgres-max-conns", 0),
		PostgresMinConns:       intValue("postgres-min-conns", 0),
		PostgresAcquireTimeout: durationValue("postgres-acquire-timeout", 0),
		Migrate:                boolValue("migrate", false),

		Object: storage.ObjectStorageConfig{
			Endpoint:       s.get("object-endpoint"),
			Region:         s.get("object-region"),
			AccessKey:      s.get("object-access-key"),
			SecretKey:      s.get("object-secret-key"),
			Bucket:         firstNonEmpty(s.get("object-bucket"), "learnhub-media"),
			UseSSL:         boolValue("object-use-ssl", false),
			Prefix:         s.get("object-prefix"),
			PublicEndpoint: s.get("object-public-endpoint"),
			CreateBucket:   boolValue("object-create-bucket", false),
			RequestTimeout: durationValue("object-request-timeout", 0),
		},
		PresignTTL: durationValue("presign-ttl", time.Hour),

		TranscodeEnabled:     boolValue("transcode-enabled", true),
		TranscodeConcurrency: intValue("transcode-concurrency", 1),
		EncodeTimeout:        durationValue("encode-timeout", 10*time.Minute),
		FFmpegPath:           firstNonEmpty(s.get("ffmpeg-path"), "ffmpeg"),
		FFmpegThreads:        intValue("ffmpeg-threads", 0),
		FFmpegMaxProcesses:   intValue("ffmpeg-max-processes", 0),
		PosterEnabled:        boolValue("poster-enabled", false),
		AllowedMimeTypes:     splitAndTrim(s.get("allowed-mime-types")),
		MaxUploadBytes:       int64Value("max-upload-bytes", media.DefaultMaxBytes),
		PublicBaseURL:        s.get("public-base-url"),

		SweeperEnabled:  boolValue("sweeper-enabled", true),
		SweeperInterval: durationValue("sweeper-interval", media.DefaultSweepInterval),
		SweeperTTL:      durationValue("sweeper-ttl", media.DefaultSweepTTL),
		ReconcileEvery:  intValue("reconcile-every", 0),
		ReconcileDelete: boolValue("reconcile-delete", false),

		JWTSecret:      s.get("jwt-secret"),
		JWTIssuer:      s.get("jwt-issuer"),
		AllowAnonymous: boolValue("allow-anonymous", false),

		RedisAddr:           s.get("redis-addr"),
		RedisPassword:       s.get("redis-password"),
		RateLimitRPS:        floatValue("rate-limit-rps"),
		RateLimitBurst:      intValue("rate-limit-burst", 0),
		RateLimitUploads:    intValue("rate-limit-uploads", 0),
		RateLimitUploadSpan: durationValue("rate-limit-upload-window", time.Minute),

		EventsDriver: strings.ToLower(firstNonEmpty(s.get("events-driver"), "none")),
		KafkaBrokers: splitAndTrim(s.get("kafka-brokers")),
		KafkaTopic:   firstNonEmpty(s.get("kafka-topic"), "learnhub.media.assets"),
		AMQPURL:      s.get("amqp-url"),
		AMQPQueue:    firstNonEmpty(s.get("amqp-queue"), "learnhub.media.assets"),
		RedisStream:  firstNonEmpty(s.get("redis-stream"), "learnhub:media:assets"),

		CORSOrigins: splitAndTrim(s.get("cors-origins")),
		TLSCert:     s.get("tls-cert"),
		TLSKey:      s.get("tls-key"),
	}

	profiles, err := media.ParseProfiles(s.get("profiles"))
	if err != nil {
		errs = append(errs, fmt.Errorf("profiles: %w", err))
	}
	cfg.Profiles = profiles

	switch cfg.StorageDriver {
	case "json":
	case "postgres":
		if cfg.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("postgres-dsn: required for the postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage-driver: unsupported value %q", cfg.StorageDriver))
	}
	if cfg.JWTSecret == "" && !cfg.AllowAnonymous {
		errs = append(errs, fmt.Errorf("jwt-secret: required unless allow-anonymous is set"))
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		errs = append(errs, fmt.Errorf("tls-cert and tls-key must be set together"))
	}
	if cfg.EventsDriver == "redis" && cfg.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("redis-addr: required for the redis events driver"))
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, err
	}
	return value, nil
}

func resolveInt64(raw string, fallback int64) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback, err
	}
	return value, nil
}

// resolveDuration accepts Go durations and bare integers, read as seconds.
func resolveDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, err
	}
	return value, nil
}

func resolveBool(raw string, fallback bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, err
	}
	return value, nil
}
