package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory    = "memory"
	StoreMongo     = "mongo"
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"

	UploadNone       = "none"
	UploadCloudinary = "cloudinary"
	UploadMinio      = "minio"
)

type Config struct {
	Environment    string // ENV: production, development, etc.
	Port           string
	Host           string // Raw HOST env (e.g. https://api.appshelf.dev)
	AllowedHost    string // Hostname only for strict host check (production only)
	PublicBaseURL  string // Origin share links are built on
	FrontendURL    string
	AllowedOrigins []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL(s)

	LogLevel  string
	PrettyLog bool

	StoreBackend            string
	MongoURI                string
	PostgresURI             string
	RedisURI                string // empty runs sessions, cache and edit state in memory
	FirebaseProjectID       string
	FirebaseCredentialsPath string
	FirebaseAuthEnabled     bool
	LocalAuthEnabled        bool

	SessionTTL        time.Duration
	SnapshotCacheTTL  time.Duration
	ControllerIdleTTL time.Duration

	UploadBackend       string
	CloudinaryName      string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
	MinioEndpoint       string
	MinioAccessKey      string
	MinioSecretKey      string
	MinioBucket         string
	MinioUseSSL         bool
	MinioPublicURL      string

	DefaultCatalogFile string
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))
	host := getEnv("HOST", "http://localhost:8080")

	// AllowedHost is only set in production; host check is skipped in development
	var allowedHost string
	if env == "production" {
		allowedHost = hostname(host)
	}

	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		for _, u := range []string{getEnv("FRONTEND_URL", "http://localhost:3000"), getEnv("FRONTEND_URL_2", "")} {
			u = strings.TrimSpace(u)
			if u != "" {
				allowedOrigins = append(allowedOrigins, u)
			}
		}
	}
	// When HOST is a backend sub-domain (e.g. api.appshelf.dev), also allow
	// https://appshelf.dev and https://www.appshelf.dev
	if h := hostname(host); h != "" && h != "localhost" {
		parts := strings.Split(h, ".")
		if len(parts) >= 3 {
			domain := strings.Join(parts[1:], ".")
			for _, origin := range []string{"https://" + domain, "https://www." + domain} {
				if !containsOrigin(allowedOrigins, origin) {
					allowedOrigins = append(allowedOrigins, origin)
				}
			}
		}
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	frontend := getEnv("FRONTEND_URL", "http://localhost:3000")
	projectID := getEnv("FIREBASE_PROJECT_ID", "")

	return &Config{
		Environment:    env,
		Port:           getEnv("PORT", "8080"),
		Host:           host,
		AllowedHost:    allowedHost,
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", frontend), "/"),
		FrontendURL:    frontend,
		AllowedOrigins: allowedOrigins,

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		PrettyLog: getBool("PRETTY_LOG", env != "production"),

		StoreBackend:            strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		MongoURI:                getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/appshelf")),
		PostgresURI:             getEnv("POSTGRES_URI", "postgres://localhost:5432/appshelf?sslmode=disable"),
		RedisURI:                getEnv("REDIS_URI", ""),
		FirebaseProjectID:       projectID,
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
		FirebaseAuthEnabled:     getBool("FIREBASE_AUTH_ENABLED", projectID != ""),
		LocalAuthEnabled:        getBool("LOCAL_AUTH_ENABLED", true),

		SessionTTL:        getDuration("SESSION_TTL", 7*24*time.Hour),
		SnapshotCacheTTL:  getDuration("SNAPSHOT_CACHE_TTL", 5*time.Minute),
		ControllerIdleTTL: getDuration("CONTROLLER_IDLE_TTL", 15*time.Minute),

		UploadBackend:       strings.ToLower(getEnv("UPLOAD_BACKEND", UploadNone)),
		CloudinaryName:      getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "appshelf"),
		MinioEndpoint:       getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:         getEnv("MINIO_BUCKET", "appshelf-icons"),
		MinioUseSSL:         getBool("MINIO_USE_SSL", false),
		MinioPublicURL:      getEnv("MINIO_PUBLIC_URL", ""),

		DefaultCatalogFile: getEnv("DEFAULT_CATALOG_FILE", ""),
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND=memory is not allowed in production"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("STORE_BACKEND=mongo needs MONGODB_URI"))
		}
	case StorePostgres:
		if c.PostgresURI == "" {
			errs = append(errs, errors.New("STORE_BACKEND=postgres needs POSTGRES_URI"))
		}
	case StoreFirestore:
		if c.FirebaseProjectID == "" {
			errs = append(errs, errors.New("STORE_BACKEND=firestore needs FIREBASE_PROJECT_ID"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.UploadBackend {
	case UploadNone:
	case UploadCloudinary:
		if c.CloudinaryName == "" || c.CloudinaryAPIKey == "" || c.CloudinaryAPISecret == "" {
			errs = append(errs, errors.New("UPLOAD_BACKEND=cloudinary needs CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET"))
		}
	case UploadMinio:
		if c.MinioEndpoint == "" || c.MinioAccessKey == "" || c.MinioSecretKey == "" {
			errs = append(errs, errors.New("UPLOAD_BACKEND=minio needs MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown UPLOAD_BACKEND %q", c.UploadBackend))
	}

	if c.FirebaseAuthEnabled && c.FirebaseProjectID == "" {
		errs = append(errs, errors.New("FIREBASE_AUTH_ENABLED needs FIREBASE_PROJECT_ID"))
	}
	if !c.FirebaseAuthEnabled && !c.LocalAuthEnabled {
		errs = append(errs, errors.New("no sign-in method enabled"))
	}
	if c.IsProduction() && c.RedisURI == "" {
		errs = append(errs, errors.New("REDIS_URI is required in production"))
	}
	return errors.Join(errs...)
}

// UsesFirebase reports whether the Admin SDK must be initialized.
func (c *Config) UsesFirebase() bool {
	return c.FirebaseAuthEnabled || c.StoreBackend == StoreFirestore
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsOrigin(list []string, o string) bool {
	o = strings.TrimSpace(strings.ToLower(o))
	for _, v := range list {
		if strings.TrimSpace(strings.ToLower(v)) == o {
			return true
		}
	}
	return false
}

// hostname strips scheme, path and port.
func hostname(raw string) string {
	h := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://", "http://"} {
		h = strings.TrimPrefix(h, prefix)
	}
	if idx := strings.Index(h, "/"); idx != -1 {
		h = h[:idx]
	}
	if idx := strings.Index(h, ":"); idx != -1 {
		h = h[:idx]
	}
	return strings.TrimSpace(h)
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
