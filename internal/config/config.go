// Package config reads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PortNumber53/creator-studio/internal/media"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
	AuthInsecure = "insecure"
)

type Config struct {
	Port                string
	DatabaseURL         string
	StoreDriver         string
	AuthMode            string
	JWTSecret           string
	FirebaseProjectID   string
	RedisURL            string
	StripeSecretKey     string
	StripeWebhookSecret string
	PublicOrigin        string
	InternalSecret      string
	OTLPEndpoint        string

	MediaEnabled bool
	Media        media.Config

	ClaimReleaseEnabled  bool
	ClaimReleaseInterval time.Duration
	ClaimTTL             time.Duration
}

// Load builds a Config from getenv. Missing provider credentials are an
// error unless uploads are explicitly disabled; there are no built-in defaults for them.
func Load(getenv func(string) string) (Config, error) {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	c := Config{
		Port:                get("PORT"),
		DatabaseURL:         get("DATABASE_URL"),
		StoreDriver:         strings.ToLower(get("STORE_DRIVER")),
		AuthMode:            strings.ToLower(get("AUTH_MODE")),
		JWTSecret:           get("AUTH_JWT_SECRET"),
		FirebaseProjectID:   get("FIREBASE_PROJECT_ID"),
		RedisURL:            get("REDIS_URL"),
		StripeSecretKey:     get("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: get("STRIPE_WEBHOOK_SECRET"),
		PublicOrigin:        get("PUBLIC_ORIGIN"),
		InternalSecret:      get("INTERNAL_API_SECRET"),
		OTLPEndpoint:        get("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MediaEnabled:        parseBool(get("MEDIA_UPLOADS_ENABLED"), true),
		Media: media.Config{
			APIBase:      get("MEDIA_API_BASE"),
			DeliveryHost: get("MEDIA_DELIVERY_HOST"),
			CloudName:    get("MEDIA_CLOUD_NAME"),
			UploadPreset: get("MEDIA_UPLOAD_PRESET"),
			APIKey:       get("MEDIA_API_KEY"),
			ImageTimeout: Seconds(getenv, "MEDIA_IMAGE_TIMEOUT_SECONDS", 120*time.Second),
			VideoTimeout: Seconds(getenv, "MEDIA_VIDEO_TIMEOUT_SECONDS", 1800*time.Second),
		},
		ClaimReleaseEnabled:  parseBool(get("CLAIM_RELEASE_ENABLED"), true),
		ClaimReleaseInterval: Seconds(getenv, "CLAIM_RELEASE_INTERVAL_SECONDS", time.Minute),
		ClaimTTL:             Seconds(getenv, "CLAIM_TTL_SECONDS", 15*time.Minute),
	}
	if c.Port == "" {
		c.Port = "18911"
	}
	if c.Media.APIBase == "" {
		c.Media.APIBase = "https://api.cloudinary.com"
	}
	if c.Media.DeliveryHost == "" {
		c.Media.DeliveryHost = "res.cloudinary.com"
	}
	if c.StoreDriver == "" {
		c.StoreDriver = DriverPostgres
		if c.DatabaseURL == "" {
			c.StoreDriver = DriverMemory
		}
	}
	if c.AuthMode == "" {
		c.AuthMode = AuthJWT
	}

	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver))
	}
	switch c.AuthMode {
	case AuthJWT:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("AUTH_JWT_SECRET is required when AUTH_MODE=jwt"))
		}
	case AuthFirebase:
		if c.FirebaseProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required when AUTH_MODE=firebase"))
		}
	case AuthInsecure:
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be jwt, firebase or insecure, got %q", c.AuthMode))
	}
	if c.MediaEnabled {
		if c.Media.CloudName == "" {
			errs = append(errs, errors.New("MEDIA_CLOUD_NAME is required (set MEDIA_UPLOADS_ENABLED=false to run without uploads)"))
		}
		if c.Media.UploadPreset == "" {
			errs = append(errs, errors.New("MEDIA_UPLOAD_PRESET is required (set MEDIA_UPLOADS_ENABLED=false to run without uploads)"))
		}
	}
	return c, errors.Join(errs...)
}

// String lists non-secret settings for the startup log.
func (c Config) String() string {
	return fmt.Sprintf("port=%s store=%s auth=%s redis=%t stripe=%t otlp=%t media=%t cloud=%q preset_set=%t api_key_set=%t claim_release=%t",
		c.Port, c.StoreDriver, c.AuthMode, c.RedisURL != "", c.StripeSecretKey != "", c.OTLPEndpoint != "",
		c.MediaEnabled, c.Media.CloudName, c.Media.UploadPreset != "", c.Media.APIKey != "", c.ClaimReleaseEnabled)
}

// Seconds parses a positive integer number of seconds, falling back to def.
func Seconds(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
