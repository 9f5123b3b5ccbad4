package config

import "time"

// APIConfig holds runtime configuration for the auth-device API service.
type APIConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	// Device token issuance.
	DeviceTokenLength     int
	DeviceTokenExpiryDays int // 0 = tokens never expire

	// Invitation issuance.
	InvitationCodeLength  int
	InvitationExpiryHours int

	// Security policy.
	MaxDevicesPerUser         int // 0 = unlimited
	RequireDeviceVerification bool

	// Optional short-lived access JWT issued alongside the device token.
	JWTSecret      string
	AccessTokenTTL time.Duration

	// Invitation delivery webhook (empty = notifications disabled).
	NotifyWebhookURL   string
	NotifyWebhookToken string

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:               GetString("APP_ENV", "development"),
		Addr:                      GetString("API_ADDR", ":4000"),
		DatabaseURL:               GetString("DATABASE_URL", "postgres://authdevice:authdevice@db:5432/authdevice?sslmode=disable"),
		MigrationsDir:             GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		DeviceTokenLength:         GetInt("DEVICE_TOKEN_LENGTH", 64),
		DeviceTokenExpiryDays:     GetInt("DEVICE_TOKEN_EXPIRY_DAYS", 365),
		InvitationCodeLength:      GetInt("INVITATION_CODE_LENGTH", 8),
		InvitationExpiryHours:     GetInt("INVITATION_EXPIRY_HOURS", 48),
		MaxDevicesPerUser:         GetInt("MAX_DEVICES_PER_USER", 5),
		RequireDeviceVerification: GetBool("REQUIRE_DEVICE_VERIFICATION", false),
		JWTSecret:                 GetString("JWT_SECRET", ""),
		AccessTokenTTL:            time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		NotifyWebhookURL:          GetString("NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookToken:        GetString("NOTIFY_WEBHOOK_TOKEN", ""),
		RateLimitRedisAddr:        GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:        GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:          GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

// DeviceTokenExpiry returns the configured token lifetime, or zero when
// device tokens never expire.
func (c APIConfig) DeviceTokenExpiry() time.Duration {
	if c.DeviceTokenExpiryDays <= 0 {
		return 0
	}
	return time.Duration(c.DeviceTokenExpiryDays) * 24 * time.Hour
}

// InvitationExpiry returns the configured invitation lifetime.
func (c APIConfig) InvitationExpiry() time.Duration {
	hours := c.InvitationExpiryHours
	if hours <= 0 {
		hours = 48
	}
	return time.Duration(hours) * time.Hour
}
