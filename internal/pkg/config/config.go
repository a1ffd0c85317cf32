package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr     string        `validate:"required"`
	DatabaseURL  string        `validate:"required"`
	RedisURL     string        `validate:"required"`
	SecretKey    string        `validate:"required"`
	DBTimeout    time.Duration `validate:"gt=0"`
	RedisTimeout time.Duration `validate:"gt=0"`

	Cache       Cache
	Maintenance Maintenance
	Stripe      Stripe
	Egress      Egress

	TrialMapQuota int `validate:"gte=0"`
}

type Cache struct {
	EmergencyMode   bool
	DisableMapCache bool
	MinimalCache    bool
	MaxMemoryBytes  int64 `validate:"gt=0"`
}

type Maintenance struct {
	Enabled    bool
	AllowedIPs []string
}

// Stripe price ids are consumed by the payment glue, not by the core.
type Stripe struct {
	ListPriceID string
	FullPriceID string
}

type Egress struct {
	MaxResponseTime  time.Duration `validate:"gt=0"`
	MaxResponseBytes int64         `validate:"gt=0"`
	MaxCacheMissRate float64       `validate:"gt=0,lte=1"`
	MaxAPICalls      int           `validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(constants.ViperHTTPAddr, ":8080")
	v.SetDefault(constants.ViperDBTimeout, 30*time.Second)
	v.SetDefault(constants.ViperRedisTimeout, 2*time.Second)
	v.SetDefault(constants.ViperRedisMaxMemory, 50*1024*1024)
	v.SetDefault(constants.ViperTrialMapQuota, 10)
	v.SetDefault(constants.ViperEgressMaxResponseTime, 2*time.Second)
	v.SetDefault(constants.ViperEgressMaxResponseBytes, 50*1024)
	v.SetDefault(constants.ViperEgressMaxCacheMissRate, 0.3)
	v.SetDefault(constants.ViperEgressMaxAPICalls, 5)
}

// Load reads configuration from the environment and, when configFile is not empty,
// from that file. Environment variables win.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ReadInConfig: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:     v.GetString(constants.ViperHTTPAddr),
		DatabaseURL:  v.GetString(constants.ViperDatabaseURL),
		RedisURL:     v.GetString(constants.ViperRedisURL),
		SecretKey:    v.GetString(constants.ViperSecretKey),
		DBTimeout:    v.GetDuration(constants.ViperDBTimeout),
		RedisTimeout: v.GetDuration(constants.ViperRedisTimeout),
		Cache: Cache{
			EmergencyMode:   v.GetBool(constants.ViperRedisEmergencyMode),
			DisableMapCache: v.GetBool(constants.ViperDisableMapCache),
			MinimalCache:    v.GetBool(constants.ViperUseMinimalCache),
			MaxMemoryBytes:  v.GetInt64(constants.ViperRedisMaxMemory),
		},
		Maintenance: Maintenance{
			Enabled:    v.GetBool(constants.ViperMaintenanceMode),
			AllowedIPs: splitList(v.GetString(constants.ViperMaintenanceAllowedIPs)),
		},
		Stripe: Stripe{
			ListPriceID: v.GetString(constants.ViperStripeListPriceID),
			FullPriceID: v.GetString(constants.ViperStripeFullPriceID),
		},
		Egress: Egress{
			MaxResponseTime:  v.GetDuration(constants.ViperEgressMaxResponseTime),
			MaxResponseBytes: v.GetInt64(constants.ViperEgressMaxResponseBytes),
			MaxCacheMissRate: v.GetFloat64(constants.ViperEgressMaxCacheMissRate),
			MaxAPICalls:      v.GetInt(constants.ViperEgressMaxAPICalls),
		},
		TrialMapQuota: v.GetInt(constants.ViperTrialMapQuota),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var res []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
