package constants

const (
	CookieKeyAuthToken   = "auth_token"
	CookieKeySecretToken = "secret_token"
)

const (
	CtxKeyUserID    = "user_id"
	CtxKeySubject   = "access_subject"
	CtxKeyRequestID = "request_id"
)

// Cache keys shared between services.
const (
	// CacheKeyBuildVersion holds the id of the last finished rebuild in the statistics namespace.
	CacheKeyBuildVersion = "build_version"
)

// Viper keys. They double as environment variable names.
const (
	ViperSecretKey    = "SECRET_KEY"
	ViperDatabaseURL  = "DATABASE_URL"
	ViperRedisURL     = "REDIS_URL"
	ViperHTTPAddr     = "HTTP_ADDR"
	ViperDBTimeout    = "DB_TIMEOUT"
	ViperRedisTimeout = "REDIS_TIMEOUT"

	ViperRedisEmergencyMode = "REDIS_EMERGENCY_MODE"
	ViperDisableMapCache    = "DISABLE_MAP_CACHE"
	ViperUseMinimalCache    = "USE_MINIMAL_CACHE"
	ViperRedisMaxMemory     = "REDIS_MAX_MEMORY"

	ViperMaintenanceMode       = "MAINTENANCE_MODE"
	ViperMaintenanceAllowedIPs = "MAINTENANCE_ALLOWED_IPS"

	ViperStripeListPriceID = "STRIPE_LIST_PRICE_ID"
	ViperStripeFullPriceID = "STRIPE_FULL_PRICE_ID"

	ViperTrialMapQuota = "TRIAL_MAP_QUOTA"

	ViperEgressMaxResponseTime  = "EGRESS_MAX_RESPONSE_TIME"
	ViperEgressMaxResponseBytes = "EGRESS_MAX_RESPONSE_BYTES"
	ViperEgressMaxCacheMissRate = "EGRESS_MAX_CACHE_MISS_RATE"
	ViperEgressMaxAPICalls      = "EGRESS_MAX_API_CALLS"
)
