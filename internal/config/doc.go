/*
Package config provides configuration management for tilecache.

Configuration is layered, lowest priority first:

	compiled-in defaults   NewDefault()
	YAML file              LoadFromFile(path)
	environment            LoadFromEnv()   (TILECACHE_* variables)
	command line flags     applied by cmd/tilecache

Validate runs go-playground/validator over the struct tags and then the
cross-field checks that depend on the storage backend. Every failure is a
TileError with code INVALID_CONFIG whose context names the offending field.

# Sections

	global       log level (DEBUG|INFO|WARN|ERROR), format (json|text), optional rotated log file
	server       listen address, timeouts, CORS, request rate limit
	storage      backend (s3|minio|local|memory), bucket, key prefix, credentials,
	             client pool size, request timeout, retry policy
	cache        memory tier, Badger persistent tier, NATS distributed tier,
	             index table, circuit breaker
	buffers      transfer buffer pool bounds
	monitoring   prometheus metrics and health tracking thresholds

Sizes are written as strings ("512MB", "4GB") and read back with Sizes or
ParseSize.

# Example

	global:
	  log_level: INFO
	  log_format: json
	storage:
	  backend: s3
	  bucket: imagery
	  prefix: mrf
	cache:
	  memory:
	    capacity: 1GB
	    threshold: 0.9
	  distributed:
	    enabled: true
	    url: nats://nats:4222
	    bucket: tiles
	    ttl: 24h

# Environment

	TILECACHE_LOG_LEVEL, TILECACHE_LOG_FORMAT, TILECACHE_LOG_FILE
	TILECACHE_ADDRESS, TILECACHE_REQUEST_TIMEOUT
	TILECACHE_CORS_ENABLED, TILECACHE_CORS_ORIGINS
	TILECACHE_RATE_LIMIT_ENABLED, TILECACHE_RATE_LIMIT_RPS, TILECACHE_RATE_LIMIT_BURST
	TILECACHE_STORAGE_BACKEND, TILECACHE_BUCKET, TILECACHE_PREFIX, TILECACHE_STORAGE_ROOT
	TILECACHE_REGION, TILECACHE_ENDPOINT, TILECACHE_ACCESS_KEY_ID, TILECACHE_SECRET_ACCESS_KEY
	TILECACHE_USE_SSL, TILECACHE_POOL_SIZE, TILECACHE_RETRY_MAX_ATTEMPTS
	TILECACHE_MEMORY_CAPACITY, TILECACHE_INDEX_CAPACITY
	TILECACHE_PERSISTENT_ENABLED, TILECACHE_PERSISTENT_DIR, TILECACHE_PERSISTENT_CAPACITY
	TILECACHE_NATS_ENABLED, TILECACHE_NATS_URL, TILECACHE_NATS_BUCKET, TILECACHE_NATS_TTL
	TILECACHE_MAX_BUFFERS
	TILECACHE_METRICS_ENABLED, TILECACHE_METRICS_ADDRESS
*/
package config
