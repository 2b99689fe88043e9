/*
Package s3 serves tile pyramids from an AWS S3 (or S3 compatible) bucket.

The backend implements the object store contracts the read path depends on:

	FetchRange(ctx, key, offset, length)  one ranged GetObject, "bytes=offset-(offset+length-1)"
	ReadRange(ctx, key, offset, dst)      the same read into a caller-owned buffer
	HeadSize(ctx, key)                    HeadObject content length
	PutObject(ctx, key, data)             used by the pack command

# Connection Pool

Requests borrow an *s3.Client from a ConnectionPool. The pool creates clients
lazily up to PoolSize and then makes callers wait, bounded by their context,
so a burst of cache misses cannot open an unbounded number of connections.
An optional background checker tests idle clients with HeadBucket and drops
the ones that fail.

	cfg := s3.NewDefaultConfig()
	cfg.Region = "us-west-2"
	cfg.PoolSize = 16

	backend, err := s3.NewBackend(ctx, "imagery", cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	data, err := backend.FetchRange(ctx, "landsat/20240101/image.ppg", 1000, 250)

# Errors

SDK errors are translated into the tile error taxonomy:

	NoSuchKey, NotFound, HTTP 404   OBJECT_NOT_FOUND (404, not retried)
	InvalidRange, short body        RANGE_NOT_SATISFIABLE
	NoSuchBucket                    INVALID_CONFIG
	deadline exceeded               CONNECTION_TIMEOUT (retryable)
	anything else                   STORAGE_READ / STORAGE_WRITE (retryable)

# Credentials

Static keys from the configuration take precedence; otherwise the default AWS
credential chain applies. Anonymous disables signing for public buckets and
local test servers.
*/
package s3
