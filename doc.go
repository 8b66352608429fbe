// Package contentcache is a local cache for binary resources, such as images
// and PDFs, downloaded over the network.
//
// An Engine stores resource bytes in three durable tables: content, access
// records and the cleanup schedule. Tables are pluggable through store.Table;
// filesystem, SQLite and S3 backends live under store/.
//
// Resources are addressed by an opaque identifier, usually a URL, which is
// never persisted. Each identifier maps to the SHA-256 of its text as the
// storage key.
//
// Retrieval serves stored bytes when present and downloads them otherwise.
// Concurrent downloads of the same identifier are shared, and failed
// downloads are retried with a fixed delay. Downloaded bytes are admitted to
// the store unless they exceed the per-item limit; when the total would
// exceed the cache limit, the entries with the lowest value are evicted
// first, where value is the access count divided by one plus the age in days.
//
// Two background sweeps expire entries: a full cleanup every CleanupPeriod,
// resumed across restarts from the persisted schedule, and a max-age sweep
// every MaxAge.
//
// Basic usage:
//
//	content, access, schedule := fsstore.NewTables(osfs.New("/var/cache/app"))
//	engine, err := contentcache.New(ctx, contentcache.Config{
//	    CleanupPeriod:     24 * time.Hour,
//	    MaxAge:            30 * 24 * time.Hour,
//	    MaxFileSizeBytes:  10 << 20,
//	    MaxCacheSizeBytes: 200 << 20,
//	    MaxRetries:        3,
//	}, content, access, schedule)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	data, ok := engine.Get(ctx, "https://example.com/logo.png")
package contentcache
