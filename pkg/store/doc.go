// Package store persists finished bulk session reports in Redis.
//
// Reports are stored as JSON records under deterministic keys and expire with
// a TTL. The gateway uses them to serve session lookups and to re-submit the
// failed items of an earlier session.
//
// # Basic Usage
//
//	manager := store.NewManager(redisClient)
//
//	record, err := store.NewRecord("products", report, 24*time.Hour)
//	if err != nil {
//		return err
//	}
//	if err := manager.Set(ctx, record.Key(), record); err != nil {
//		return err
//	}
//
//	record, err = manager.Get(ctx, store.SessionKey{Resource: "products", SessionID: id})
//	if errors.Is(err, store.ErrNotFound) {
//		// unknown or expired session
//	}
//
// # Metrics
//
//   - bulk_store_hits_total - Successful lookups
//   - bulk_store_misses_total - Lookups of unknown or expired sessions
//   - bulk_store_errors_total{operation} - Redis and decoding failures
//   - bulk_store_bytes_written_total - Encoded record bytes written
package store
