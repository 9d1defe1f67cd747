// Package upload runs per-item uploads with a bound on how many are in flight.
//
// Where the bulk package sends items in waves to an endpoint that accepts
// many at once, Queue handles endpoints that take one item per call. It
// tracks items with a batch.Coordinator popping one item per free slot, so
// both paths report outcomes in the same RequestItem form.
//
// Example usage:
//
//	queue := upload.New(upload.DefaultConfig(), func(ctx context.Context, f File) (string, error) {
//		return storage.Put(ctx, f)
//	})
//	queue.OnProgress(func(p upload.Progress[string]) {
//		fmt.Printf("%d/%d %s %s\n", p.Done, p.Total, p.Key, p.Status)
//	})
//	result, err := queue.Process(ctx, files, func(f File) string { return f.Name })
//
// The queue:
//   - Runs at most Config.MaxActive uploads at a time
//   - Optionally paces upload starts with a token bucket (Config.RateLimit)
//   - Bounds each upload with Config.Timeout
//   - Fails items that never started when the context ends
package upload
