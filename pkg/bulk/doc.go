// Package bulk drives batch.Coordinator sessions against a bulk endpoint.
//
// A Runner splits the submitted items into waves of at most MaxBatchSize,
// sends each wave through a Sender, correlates the positional results back to
// the item keys and reports partial success or failure:
//
//	runner := bulk.NewRunner(endpoint, func(l Lead) string { return l.ClientID }, bulk.DefaultConfig())
//	report, err := runner.Run(ctx, leads)
//	if err != nil {
//		return err
//	}
//	if report.Failed() {
//		log.Warn().Msg(report.Message()) // "Failed to add 3 items!"
//	}
//
// When a whole bulk call fails, FailBatch marks every item of that wave as
// failed and continues with the next wave, while Abandon discards the
// session. Failed items whose error is Retryable can be re-submitted in fresh
// sessions, up to MaxRounds sessions in total.
package bulk
