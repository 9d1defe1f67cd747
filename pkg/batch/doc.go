// Package batch provides the bookkeeping for bulk request sessions.
//
// A Coordinator tracks a list of work items keyed by a caller-chosen
// identifier. It hands out bounded waves of still-pending requests, records
// per-item outcomes and exposes snapshots for reporting. It performs no I/O:
// the caller drives it.
//
// Driving protocol:
//
//	coord := batch.NewCoordinator[string, Lead, LeadID, error](batch.DefaultConfig())
//	coord.Init(leads, func(l Lead) string { return l.ClientID })
//	for wave := coord.Pop(); len(wave) > 0; wave = coord.Pop() {
//		results, err := api.CreateLeads(ctx, wave)
//		// correlate results with wave and mark each item completed or failed
//		coord.Update(func(item batch.RequestItem[string, Lead, LeadID, error], i int) batch.RequestItem[string, Lead, LeadID, error] {
//			...
//		})
//	}
//	items := coord.Inspect()
//	summary := batch.Summarize(items)
//	coord.Reset()
//
// Items only ever move from pending to completed or failed. Once terminal, an
// item is never changed again within the same session.
//
// A Coordinator is not safe for concurrent use.
package batch
