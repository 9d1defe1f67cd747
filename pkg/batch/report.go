package batch

// Summary holds aggregate counts over a set of items.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Summarize counts items by status.
func Summarize[K comparable, Req, Res, E any](items []RequestItem[K, Req, Res, E]) Summary {
	s := Summary{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// ErrorMap reduces the failed items into a per-key error mapping.
func ErrorMap[K comparable, Req, Res, E any](items []RequestItem[K, Req, Res, E]) map[K]E {
	errs := make(map[K]E)
	for _, item := range items {
		if item.Status == StatusFailed {
			errs[item.Key] = item.Error
		}
	}
	return errs
}

// FailedRequests returns the requests of failed items in order, ready to be
// submitted again in a new session.
func FailedRequests[K comparable, Req, Res, E any](items []RequestItem[K, Req, Res, E]) []Req {
	var reqs []Req
	for _, item := range items {
		if item.Status == StatusFailed {
			reqs = append(reqs, item.Request)
		}
	}
	return reqs
}
