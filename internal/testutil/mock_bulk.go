// Package testutil provides testing utilities for the bulk request client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// itemFailure describes how the mock rejects an item key.
type itemFailure struct {
	code    string
	message string
	// remaining rejections, negative means always
	remaining int
}

// MockBulkAPI is a configurable mock bulk endpoint for testing.
//
// It accepts POST bodies of the form {"items":[...]} on any path and answers
// with {"results":[...]} in submission order. Successful items are echoed
// back as data. Items are identified by their "key" field.
type MockBulkAPI struct {
	server *httptest.Server

	mu         sync.Mutex
	failures   map[string]*itemFailure
	failCalls  int
	failStatus int
	remaining  int
	reset      int
	delay      time.Duration

	// Tracking
	requestCount int
	batchSizes   []int
	paths        []string
	lastHeader   http.Header
}

// NewMockBulkAPI starts a mock bulk endpoint with a healthy quota.
func NewMockBulkAPI() *MockBulkAPI {
	mock := &MockBulkAPI{
		failures:  make(map[string]*itemFailure),
		remaining: 100,
		reset:     60,
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockBulkAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBulkAPI) Close() {
	m.server.Close()
}

// FailKey rejects the item with key on every call.
func (m *MockBulkAPI) FailKey(key, code string) {
	m.FailKeyTimes(key, code, -1)
}

// FailKeyTimes rejects the item with key on its next n submissions.
func (m *MockBulkAPI) FailKeyTimes(key, code string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = &itemFailure{
		code:      code,
		message:   fmt.Sprintf("item %s rejected", key),
		remaining: n,
	}
}

// FailNextCalls answers the next n calls with status and no results.
func (m *MockBulkAPI) FailNextCalls(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCalls = n
	m.failStatus = status
}

// SetQuota sets the advertised quota headers.
func (m *MockBulkAPI) SetQuota(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
	m.reset = resetSeconds
}

// SetDelay delays every response.
func (m *MockBulkAPI) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// RequestCount returns the number of requests made to the server.
func (m *MockBulkAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// BatchSizes returns the item count of every decoded request, in order.
func (m *MockBulkAPI) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}

// Paths returns the request path of every request, in order.
func (m *MockBulkAPI) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockBulkAPI) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// Reset clears tracking counters and configured failures.
func (m *MockBulkAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]*itemFailure)
	m.failCalls = 0
	m.requestCount = 0
	m.batchSizes = nil
	m.paths = nil
	m.lastHeader = nil
}

func (m *MockBulkAPI) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.paths = append(m.paths, r.URL.Path)
	m.lastHeader = r.Header.Clone()
	delay := m.delay
	failCall := m.failCalls > 0
	status := m.failStatus
	if failCall {
		m.failCalls--
	}
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(m.remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprint(m.reset))
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if failCall {
		w.WriteHeader(status)
		w.Write([]byte(`{"error": "injected failure"}`))
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "malformed body"}`))
		return
	}

	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, len(body.Items))
	results := make([]map[string]any, len(body.Items))
	for i, raw := range body.Items {
		results[i] = m.resultFor(raw)
	}
	m.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}

// resultFor builds the result of one item. Caller holds m.mu.
func (m *MockBulkAPI) resultFor(raw json.RawMessage) map[string]any {
	var item struct {
		Key any `json:"key"`
	}
	if err := json.Unmarshal(raw, &item); err == nil && item.Key != nil {
		if f, ok := m.failures[fmt.Sprint(item.Key)]; ok && f.remaining != 0 {
			if f.remaining > 0 {
				f.remaining--
			}
			return map[string]any{
				"ok":    false,
				"error": map[string]any{"code": f.code, "message": f.message},
			}
		}
	}
	return map[string]any{"ok": true, "data": raw}
}
