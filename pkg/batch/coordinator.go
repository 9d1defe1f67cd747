package batch

// DefaultMaxBatchSize is the wave size used when Config.MaxBatchSize is not
// positive. It matches the per-call item limit of the bulk endpoints this
// package is used with.
const DefaultMaxBatchSize = 100

// Config holds coordinator configuration.
type Config struct {
	// MaxBatchSize bounds the number of requests returned by a single Pop.
	MaxBatchSize int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: DefaultMaxBatchSize,
	}
}

// Updater maps a tracked item to its replacement. index is the item's
// position in stored order.
type Updater[K comparable, Req, Res, E any] func(item RequestItem[K, Req, Res, E], index int) RequestItem[K, Req, Res, E]

// Coordinator tracks the items of one bulk session.
// The zero value is not usable; use NewCoordinator.
type Coordinator[K comparable, Req, Res, E any] struct {
	maxBatchSize int

	items []RequestItem[K, Req, Res, E]
	index map[K]int

	// cursor is the number of stored positions already handed out by Pop.
	cursor int
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator[K comparable, Req, Res, E any](cfg Config) *Coordinator[K, Req, Res, E] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	return &Coordinator[K, Req, Res, E]{
		maxBatchSize: cfg.MaxBatchSize,
		index:        make(map[K]int),
	}
}

// MaxBatchSize returns the upper bound on the length of a Pop result.
func (c *Coordinator[K, Req, Res, E]) MaxBatchSize() int {
	return c.maxBatchSize
}

// Init discards any previous session and tracks items as pending, in order.
//
// Keys are expected to be unique. A duplicate key replaces the earlier item
// in the earlier item's position.
func (c *Coordinator[K, Req, Res, E]) Init(items []Req, keyOf func(Req) K) {
	c.Reset()

	c.items = make([]RequestItem[K, Req, Res, E], 0, len(items))
	for _, req := range items {
		key := keyOf(req)
		item := RequestItem[K, Req, Res, E]{
			Key:     key,
			Request: req,
			Status:  StatusPending,
		}

		if pos, ok := c.index[key]; ok {
			c.items[pos] = item
			continue
		}

		c.index[key] = len(c.items)
		c.items = append(c.items, item)
	}
}

// Pop returns up to MaxBatchSize requests of pending items that have not been
// popped yet, in stored order, and marks them as popped. Items that reached a
// terminal state before being popped are skipped. An empty, non-nil slice is
// returned once nothing remains.
func (c *Coordinator[K, Req, Res, E]) Pop() []Req {
	wave := make([]Req, 0, min(c.maxBatchSize, len(c.items)-c.cursor))

	for c.cursor < len(c.items) && len(wave) < c.maxBatchSize {
		item := c.items[c.cursor]
		c.cursor++

		if item.Status != StatusPending {
			continue
		}
		wave = append(wave, item.Request)
	}

	return wave
}

// Update replaces every tracked item, in stored order, with the result of
// updater.
//
// The key and request of an item can not be changed. Transitions out of a
// terminal state, and back to pending, are ignored. The payload that does not
// match the resulting status is zeroed.
func (c *Coordinator[K, Req, Res, E]) Update(updater Updater[K, Req, Res, E]) {
	for i, current := range c.items {
		c.apply(i, updater(current, i))
	}
}

// UpdateKey applies updater to the item tracked under key only, with the same
// rules as Update. It reports whether key is tracked.
func (c *Coordinator[K, Req, Res, E]) UpdateKey(key K, updater Updater[K, Req, Res, E]) bool {
	pos, ok := c.index[key]
	if !ok {
		return false
	}
	c.apply(pos, updater(c.items[pos], pos))
	return true
}

func (c *Coordinator[K, Req, Res, E]) apply(pos int, next RequestItem[K, Req, Res, E]) {
	current := c.items[pos]
	if current.Status.IsTerminal() {
		return
	}

	next.Key = current.Key
	next.Request = current.Request
	c.items[pos] = next.normalize()
}

// Inspect returns a snapshot of all tracked items in stored order.
func (c *Coordinator[K, Req, Res, E]) Inspect() []RequestItem[K, Req, Res, E] {
	snapshot := make([]RequestItem[K, Req, Res, E], len(c.items))
	copy(snapshot, c.items)
	return snapshot
}

// Get returns the tracked item for key.
func (c *Coordinator[K, Req, Res, E]) Get(key K) (RequestItem[K, Req, Res, E], bool) {
	pos, ok := c.index[key]
	if !ok {
		return RequestItem[K, Req, Res, E]{}, false
	}
	return c.items[pos], true
}

// Reset clears all session state.
func (c *Coordinator[K, Req, Res, E]) Reset() {
	c.items = nil
	c.index = make(map[K]int)
	c.cursor = 0
}

// Len returns the number of tracked items.
func (c *Coordinator[K, Req, Res, E]) Len() int {
	return len(c.items)
}

// Remaining returns the number of pending items not yet popped.
func (c *Coordinator[K, Req, Res, E]) Remaining() int {
	n := 0
	for _, item := range c.items[c.cursor:] {
		if item.Status == StatusPending {
			n++
		}
	}
	return n
}

// Outstanding returns the number of popped items still awaiting an outcome.
func (c *Coordinator[K, Req, Res, E]) Outstanding() int {
	n := 0
	for _, item := range c.items[:c.cursor] {
		if item.Status == StatusPending {
			n++
		}
	}
	return n
}

// Done reports whether every tracked item reached a terminal state.
func (c *Coordinator[K, Req, Res, E]) Done() bool {
	for _, item := range c.items {
		if item.Status == StatusPending {
			return false
		}
	}
	return true
}
