package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lead struct {
	ID   string
	Name string
}

type result struct {
	OK bool
}

type apiError struct {
	Msg string
}

type leadItem = RequestItem[string, lead, result, *apiError]

func leadKey(l lead) string { return l.ID }

func newLeadCoordinator(size int) *Coordinator[string, lead, result, *apiError] {
	return NewCoordinator[string, lead, result, *apiError](Config{MaxBatchSize: size})
}

func makeLeads(n int) []lead {
	leads := make([]lead, n)
	for i := range leads {
		leads[i] = lead{ID: fmt.Sprintf("lead-%03d", i), Name: fmt.Sprintf("Lead %d", i)}
	}
	return leads
}

func TestNewCoordinator_DefaultBatchSize(t *testing.T) {
	tests := []struct {
		name string
		size int
		want int
	}{
		{name: "explicit", size: 7, want: 7},
		{name: "zero falls back", size: 0, want: DefaultMaxBatchSize},
		{name: "negative falls back", size: -3, want: DefaultMaxBatchSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newLeadCoordinator(tt.size)
			if got := c.MaxBatchSize(); got != tt.want {
				t.Errorf("MaxBatchSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCoordinator_InitCompleteness(t *testing.T) {
	for _, n := range []int{0, 1, 5, 250} {
		t.Run(fmt.Sprintf("%d items", n), func(t *testing.T) {
			c := newLeadCoordinator(10)
			leads := makeLeads(n)
			c.Init(leads, leadKey)

			items := c.Inspect()
			require.Len(t, items, n)
			for i, item := range items {
				assert.Equal(t, leads[i].ID, item.Key)
				assert.Equal(t, leads[i], item.Request)
				assert.Equal(t, StatusPending, item.Status)
				assert.Zero(t, item.Response)
				assert.Nil(t, item.Error)
			}
		})
	}
}

func TestCoordinator_InitDiscardsPreviousSession(t *testing.T) {
	c := newLeadCoordinator(2)
	c.Init(makeLeads(5), leadKey)
	c.Pop()

	c.Init([]lead{{ID: "x"}}, leadKey)

	items := c.Inspect()
	require.Len(t, items, 1)
	assert.Equal(t, "x", items[0].Key)
	assert.Equal(t, []lead{{ID: "x"}}, c.Pop())
}

func TestCoordinator_InitDuplicateKeysLastWriteWins(t *testing.T) {
	c := newLeadCoordinator(10)
	c.Init([]lead{
		{ID: "a", Name: "first"},
		{ID: "b", Name: "b"},
		{ID: "a", Name: "second"},
	}, leadKey)

	items := c.Inspect()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key)
	assert.Equal(t, "second", items[0].Request.Name)
	assert.Equal(t, "b", items[1].Key)
}

func TestCoordinator_PopExhaustiveBoundedOrdered(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		bound int
	}{
		{name: "exact multiple", n: 20, bound: 5},
		{name: "remainder", n: 23, bound: 5},
		{name: "bound larger than list", n: 3, bound: 10},
		{name: "bound of one", n: 4, bound: 1},
		{name: "empty", n: 0, bound: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newLeadCoordinator(tt.bound)
			leads := makeLeads(tt.n)
			c.Init(leads, leadKey)

			var popped []lead
			calls := 0
			for {
				wave := c.Pop()
				if len(wave) == 0 {
					break
				}
				calls++
				if len(wave) > tt.bound {
					t.Fatalf("Pop() returned %d items, bound is %d", len(wave), tt.bound)
				}
				popped = append(popped, wave...)
				if calls > tt.n+1 {
					t.Fatal("Pop() never drained")
				}
			}

			if tt.n == 0 {
				assert.Empty(t, popped)
				return
			}
			assert.Equal(t, leads, popped)
			assert.Equal(t, (tt.n+tt.bound-1)/tt.bound, calls)
		})
	}
}

func TestCoordinator_PopCapacity(t *testing.T) {
	c := newLeadCoordinator(2)
	c.Init(makeLeads(5), leadKey)

	var caps []int
	for wave := c.Pop(); len(wave) > 0; wave = c.Pop() {
		caps = append(caps, cap(wave))
	}
	assert.Equal(t, []int{2, 2, 1}, caps)
}

func TestCoordinator_DrainLargeSession(t *testing.T) {
	const n = 50000
	c := newLeadCoordinator(1)
	c.Init(makeLeads(n), leadKey)

	popped := 0
	for wave := c.Pop(); len(wave) > 0; wave = c.Pop() {
		popped += len(wave)
	}
	assert.Equal(t, n, popped)
	assert.Equal(t, n, c.Outstanding())
}

func TestCoordinator_PopEmptyIsNonNil(t *testing.T) {
	c := newLeadCoordinator(3)
	wave := c.Pop()
	if wave == nil {
		t.Fatal("Pop() on empty coordinator returned nil")
	}
	if len(wave) != 0 {
		t.Errorf("Pop() = %v, want empty", wave)
	}
}

func TestCoordinator_PopSkipsItemsResolvedBeforeDispatch(t *testing.T) {
	c := newLeadCoordinator(2)
	c.Init(makeLeads(4), leadKey)

	c.Update(func(item leadItem, i int) leadItem {
		if i == 1 {
			return item.Fail(&apiError{Msg: "invalid"})
		}
		return item
	})

	first := c.Pop()
	require.Len(t, first, 2)
	assert.Equal(t, "lead-000", first[0].ID)
	assert.Equal(t, "lead-002", first[1].ID)

	second := c.Pop()
	require.Len(t, second, 1)
	assert.Equal(t, "lead-003", second[0].ID)
}

func TestCoordinator_IdentityUpdate(t *testing.T) {
	c := newLeadCoordinator(2)
	c.Init(makeLeads(5), leadKey)
	c.Pop()
	c.Update(func(item leadItem, i int) leadItem {
		switch i {
		case 0:
			return item.Complete(result{OK: true})
		case 1:
			return item.Fail(&apiError{Msg: "dup"})
		}
		return item
	})

	before := c.Inspect()
	var indexes []int
	c.Update(func(item leadItem, i int) leadItem {
		indexes = append(indexes, i)
		return item
	})

	assert.Equal(t, before, c.Inspect())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, indexes)
}

func TestCoordinator_TerminalStateStability(t *testing.T) {
	c := newLeadCoordinator(10)
	c.Init(makeLeads(2), leadKey)
	c.Pop()

	c.Update(func(item leadItem, i int) leadItem {
		if i == 0 {
			return item.Complete(result{OK: true})
		}
		return item.Fail(&apiError{Msg: "dup"})
	})
	before := c.Inspect()

	// Every kind of attempt to move a terminal item must be ignored.
	c.Update(func(item leadItem, i int) leadItem {
		item.Status = StatusPending
		return item
	})
	c.Update(func(item leadItem, i int) leadItem {
		item.Status = StatusFailed
		item.Error = &apiError{Msg: "late"}
		return item
	})
	c.Update(func(item leadItem, i int) leadItem {
		item.Status = StatusCompleted
		item.Response = result{OK: false}
		return item
	})

	assert.Equal(t, before, c.Inspect())
}

func TestCoordinator_UpdateKeepsKeyAndRequest(t *testing.T) {
	c := newLeadCoordinator(10)
	c.Init([]lead{{ID: "a", Name: "A"}}, leadKey)

	c.Update(func(item leadItem, i int) leadItem {
		item.Key = "z"
		item.Request = lead{ID: "z"}
		return item.Complete(result{OK: true})
	})

	item, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", item.Key)
	assert.Equal(t, lead{ID: "a", Name: "A"}, item.Request)
	assert.Equal(t, StatusCompleted, item.Status)

	_, ok = c.Get("z")
	assert.False(t, ok)
}

func TestCoordinator_UpdateNormalizesPayloads(t *testing.T) {
	c := newLeadCoordinator(10)
	c.Init(makeLeads(3), leadKey)

	c.Update(func(item leadItem, i int) leadItem {
		switch i {
		case 0:
			item.Status = StatusCompleted
			item.Response = result{OK: true}
			item.Error = &apiError{Msg: "stray"}
		case 1:
			item.Status = StatusFailed
			item.Response = result{OK: true}
			item.Error = &apiError{Msg: "boom"}
		case 2:
			item.Response = result{OK: true}
		}
		return item
	})

	items := c.Inspect()
	assert.Nil(t, items[0].Error)
	assert.Equal(t, result{OK: true}, items[0].Response)
	assert.Zero(t, items[1].Response)
	assert.Equal(t, &apiError{Msg: "boom"}, items[1].Error)
	assert.Equal(t, StatusPending, items[2].Status)
	assert.Zero(t, items[2].Response)
}

func TestCoordinator_UpdateKey(t *testing.T) {
	c := newLeadCoordinator(10)
	c.Init(makeLeads(3), leadKey)
	c.Pop()

	ok := c.UpdateKey("lead-001", func(item leadItem, i int) leadItem {
		assert.Equal(t, 1, i)
		item.Key = "other"
		return item.Fail(&apiError{Msg: "boom"})
	})
	require.True(t, ok)

	items := c.Inspect()
	assert.Equal(t, StatusPending, items[0].Status)
	assert.Equal(t, StatusFailed, items[1].Status)
	assert.Equal(t, "lead-001", items[1].Key)
	assert.Equal(t, StatusPending, items[2].Status)

	// terminal items stay put
	c.UpdateKey("lead-001", func(item leadItem, i int) leadItem {
		return item.Complete(result{OK: true})
	})
	item, _ := c.Get("lead-001")
	assert.Equal(t, StatusFailed, item.Status)

	assert.False(t, c.UpdateKey("missing", func(item leadItem, i int) leadItem { return item }))
}

func TestCoordinator_InspectReturnsCopy(t *testing.T) {
	c := newLeadCoordinator(10)
	c.Init(makeLeads(2), leadKey)

	snapshot := c.Inspect()
	snapshot[0].Status = StatusCompleted

	assert.Equal(t, StatusPending, c.Inspect()[0].Status)
}

func TestCoordinator_Reset(t *testing.T) {
	c := newLeadCoordinator(2)
	c.Init(makeLeads(5), leadKey)
	c.Pop()
	c.Update(func(item leadItem, i int) leadItem { return item.Complete(result{OK: true}) })

	c.Reset()

	assert.Empty(t, c.Inspect())
	assert.Empty(t, c.Pop())
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Done())
}

func TestCoordinator_Counters(t *testing.T) {
	c := newLeadCoordinator(2)
	c.Init(makeLeads(5), leadKey)

	assert.Equal(t, 5, c.Len())
	assert.Equal(t, 5, c.Remaining())
	assert.Equal(t, 0, c.Outstanding())

	c.Pop()
	assert.Equal(t, 3, c.Remaining())
	assert.Equal(t, 2, c.Outstanding())
	assert.False(t, c.Done())

	c.Update(func(item leadItem, i int) leadItem {
		if i < 2 {
			return item.Complete(result{OK: true})
		}
		return item
	})
	assert.Equal(t, 0, c.Outstanding())

	for len(c.Pop()) > 0 {
	}
	c.Update(func(item leadItem, i int) leadItem { return item.Fail(&apiError{Msg: "x"}) })
	assert.True(t, c.Done())
	assert.Equal(t, 0, c.Remaining())
}

// TestCoordinator_Scenario walks the three item example end to end.
func TestCoordinator_Scenario(t *testing.T) {
	c := newLeadCoordinator(2)
	c.Init([]lead{{ID: "a"}, {ID: "b"}, {ID: "c"}}, leadKey)

	first := c.Pop()
	assert.Equal(t, []lead{{ID: "a"}, {ID: "b"}}, first)

	server := map[string]leadItem{}
	server["a"] = leadItem{Status: StatusCompleted, Response: result{OK: true}}
	server["b"] = leadItem{Status: StatusFailed, Error: &apiError{Msg: "dup"}}
	apply := func(item leadItem, _ int) leadItem {
		res, ok := server[item.Key]
		if !ok {
			return item
		}
		if res.Status == StatusCompleted {
			return item.Complete(res.Response)
		}
		return item.Fail(res.Error)
	}
	c.Update(apply)

	second := c.Pop()
	assert.Equal(t, []lead{{ID: "c"}}, second)

	server["c"] = leadItem{Status: StatusCompleted, Response: result{OK: true}}
	c.Update(apply)

	assert.Empty(t, c.Pop())

	items := c.Inspect()
	require.Len(t, items, 3)
	assert.Equal(t, StatusCompleted, items[0].Status)
	assert.Equal(t, result{OK: true}, items[0].Response)
	assert.Equal(t, StatusFailed, items[1].Status)
	assert.Equal(t, &apiError{Msg: "dup"}, items[1].Error)
	assert.Equal(t, StatusCompleted, items[2].Status)

	c.Reset()
	assert.Empty(t, c.Inspect())
}
