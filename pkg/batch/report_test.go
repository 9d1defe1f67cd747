package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportHelpers(t *testing.T) {
	c := newLeadCoordinator(10)
	c.Init(makeLeads(4), leadKey)
	c.Pop()
	c.Update(func(item leadItem, i int) leadItem {
		switch i {
		case 0:
			return item.Complete(result{OK: true})
		case 1, 3:
			return item.Fail(&apiError{Msg: "dup"})
		}
		return item
	})
	items := c.Inspect()

	assert.Equal(t, Summary{Total: 4, Pending: 1, Completed: 1, Failed: 2}, Summarize(items))

	errs := ErrorMap(items)
	assert.Len(t, errs, 2)
	assert.Equal(t, "dup", errs["lead-001"].Msg)
	assert.Contains(t, errs, "lead-003")

	failed := FailedRequests(items)
	assert.Equal(t, []lead{{ID: "lead-001", Name: "Lead 1"}, {ID: "lead-003", Name: "Lead 3"}}, failed)
}

func TestReportHelpers_Empty(t *testing.T) {
	var items []leadItem

	assert.Equal(t, Summary{}, Summarize(items))
	assert.Empty(t, ErrorMap(items))
	assert.Nil(t, FailedRequests(items))
}
