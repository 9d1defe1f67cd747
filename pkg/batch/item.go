package batch

import (
	"fmt"
)

// Status is the lifecycle state of a RequestItem.
type Status string

const (
	// StatusPending means the item has no outcome yet.
	StatusPending Status = "pending"

	// StatusCompleted means the item succeeded and carries a response.
	StatusCompleted Status = "completed"

	// StatusFailed means the item failed and carries an error.
	StatusFailed Status = "failed"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition may occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("invalid status %q", string(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch v := Status(text); v {
	case StatusPending, StatusCompleted, StatusFailed:
		*s = v
		return nil
	default:
		return fmt.Errorf("invalid status %q", string(text))
	}
}

// RequestItem is one unit of work tracked by a Coordinator.
//
// Response is only meaningful when Status is StatusCompleted, and Error only
// when Status is StatusFailed. The other field holds its zero value.
type RequestItem[K comparable, Req, Res, E any] struct {
	Key      K
	Request  Req
	Status   Status
	Response Res
	Error    E
}

// Complete returns a copy of the item marked completed with res.
// Terminal items are returned unchanged.
func (i RequestItem[K, Req, Res, E]) Complete(res Res) RequestItem[K, Req, Res, E] {
	if i.Status.IsTerminal() {
		return i
	}
	var zero E
	i.Status = StatusCompleted
	i.Response = res
	i.Error = zero
	return i
}

// Fail returns a copy of the item marked failed with err.
// Terminal items are returned unchanged.
func (i RequestItem[K, Req, Res, E]) Fail(err E) RequestItem[K, Req, Res, E] {
	if i.Status.IsTerminal() {
		return i
	}
	var zero Res
	i.Status = StatusFailed
	i.Response = zero
	i.Error = err
	return i
}

// normalize zeroes whichever payload does not belong to the status.
func (i RequestItem[K, Req, Res, E]) normalize() RequestItem[K, Req, Res, E] {
	switch i.Status {
	case StatusCompleted:
		var zero E
		i.Error = zero
	case StatusFailed:
		var zero Res
		i.Response = zero
	default:
		var zeroRes Res
		var zeroErr E
		i.Status = StatusPending
		i.Response = zeroRes
		i.Error = zeroErr
	}
	return i
}
