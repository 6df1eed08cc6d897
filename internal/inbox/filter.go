package inbox

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/elagerway/magpipe/internal/record"
)

// DateRange restricts the list to conversations with activity since a local
// midnight cutoff.
type DateRange string

const (
	RangeAll       DateRange = ""
	RangeToday     DateRange = "today"
	RangeYesterday DateRange = "yesterday"
	RangeWeek      DateRange = "week"
	RangeMonth     DateRange = "month"
)

// ParseDateRange validates a user-supplied range name.
func ParseDateRange(s string) (DateRange, error) {
	switch DateRange(s) {
	case RangeAll, RangeToday, RangeYesterday, RangeWeek, RangeMonth:
		return DateRange(s), nil
	}
	return "", fmt.Errorf("invalid date range %q (want today, yesterday, week, or month)", s)
}

// Filters holds every active list restriction. The zero value matches
// everything non-hidden.
type Filters struct {
	Type       record.Source
	Direction  record.Direction
	MissedOnly bool
	UnreadOnly bool
	Sentiment  record.Sentiment
	Search     string
	Range      DateRange
}

// SetFilters replaces the active filter set and resets the render window.
func (e *Engine) SetFilters(f Filters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = f
	e.limit = e.pageSize
}

// Filters returns the active filter set.
func (e *Engine) Filters() Filters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// SetSearch updates only the free-text term and resets the window.
func (e *Engine) SetSearch(term string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters.Search = term
	e.limit = e.pageSize
}

// LoadMore widens the render window by one page, clamped to the filtered
// total. It reports whether anything new became visible.
func (e *Engine) LoadMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := len(e.visibleLocked())
	if e.limit >= total {
		return false
	}
	e.limit += e.pageSize
	if e.limit > total {
		e.limit = total
	}
	return true
}

// Visible returns the current page of the filtered, sorted list plus the
// filtered total. The returned conversations are copies; later engine
// mutations do not show through them.
func (e *Engine) Visible() ([]*Conversation, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.visibleLocked()
	total := len(all)
	if e.limit < total {
		all = all[:e.limit]
	}
	page := make([]*Conversation, len(all))
	for i, conv := range all {
		page[i] = conv.clone()
	}
	return page, total
}

// visibleLocked runs the filter pipeline in its fixed order and sorts the
// survivors newest first, key ascending on ties.
func (e *Engine) visibleLocked() []*Conversation {
	var out []*Conversation
	for _, conv := range e.convs {
		if conv.Hidden {
			continue
		}
		if e.filters.Type != "" && conv.Source != e.filters.Type {
			continue
		}
		if e.filters.Direction != "" && conv.Direction() != e.filters.Direction {
			continue
		}
		if e.filters.MissedOnly && !conv.Missed() {
			continue
		}
		if e.filters.UnreadOnly && conv.Unread == 0 {
			continue
		}
		if e.filters.Sentiment != "" && conv.Sentiment() != e.filters.Sentiment {
			continue
		}
		if e.filters.Search != "" && !matchesSearch(conv, e.filters.Search) {
			continue
		}
		if e.filters.Range != "" && conv.LastActivity.Before(rangeCutoff(e.filters.Range, e.now())) {
			continue
		}
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func matchesSearch(conv *Conversation, term string) bool {
	term = strings.ToLower(term)
	for _, field := range []string{conv.CounterpartID, conv.DisplayName, conv.FromName, conv.Subject} {
		if field != "" && strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	for _, in := range conv.Interactions {
		if in.Body != "" && strings.Contains(strings.ToLower(in.Body), term) {
			return true
		}
	}
	return false
}

// rangeCutoff returns the inclusive lower bound for a date range, anchored
// at local midnight.
func rangeCutoff(r DateRange, now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch r {
	case RangeToday:
		return midnight
	case RangeYesterday:
		return midnight.AddDate(0, 0, -1)
	case RangeWeek:
		return midnight.AddDate(0, 0, -7)
	case RangeMonth:
		return midnight.AddDate(0, 0, -30)
	}
	return time.Time{}
}
