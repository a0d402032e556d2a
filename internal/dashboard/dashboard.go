// Package dashboard derives the read-side views over the need
// collection: per-viewer partitions, notification counts, the action
// item list, and time-bucketed activity. Everything here is a pure
// function of a card slice, recomputed on demand.
package dashboard

import (
	"sort"
	"time"

	"github.com/solacelabs/tandem/internal/types"
)

// Partition splits the collection into the viewer's own needs and the
// partner's, each sorted newest-first.
type Partition struct {
	Mine     []types.NeedCard `json:"mine"`
	Partners []types.NeedCard `json:"partners"`
}

// Partition splits cards by authorship relative to the viewer.
func PartitionByAuthor(cards []types.NeedCard, viewer types.Member) Partition {
	p := Partition{Mine: []types.NeedCard{}, Partners: []types.NeedCard{}}
	for _, c := range cards {
		if c.Author == viewer {
			p.Mine = append(p.Mine, c)
		} else {
			p.Partners = append(p.Partners, c)
		}
	}
	newestFirst(p.Mine)
	newestFirst(p.Partners)
	return p
}

func newestFirst(cards []types.NeedCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].Timestamp.After(cards[j].Timestamp)
	})
}

// NotificationCount returns the viewer's badge count: one per partner
// need they have not yet opened, plus one per own need whose response
// they have not yet seen.
func NotificationCount(cards []types.NeedCard, viewer types.Member) int {
	n := 0
	for _, c := range cards {
		if c.Author != viewer && !c.SeenByPartner {
			n++
		}
		if c.Author == viewer && c.Status == types.StatusDiscussed && !c.AuthorHasSeenUpdate {
			n++
		}
	}
	return n
}

// ActionItem is an action plan annotated with its parent need context.
type ActionItem struct {
	Plan          types.ActionPlan `json:"plan"`
	NeedID        string           `json:"needId"`
	NeedTitle     string           `json:"needTitle"`
	NeedAuthor    types.Member     `json:"needAuthor"`
	NeedTimestamp time.Time        `json:"needTimestamp"`
}

// ActionItems flattens every plan committed by the viewer across all
// cards, oldest obligations first.
func ActionItems(cards []types.NeedCard, viewer types.Member) []ActionItem {
	items := []ActionItem{}
	for _, c := range cards {
		for _, p := range c.ActionPlans {
			if p.Author != viewer {
				continue
			}
			items = append(items, ActionItem{
				Plan:          p,
				NeedID:        c.ID,
				NeedTitle:     c.Title,
				NeedAuthor:    c.Author,
				NeedTimestamp: c.Timestamp,
			})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].NeedTimestamp.Before(items[j].NeedTimestamp)
	})
	return items
}

// Granularity selects the activity bucketing window.
type Granularity string

const (
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Windows shown per page: 4 weeks or 6 months.
const (
	weeklyBuckets  = 4
	monthlyBuckets = 6
)

// ActivityBucket counts creation and discussion activity inside one
// calendar window.
type ActivityBucket struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Created   int       `json:"created"`
	Discussed int       `json:"discussed"`
}

// Activity buckets the collection into calendar windows ending at the
// current period. Each offset increment slides the window back by one
// period, not one page. Buckets are returned oldest-first. Nothing is
// stored; the counts are recomputed from timestamps every call.
func Activity(cards []types.NeedCard, g Granularity, offset int, now time.Time) []ActivityBucket {
	count := weeklyBuckets
	if g == Monthly {
		count = monthlyBuckets
	}

	buckets := make([]ActivityBucket, count)
	for i := 0; i < count; i++ {
		// i steps back from the newest visible bucket.
		back := offset + (count - 1 - i)
		var start, end time.Time
		if g == Monthly {
			first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
			start = first.AddDate(0, -back, 0)
			end = start.AddDate(0, 1, 0)
		} else {
			start = weekStart(now).AddDate(0, 0, -7*back)
			end = start.AddDate(0, 0, 7)
		}
		buckets[i] = ActivityBucket{Start: start, End: end}
	}

	for _, c := range cards {
		for i := range buckets {
			b := &buckets[i]
			if c.Timestamp.Before(b.Start) || !c.Timestamp.Before(b.End) {
				continue
			}
			b.Created++
			if c.Status == types.StatusDiscussed {
				b.Discussed++
			}
		}
	}
	return buckets
}

// weekStart returns the Monday 00:00 UTC of t's week.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	// Weekday() counts from Sunday; shift so Monday is day zero.
	back := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -back)
}
