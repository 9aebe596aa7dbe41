package reconcile

import (
	"time"

	"github.com/matzehuels/panelsync/pkg/panel"
)

// Input is everything Merge needs to produce an effective list.
type Input struct {
	// Candidates is the incoming panel list.
	Candidates []panel.Panel
	// Previous is the effective list currently rendered.
	Previous []panel.Panel
	// Cached is the position cache contents for the project.
	Cached map[string]panel.Position
	// Deleted holds ids the user removed locally. They are never resurrected.
	Deleted map[string]bool
	// Origin is where Candidates came from.
	Origin Origin
	// EventTime is the push timestamp or the layout's last-updated time.
	EventTime time.Time
	Options   Options
}

// Result is the outcome of a merge.
type Result struct {
	// Effective is the list to render: candidates in order, followed by
	// retained panels from Previous.
	Effective []panel.Panel
	// Writes holds cache records that differ from what the cache held.
	Writes map[string]panel.Position
	// Sources maps every effective panel id to its winning input.
	Sources map[string]Source
	// Retained lists ids kept from Previous although absent from Candidates.
	Retained []string
	// Skipped lists candidate ids dropped because they were deleted locally.
	Skipped []string
	// Invalid lists candidate ids dropped because they have no finite
	// position and no cached record to take one from.
	Invalid []string
}

// Count returns how many panels resolved from source s.
func (r Result) Count(s Source) int {
	n := 0
	for _, src := range r.Sources {
		if src == s {
			n++
		}
	}
	return n
}

// Changed reports whether Effective differs from prev in membership,
// order or position.
func (r Result) Changed(prev []panel.Panel) bool {
	if len(r.Effective) != len(prev) {
		return true
	}
	for i, p := range r.Effective {
		q := prev[i]
		if p.ID != q.ID || !p.Position().SameSpot(q.Position()) || p.Placeholder != q.Placeholder {
			return true
		}
	}
	return false
}

// Merge reconciles a candidate list against the cache, panel by panel.
//
// A candidate id that appears twice resolves to its last occurrence, in
// the slot of its first. Panels in Previous that are missing from
// Candidates survive as long as the cache still holds a record for them.
// Their removal has to be confirmed through Deleted. Merge does not
// modify its inputs.
func Merge(in Input) Result {
	res := Result{
		Writes:  make(map[string]panel.Position),
		Sources: make(map[string]Source),
	}

	order := make([]string, 0, len(in.Candidates))
	latest := make(map[string]panel.Panel, len(in.Candidates))
	for _, c := range in.Candidates {
		if in.Deleted[c.ID] {
			if _, seen := latest[c.ID]; !seen {
				res.Skipped = append(res.Skipped, c.ID)
			}
			latest[c.ID] = c
			continue
		}
		if _, seen := latest[c.ID]; !seen {
			order = append(order, c.ID)
		}
		latest[c.ID] = c
	}

	res.Effective = make([]panel.Panel, 0, len(order)+len(in.Previous))
	for _, id := range order {
		cached, ok := in.Cached[id]
		r := Reconcile(latest[id], cached, ok, in.Origin, in.EventTime, in.Options)
		if r.Source == SourceInvalid {
			res.Invalid = append(res.Invalid, id)
			continue
		}
		res.Effective = append(res.Effective, r.Panel)
		res.Sources[id] = r.Source
		if r.Write && (!ok || r.Record != cached) {
			res.Writes[id] = r.Record
		}
	}

	for _, p := range in.Previous {
		if _, present := latest[p.ID]; present || in.Deleted[p.ID] {
			continue
		}
		if _, done := res.Sources[p.ID]; done {
			continue
		}
		cached, ok := in.Cached[p.ID]
		if !ok {
			continue
		}
		res.Effective = append(res.Effective, p.Clone().WithPosition(cached))
		res.Sources[p.ID] = SourceCached
		res.Retained = append(res.Retained, p.ID)
	}

	return res
}
