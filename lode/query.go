package lode

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// Filter narrows a claim query. Empty fields match everything.
type Filter struct {
	League  string
	Day     string
	Outcome string
	Kind    string
}

func (f Filter) matches(r ClaimRecord) bool {
	return (f.League == "" || r.League == f.League) &&
		(f.Day == "" || r.Day == f.Day) &&
		(f.Outcome == "" || r.Outcome == f.Outcome) &&
		(f.Kind == "" || r.RecordKind == f.Kind)
}

// snapshotMatches is a coarse pre-filter on manifest paths; record
// fields are authoritative.
func (f Filter) snapshotMatches(snap *lode.DatasetSnapshot) bool {
	return snapshotHas(snap, "league", f.League) &&
		snapshotHas(snap, "day", f.Day) &&
		snapshotHas(snap, "outcome", f.Outcome)
}

func snapshotHas(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

// Recent returns up to limit matching records, most recently dispatched
// first. A limit <= 0 returns everything. Records seen in more than one
// snapshot are reported once.
func Recent(ctx context.Context, ds lode.Dataset, filter Filter, limit int) ([]ClaimRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	type key struct{ kind, id, at string }
	seen := make(map[key]bool)
	var out []ClaimRecord
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !filter.snapshotMatches(snap) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec := claimFromMap(m)
			k := key{rec.RecordKind, rec.RecordID, rec.DispatchedAt}
			if seen[k] || !filter.matches(rec) {
				continue
			}
			seen[k] = true
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DispatchedAt > out[j].DispatchedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
