package db

import "sort"

// CompareHostSets diffs two host snapshots keyed by IP. A host present in
// both scans is Changed when any of mac, hostname, or vendor differ,
// Unchanged otherwise. Every IP from either input lands in exactly one
// bucket, so New+Disappeared+Changed+Unchanged covers the union. All slices
// are sorted by IP for stable output.
func CompareHostSets(older, newer []Host) *ScanComparison {
	olderByIP := make(map[string]Host, len(older))
	for _, h := range older {
		olderByIP[h.IP] = h
	}
	newerByIP := make(map[string]Host, len(newer))
	for _, h := range newer {
		newerByIP[h.IP] = h
	}

	cmp := &ScanComparison{
		New:         []Host{},
		Disappeared: []Host{},
		Changed:     []HostChange{},
		Unchanged:   []Host{},
	}

	for _, h := range newer {
		prev, seen := olderByIP[h.IP]
		if !seen {
			cmp.New = append(cmp.New, h)
			continue
		}
		if fields := diffHostFields(prev, h); len(fields) > 0 {
			cmp.Changed = append(cmp.Changed, HostChange{IP: h.IP, Fields: fields})
		} else {
			cmp.Unchanged = append(cmp.Unchanged, h)
		}
	}

	for _, h := range older {
		if _, seen := newerByIP[h.IP]; !seen {
			cmp.Disappeared = append(cmp.Disappeared, h)
		}
	}

	sort.Slice(cmp.New, func(i, j int) bool { return cmp.New[i].IP < cmp.New[j].IP })
	sort.Slice(cmp.Disappeared, func(i, j int) bool { return cmp.Disappeared[i].IP < cmp.Disappeared[j].IP })
	sort.Slice(cmp.Changed, func(i, j int) bool { return cmp.Changed[i].IP < cmp.Changed[j].IP })
	sort.Slice(cmp.Unchanged, func(i, j int) bool { return cmp.Unchanged[i].IP < cmp.Unchanged[j].IP })

	return cmp
}

func diffHostFields(older, newer Host) map[string]FieldChange {
	fields := map[string]FieldChange{}

	if older.MAC != newer.MAC {
		fields["mac"] = FieldChange{Old: older.MAC, New: newer.MAC}
	}
	if old, cur := strOrEmpty(older.Hostname), strOrEmpty(newer.Hostname); old != cur {
		fields["hostname"] = FieldChange{Old: old, New: cur}
	}
	if old, cur := strOrEmpty(older.Vendor), strOrEmpty(newer.Vendor); old != cur {
		fields["vendor"] = FieldChange{Old: old, New: cur}
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
