package services

import "github.com/google/uuid"

// dedupStrings drops duplicates and empties, preserving first-seen order.
func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// diffStrings splits next against current into additions and removals.
func diffStrings(current, next []string) (added, removed []string) {
	cur := make(map[string]struct{}, len(current))
	for _, s := range current {
		cur[s] = struct{}{}
	}
	nxt := make(map[string]struct{}, len(next))
	for _, s := range next {
		nxt[s] = struct{}{}
		if _, ok := cur[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range current {
		if _, ok := nxt[s]; !ok {
			removed = append(removed, s)
		}
	}
	return added, removed
}

// dedupUUIDs drops duplicate and nil ids, preserving first-seen order.
func dedupUUIDs(in []uuid.UUID) []uuid.UUID {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]uuid.UUID, 0, len(in))
	for _, id := range in {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// diffUUIDs splits next against current into additions and removals.
func diffUUIDs(current, next []uuid.UUID) (added, removed []uuid.UUID) {
	cur := make(map[uuid.UUID]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}
	nxt := make(map[uuid.UUID]struct{}, len(next))
	for _, id := range next {
		nxt[id] = struct{}{}
		if _, ok := cur[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if _, ok := nxt[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
