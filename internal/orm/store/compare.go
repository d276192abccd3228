package store

import (
	"sort"
	"strconv"
)

// CompareIDs orders ids numerically when both are integers and lexically otherwise
func CompareIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortByID sorts records in id order
func SortByID(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return CompareIDs(records[i].ID, records[j].ID) < 0
	})
}

// UniqueIDs returns ids without duplicates or empty strings, keeping first occurrences
func UniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
