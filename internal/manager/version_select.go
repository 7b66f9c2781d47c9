package manager

import (
	"sort"

	"modeld/pkg/types"
)

// selectVersions applies a VersionPolicy to the set of version numbers
// found on disk, returning the subset that should be loaded (spec.md §3
// data model: version policy).
func selectVersions(policy types.VersionPolicy, onDisk []int64) []int64 {
	sorted := append([]int64(nil), onDisk...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	switch policy.Kind {
	case types.VersionPolicySpecific:
		want := make(map[int64]bool, len(policy.Versions))
		for _, v := range policy.Versions {
			want[v] = true
		}
		out := make([]int64, 0, len(policy.Versions))
		for _, v := range sorted {
			if want[v] {
				out = append(out, v)
			}
		}
		return out
	case types.VersionPolicyAll:
		return sorted
	case types.VersionPolicyLatest:
		fallthrough
	default:
		n := policy.Latest
		if n <= 0 {
			n = 1
		}
		if int64(len(sorted)) < n {
			return sorted
		}
		return sorted[int64(len(sorted))-n:]
	}
}

// latestReady returns the highest version number among versions, or
// (0, false) if empty.
func latestReady(versions []int64) (int64, bool) {
	if len(versions) == 0 {
		return 0, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if v > best {
			best = v
		}
	}
	return best, true
}
