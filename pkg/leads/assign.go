package leads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"guardpost/pkg/store"
)

const (
	StrategyRoundRobin     = "round_robin"
	StrategyLowestWorkload = "lowest_workload"
)

var ErrNoReps = errors.New("no sales reps available for assignment")

// WorkloadCounter reports how many open leads each rep currently owns.
// Backed by Postgres in production, by a fake in tests.
type WorkloadCounter interface {
	OpenLeadCounts(ctx context.Context, tenant string) (map[string]int, error)
}

// Assignment records who got the lead and why, for the audit trail.
type Assignment struct {
	RepID    string `json:"rep_id"`
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// Assigner routes qualified leads to sales reps. The round-robin cursor lives
// in the shared cache so multiple api replicas rotate through the same order.
type Assigner struct {
	Cache    store.Cache
	Workload WorkloadCounter
}

// Assign picks a rep from reps using the given strategy. reps is the
// tenant's eligible roster in any order; it is sorted internally so rotation
// and tie-breaks are stable across replicas.
func (a *Assigner) Assign(ctx context.Context, tenant, strategy string, reps []string) (Assignment, error) {
	roster := normalizeRoster(reps)
	if len(roster) == 0 {
		return Assignment{}, ErrNoReps
	}
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case StrategyLowestWorkload:
		return a.assignLowestWorkload(ctx, tenant, roster)
	case StrategyRoundRobin, "":
		return a.assignRoundRobin(ctx, tenant, roster)
	default:
		return Assignment{}, fmt.Errorf("unknown assignment strategy %q", strategy)
	}
}

func (a *Assigner) assignRoundRobin(ctx context.Context, tenant string, roster []string) (Assignment, error) {
	var cursor int64
	if a.Cache != nil {
		n, err := a.Cache.Incr(ctx, "lead_rr:"+strings.ToLower(tenant))
		if err == nil {
			cursor = n
		}
		// On cache failure the cursor stays 0 and the first rep wins; a
		// momentarily uneven rotation beats failing the intake.
	}
	idx := int((cursor - 1 + int64(len(roster))) % int64(len(roster)))
	if idx < 0 {
		idx = 0
	}
	rep := roster[idx]
	return Assignment{
		RepID:    rep,
		Strategy: StrategyRoundRobin,
		Reason:   fmt.Sprintf("rotation position %d of %d", idx+1, len(roster)),
	}, nil
}

func (a *Assigner) assignLowestWorkload(ctx context.Context, tenant string, roster []string) (Assignment, error) {
	counts := map[string]int{}
	if a.Workload != nil {
		c, err := a.Workload.OpenLeadCounts(ctx, tenant)
		if err != nil {
			return Assignment{}, fmt.Errorf("workload counts: %w", err)
		}
		counts = c
	}
	best := roster[0]
	bestCount := counts[best]
	for _, rep := range roster[1:] {
		if counts[rep] < bestCount {
			best = rep
			bestCount = counts[rep]
		}
	}
	return Assignment{
		RepID:    best,
		Strategy: StrategyLowestWorkload,
		Reason:   fmt.Sprintf("%d open leads", bestCount),
	}, nil
}

func normalizeRoster(reps []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(reps))
	for _, r := range reps {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
