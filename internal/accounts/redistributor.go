// Package accounts implements the Account Redistributor (C6) and Account
// Advancer (C7) of spec.md §4.6/§4.7: reassigning client accounts across the
// cohort and advancing their balances by the daily ROI of their
// currently-assigned agent.
package accounts

import (
	"math/rand"
	"sort"

	"casterly-rock/internal/database"
	"casterly-rock/internal/logging"

	"github.com/google/uuid"
)

// Redistributor reassigns client accounts across the cohort (C6, spec §4.6).
type Redistributor struct {
	logger *logging.Logger
}

// NewRedistributor builds a Redistributor.
func NewRedistributor() *Redistributor {
	return &Redistributor{logger: logging.Default().WithComponent("redistributor")}
}

// InitialDistribution performs day-1's seeded shuffle-and-round-robin
// assignment (spec §4.6): accounts are shuffled with a PRNG seeded
// deterministically from simulation_id, then assigned round-robin to the
// cohort (sorted by agent_id) so counts differ by at most one.
func (r *Redistributor) InitialDistribution(simID uuid.UUID, cohort []string, accounts []database.ClientAccount, day string) ([]database.ClientAccount, []database.AssignmentHistoryEntry) {
	sortedCohort := append([]string(nil), cohort...)
	sort.Strings(sortedCohort)
	if len(sortedCohort) == 0 {
		return accounts, nil
	}

	shuffled := append([]database.ClientAccount(nil), accounts...)
	rng := rand.New(rand.NewSource(seedFromSimulationID(simID)))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	history := make([]database.AssignmentHistoryEntry, 0, len(shuffled))
	for i := range shuffled {
		agentID := sortedCohort[i%len(sortedCohort)]
		shuffled[i].CurrentAgentID = agentID
		shuffled[i].AssignedAt = day
		shuffled[i].ROIAtAssignment = shuffled[i].CumulativeROI
		history = append(history, database.AssignmentHistoryEntry{
			SimulationID: simID,
			AccountID:    shuffled[i].AccountID,
			AgentID:      agentID,
			StartDate:    day,
		})
	}

	sort.Slice(shuffled, func(i, j int) bool { return shuffled[i].AccountID < shuffled[j].AccountID })
	return shuffled, history
}

// Transfer moves every account currently assigned to agentOut onto agentIn
// (spec §4.6). Accounts not assigned to agentOut are returned unchanged.
func (r *Redistributor) Transfer(simID uuid.UUID, accounts []database.ClientAccount, agentOut, agentIn, day string) ([]database.ClientAccount, []database.AssignmentHistoryEntry) {
	var history []database.AssignmentHistoryEntry
	out := make([]database.ClientAccount, len(accounts))
	for i, acc := range accounts {
		if acc.CurrentAgentID == agentOut {
			acc.CurrentAgentID = agentIn
			acc.AssignedAt = day
			acc.ROIAtAssignment = acc.CumulativeROI
			acc.ChangeCount++
			history = append(history, database.AssignmentHistoryEntry{
				SimulationID: simID,
				AccountID:    acc.AccountID,
				AgentID:      agentIn,
				StartDate:    day,
			})
		}
		out[i] = acc
	}
	return out, history
}

// Rebalance equalizes account counts across cohort within ±1 (spec §4.6,
// invariant I9). Each member's target is total/n, with the remainder going
// one apiece to the first members in agent_id order. Only accounts above their
// member's target (the highest account_ids of that bucket) and accounts held
// by agents outside the cohort are moved, so a cohort already within ±1 can
// still see accounts moved to match the targets.
func (r *Redistributor) Rebalance(simID uuid.UUID, accounts []database.ClientAccount, cohort []string, day string) ([]database.ClientAccount, []database.AssignmentHistoryEntry) {
	sortedCohort := append([]string(nil), cohort...)
	sort.Strings(sortedCohort)
	n := len(sortedCohort)
	if n == 0 {
		return accounts, nil
	}

	inCohort := make(map[string]bool, n)
	for _, a := range sortedCohort {
		inCohort[a] = true
	}

	buckets := make(map[string][]database.ClientAccount, n)
	for _, a := range sortedCohort {
		buckets[a] = nil
	}
	var strays []database.ClientAccount
	for _, acc := range accounts {
		if !inCohort[acc.CurrentAgentID] {
			// account currently assigned to an agent no longer in the
			// cohort (e.g. rotated out with no paired replacement);
			// it is entirely up for grabs during rebalancing.
			strays = append(strays, acc)
			continue
		}
		buckets[acc.CurrentAgentID] = append(buckets[acc.CurrentAgentID], acc)
	}
	for a := range buckets {
		sort.Slice(buckets[a], func(i, j int) bool { return buckets[a][i].AccountID < buckets[a][j].AccountID })
	}
	sort.Slice(strays, func(i, j int) bool { return strays[i].AccountID < strays[j].AccountID })

	total := len(accounts)
	base := total / n
	remainder := total % n
	target := make(map[string]int, n)
	for i, a := range sortedCohort {
		if i < remainder {
			target[a] = base + 1
		} else {
			target[a] = base
		}
	}

	overflow := append([]database.ClientAccount(nil), strays...)
	for _, a := range sortedCohort {
		bucket := buckets[a]
		want := target[a]
		for len(bucket) > want {
			overflow = append(overflow, bucket[len(bucket)-1])
			bucket = bucket[:len(bucket)-1]
		}
		buckets[a] = bucket
	}

	var history []database.AssignmentHistoryEntry
	oi := 0
	for _, a := range sortedCohort {
		want := target[a]
		for len(buckets[a]) < want && oi < len(overflow) {
			acc := overflow[oi]
			oi++
			acc.CurrentAgentID = a
			acc.AssignedAt = day
			acc.ROIAtAssignment = acc.CumulativeROI
			acc.ChangeCount++
			buckets[a] = append(buckets[a], acc)
			history = append(history, database.AssignmentHistoryEntry{
				SimulationID: simID,
				AccountID:    acc.AccountID,
				AgentID:      a,
				StartDate:    day,
			})
		}
	}

	out := make([]database.ClientAccount, 0, total)
	for _, a := range sortedCohort {
		out = append(out, buckets[a]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, history
}

// seedFromSimulationID derives a deterministic int64 seed from a simulation
// UUID so InitialDistribution reproduces identically across runs and resets
// of the same simulation_id (spec §4.6, invariant R1/R2/S4).
func seedFromSimulationID(simID uuid.UUID) int64 {
	b := simID[:8]
	var seed int64
	for _, v := range b {
		seed = seed<<8 | int64(v)
	}
	if seed < 0 {
		seed = -seed
	}
	return seed
}
