package verifier

import (
	"math"
	"sort"

	"github.com/cyntra-dev/cyntra/internal/proof"
)

// Vote selects the winner among a set of concurrent proofs for the same
// issue: partitions into verified (Verification.AllPassed) and unverified,
// picks from the verified set when non-empty (else the full set), then
// sorts ascending by (verified-first, duration_ms with missing=+Inf,
// cost_usd with missing=+Inf, canonicalized action signature) and returns
// the index of the minimum in the original candidates slice. Returns -1 iff
// candidates is empty.
func Vote(candidates []proof.PatchProof) int {
	if len(candidates) == 0 {
		return -1
	}

	pool := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if c.Verification.AllPassed {
			pool = append(pool, i)
		}
	}
	if len(pool) == 0 {
		for i := range candidates {
			pool = append(pool, i)
		}
	}

	sigs := make(map[int]string, len(pool))
	for _, i := range pool {
		sig, err := proof.ActionSignature(candidates[i])
		if err != nil {
			sig = ""
		}
		sigs[i] = sig
	}

	sort.SliceStable(pool, func(a, b int) bool {
		i, j := pool[a], pool[b]
		ci, cj := candidates[i], candidates[j]

		vi, vj := verifiedRank(ci), verifiedRank(cj)
		if vi != vj {
			return vi < vj
		}

		di, dj := durationOrInf(ci), durationOrInf(cj)
		if di != dj {
			return di < dj
		}

		costi, costj := costOrInf(ci), costOrInf(cj)
		if costi != costj {
			return costi < costj
		}

		return sigs[i] < sigs[j]
	})

	return pool[0]
}

func verifiedRank(p proof.PatchProof) int {
	if p.Verification.AllPassed {
		return 0
	}
	return 1
}

func durationOrInf(p proof.PatchProof) float64 {
	if p.Metadata.DurationMS <= 0 {
		return math.Inf(1)
	}
	return float64(p.Metadata.DurationMS)
}

func costOrInf(p proof.PatchProof) float64 {
	if p.Metadata.CostUSD <= 0 {
		return math.Inf(1)
	}
	return p.Metadata.CostUSD
}
