package staking

import (
	"bytes"
	"sort"

	"lumenchain/core/types"
)

// MaxValidators bounds the validator set emitted to the consensus engine.
const MaxValidators = 50

// PubKeyType is the consensus key scheme announced with every update.
const PubKeyType = "ed25519"

// Validators derives the bounded validator set from the staking candidate
// table. It is pure: identical tables yield byte-identical results, so it is
// safe to call speculatively or repeatedly within one block end.
//
// Ordering is part of the protocol: candidates sort by power descending and,
// for equal powers, by ascending byte order of the consensus public key. The
// tie-break is mandatory — an implementation-defined sort would let nodes
// with identical state disagree on the validator set.
func Validators(candidates []types.Candidate) []types.ValidatorUpdate {
	eligible := make([]types.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Power <= 0 || len(candidate.PubKey) == 0 {
			continue
		}
		eligible = append(eligible, candidate)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Power != eligible[j].Power {
			return eligible[i].Power > eligible[j].Power
		}
		return bytes.Compare(eligible[i].PubKey, eligible[j].PubKey) < 0
	})

	if len(eligible) > MaxValidators {
		eligible = eligible[:MaxValidators]
	}

	updates := make([]types.ValidatorUpdate, len(eligible))
	for i, candidate := range eligible {
		updates[i] = types.ValidatorUpdate{
			Power: candidate.Power,
			PubKey: types.ValidatorPubKey{
				Type:  PubKeyType,
				Bytes: append([]byte(nil), candidate.PubKey...),
			},
		}
	}
	return updates
}
