package staking

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"

	"lumenchain/core/types"
)

func TestValidatorsTopFiftyDescending(t *testing.T) {
	candidates := make([]types.Candidate, 0, 75)
	for i := 0; i < 75; i++ {
		candidates = append(candidates, types.Candidate{
			Address: []byte(fmt.Sprintf("addr-%02d", i)),
			Power:   int64(i + 1),
			PubKey:  []byte(fmt.Sprintf("pubkey-%02d", i)),
		})
	}

	updates := Validators(candidates)
	if len(updates) != MaxValidators {
		t.Fatalf("expected %d validators, got %d", MaxValidators, len(updates))
	}
	for i := 1; i < len(updates); i++ {
		if updates[i-1].Power <= updates[i].Power {
			t.Fatalf("powers not strictly descending at index %d: %d then %d",
				i, updates[i-1].Power, updates[i].Power)
		}
	}
	if updates[0].Power != 75 {
		t.Fatalf("expected top power 75, got %d", updates[0].Power)
	}

	again := Validators(candidates)
	if !reflect.DeepEqual(updates, again) {
		t.Fatalf("repeated invocation produced a different validator set")
	}
}

func TestValidatorsEqualPowerTieBreak(t *testing.T) {
	candidates := []types.Candidate{
		{Address: []byte("addr-b"), Power: 10, PubKey: []byte{0xBB}},
		{Address: []byte("addr-a"), Power: 10, PubKey: []byte{0xAA}},
	}

	for i := 0; i < 5; i++ {
		updates := Validators(candidates)
		if len(updates) != 2 {
			t.Fatalf("expected 2 validators, got %d", len(updates))
		}
		if !bytes.Equal(updates[0].PubKey.Bytes, []byte{0xAA}) {
			t.Fatalf("expected lower pubkey bytes first, got %x", updates[0].PubKey.Bytes)
		}
	}
}

func TestValidatorsSkipsIneligibleCandidates(t *testing.T) {
	candidates := []types.Candidate{
		{Address: []byte("zero"), Power: 0, PubKey: []byte{0x01}},
		{Address: []byte("nokey"), Power: 5},
		{Address: []byte("ok"), Power: 3, PubKey: []byte{0x02}},
	}
	updates := Validators(candidates)
	if len(updates) != 1 {
		t.Fatalf("expected a single eligible validator, got %d", len(updates))
	}
	if updates[0].Power != 3 {
		t.Fatalf("expected power 3, got %d", updates[0].Power)
	}
}

func TestValidatorsFewerThanBound(t *testing.T) {
	candidates := []types.Candidate{
		{Address: []byte("a"), Power: 2, PubKey: []byte{0x01}},
		{Address: []byte("b"), Power: 9, PubKey: []byte{0x02}},
	}
	updates := Validators(candidates)
	if len(updates) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(updates))
	}
	if updates[0].Power != 9 || updates[1].Power != 2 {
		t.Fatalf("unexpected ordering: %+v", updates)
	}
}
