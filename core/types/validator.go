package types

// Candidate is one row of the staking candidate table: an account that has
// locked a deposit and registered a consensus public key.
type Candidate struct {
	Address []byte
	Power   int64
	PubKey  []byte
}

// ValidatorPubKey carries the consensus public key of a validator update in
// the shape the consensus engine expects.
type ValidatorPubKey struct {
	Type  string `json:"type"`
	Bytes []byte `json:"bytes"`
}

// ValidatorUpdate is one entry of the bounded validator set emitted at block
// end. It is derived from the candidate table and never stored.
type ValidatorUpdate struct {
	Power  int64           `json:"power"`
	PubKey ValidatorPubKey `json:"pub_key"`
}
