package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	accountMetadataPrefix = []byte("account-meta:")
	candidatePrefix       = []byte("staking/candidate:")
	candidateIndexKey     = ethcrypto.Keccak256([]byte("staking/candidates"))
)

func accountStateKey(addr []byte) []byte {
	return ethcrypto.Keccak256(addr)
}

func accountMetadataKey(addr []byte) []byte {
	buf := make([]byte, len(accountMetadataPrefix)+len(addr))
	copy(buf, accountMetadataPrefix)
	copy(buf[len(accountMetadataPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func candidateKey(addr []byte) []byte {
	buf := make([]byte, len(candidatePrefix)+len(addr))
	copy(buf, candidatePrefix)
	copy(buf[len(candidatePrefix):], addr)
	return ethcrypto.Keccak256(buf)
}
