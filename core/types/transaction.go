package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer        TxType = 0x01 // native LUM transfer
	TxTypeTransferAsset   TxType = 0x02 // secondary asset transfer
	TxTypeStake           TxType = 0x03 // lock balance into the staking deposit
	TxTypeUnstake         TxType = 0x04 // release a staking deposit
	TxTypeInvokeContract  TxType = 0x05 // EVM call
	TxTypeDeployContract  TxType = 0x06 // EVM create
	TxTypeDeployContract2 TxType = 0x07 // EVM create2 (salted)
)

// Transaction is the wire format accepted from the consensus engine. EVM
// deployments carry init bytecode in Data; create2 additionally carries Salt.
type Transaction struct {
	ChainID  uint64   `json:"chainId"`
	Type     TxType   `json:"type"`
	Nonce    uint64   `json:"nonce"`
	To       []byte   `json:"to,omitempty"`
	Value    *big.Int `json:"value"`
	Data     []byte   `json:"data,omitempty"`
	Asset    string   `json:"asset,omitempty"`
	Salt     []byte   `json:"salt,omitempty"`
	GasLimit uint64   `json:"gasLimit"`
	GasPrice *big.Int `json:"gasPrice"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// Hash covers every field that the sender commits to with their signature.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		ChainID  uint64
		Type     TxType
		Nonce    uint64
		To       []byte
		Value    *big.Int
		Data     []byte
		Asset    string
		Salt     []byte
		GasLimit uint64
		GasPrice *big.Int
	}{tx.ChainID, tx.Type, tx.Nonce, tx.To, tx.Value, tx.Data, tx.Asset, tx.Salt, tx.GasLimit, tx.GasPrice}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	return nil
}

// From recovers the sender address from the transaction signature. The result
// is cached; a failed recovery consumes nothing.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, errors.New("transaction not signed")
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}
