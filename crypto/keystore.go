package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// Validator keys live in single-file Ethereum v3 keystores. The geth keystore
// package only manages whole directories, so encryption goes through a scratch
// directory and the resulting file is moved to its final name.

// SaveToKeystore encrypts key under passphrase and writes it to path,
// replacing any previous file. Parent directories are created as needed;
// the file ends up owner-readable only.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	encrypted, cleanup, err := encryptToScratch(filepath.Dir(path), key, passphrase)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(encrypted, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// encryptToScratch runs the geth scrypt encryption in a throwaway directory
// next to the destination (same filesystem, so the rename stays atomic) and
// returns the path of the file it produced.
func encryptToScratch(dir string, key *PrivateKey, passphrase string) (string, func(), error) {
	scratch, err := os.MkdirTemp(dir, "validator-key-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(scratch) }

	ks := keystore.NewKeyStore(scratch, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("crypto: encrypt validator key: %w", err)
	}
	entries, err := os.ReadDir(scratch)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	if len(entries) == 0 {
		cleanup()
		return "", nil, errors.New("crypto: keystore produced no file")
	}
	return filepath.Join(scratch, entries[0].Name()), cleanup, nil
}

// LoadFromKeystore decrypts the keystore file at path with the supplied
// passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt validator key: %w", err)
	}
	return &PrivateKey{decrypted.PrivateKey}, nil
}
