package crypto

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// keyfileMagic is the first token of a keyfile's header line
// `SNAPVAULT_KEY <hex repository id>`; the second line holds the string
// produced by WrapPassphrase.
const keyfileMagic = "SNAPVAULT_KEY"

// WriteKeyfile writes km, wrapped under passphrase, to
// <keysDir>/<hex repository id>.
func WriteKeyfile(keysDir string, km *KeyMaterial, passphrase string) (path string, err error) {
	wrapped, err := WrapPassphrase(passphrase, km)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return "", err
	}
	name := hex.EncodeToString(km.RepositoryID[:])
	path = filepath.Join(keysDir, name)
	contents := fmt.Sprintf("%s %s\n%s\n", keyfileMagic, name, wrapped)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// ReadKeyfile loads and unwraps the keyfile for repositoryID.
func ReadKeyfile(keysDir string, repositoryID [16]byte, passphrase string) (*KeyMaterial, error) {
	name := hex.EncodeToString(repositoryID[:])
	data, err := os.ReadFile(filepath.Join(keysDir, name))
	if err != nil {
		return nil, err
	}
	lines := strings.SplitN(string(data), "\n", 2)
	if len(lines) != 2 {
		return nil, fmt.Errorf("crypto: malformed keyfile %s", name)
	}
	header := strings.Fields(lines[0])
	if len(header) != 2 || header[0] != keyfileMagic {
		return nil, fmt.Errorf("crypto: malformed keyfile header in %s", name)
	}
	wrapped := strings.TrimSpace(lines[1])
	return UnwrapPassphrase(passphrase, wrapped)
}

// FindKeyfile scans keysDir for a keyfile matching repositoryID, returning
// its path, used by `key change-location`.
func FindKeyfile(keysDir string, repositoryID [16]byte) (string, bool) {
	name := hex.EncodeToString(repositoryID[:])
	path := filepath.Join(keysDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// WrapRepokey wraps km for storage inline in the repository config's
// [key] repokey = ... line (the same PHC-style wrapped string
// WriteKeyfile stores, so repokey and keyfile share one wire
// format and only differ in where the blob is stored).
func WrapRepokey(km *KeyMaterial, passphrase string) (string, error) {
	return WrapPassphrase(passphrase, km)
}

// UnwrapRepokey reverses WrapRepokey.
func UnwrapRepokey(encoded, passphrase string) (*KeyMaterial, error) {
	return UnwrapPassphrase(passphrase, encoded)
}
