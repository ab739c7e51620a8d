package archive

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// ErrTAMInvalid is returned when a repository with tam_required set
// encounters a manifest whose TAM is missing or does not verify.
var ErrTAMInvalid = errors.New("archive: TAM invalid")

// ComputeTAM binds the manifest body to idKey, the repository's keyed
// MAC key, so a manifest can't be substituted without holding the key.
func ComputeTAM(idKey [32]byte, m *Manifest) ([]byte, error) {
	body, err := m.TAMBody()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, idKey[:])
	mac.Write(body)
	return mac.Sum(nil), nil
}

// VerifyTAM checks m.TAM against a freshly computed TAM over the
// manifest body. If tamRequired and TAM is absent, verification fails.
func VerifyTAM(idKey [32]byte, m *Manifest, tamRequired bool) error {
	if m.TAM == nil {
		if tamRequired {
			return ErrTAMInvalid
		}
		return nil
	}
	want, err := ComputeTAM(idKey, m)
	if err != nil {
		return err
	}
	if !hmac.Equal(want, m.TAM) {
		return ErrTAMInvalid
	}
	return nil
}

// Sign computes and sets m.TAM.
func Sign(idKey [32]byte, m *Manifest) error {
	tam, err := ComputeTAM(idKey, m)
	if err != nil {
		return err
	}
	m.TAM = tam
	return nil
}
