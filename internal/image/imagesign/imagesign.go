package imagesign

import (
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/atlas-os/atlas-disk/internal/config"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
)

// SignatureExt is appended to the image path to name the detached signature.
const SignatureExt = ".asc"

// ErrNoSigningKey is returned when the key file holds no usable private key.
var ErrNoSigningKey = errors.New("no private signing key found")

// SignImage writes an armored detached OpenPGP signature of imagePath to
// imagePath+".asc" and returns its path. It returns "" without error when
// the manifest does not ask for a signature.
func SignImage(imagePath string, manifest *config.ImageManifest) (string, error) {
	log := logger.Logger()

	if manifest == nil || !manifest.IsSigned() {
		return "", nil
	}
	sign := manifest.Artifacts.Sign

	var passphrase []byte
	if sign.PassphraseEnv != "" {
		v, ok := os.LookupEnv(sign.PassphraseEnv)
		if !ok {
			return "", fmt.Errorf("passphrase variable %s is not set", sign.PassphraseEnv)
		}
		passphrase = []byte(v)
	}

	signer, err := LoadSigningKey(sign.Key, passphrase)
	if err != nil {
		return "", err
	}

	sigPath := imagePath + SignatureExt
	if err := SignFile(imagePath, sigPath, signer); err != nil {
		return "", err
	}

	log.Infof("Signed %s with key %X", imagePath, signer.PrimaryKey.Fingerprint)
	return sigPath, nil
}

// LoadSigningKey reads an armored key ring and returns the first entity that
// carries a private key, decrypting it with passphrase when needed.
func LoadSigningKey(path string, passphrase []byte) (*openpgp.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open signing key: %w", err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key %s: %w", path, err)
	}

	for _, entity := range keyring {
		if entity.PrivateKey == nil {
			continue
		}
		if entity.PrivateKey.Encrypted {
			if len(passphrase) == 0 {
				return nil, fmt.Errorf("signing key %s is encrypted and no passphrase was given", path)
			}
			if err := entity.DecryptPrivateKeys(passphrase); err != nil {
				return nil, fmt.Errorf("failed to decrypt signing key %s: %w", path, err)
			}
		}
		return entity, nil
	}
	return nil, fmt.Errorf("%w in %s", ErrNoSigningKey, path)
}

// SignFile writes the armored detached signature of src to dst. A partially
// written dst is removed.
func SignFile(src, dst string, signer *openpgp.Entity) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s for signing: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create signature file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close signature file: %w", cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if err := openpgp.ArmoredDetachSign(out, signer, in, nil); err != nil {
		return fmt.Errorf("failed to sign %s: %w", src, err)
	}
	return nil
}
