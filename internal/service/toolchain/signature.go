package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
)

const (
	// maxSignatureSize caps the detached signature download.
	maxSignatureSize = 64 * 1024

	armoredSignaturePrefix = "-----BEGIN PGP SIGNATURE-----"
)

var (
	errNoKeys            = errors.New("no keys found in public key file")
	errSignatureTooSmall = errors.New("signature too small to be valid")
)

// readKeyRing loads an armored or binary public keyring.
func readKeyRing(path string) (openpgp.EntityList, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read public key file: %w", err)
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(contents))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(contents))
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
	}

	if len(entities) == 0 {
		return nil, errNoKeys
	}

	return entities, nil
}

// checkSignature verifies signed against a detached signature in either encoding.
func checkSignature(keyring openpgp.EntityList, signed io.Reader, signature []byte) error {
	if len(signature) < len("-----BEGIN") {
		return errSignatureTooSmall
	}

	var err error
	if bytes.HasPrefix(bytes.TrimSpace(signature), []byte(armoredSignaturePrefix)) {
		_, err = openpgp.CheckArmoredDetachedSignature(keyring, signed, bytes.NewReader(signature), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(keyring, signed, bytes.NewReader(signature), nil)
	}

	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}

	return nil
}

// verifyArchive downloads the detached signature and checks the archive with it.
func (p *Provisioner) verifyArchive(ctx context.Context, archivePath string) error {
	keyring, err := readKeyRing(p.opts.PublicKeyFile)
	if err != nil {
		return err
	}

	var signature bytes.Buffer
	if _, err = p.client.Download(ctx, p.opts.SignatureURL, &limitedWriter{w: &signature, left: maxSignatureSize}); err != nil {
		return fmt.Errorf("download signature: %w", err)
	}

	archive, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return err
	}

	defer func() {
		_ = archive.Close()
	}()

	return checkSignature(keyring, archive, signature.Bytes())
}

var errSignatureTooLarge = errors.New("signature exceeds size limit")

// limitedWriter fails once more than left bytes are written.
type limitedWriter struct {
	w    io.Writer
	left int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.left {
		return 0, errSignatureTooLarge
	}

	l.left -= int64(len(p))

	return l.w.Write(p)
}
