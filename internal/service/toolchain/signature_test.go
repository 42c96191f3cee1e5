package toolchain

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"
)

// signingFixture holds a throwaway key pair and its armored public part on disk.
type signingFixture struct {
	entity  *openpgp.Entity
	keyFile string
}

func newSigningFixture(t *testing.T) *signingFixture {
	t.Helper()

	entity, err := openpgp.NewEntity("Release Bot", "test", "release@example.com", nil)
	require.NoError(t, err)

	var buf bytes.Buffer

	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	keyFile := filepath.Join(t.TempDir(), "release.asc")
	require.NoError(t, os.WriteFile(keyFile, buf.Bytes(), 0o600))

	return &signingFixture{entity: entity, keyFile: keyFile}
}

func (f *signingFixture) sign(t *testing.T, data []byte, armored bool) []byte {
	t.Helper()

	var buf bytes.Buffer

	var err error
	if armored {
		err = openpgp.ArmoredDetachSign(&buf, f.entity, bytes.NewReader(data), nil)
	} else {
		err = openpgp.DetachSign(&buf, f.entity, bytes.NewReader(data), nil)
	}

	require.NoError(t, err)

	return buf.Bytes()
}

// serveSigned serves the archive at /tool.zip and the signature at /tool.zip.asc.
func serveSigned(t *testing.T, archive, signature []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".asc") {
			_, _ = w.Write(signature)
			return
		}

		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	return srv
}

// TestEnsure_SignatureAccepted installs the tool when the signature matches.
func TestEnsure_SignatureAccepted(t *testing.T) {
	t.Parallel()

	fixture := newSigningFixture(t)
	archive := buildArchive(t, map[string][]byte{ToolEntry: toolContents})

	for _, armored := range []bool{true, false} {
		srv := serveSigned(t, archive, fixture.sign(t, archive, armored))

		p := newTestProvisioner(t, Options{
			DownloadURL:   srv.URL + "/tool.zip",
			SignatureURL:  srv.URL + "/tool.zip.asc",
			PublicKeyFile: fixture.keyFile,
		})

		_, _, err := p.Ensure(context.Background())
		require.NoError(t, err, "armored=%v", armored)
	}
}

// TestEnsure_SignatureRejected refuses to install an archive signed for other contents.
func TestEnsure_SignatureRejected(t *testing.T) {
	t.Parallel()

	fixture := newSigningFixture(t)
	archive := buildArchive(t, map[string][]byte{ToolEntry: toolContents})
	srv := serveSigned(t, archive, fixture.sign(t, []byte("tampered"), true))

	p := newTestProvisioner(t, Options{
		DownloadURL:   srv.URL + "/tool.zip",
		SignatureURL:  srv.URL + "/tool.zip.asc",
		PublicKeyFile: fixture.keyFile,
	})

	_, _, err := p.Ensure(context.Background())

	var provisionErr *ProvisionError
	require.ErrorAs(t, err, &provisionErr)
	require.Equal(t, VerifyFailed, provisionErr.Kind)
	require.NoFileExists(t, p.Path())
}

// TestReadKeyRing_Invalid reports unreadable key files.
func TestReadKeyRing_Invalid(t *testing.T) {
	t.Parallel()

	_, err := readKeyRing(filepath.Join(t.TempDir(), "missing.asc"))
	require.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.asc")
	require.NoError(t, os.WriteFile(bad, []byte("not a key"), 0o600))

	_, err = readKeyRing(bad)
	require.Error(t, err)
}

// TestLimitedWriter stops oversized signatures.
func TestLimitedWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := &limitedWriter{w: &buf, left: 4}

	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)

	_, err = w.Write([]byte("de"))
	require.ErrorIs(t, err, errSignatureTooLarge)
	require.Equal(t, "abc", buf.String())
}
