package provenance

import (
	"context"
	"net/http"
	"testing"

	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gock "gopkg.in/h2non/gock.v1"
)

func TestSigstoreBackend_InvalidBundleIsParseError(t *testing.T) {
	b := &SigstoreBackend{}
	out, err := b.Verify(context.Background(), []byte("not json"), Request{Owner: "acme", Repo: "app"})
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.Equal(t, errkind.ParseError, out.Status)
	assert.Equal(t, "sigstore", out.Backend)
}

func TestVerifier_PreferSigstoreWhenConfigured(t *testing.T) {
	defer gock.Off()
	gock.New("https://api.github.com").
		Get("/users/acme/attestations/sha256:abc").
		Reply(200).
		JSON(map[string]any{
			"attestations": []map[string]any{
				{"bundle": "not json"},
			},
		})

	v := &Verifier{
		api:      NewAPIBackend("", "", &http.Client{Transport: gock.DefaultTransport}),
		sigstore: &SigstoreBackend{},
	}
	out, err := v.Verify(context.Background(), Request{Digest: "sha256:abc", Owner: "acme", Repo: "app"})
	require.NoError(t, err)
	assert.Equal(t, "sigstore", out.Backend)
	assert.Equal(t, errkind.ParseError, out.Status)
}

func TestVerifier_SigstoreFailureIsAuthoritative(t *testing.T) {
	defer gock.Off()
	gock.New("https://api.github.com").
		Get("/users/acme/attestations/sha256:abc").
		Reply(404)

	v := &Verifier{
		api:      NewAPIBackend("", "", &http.Client{Transport: gock.DefaultTransport}),
		sigstore: &SigstoreBackend{},
	}
	out, err := v.Verify(context.Background(), Request{Digest: "sha256:abc", Owner: "acme", Repo: "app"})
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.Equal(t, errkind.APIError, out.Status)
}
