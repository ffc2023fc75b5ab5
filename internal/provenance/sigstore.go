package provenance

import (
	"context"
	"fmt"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/tuf"
	"github.com/sigstore/sigstore-go/pkg/verify"

	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
)

// SigstoreBackend performs real cryptographic verification of a DSSE
// bundle's Sigstore signature chain, adapted from the teacher's
// LiveSigstoreVerifier/chooseVerifier. It is "Backend 0": when configured,
// it runs ahead of the CLI/API backends and its result, if conclusive, is
// authoritative; when it is not configured (the default), the pipeline
// falls back to the CLI/API backends which do not verify signatures end to
// end (the API backend's caveat documents exactly this gap).
type SigstoreBackend struct {
	trustedRoot *root.TrustedRoot
	policy      verify.PolicyBuilder
}

// SigstoreConfig selects which trusted root material to fetch, mirroring
// the teacher's three verifier constructors.
type SigstoreConfig struct {
	// CustomTrustedRootPath, if set, loads a local trusted_root.json instead
	// of fetching one via TUF (newCustomVerifier's path).
	CustomTrustedRootPath string
	// UseGitHubTUFMirror selects GitHub's TUF mirror over the public-good
	// Sigstore one (newGitHubVerifier vs newPublicGoodVerifier).
	UseGitHubTUFMirror bool
}

// githubTUFMirror and publicGoodTUFMirror name the two root-of-trust
// distribution points the teacher's chooseVerifier selects between by
// inspecting the leaf certificate's issuer.
const (
	githubTUFMirror    = "https://tuf-repo.github.com"
	publicGoodTUFMirror = "https://tuf-repo-cdn.sigstore.dev"
)

// NewSigstoreBackend fetches (or loads) the trusted root material
// configured by cfg. A nil return with no error is not possible: callers
// that do not want this backend should simply not construct it.
func NewSigstoreBackend(ctx context.Context, cfg SigstoreConfig) (*SigstoreBackend, error) {
	var tr *root.TrustedRoot
	var err error

	if cfg.CustomTrustedRootPath != "" {
		tr, err = root.NewTrustedRootFromPath(cfg.CustomTrustedRootPath)
	} else {
		mirror := publicGoodTUFMirror
		if cfg.UseGitHubTUFMirror {
			mirror = githubTUFMirror
		}
		opts := tuf.DefaultOptions()
		opts.RepositoryBaseURL = mirror
		var client *tuf.Client
		client, err = tuf.New(opts)
		if err == nil {
			tr, err = root.GetTrustedRoot(client)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("provenance: load trusted root: %w", err)
	}

	return &SigstoreBackend{trustedRoot: tr}, nil
}

// Verify checks a raw Sigstore bundle (the "bundle" field the forge API
// also returns) against identity constraints built from req, the Go
// equivalent of the teacher's per-verifier Verify call with a
// CertificateIdentity policy.
func (b *SigstoreBackend) Verify(ctx context.Context, bundleBytes []byte, req Request) (Output, error) {
	bnd := new(bundle.Bundle)
	if err := bnd.UnmarshalJSON(bundleBytes); err != nil {
		return Output{Status: errkind.ParseError, Detail: err.Error(), Backend: "sigstore"}, nil
	}

	sev, err := verify.NewSignedEntityVerifier(b.trustedRoot,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithObserverTimestamps(1),
	)
	if err != nil {
		return Output{Status: errkind.APIError, Detail: err.Error(), Backend: "sigstore"}, nil
	}

	identity, err := verify.NewShortCertificateIdentity(
		fmt.Sprintf("https://github.com/%s/%s", req.Owner, req.Repo),
		"", "", "",
	)
	if err != nil {
		return Output{Status: errkind.APIError, Detail: err.Error(), Backend: "sigstore"}, nil
	}
	policy := verify.NewPolicy(verify.WithoutArtifactUnsafe(), verify.WithCertificateIdentity(identity))

	if _, err := sev.Verify(bnd, policy); err != nil {
		return Output{Verified: false, Status: errkind.RepositoryMismatch, Detail: err.Error(), Backend: "sigstore"}, nil
	}

	return Output{Verified: true, Backend: "sigstore"}, nil
}
