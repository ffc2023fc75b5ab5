// Package forge resolves a container image reference to its canonical
// sha256 digest, the Go equivalent of the digest-resolution step that
// precedes github_verifier.py's attestation lookup (an image reference
// must be normalized to a digest before `gh attestation verify` or the
// forge API will accept it).
package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
)

// ResolveDigest returns the canonical "sha256:<hex>" digest for
// repository:tag, fetching it from the registry if the registration did
// not pin an explicit digest. It is the only place this module talks to an
// OCI registry directly.
func ResolveDigest(ctx context.Context, repository, tag, pinnedDigest string) (string, error) {
	if pinnedDigest != "" {
		if !strings.HasPrefix(pinnedDigest, "sha256:") {
			pinnedDigest = "sha256:" + pinnedDigest
		}
		if _, err := reference.Parse(repository + "@" + pinnedDigest); err != nil {
			return "", fmt.Errorf("forge: invalid pinned digest %q: %w", pinnedDigest, err)
		}
		return pinnedDigest, nil
	}

	ref, err := name.ParseReference(fmt.Sprintf("%s:%s", repository, tag))
	if err != nil {
		return "", fmt.Errorf("forge: parse image reference: %w", err)
	}

	digest, err := crane.Digest(ref.String(), crane.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("forge: resolve digest for %s: %w", ref.String(), err)
	}
	return digest, nil
}
