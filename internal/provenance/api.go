package provenance

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	in_toto "github.com/in-toto/in-toto-golang/in_toto"
	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
)

const defaultAPIBase = "https://api.github.com"
const apiTimeout = 30 * time.Second

// APIBackend fetches and validates a build-provenance attestation through
// the forge's REST API, the Go equivalent of _verify_with_api. It is a
// weaker check than the CLI: it confirms the attestation's claimed
// repository and workflow identity but does not verify the DSSE envelope's
// Sigstore signature, so a successful result always carries a caveat.
type APIBackend struct {
	token      string
	base       string
	httpClient *http.Client
}

// NewAPIBackend builds an APIBackend. An empty base defaults to the public
// GitHub REST API; a nil httpClient gets one with apiTimeout.
func NewAPIBackend(token, base string, httpClient *http.Client) *APIBackend {
	if base == "" {
		base = defaultAPIBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: apiTimeout}
	}
	return &APIBackend{token: token, base: strings.TrimSuffix(base, "/"), httpClient: httpClient}
}

// attestationsResponse mirrors the subset of GET
// /users/{owner}/attestations/{digest} this module reads. Bundle is kept as
// raw JSON so it can be handed to sigstore-go's own bundle.Bundle unmarshal
// unmodified (see FetchBundle), rather than re-marshaling a partially
// typed struct back into bytes.
type attestationsResponse struct {
	Attestations []struct {
		Bundle json.RawMessage `json:"bundle"`
	} `json:"attestations"`
}

// fetchFirst issues GET {base}/users/{owner}/attestations/{digest} and
// returns the first attestation's raw bundle JSON.
func (b *APIBackend) fetchFirst(ctx context.Context, req Request) (json.RawMessage, *Output) {
	url := fmt.Sprintf("%s/users/%s/attestations/%s", b.base, req.Owner, req.Digest)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Output{Status: errkind.APIError, Detail: err.Error(), Backend: "api"}
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	if b.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Output{Verified: false, Status: errkind.APIError, Detail: err.Error(), Backend: "api"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Output{Verified: false, Status: errkind.APIError, Detail: err.Error(), Backend: "api"}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, &Output{Verified: false, Status: errkind.NoAttestation, Detail: "No attestation found", Backend: "api"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Output{Verified: false, Status: errkind.APIError, Detail: fmt.Sprintf("forge API returned %d", resp.StatusCode), Backend: "api"}
	}

	var parsed attestationsResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Attestations) == 0 {
		return nil, &Output{Verified: false, Status: errkind.ParseError, Detail: "no attestations in response", Backend: "api"}
	}

	return parsed.Attestations[0].Bundle, nil
}

// FetchBundle returns the first attestation's raw Sigstore bundle JSON, for
// SigstoreBackend ("Backend 0") to verify directly.
func (b *APIBackend) FetchBundle(ctx context.Context, req Request) ([]byte, error) {
	bundle, failure := b.fetchFirst(ctx, req)
	if failure != nil {
		return nil, fmt.Errorf("provenance: fetch bundle: %s: %s", failure.Status, failure.Detail)
	}
	return bundle, nil
}

// Verify fetches GET {base}/users/{owner}/attestations/{digest}, decodes
// the first attestation's DSSE payload as an in-toto SLSA provenance
// statement, and checks its buildDefinition.externalParameters against the
// requested repository and, if set, workflow path. This check does not
// verify the DSSE envelope's Sigstore signature, only its claimed content,
// hence the caveat on a successful result.
func (b *APIBackend) Verify(ctx context.Context, req Request) (Output, error) {
	bundleRaw, failure := b.fetchFirst(ctx, req)
	if failure != nil {
		return *failure, nil
	}

	var envelope struct {
		DSSEEnvelope struct {
			Payload string `json:"payload"`
		} `json:"dsseEnvelope"`
	}
	if err := json.Unmarshal(bundleRaw, &envelope); err != nil {
		return Output{Verified: false, Status: errkind.ParseError, Detail: err.Error(), Backend: "api"}, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.DSSEEnvelope.Payload)
	if err != nil {
		return Output{Verified: false, Status: errkind.ParseError, Detail: err.Error(), Backend: "api"}, nil
	}

	var statement in_toto.ProvenanceStatementSLSA1
	if err := json.Unmarshal(decoded, &statement); err != nil {
		return Output{Verified: false, Status: errkind.ParseError, Detail: err.Error(), Backend: "api"}, nil
	}

	repo, ref, eventName := externalParams(decoded)

	// The workflow repository is a full URL (e.g.
	// "https://github.com/org/repo"), not a bare "owner/repo" string, per
	// github_verifier.py's expected_repo_full containment check.
	expectedRepoFull := fmt.Sprintf("https://github.com/%s/%s", req.Owner, req.Repo)
	if !strings.Contains(strings.ToLower(repo), strings.ToLower(expectedRepoFull)) {
		return Output{Verified: false, Status: errkind.RepositoryMismatch, Detail: fmt.Sprintf("attestation repository %q does not contain %q", repo, expectedRepoFull), Backend: "api"}, nil
	}

	detail := fmt.Sprintf("workflow_ref=%s event=%s", ref, eventName)
	return Output{
		Verified: true,
		Status:   errkind.UnverifiedSignatureCaveat,
		Detail:   detail,
		Caveat:   "API-based verification (signature not fully verified)",
		Backend:  "api",
	}, nil
}

// externalParams pulls predicate.buildDefinition.externalParameters's
// workflow repository/ref and the triggering event name out of the raw
// decoded payload, since in-toto-golang's typed predicate does not model
// GitHub's own externalParameters shape.
func externalParams(payload []byte) (repo, ref, eventName string) {
	var generic struct {
		Predicate struct {
			BuildDefinition struct {
				ExternalParameters struct {
					Workflow struct {
						Repository string `json:"repository"`
						Ref        string `json:"ref"`
					} `json:"workflow"`
				} `json:"externalParameters"`
			} `json:"buildDefinition"`
		} `json:"predicate"`
	}
	if err := json.Unmarshal(payload, &generic); err != nil {
		return "", "", ""
	}

	var envGeneric struct {
		Predicate struct {
			BuildDefinition struct {
				ExternalParameters map[string]json.RawMessage `json:"externalParameters"`
			} `json:"buildDefinition"`
		} `json:"predicate"`
	}
	_ = json.Unmarshal(payload, &envGeneric)
	if raw, ok := envGeneric.Predicate.BuildDefinition.ExternalParameters["github"]; ok {
		var gh struct {
			EventName string `json:"event_name"`
		}
		_ = json.Unmarshal(raw, &gh)
		eventName = gh.EventName
	}

	return generic.Predicate.BuildDefinition.ExternalParameters.Workflow.Repository,
		generic.Predicate.BuildDefinition.ExternalParameters.Workflow.Ref,
		eventName
}
