// Package gate evaluates whether a request to a registered app may proceed,
// per spec.md §4.6. It is the Go translation of proxy/gate.py's
// attestation_gate plus build_verification_headers.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/posix4e/tdx-trust-gateway/internal/attestcache"
	"github.com/posix4e/tdx-trust-gateway/internal/chain"
	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
)

// Denial describes why a request was refused, carrying enough detail for
// both the HTTP response body and structured logging.
type Denial struct {
	Kind     string // errkind.ServiceUnavailable or errkind.Forbidden
	Message  string
	Result   *chain.Result
	CachedAt time.Time
}

func (d *Denial) Error() string { return fmt.Sprintf("%s: %s", d.Kind, d.Message) }

// Evaluate fetches (or reuses) the attestation result for appID and
// returns it if the chain verification succeeded. A cache/verification
// failure, including a failed quote fetch, is reported as a
// service_unavailable Denial; a verification that
// ran but did not succeed is a forbidden Denial carrying per-component
// detail, mirroring attestation_gate's two distinct HTTP statuses (503 vs
// 403).
func Evaluate(ctx context.Context, cache *attestcache.Cache, appID string) (chain.Result, *Denial) {
	entry, err := cache.GetOrVerify(ctx, appID)
	if err != nil {
		merr := multierror.Append(fmt.Errorf("attestation lookup failed"), err)
		return chain.Result{}, &Denial{
			Kind:    errkind.ServiceUnavailable,
			Message: merr.Error(),
		}
	}

	if entry.Result.QuoteFetchError != "" {
		r := entry.Result
		return r, &Denial{
			Kind:     errkind.ServiceUnavailable,
			Message:  "quote fetch failed: " + r.QuoteFetchError,
			Result:   &r,
			CachedAt: entry.CachedAt,
		}
	}

	if entry.Result.Outcome != chain.OutcomeSuccess {
		r := entry.Result
		return r, &Denial{
			Kind:     errkind.Forbidden,
			Message:  "attestation verification did not succeed",
			Result:   &r,
			CachedAt: entry.CachedAt,
		}
	}

	return entry.Result, nil
}

// Headers builds the four X-TDX-* headers stamped onto proxied responses,
// matching build_verification_headers: result.CachedAt and ttl give the
// ISO-8601 verification time and cache expiry spec.md §4.6 requires.
func Headers(result chain.Result, ttl time.Duration) map[string]string {
	return map[string]string{
		"X-TDX-Verified":          boolHeader(result.Outcome == chain.OutcomeSuccess),
		"X-TDX-DCAP-Status":       result.DCAP.Status,
		"X-TDX-Verification-Time": result.CachedAt.UTC().Format(time.RFC3339),
		"X-TDX-Cache-Expires":     result.CachedAt.Add(ttl).UTC().Format(time.RFC3339),
	}
}

func boolHeader(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
