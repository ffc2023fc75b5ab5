// Package chain orchestrates the three independent verifiers — DCAP,
// provenance, and measurement — into one attestation result, per
// spec.md §4.4. Once a quote has been fetched it never short-circuits:
// every verifier runs and contributes its own outcome, even if another
// verifier failed. A failed quote fetch ends the pass before any verifier
// runs.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/posix4e/tdx-trust-gateway/internal/dcap"
	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
	"github.com/posix4e/tdx-trust-gateway/internal/measurement"
	"github.com/posix4e/tdx-trust-gateway/internal/provenance"
)

// Outcome classifies the overall result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Result is the combined output of all three verifiers.
type Result struct {
	Outcome     Outcome
	DCAP        dcap.Output
	Provenance  provenance.Output
	Measurement measurement.Comparison
	MeasurementConfigured bool
	QuoteFetchError string
	CachedAt    time.Time
}

// QuoteFetcher fetches a raw quote for an app_id, the Go equivalent of
// fetch_quote in chain_verifier.py. A non-nil reportData switches the
// provider request from GET to POST, per measurement_verifier.py's
// fetch_quote(report_data=...).
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, quoteProviderEndpoint string, reportData *string) ([]byte, error)
}

// Request is everything the orchestrator needs for one verification pass.
type Request struct {
	QuoteProviderEndpoint string
	ReportData            *string
	Provenance            provenance.Request
	Baseline              measurement.Baseline
	SkipRTMR3             bool
}

// Verifier ties the three sub-verifiers together behind a single entry
// point, matching chain_verifier.py's ChainVerifier.
type Verifier struct {
	quotes     QuoteFetcher
	dcap       *dcap.Verifier
	provenance *provenance.Verifier
}

// NewVerifier wires the three collaborators.
func NewVerifier(quotes QuoteFetcher, d *dcap.Verifier, p *provenance.Verifier) *Verifier {
	return &Verifier{quotes: quotes, dcap: d, provenance: p}
}

// Verify fetches the quote, then runs DCAP and provenance verification
// concurrently (plain goroutines, not errgroup — see DESIGN.md on why
// errgroup's cancel-on-first-error would violate the never-short-circuit
// requirement here), and finally extracts and compares measurements.
func (v *Verifier) Verify(ctx context.Context, req Request) Result {
	quote, fetchErr := v.quotes.FetchQuote(ctx, req.QuoteProviderEndpoint, req.ReportData)
	if fetchErr != nil {
		return Result{
			Outcome:         OutcomeFailed,
			DCAP:            dcap.Output{Status: errkind.FetchFailed, Detail: fetchErr.Error()},
			Provenance:      provenance.Output{Status: errkind.FetchFailed, Detail: "Skipped due to quote fetch failure"},
			QuoteFetchError: fetchErr.Error(),
			CachedAt:        now(),
		}
	}

	type dcapResult struct {
		out dcap.Output
		err error
	}
	type provResult struct {
		out provenance.Output
		err error
	}

	dcapCh := make(chan dcapResult, 1)
	provCh := make(chan provResult, 1)

	go func() {
		out, err := v.dcap.Verify(ctx, quote)
		dcapCh <- dcapResult{out, err}
	}()
	go func() {
		out, err := v.provenance.Verify(ctx, req.Provenance)
		provCh <- provResult{out, err}
	}()

	dr := <-dcapCh
	pr := <-provCh

	dcapOut := dr.out
	if dr.err != nil {
		dcapOut = dcap.Output{Status: errkind.DCAPException, Detail: dr.err.Error()}
	}
	provOut := pr.out
	if pr.err != nil {
		provOut = provenance.Output{Status: errkind.APIError, Detail: pr.err.Error()}
	}

	measured, mErr := measurement.Extract(quote)
	var cmp measurement.Comparison
	var configured bool
	if mErr != nil {
		cmp = measurement.Comparison{Error: fmt.Sprintf("%s: %s", errkind.ExtractionFailed, mErr.Error())}
	} else {
		cmp, configured = measurement.CompareBaseline(measured, req.Baseline, req.SkipRTMR3)
	}

	result := Result{
		DCAP:                  dcapOut,
		Provenance:            provOut,
		Measurement:           cmp,
		MeasurementConfigured: configured,
		CachedAt:              now(),
	}
	result.Outcome = classify(result)
	return result
}

func classify(r Result) Outcome {
	dcapOK := r.DCAP.Status == errkind.DCAPOk || r.DCAP.Status == errkind.DCAPMockOk
	provOK := r.Provenance.Verified
	measOK := r.MeasurementConfigured && r.Measurement.Verified

	switch {
	case dcapOK && provOK && measOK:
		return OutcomeSuccess
	case !dcapOK && !provOK && !measOK:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// now is a seam so tests can assert CachedAt is populated without the
// package reaching for time.Now() directly in more than one place.
var now = time.Now
