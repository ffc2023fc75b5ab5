// Package dcap wraps Intel's DCAP Quote Verification Library (QVL) behind a
// pluggable interface, per spec.md §4.1. The real QVL is a C shared library
// loaded once per process; this package models that as a lazily-initialized
// singleton and falls back to a deterministic mock when no library path is
// configured, matching the source's mock mode.
package dcap

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
)

// Result is the numeric quote-verification result code the QVL returns,
// mirroring sgx_ql_qv_result_t.
type Result int

const (
	ResultOK                    Result = 0
	ResultConfigNeeded          Result = 1
	ResultOutOfDate             Result = 2
	ResultOutOfDateConfigNeeded Result = 3
	ResultInvalidSignature      Result = 4
	ResultRevoked               Result = 5
	ResultUnspecified           Result = 6
)

var resultToStatus = map[Result]string{
	ResultOK:                    errkind.DCAPOk,
	ResultConfigNeeded:          errkind.DCAPConfigNeeded,
	ResultOutOfDate:             errkind.DCAPOutOfDate,
	ResultOutOfDateConfigNeeded: errkind.DCAPOutOfDateConfigNeeded,
	ResultInvalidSignature:      errkind.DCAPInvalidSignature,
	ResultRevoked:               errkind.DCAPRevoked,
	ResultUnspecified:           errkind.DCAPUnspecified,
}

// tcbStatusLabels mirrors dcap_verifier.py's _get_tcb_status table: the
// subset of result codes that additionally carry a human-meaningful TCB
// status label.
var tcbStatusLabels = map[Result]string{
	ResultOK:                    "UpToDate",
	ResultConfigNeeded:          "ConfigNeeded",
	ResultOutOfDate:             "OutOfDate",
	ResultOutOfDateConfigNeeded: "OutOfDateConfigNeeded",
	ResultInvalidSignature:      "Invalid",
	ResultRevoked:               "Revoked",
}

const minQuoteLen = 560
const quoteVersion4 = 4

// Output is the verification outcome surfaced to callers, matching the
// source's DCAPVerificationOutput dataclass.
type Output struct {
	Status    string
	TCBStatus string
	Detail    string
}

// QVL abstracts the native quote verification library. Init loads the
// shared library at path (called at most once); VerifyQuote performs the
// actual check. A mock QVL is substituted when no library path is
// configured.
type QVL interface {
	Init(libraryPath string) error
	VerifyQuote(ctx context.Context, quote []byte) (Result, error)
}

// mockQVL reproduces the source's _mock_verify: it never touches a native
// library and only checks the structural invariants every real backend
// checks too.
type mockQVL struct{}

func (mockQVL) Init(string) error { return nil }

func (mockQVL) VerifyQuote(_ context.Context, quote []byte) (Result, error) {
	if len(quote) < minQuoteLen {
		return 0, fmt.Errorf("%s", errkind.InvalidQuoteLength)
	}
	version := int(quote[0]) | int(quote[1])<<8
	if version != quoteVersion4 {
		return 0, fmt.Errorf("%s", errkind.InvalidQuoteVersion)
	}
	return ResultOK, nil
}

// loadState is the tri-state lazy-load lifecycle for the configured QVL:
// a library is either not yet attempted, loaded, or failed to load (the
// error is cached and replayed rather than retried).
type loadState int

const (
	notLoaded loadState = iota
	loaded
	loadFailed
)

// Verifier lazily loads a QVL exactly once and serializes verification
// through a bounded worker pool, since the native library backing a real
// QVL is not assumed to be safe for unbounded concurrent calls.
type Verifier struct {
	libraryPath string
	newMock     func() QVL
	real        QVL

	mu        sync.Mutex
	state     loadState
	loadErr   error

	sem chan struct{}
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRealQVL supplies the real QVL implementation used when libraryPath is
// non-empty. Tests and mock-mode deployments omit this.
func WithRealQVL(qvl QVL) Option {
	return func(v *Verifier) { v.real = qvl }
}

// NewVerifier builds a Verifier. libraryPath empty means mock mode;
// poolSize bounds concurrent calls into the underlying QVL.
func NewVerifier(libraryPath string, poolSize int, opts ...Option) *Verifier {
	if poolSize < 1 {
		poolSize = 1
	}
	v := &Verifier{
		libraryPath: libraryPath,
		sem:         make(chan struct{}, poolSize),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) ensureLoaded() (QVL, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case loaded:
		return v.activeLocked(), nil
	case loadFailed:
		return nil, v.loadErr
	}

	active := v.activeLocked()
	if err := active.Init(v.libraryPath); err != nil {
		v.state = loadFailed
		v.loadErr = fmt.Errorf("dcap: load library %q: %w", v.libraryPath, err)
		return nil, v.loadErr
	}
	v.state = loaded
	return active, nil
}

func (v *Verifier) activeLocked() QVL {
	if v.libraryPath == "" || v.real == nil {
		return mockQVL{}
	}
	return v.real
}

// Verify runs quote verification on raw quote bytes (see DecodeBase64Quote
// for base64 input). Structural pre-checks (length, version) happen before any pool
// slot is acquired so malformed input never occupies a worker.
func (v *Verifier) Verify(ctx context.Context, quote []byte) (Output, error) {
	if len(quote) < minQuoteLen {
		return Output{}, fmt.Errorf("%s", errkind.InvalidQuoteLength)
	}
	version := int(quote[0]) | int(quote[1])<<8
	if version != quoteVersion4 {
		return Output{}, fmt.Errorf("%s", errkind.InvalidQuoteVersion)
	}

	qvl, err := v.ensureLoaded()
	if err != nil {
		return Output{Status: errkind.DCAPException, Detail: err.Error()}, nil
	}

	select {
	case v.sem <- struct{}{}:
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
	defer func() { <-v.sem }()

	result, err := qvl.VerifyQuote(ctx, quote)
	if err != nil {
		return Output{Status: errkind.DCAPException, Detail: err.Error()}, nil
	}

	status, ok := resultToStatus[result]
	if !ok {
		status = errkind.DCAPUnknown
	}
	if _, isMock := qvl.(mockQVL); isMock && status == errkind.DCAPOk {
		status = errkind.DCAPMockOk
	}

	return Output{
		Status:    status,
		TCBStatus: tcbStatusLabels[result],
	}, nil
}

// DecodeBase64Quote decodes a standard base64-encoded quote, as received
// over the registration/quote-provider HTTP surface.
func DecodeBase64Quote(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errkind.InvalidFormat, err)
	}
	return b, nil
}
