// Package errkind defines the stable, loggable error-kind strings shared
// across the verification pipeline. Every verifier surfaces one of these
// instead of an ad-hoc message so callers can compare and alert on them.
package errkind

// Quote I/O.
const (
	FetchFailed          = "fetch_failed"
	InvalidFormat        = "invalid_format"
	InvalidQuoteLength   = "invalid_quote_length"
	InvalidQuoteVersion  = "invalid_quote_version"
)

// DCAP verification result statuses.
const (
	DCAPOk                        = "ok"
	DCAPMockOk                    = "mock_ok"
	DCAPConfigNeeded              = "config_needed"
	DCAPOutOfDate                 = "out_of_date"
	DCAPOutOfDateConfigNeeded     = "out_of_date_config_needed"
	DCAPInvalidSignature          = "invalid_signature"
	DCAPRevoked                   = "revoked"
	DCAPUnspecified               = "unspecified"
	DCAPError                     = "error"
	DCAPException                 = "exception"
	DCAPUnknown                   = "unknown"
)

// Build-provenance verification errors.
const (
	ToolUnavailable          = "tool_unavailable"
	NoAttestation            = "no_attestation"
	RepositoryMismatch       = "repository_mismatch"
	APIError                 = "api_error"
	ParseError               = "parse_error"
	UnverifiedSignatureCaveat = "unverified_signature_caveat"
)

// Measurement verification errors.
const (
	Unconfigured     = "unconfigured"
	ExtractionFailed = "extraction_failed"
)

// Gate / proxy errors.
const (
	ServiceUnavailable = "service_unavailable"
	Forbidden          = "forbidden"
	UpstreamError      = "upstream_error"
	UpstreamTimeout    = "upstream_timeout"
	UnknownApp         = "unknown_app"
)
