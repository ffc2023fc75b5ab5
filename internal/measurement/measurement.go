// Package measurement extracts TDX measurement registers from a raw quote
// and compares them against a registration's baseline, per spec.md §4.3.
package measurement

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
)

// Quote layout offsets, per spec.md §3 (TDX v4, little-endian).
const (
	mrtdOffset  = 176
	mrtdSize    = 48
	rtmrOffset  = 368
	rtmrSize    = 48
	registerCount = 4
	minQuoteLen = rtmrOffset + registerCount*rtmrSize // 560
)

// Measurements is a record of the five 48-byte values, rendered as 96-char
// lowercase hex.
type Measurements struct {
	MRTD  string
	RTMR0 string
	RTMR1 string
	RTMR2 string
	RTMR3 string
}

// Extract reads MRTD and RTMR0..3 out of a raw quote at the fixed offsets.
func Extract(quote []byte) (Measurements, error) {
	if len(quote) < minQuoteLen {
		return Measurements{}, fmt.Errorf("quote too short: %d bytes (minimum %d)", len(quote), minQuoteLen)
	}
	mrtd := quote[mrtdOffset : mrtdOffset+mrtdSize]
	rtmrs := quote[rtmrOffset : rtmrOffset+registerCount*rtmrSize]
	return Measurements{
		MRTD:  hex.EncodeToString(mrtd),
		RTMR0: hex.EncodeToString(rtmrs[0*rtmrSize : 1*rtmrSize]),
		RTMR1: hex.EncodeToString(rtmrs[1*rtmrSize : 2*rtmrSize]),
		RTMR2: hex.EncodeToString(rtmrs[2*rtmrSize : 3*rtmrSize]),
		RTMR3: hex.EncodeToString(rtmrs[3*rtmrSize : 4*rtmrSize]),
	}, nil
}

// Comparison is the outcome of comparing actual measurements against a
// baseline.
type Comparison struct {
	Verified  bool
	MRTDMatch bool
	RTMR0Match bool
	RTMR1Match bool
	RTMR2Match bool
	RTMR3Match bool
	Actual    Measurements
	Expected  Measurements
	Error     string
}

// Compare performs a case-insensitive comparison of actual vs expected
// measurements. RTMR3 is skippable by policy (skipRTMR3=true is the
// default throughout this module, per spec.md §4.3): when skipped its
// match bit always reports true regardless of the underlying bytes.
func Compare(actual, expected Measurements, skipRTMR3 bool) Comparison {
	eq := func(a, b string) bool { return strings.EqualFold(a, b) }

	mrtdMatch := eq(actual.MRTD, expected.MRTD)
	rtmr0Match := eq(actual.RTMR0, expected.RTMR0)
	rtmr1Match := eq(actual.RTMR1, expected.RTMR1)
	rtmr2Match := eq(actual.RTMR2, expected.RTMR2)
	rtmr3Match := skipRTMR3 || eq(actual.RTMR3, expected.RTMR3)

	all := mrtdMatch && rtmr0Match && rtmr1Match && rtmr2Match && rtmr3Match

	var errMsg string
	if !all {
		var mismatches []string
		if !mrtdMatch {
			mismatches = append(mismatches, "MRTD")
		}
		if !rtmr0Match {
			mismatches = append(mismatches, "RTMR0")
		}
		if !rtmr1Match {
			mismatches = append(mismatches, "RTMR1")
		}
		if !rtmr2Match {
			mismatches = append(mismatches, "RTMR2")
		}
		if !rtmr3Match {
			mismatches = append(mismatches, "RTMR3")
		}
		errMsg = "mismatch: " + strings.Join(mismatches, ", ")
	}

	return Comparison{
		Verified:   all,
		MRTDMatch:  mrtdMatch,
		RTMR0Match: rtmr0Match,
		RTMR1Match: rtmr1Match,
		RTMR2Match: rtmr2Match,
		RTMR3Match: rtmr3Match,
		Actual:     actual,
		Expected:   expected,
		Error:      errMsg,
	}
}

// Baseline is a registration's optional baseline, where a nil MRTD means
// "unconfigured" per spec.md §3's invariant.
type Baseline struct {
	MRTD  *string
	RTMR0 *string
	RTMR1 *string
	RTMR2 *string
	RTMR3 *string
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CompareBaseline compares actual measurements against a registration's
// optional baseline. If the baseline's MRTD is unset, the comparison never
// reports verified=true, per spec.md §3's invariant: Comparison.Error is
// set to the unconfigured error kind and configured=false is returned so
// callers can detect the case without inspecting Comparison.Error text.
func CompareBaseline(actual Measurements, baseline Baseline, skipRTMR3 bool) (cmp Comparison, configured bool) {
	if baseline.MRTD == nil {
		return Comparison{Verified: false, Actual: actual, Error: errkind.Unconfigured}, false
	}
	expected := Measurements{
		MRTD:  deref(baseline.MRTD),
		RTMR0: deref(baseline.RTMR0),
		RTMR1: deref(baseline.RTMR1),
		RTMR2: deref(baseline.RTMR2),
		RTMR3: deref(baseline.RTMR3),
	}
	return Compare(actual, expected, skipRTMR3), true
}
