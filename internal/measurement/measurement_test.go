package measurement

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildQuote(mrtd, rtmr0, rtmr1, rtmr2, rtmr3 byte) []byte {
	q := make([]byte, minQuoteLen)
	for i := 0; i < mrtdSize; i++ {
		q[mrtdOffset+i] = mrtd
	}
	for i := 0; i < rtmrSize; i++ {
		q[rtmrOffset+0*rtmrSize+i] = rtmr0
		q[rtmrOffset+1*rtmrSize+i] = rtmr1
		q[rtmrOffset+2*rtmrSize+i] = rtmr2
		q[rtmrOffset+3*rtmrSize+i] = rtmr3
	}
	return q
}

func TestExtract(t *testing.T) {
	q := buildQuote(0xaa, 0x01, 0x02, 0x03, 0x04)
	m, err := Extract(q)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("aa", mrtdSize), m.MRTD)
	assert.Equal(t, strings.Repeat("01", rtmrSize), m.RTMR0)
	assert.Equal(t, strings.Repeat("02", rtmrSize), m.RTMR1)
	assert.Equal(t, strings.Repeat("03", rtmrSize), m.RTMR2)
	assert.Equal(t, strings.Repeat("04", rtmrSize), m.RTMR3)
}

func TestExtract_TooShort(t *testing.T) {
	_, err := Extract(make([]byte, minQuoteLen-1))
	require.Error(t, err)
}

func TestCompare_CaseInsensitiveMatch(t *testing.T) {
	actual := Measurements{MRTD: "AABB", RTMR0: "cc", RTMR1: "dd", RTMR2: "ee", RTMR3: "ff"}
	expected := Measurements{MRTD: "aabb", RTMR0: "CC", RTMR1: "DD", RTMR2: "EE", RTMR3: "00"}

	skipped := Compare(actual, expected, true)
	assert.True(t, skipped.Verified)
	assert.True(t, skipped.RTMR3Match)

	notSkipped := Compare(actual, expected, false)
	assert.False(t, notSkipped.Verified)
	assert.False(t, notSkipped.RTMR3Match)
	assert.Contains(t, notSkipped.Error, "RTMR3")
}

func TestCompare_MismatchListsAllFailures(t *testing.T) {
	actual := Measurements{MRTD: "aa", RTMR0: "bb", RTMR1: "cc", RTMR2: "dd", RTMR3: "ee"}
	expected := Measurements{MRTD: "11", RTMR0: "22", RTMR1: "cc", RTMR2: "dd", RTMR3: "ee"}
	cmp := Compare(actual, expected, false)
	assert.False(t, cmp.Verified)
	assert.Contains(t, cmp.Error, "MRTD")
	assert.Contains(t, cmp.Error, "RTMR0")
	assert.NotContains(t, cmp.Error, "RTMR1")
}

func TestCompareBaseline_Unconfigured(t *testing.T) {
	cmp, configured := CompareBaseline(Measurements{MRTD: "aa"}, Baseline{}, true)
	assert.False(t, configured)
	assert.False(t, cmp.Verified)
}

func TestCompareBaseline_Configured(t *testing.T) {
	mrtd := "aabb"
	cmp, configured := CompareBaseline(Measurements{MRTD: "AABB"}, Baseline{MRTD: &mrtd}, true)
	assert.True(t, configured)
	assert.True(t, cmp.Verified)
}
