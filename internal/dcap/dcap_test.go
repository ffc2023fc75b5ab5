package dcap

import (
	"context"
	"testing"
	"time"

	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quoteOfLen(n int, version int) []byte {
	q := make([]byte, n)
	q[0] = byte(version)
	q[1] = byte(version >> 8)
	return q
}

func TestVerify_MockOK(t *testing.T) {
	v := NewVerifier("", 2)
	out, err := v.Verify(context.Background(), quoteOfLen(minQuoteLen, quoteVersion4))
	require.NoError(t, err)
	assert.Equal(t, errkind.DCAPMockOk, out.Status)
}

func TestVerify_TooShort(t *testing.T) {
	v := NewVerifier("", 1)
	_, err := v.Verify(context.Background(), quoteOfLen(minQuoteLen-1, quoteVersion4))
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidQuoteLength, err.Error())
}

func TestVerify_BadVersion(t *testing.T) {
	v := NewVerifier("", 1)
	_, err := v.Verify(context.Background(), quoteOfLen(minQuoteLen, 3))
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidQuoteVersion, err.Error())
}

type fakeQVL struct {
	initErr error
	result  Result
	verifyErr error
	calls   int
	initCalls int
}

func (f *fakeQVL) Init(string) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeQVL) VerifyQuote(_ context.Context, _ []byte) (Result, error) {
	f.calls++
	return f.result, f.verifyErr
}

func TestVerify_RealQVL_Revoked(t *testing.T) {
	fake := &fakeQVL{result: ResultRevoked}
	v := NewVerifier("/opt/qvl.so", 1, WithRealQVL(fake))
	out, err := v.Verify(context.Background(), quoteOfLen(minQuoteLen, quoteVersion4))
	require.NoError(t, err)
	assert.Equal(t, errkind.DCAPRevoked, out.Status)
	assert.Equal(t, "Revoked", out.TCBStatus)
}

func TestVerify_LoadFailureCachedNotRetried(t *testing.T) {
	fake := &fakeQVL{initErr: assertErr("boom")}
	v := NewVerifier("/opt/qvl.so", 1, WithRealQVL(fake))

	out1, err1 := v.Verify(context.Background(), quoteOfLen(minQuoteLen, quoteVersion4))
	require.NoError(t, err1)
	assert.Equal(t, errkind.DCAPException, out1.Status)

	out2, err2 := v.Verify(context.Background(), quoteOfLen(minQuoteLen, quoteVersion4))
	require.NoError(t, err2)
	assert.Equal(t, errkind.DCAPException, out2.Status)
	assert.Equal(t, 1, fake.initCalls)
	assert.Equal(t, 0, fake.calls)
}

func TestVerify_BoundedPool(t *testing.T) {
	fake := &fakeQVL{result: ResultOK}
	v := NewVerifier("/opt/qvl.so", 1, WithRealQVL(fake))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		v.sem <- struct{}{}
		close(done)
	}()
	<-done

	_, err := v.Verify(ctx, quoteOfLen(minQuoteLen, quoteVersion4))
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
