package signing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/iot-provisioner/pkg/signing"
)

var fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCanonicalString_NoBody(t *testing.T) {
	r := signing.Request{Method: "GET", Path: "/api/info/about", Timestamp: fixedTime, Nonce: "42"}
	assert.Equal(t, "GET:/api/info/about:1767225600:42", signing.CanonicalString(r))
}

func TestCanonicalString_WithBody(t *testing.T) {
	r := signing.Request{
		Method:      "PUT",
		Path:        "/api/settings",
		ContentMD5:  "abc",
		ContentType: signing.ContentTypeJSON,
		Timestamp:   fixedTime,
		Nonce:       "42",
	}
	assert.Equal(t, "PUT:/api/settings:abc:application/json:1767225600:42", signing.CanonicalString(r))
}

func TestSign_KnownDigest(t *testing.T) {
	r := signing.Request{Method: "GET", Path: "/api/info/about", Timestamp: fixedTime, Nonce: "42"}

	sig := signing.Sign([]byte("algo"), r)

	assert.Equal(t, int64(1767225600), sig.Timestamp)
	assert.Equal(t, "42", sig.Nonce)
	assert.Len(t, sig.Digest, 64)
	assert.True(t, signing.Verify([]byte("algo"), r, sig.Digest))
	assert.False(t, signing.Verify([]byte("other"), r, sig.Digest))
}

func TestSign_TimestampChangesDigest(t *testing.T) {
	r := signing.Request{Method: "GET", Path: "/api/info/about", Timestamp: fixedTime, Nonce: "42"}
	shifted := r
	shifted.Timestamp = fixedTime.Add(45 * time.Second)

	assert.NotEqual(t, signing.Sign([]byte("algo"), r).Digest, signing.Sign([]byte("algo"), shifted).Digest)
}

func TestContentMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", signing.ContentMD5(nil))
}

func TestNewNonce_Unique(t *testing.T) {
	assert.NotEqual(t, signing.NewNonce(), signing.NewNonce())
}

func TestAuthorizationHeader_RoundTrip(t *testing.T) {
	header := signing.AuthorizationHeader("admin", signing.Signature{Nonce: "n1", Digest: "deadbeef"})
	assert.Equal(t, "hmac admin:n1:deadbeef", header)

	principal, nonce, digest, err := signing.ParseAuthorizationHeader(header)
	require.NoError(t, err)
	assert.Equal(t, "admin", principal)
	assert.Equal(t, "n1", nonce)
	assert.Equal(t, "deadbeef", digest)
}

func TestParseAuthorizationHeader_Rejects(t *testing.T) {
	for _, header := range []string{"", "basic abc", "hmac admin:only"} {
		_, _, _, err := signing.ParseAuthorizationHeader(header)
		assert.Error(t, err, header)
	}
}

func TestDateHeader(t *testing.T) {
	assert.Equal(t, "Thu, 01 Jan 2026 00:00:00 GMT", signing.DateHeader(fixedTime))
}
