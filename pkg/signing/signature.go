// Package signing builds the HMAC request signatures accepted by the
// device control API.
//
// A signature covers the request method, path, optional body checksum and
// content type, a unix timestamp and a single-use nonce, joined with ':'
// in that order:
//
//	GET:/api/info/about:1767225600:5f0c...
//	PUT:/api/settings:<md5-hex>:application/json:1767225600:5f0c...
//
// The digest is the hex HMAC-SHA256 of that string keyed with the shared
// secret. Everything here is pure; sending and retrying live in deviceapi.
package signing

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Delimiter separates the fields of the canonical signing string.
	Delimiter = ":"

	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"

	// Scheme is the Authorization header scheme understood by devices.
	Scheme = "hmac"
)

// Request holds the fields folded into a signature.
type Request struct {
	Method      string
	Path        string
	ContentMD5  string // hex checksum of the body, empty when there is none
	ContentType string // only signed when ContentMD5 is set
	Timestamp   time.Time
	Nonce       string
}

// Signature is the ephemeral result of signing one attempt.
type Signature struct {
	Timestamp int64
	Nonce     string
	Digest    string
}

// CanonicalString returns the exact string the digest is computed over.
func CanonicalString(r Request) string {
	fields := []string{r.Method, r.Path}
	if r.ContentMD5 != "" {
		fields = append(fields, r.ContentMD5, r.ContentType)
	}
	fields = append(fields, strconv.FormatInt(r.Timestamp.Unix(), 10), r.Nonce)
	return strings.Join(fields, Delimiter)
}

// Sign computes the HMAC-SHA256 digest of the canonical string for r.
func Sign(secret []byte, r Request) Signature {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(CanonicalString(r)))
	return Signature{
		Timestamp: r.Timestamp.Unix(),
		Nonce:     r.Nonce,
		Digest:    hex.EncodeToString(h.Sum(nil)),
	}
}

// Verify reports whether digest is the valid signature of r. Simulated
// devices in tests use it to reject badly signed requests.
func Verify(secret []byte, r Request, digest string) bool {
	expected := Sign(secret, r).Digest
	return hmac.Equal([]byte(expected), []byte(digest))
}

// ContentMD5 returns the hex MD5 checksum sent in the Content-Md5 header.
func ContentMD5(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

// NewNonce returns a fresh random nonce. Nonces are never reused, not even
// across the retry of a single call.
func NewNonce() string {
	return uuid.NewString()
}

// AuthorizationHeader formats "hmac <principal>:<nonce>:<digest>".
func AuthorizationHeader(principal string, s Signature) string {
	return fmt.Sprintf("%s %s%s%s%s%s", Scheme, principal, Delimiter, s.Nonce, Delimiter, s.Digest)
}

// ParseAuthorizationHeader splits an Authorization header produced by
// AuthorizationHeader back into principal, nonce and digest.
func ParseAuthorizationHeader(header string) (principal, nonce, digest string, err error) {
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || scheme != Scheme {
		return "", "", "", fmt.Errorf("unsupported authorization scheme in %q", header)
	}
	parts := strings.Split(rest, Delimiter)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed authorization header %q", header)
	}
	return parts[0], parts[1], parts[2], nil
}

// DateHeader formats t as an RFC 1123 GMT timestamp for the Date header.
func DateHeader(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
