package storage

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/phage/internal/clock"
)

// Signer issues and checks HMAC-signed download URLs served by the API
// under /files.
type Signer struct {
	secret  []byte
	baseURL string
	clock   clock.Clock
}

// NewSigner returns a signer. An empty secret is replaced by a random one,
// which invalidates outstanding URLs on restart.
func NewSigner(secret, baseURL string, clk clock.Clock) (*Signer, bool, error) {
	generated := false
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, false, err
		}
		generated = true
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Signer{
		secret:  key,
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   clk,
	}, generated, nil
}

func (s *Signer) Sign(key string, ttl time.Duration, filename string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	expires := strconv.FormatInt(s.clock.Now().Add(ttl).Unix(), 10)

	query := url.Values{}
	query.Set("expires", expires)
	if filename != "" {
		query.Set("filename", filename)
	}
	query.Set("sig", s.signature(key, expires, filename))

	return s.baseURL + "/files/" + escapeKey(key) + "?" + query.Encode(), nil
}

// Verify checks a signed URL's parameters for key.
func (s *Signer) Verify(key, expires, filename, sig string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	expected, err := hex.DecodeString(s.signature(key, expires, filename))
	if err != nil {
		return ErrInvalidSignature
	}
	given, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, given) {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if !s.clock.Now().Before(time.Unix(unix, 0)) {
		return ErrURLExpired
	}
	return nil
}

func (s *Signer) signature(key, expires, filename string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'|'})
	mac.Write([]byte(expires))
	mac.Write([]byte{'|'})
	mac.Write([]byte(filename))
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
