package coinbase

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is implemented by both auth modes, matching the teacher's
// pkg/http.Signer contract so the resilient Client stays auth-agnostic.
type Signer interface {
	SignRequest(req *http.Request) error
}

// HMACSigner implements the legacy Coinbase HMAC-SHA256 authentication:
// CB-ACCESS-KEY / CB-ACCESS-SIGN / CB-ACCESS-TIMESTAMP headers over
// timestamp+method+path(+canonical query)+body.
type HMACSigner struct {
	APIKey    string
	APISecret string
	now       func() time.Time
}

// NewHMACSigner builds a Signer from the legacy key/secret pair.
func NewHMACSigner(apiKey, apiSecret string) *HMACSigner {
	return &HMACSigner{APIKey: apiKey, APISecret: apiSecret, now: time.Now}
}

// SignRequest signs req in-place with HMAC headers. The signed path MUST
// include the canonicalized (lexicographically sorted) query string.
func (s *HMACSigner) SignRequest(req *http.Request) error {
	ts := strconv.FormatInt(s.nowFunc().Unix(), 10)

	path := req.URL.Path
	if q := canonicalQuery(req.URL.Query()); q != "" {
		path = path + "?" + q
	}

	var body []byte
	if req.Body != nil {
		b, err := readAndRestoreBody(req)
		if err != nil {
			return err
		}
		body = b
	}

	message := ts + req.Method + path + string(body)
	mac := hmac.New(sha256.New, []byte(s.APISecret))
	mac.Write([]byte(message))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("CB-ACCESS-KEY", s.APIKey)
	req.Header.Set("CB-ACCESS-SIGN", signature)
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	return nil
}

func (s *HMACSigner) nowFunc() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// canonicalQuery re-encodes query parameters with keys sorted
// lexicographically, for deterministic HMAC signing.
func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		for _, v := range q[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
		_ = i
	}
	return sb.String()
}

// JWTSigner implements Coinbase Cloud API key auth: a short-lived ES256 JWT
// with kid=api_key and a random nonce, one token minted per request.
type JWTSigner struct {
	APIKey     string
	PrivateKey *ecdsa.PrivateKey
	now        func() time.Time
	nonce      func() string
}

// NewJWTSigner parses a PEM-encoded EC private key and returns a Signer.
func NewJWTSigner(apiKey, pemKey string) (*JWTSigner, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("coinbase: parse EC private key: %w", err)
	}
	return &JWTSigner{APIKey: apiKey, PrivateKey: key}, nil
}

// SignRequest mints a fresh ES256 JWT and sets the Authorization header. The
// signed URI MUST NOT include the query string.
func (s *JWTSigner) SignRequest(req *http.Request) error {
	now := s.nowFunc()
	uri := fmt.Sprintf("%s %s%s", req.Method, req.URL.Host, req.URL.Path)

	claims := jwt.MapClaims{
		"sub": s.APIKey,
		"iss": "cdp",
		"nbf": now.Unix(),
		"exp": now.Add(120 * time.Second).Unix(),
		"uri": uri,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.APIKey
	token.Header["nonce"] = s.nonceFunc()

	signed, err := token.SignedString(s.PrivateKey)
	if err != nil {
		return fmt.Errorf("coinbase: sign JWT: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	return nil
}

func (s *JWTSigner) nowFunc() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *JWTSigner) nonceFunc() string {
	if s.nonce != nil {
		return s.nonce()
	}
	return randomHex(16)
}

// IsPEMKey reports whether a credential string looks like a PEM-encoded key,
// per the spec's "-----BEGIN" auto-detection rule.
func IsPEMKey(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "-----BEGIN")
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// readAndRestoreBody drains req.Body for signing and replaces it with a
// fresh reader so the actual transport send still has a body to consume.
func readAndRestoreBody(req *http.Request) ([]byte, error) {
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("coinbase: read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}
