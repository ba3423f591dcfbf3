package ads

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("ad link signature is invalid")
	ErrLinkExpired      = errors.New("ad link has expired")
)

const DefaultLinkTTL = 15 * time.Minute

// Link is the verified content of a click-through URL.
type Link struct {
	CreativeID int64
	Target     string
	Placement  string
	ExpiresAt  time.Time
}

// Signer issues and checks HMAC-SHA256 signed click-through parameters. The
// key is fixed for the life of the process.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewSigner(key []byte, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k, ttl: ttl, now: time.Now}
}

func (s *Signer) mac(creative, to, placement, expires string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(creative))
	h.Write([]byte{'\n'})
	h.Write([]byte(to))
	h.Write([]byte{'\n'})
	h.Write([]byte(placement))
	h.Write([]byte{'\n'})
	h.Write([]byte(expires))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the query parameters of a link to target that stays valid for
// the signer's TTL.
func (s *Signer) Sign(creativeID int64, target, placement string) url.Values {
	creative := strconv.FormatInt(creativeID, 10)
	to := base64.RawURLEncoding.EncodeToString([]byte(target))
	expires := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)

	return url.Values{
		"creative":  {creative},
		"to":        {to},
		"placement": {placement},
		"expires":   {expires},
		"signature": {s.mac(creative, to, placement, expires)},
	}
}

// Verify checks the signature first and the expiry second, so a forged
// expires value reports ErrSignatureInvalid.
func (s *Signer) Verify(q url.Values) (Link, error) {
	creative := q.Get("creative")
	to := q.Get("to")
	placement := q.Get("placement")
	expires := q.Get("expires")
	signature := q.Get("signature")

	if creative == "" || to == "" || expires == "" || signature == "" {
		return Link{}, ErrSignatureInvalid
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return Link{}, ErrSignatureInvalid
	}
	want, _ := hex.DecodeString(s.mac(creative, to, placement, expires))
	if !hmac.Equal(got, want) {
		return Link{}, ErrSignatureInvalid
	}

	creativeID, err := strconv.ParseInt(creative, 10, 64)
	if err != nil {
		return Link{}, ErrSignatureInvalid
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return Link{}, ErrSignatureInvalid
	}
	target, err := base64.RawURLEncoding.DecodeString(to)
	if err != nil {
		return Link{}, ErrSignatureInvalid
	}

	expiresAt := time.Unix(exp, 0)
	if s.now().After(expiresAt) {
		return Link{}, ErrLinkExpired
	}

	return Link{
		CreativeID: creativeID,
		Target:     string(target),
		Placement:  placement,
		ExpiresAt:  expiresAt,
	}, nil
}
