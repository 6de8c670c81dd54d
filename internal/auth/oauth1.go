package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	oauthVersion         = "1.0"
	oauthSignatureMethod = "HMAC-SHA1"
)

// PercentEncode escapes s per RFC 3986: only A-Z a-z 0-9 - . _ ~ are left intact.
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// Sign computes the base64 HMAC-SHA1 OAuth 1.0a signature. params must already contain
// every oauth_* parameter and every body parameter that participates in signing.
func Sign(method, rawURL string, params map[string]string, consumerSecret, tokenSecret string) string {
	base := SignatureBase(method, rawURL, params)
	key := PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignatureBase builds METHOD&enc(url)&enc(sorted param string).
func SignatureBase(method, rawURL string, params map[string]string) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, pair{PercentEncode(k), PercentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}

	return strings.ToUpper(method) + "&" + PercentEncode(rawURL) + "&" + PercentEncode(strings.Join(parts, "&"))
}

// Signer produces OAuth 1.0a Authorization headers for one consumer/token pair.
type Signer struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string

	// Nonce and Now default to random hex and time.Now; tests pin them.
	Nonce func() string
	Now   func() time.Time
}

// NewNonce returns 32 random hex characters.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// OAuthParams returns the protocol parameters for one request. extra adds
// oauth_callback or oauth_verifier during the token handshake.
func (s *Signer) OAuthParams(extra map[string]string) map[string]string {
	nonce := NewNonce
	if s.Nonce != nil {
		nonce = s.Nonce
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	params := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            nonce(),
		"oauth_signature_method": oauthSignatureMethod,
		"oauth_timestamp":        strconv.FormatInt(now().Unix(), 10),
		"oauth_version":          oauthVersion,
	}
	if s.Token != "" {
		params["oauth_token"] = s.Token
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

// AuthorizationHeader signs a request and returns the "OAuth ..." header value.
// body holds form parameters sent with the request; they are signed but not put in the header.
func (s *Signer) AuthorizationHeader(method, rawURL string, body url.Values, extra map[string]string) string {
	oauthParams := s.OAuthParams(extra)

	all := make(map[string]string, len(oauthParams)+len(body))
	for k, v := range oauthParams {
		all[k] = v
	}
	for k, vs := range body {
		if len(vs) > 0 {
			all[k] = vs[0]
		}
	}

	oauthParams["oauth_signature"] = Sign(method, rawURL, all, s.ConsumerSecret, s.TokenSecret)

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = PercentEncode(k) + `="` + PercentEncode(oauthParams[k]) + `"`
	}
	return "OAuth " + strings.Join(parts, ", ")
}
