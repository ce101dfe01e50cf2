package policy

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IntentCapsule is a signed, optionally-expiring record of a task's
// original mandate. It is created on submission, consulted on every tool
// call, and cleared on completion.
type IntentCapsule struct {
	CapsuleID               string     `json:"capsule_id"`
	Mandate                 string     `json:"mandate"`
	MandateHash             string     `json:"mandate_hash"`
	MandateKeywords         []string   `json:"mandate_keywords"`
	AllowedActionCategories []string   `json:"allowed_action_categories,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	ExpiresAt               *time.Time `json:"expires_at,omitempty"`
	Signature               string     `json:"signature"`
}

// Expired reports whether the capsule's expiry has passed.
func (c *IntentCapsule) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// CapsuleSigner signs and verifies intent capsules with a per-process
// HMAC secret. The secret is generated at boot and never persisted, so
// capsules from a previous process are unverifiable by design.
type CapsuleSigner struct {
	secret []byte
}

// NewSigner generates a fresh signing secret.
func NewSigner() (*CapsuleSigner, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return &CapsuleSigner{secret: secret}, nil
}

// Create builds and signs a capsule for the given mandate. A zero ttl
// means the capsule never expires.
func (s *CapsuleSigner) Create(mandate string, allowedCategories []string, ttl time.Duration) *IntentCapsule {
	hash := sha256.Sum256([]byte(mandate))
	c := &IntentCapsule{
		CapsuleID:               uuid.NewString(),
		Mandate:                 mandate,
		MandateHash:             hex.EncodeToString(hash[:]),
		MandateKeywords:         ExtractKeywords(mandate),
		AllowedActionCategories: allowedCategories,
		CreatedAt:               time.Now().UTC(),
	}
	if ttl > 0 {
		exp := c.CreatedAt.Add(ttl)
		c.ExpiresAt = &exp
	}
	c.Signature = s.sign(c)
	return c
}

// Verify recomputes the signature over the canonical serialization.
// Mutation of any signed field invalidates verification.
func (s *CapsuleSigner) Verify(c *IntentCapsule) bool {
	if c == nil || c.Signature == "" {
		return false
	}
	want := s.sign(c)
	return hmac.Equal([]byte(want), []byte(c.Signature))
}

func (s *CapsuleSigner) sign(c *IntentCapsule) string {
	keywords := append([]string(nil), c.MandateKeywords...)
	sort.Strings(keywords)
	categories := append([]string(nil), c.AllowedActionCategories...)
	sort.Strings(categories)

	parts := []string{
		c.CapsuleID,
		c.Mandate,
		c.MandateHash,
		strings.Join(keywords, ","),
		strings.Join(categories, ","),
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.ExpiresAt != nil {
		parts = append(parts, c.ExpiresAt.UTC().Format(time.RFC3339Nano))
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(mac.Sum(nil))
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "his": {}, "has": {}, "have": {}, "this": {},
	"that": {}, "with": {}, "from": {}, "they": {}, "will": {}, "would": {},
	"there": {}, "their": {}, "what": {}, "about": {}, "which": {},
	"when": {}, "make": {}, "like": {}, "into": {}, "them": {}, "then": {},
	"some": {}, "could": {}, "please": {}, "should": {}, "also": {},
}

// ExtractKeywords lowercases, splits on non-alphanumerics, drops stop
// words and short tokens, and deduplicates preserving first occurrence.
func ExtractKeywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// JaccardOverlap computes |A∩B| / |A∪B| over two keyword sets. Empty
// union yields 0.
func JaccardOverlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}
	inter := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
