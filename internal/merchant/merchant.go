// Package merchant classifies merchant names against curated keyword lists.
//
// Verification (healthcare, education) is a static, global property of the
// name. Trust is per user and comes from the baseline's common merchants.
// The two are separate predicates and never substitute for each other.
package merchant

import (
	"slices"
	"strings"

	"github.com/mbd888/guardianshield/internal/baseline"
)

// Categories reported by Classify.
const (
	CategoryHealthcare    = "healthcare"
	CategoryEducation     = "education"
	CategorySuspectedScam = "suspected_scam"
	CategoryGeneral       = "general"
)

// Default keyword lists, matched as case-insensitive substrings.
var (
	DefaultHealthcare = []string{"apollo hospital", "max hospital", "fortis", "manipal hospital", "hospital"}
	DefaultEducation  = []string{"university", "college", "school", "iit", "nit"}

	// Substrings typical of social-engineering payees.
	DefaultScamKeywords = []string{"kyc", "verification", "lottery", "reward", "refund", "support"}

	// Exact names of known scam payees.
	DefaultBlacklist = []string{"kyc update services", "lottery claims", "crypto quick"}
)

// Classifier holds immutable keyword lists. Safe for concurrent use.
type Classifier struct {
	healthcare []string
	education  []string
	scam       []string
	blacklist  map[string]bool
}

// NewClassifier builds a classifier from the healthcare and education
// keyword lists. Keywords are lowercased and copied.
func NewClassifier(healthcare, education []string) *Classifier {
	c := &Classifier{
		healthcare: normalize(healthcare),
		education:  normalize(education),
		scam:       normalize(DefaultScamKeywords),
		blacklist:  make(map[string]bool, len(DefaultBlacklist)),
	}
	for _, name := range DefaultBlacklist {
		c.blacklist[name] = true
	}
	return c
}

// DefaultClassifier uses the built-in keyword lists.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultHealthcare, DefaultEducation)
}

func normalize(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(name string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// IsHealthcare reports whether the merchant matches a healthcare keyword.
func (c *Classifier) IsHealthcare(merchant string) bool {
	return containsAny(strings.ToLower(merchant), c.healthcare)
}

// IsEducation reports whether the merchant matches an education keyword.
func (c *Classifier) IsEducation(merchant string) bool {
	return containsAny(strings.ToLower(merchant), c.education)
}

// IsVerified reports whether the merchant is a verified healthcare or
// education provider.
func (c *Classifier) IsVerified(merchant string) bool {
	return c.IsHealthcare(merchant) || c.IsEducation(merchant)
}

// HasScamKeyword reports whether the name contains a social-engineering
// keyword. Informational only; scoring does not use it.
func (c *Classifier) HasScamKeyword(merchant string) bool {
	return containsAny(strings.ToLower(merchant), c.scam)
}

// IsBlacklisted reports an exact, case-insensitive blacklist match.
func (c *Classifier) IsBlacklisted(merchant string) bool {
	return c.blacklist[strings.ToLower(strings.TrimSpace(merchant))]
}

// Category returns the first matching category, checking blacklist,
// healthcare and education in that order.
func (c *Classifier) Category(merchant string) string {
	switch {
	case c.IsBlacklisted(merchant):
		return CategorySuspectedScam
	case c.IsHealthcare(merchant):
		return CategoryHealthcare
	case c.IsEducation(merchant):
		return CategoryEducation
	default:
		return CategoryGeneral
	}
}

// IsTrusted reports whether the merchant is in the user's own history.
func IsTrusted(merchant string, profile *baseline.Profile) bool {
	if profile == nil {
		return false
	}
	return profile.HasMerchant(merchant)
}

// Insight is a static risk summary of a merchant name.
type Insight struct {
	MerchantName       string `json:"merchant_name"`
	Category           string `json:"category"`
	RiskScore          int    `json:"risk_score"`
	Verified           bool   `json:"verified"`
	Blacklisted        bool   `json:"blacklisted"`
	SuspiciousKeywords bool   `json:"suspicious_keywords"`
}

// Insight scores: blacklisted names are near certain scams, verified
// providers are low risk, everything else is neutral.
const (
	insightNeutral     = 50
	insightBlacklisted = 95
	insightVerified    = 10
)

// Insight summarizes what the classifier knows about merchant.
func (c *Classifier) Insight(merchant string) Insight {
	in := Insight{
		MerchantName:       merchant,
		Category:           c.Category(merchant),
		RiskScore:          insightNeutral,
		Verified:           c.IsVerified(merchant),
		Blacklisted:        c.IsBlacklisted(merchant),
		SuspiciousKeywords: c.HasScamKeyword(merchant),
	}
	switch {
	case in.Blacklisted:
		in.RiskScore = insightBlacklisted
	case in.Verified:
		in.RiskScore = insightVerified
	}
	return in
}
