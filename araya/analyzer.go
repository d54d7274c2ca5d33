package araya

import "strings"

// Classification buckets a message by its builder score.
type Classification string

const (
	ClassificationBuilder   Classification = "BUILDER"
	ClassificationNeutral   Classification = "NEUTRAL"
	ClassificationDestroyer Classification = "DESTROYER"
)

var builderPatterns = []string{
	"help", "build", "create", "contribute", "offer", "share", "support",
	"collaborate", "team", "together", "improve", "solution", "fix",
}

var destroyerPatterns = []string{
	"fake", "scam", "stupid", "dumb", "hate", "attack", "destroy",
	"waste", "useless", "never", "impossible", "can't", "won't",
}

var trustedSocialDomains = []string{
	"twitter.com", "x.com", "linkedin.com", "instagram.com",
	"facebook.com", "github.com", "youtube.com", "tiktok.com",
}

// MessageAnalysis is the result of scoring one message's text against
// the builder/destroyer pattern lists.
type MessageAnalysis struct {
	BuilderCount   int            `json:"builder_count"`
	DestroyerCount int            `json:"destroyer_count"`
	BuilderScore   float64        `json:"builder_score"`
	Classification Classification `json:"classification"`
}

// AnalyzeMessage scores text in [0,1]: 1 is pure builder language, 0 pure
// destroyer, 0.5 neutral (including text matching neither list).
func AnalyzeMessage(text string) MessageAnalysis {
	lower := strings.ToLower(text)

	var builderCount, destroyerCount int
	for _, p := range builderPatterns {
		if strings.Contains(lower, p) {
			builderCount++
		}
	}
	for _, p := range destroyerPatterns {
		if strings.Contains(lower, p) {
			destroyerCount++
		}
	}

	score := 0.5
	if total := builderCount + destroyerCount; total > 0 {
		score = float64(builderCount) / float64(total)
	}

	classification := ClassificationNeutral
	switch {
	case score > 0.6:
		classification = ClassificationBuilder
	case score < 0.4:
		classification = ClassificationDestroyer
	}

	return MessageAnalysis{
		BuilderCount:   builderCount,
		DestroyerCount: destroyerCount,
		BuilderScore:   score,
		Classification: classification,
	}
}

// SocialCheck is the outcome of a basic social profile URL screen. Even
// valid URLs always need a human pass: profile exists, has history,
// consistent identity.
type SocialCheck struct {
	URL              string `json:"url"`
	IsValid          bool   `json:"is_valid"`
	NeedsHumanReview bool   `json:"needs_human_review"`
}

// VerifySocialURL screens a URL against the trusted social domain list.
func VerifySocialURL(url string) SocialCheck {
	lower := strings.ToLower(url)
	var valid bool
	for _, domain := range trustedSocialDomains {
		if strings.Contains(lower, domain) {
			valid = true
			break
		}
	}
	return SocialCheck{
		URL:              url,
		IsValid:          valid,
		NeedsHumanReview: true,
	}
}
