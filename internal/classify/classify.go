// Package classify holds the fuzzy text heuristics used to route work:
// which execution lane a piece of work belongs to, whether it can run
// in-process, and whether its claimed completion needs independent checking.
package classify

import (
	"strings"
)

// Lane is a coarse category of work used to pick an execution role
type Lane string

const (
	LaneDevelopment Lane = "development"
	LaneMarketing   Lane = "marketing"
	LaneResearch    Lane = "research"
)

// Route says where a task should be executed
type Route string

const (
	// RouteInternal runs the task through the execution backend in-process
	RouteInternal Route = "internal"
	// RouteExternal hands the task to the company's automation webhooks
	RouteExternal Route = "external"
	// RouteHuman delegates the task to a person
	RouteHuman Route = "human"
)

// Classifier decides lane, route and verification needs for a piece of work.
type Classifier interface {
	Lane(text string) Lane
	Route(text string) Route
	RequiresVerification(title, description string) bool
}

// KeywordClassifier implements Classifier by keyword scoring.
type KeywordClassifier struct {
	LaneKeywords         map[Lane][]string
	HumanKeywords        []string
	VerificationKeywords []string
}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier returns a classifier with the default keyword tables
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		LaneKeywords: map[Lane][]string{
			LaneDevelopment: {
				"build", "code", "coding", "develop", "implement", "deploy", "api", "integration",
				"bug", "feature", "database", "migration", "frontend", "backend", "app", "website",
				"prototype", "repository", "infrastructure", "crm",
			},
			LaneMarketing: {
				"marketing", "campaign", "social", "newsletter", "email", "seo", "content", "blog",
				"brand", "launch", "ads", "advertising", "audience", "post", "promotion", "outreach",
			},
			LaneResearch: {
				"research", "analyze", "analysis", "survey", "competitor", "market size", "interview",
				"study", "investigate", "benchmark", "report", "findings", "evaluate",
			},
		},
		HumanKeywords: []string{
			"meeting", "phone call", "call with", "sign the", "signature", "in person", "in-person",
			"negotiate", "hire", "interview candidates", "visit", "notarize", "wire transfer",
		},
		VerificationKeywords: []string{
			"implement", "deploy", "migration", "migrate", "crm", "integrate", "integration",
			"install", "configure", "launch", "publish", "release", "set up", "setup", "build",
		},
	}
}

// Lane returns the best-scoring lane for text. Research wins when nothing matches.
func (c *KeywordClassifier) Lane(text string) Lane {
	scores := c.laneScores(text)
	best, bestScore := LaneResearch, 0
	// fixed order keeps ties deterministic
	for _, lane := range []Lane{LaneDevelopment, LaneMarketing, LaneResearch} {
		if scores[lane] > bestScore {
			best, bestScore = lane, scores[lane]
		}
	}
	return best
}

// Route returns where work described by text should run.
func (c *KeywordClassifier) Route(text string) Route {
	lower := strings.ToLower(text)
	if countMatches(lower, c.HumanKeywords) > 0 {
		return RouteHuman
	}
	switch c.Lane(text) {
	case LaneDevelopment, LaneMarketing:
		return RouteExternal
	}
	return RouteInternal
}

// RequiresVerification reports whether the work claims an action in the
// world (deploying, migrating, publishing) that text output alone cannot prove.
func (c *KeywordClassifier) RequiresVerification(title, description string) bool {
	return countMatches(strings.ToLower(title+" "+description), c.VerificationKeywords) > 0
}

func (c *KeywordClassifier) laneScores(text string) map[Lane]int {
	lower := strings.ToLower(text)
	scores := make(map[Lane]int, len(c.LaneKeywords))
	for lane, kws := range c.LaneKeywords {
		scores[lane] = countMatches(lower, kws)
	}
	return scores
}

// countMatches counts keywords present in lower as whole words or phrases.
func countMatches(lower string, keywords []string) int {
	padded := " " + normalize(lower) + " "
	n := 0
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") || strings.Contains(padded, " "+kw+"s ") {
			n++
		}
	}
	return n
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
