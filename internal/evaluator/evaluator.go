// Package evaluator scores a task attempt's output against the task's
// completion criteria. It sits on top of the execution backend's own verdict
// and never upgrades a failing verdict.
package evaluator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jordanhubbard/axis/pkg/models"
)

const (
	minLength         = 120
	shortThreshold    = 180
	longThreshold     = 320
	longSpecChars     = 220
	pointerOnlyMaxLen = 1200
	maxKeywords       = 24
	minKeywordLen     = 4
	failCoverage      = 0.22
	passCoverage      = 0.42
	minHeaders        = 2
	minBullets        = 4
)

// Verdict is the outcome of evaluating one attempt
type Verdict struct {
	Result   models.EvaluationResult `json:"result"`
	Reason   string                  `json:"reason"`
	Coverage float64                 `json:"coverage"`
}

var (
	headerPattern = regexp.MustCompile(`^\s{0,3}(#{1,6}\s+\S|\*\*[^*]+\*\*:?\s*$)`)
	bulletPattern = regexp.MustCompile(`^\s*([-*+•]|\d+[.)])\s+\S`)

	pointerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(see|refer to|check|open|view)\s+(the\s+)?(attached|linked|uploaded|shared)\s+(file|document|doc|sheet|spreadsheet|attachment)\b`),
		regexp.MustCompile(`(?i)\b(saved|written|stored|uploaded|exported|committed|pushed)\s+(it\s+|this\s+|the\s+\w+\s+)?(to|in|at|into)\s+\S*[/\\]\S*`),
		regexp.MustCompile(`(?i)\b(i|we)\s+(have\s+)?(created|wrote|written|prepared|drafted)\s+(a|the)\s+(file|document|doc)\b`),
		regexp.MustCompile(`(?i)(^|\s)(\.{0,2}/)?[\w.-]+/[\w./-]*\.(md|txt|pdf|docx?|csv|json|ya?ml|html|xlsx?|pptx?)\b`),
	}
)

// Evaluate scores rawOutput for task. runtimeVerdict is the execution
// backend's own opinion; an empty verdict means the backend offered none.
func Evaluate(task *models.Task, rawOutput string, runtimeVerdict models.EvaluationResult, runtimeReason string) Verdict {
	output := strings.TrimSpace(rawOutput)
	if output == "" {
		return Verdict{Result: models.EvaluationFail, Reason: "empty output"}
	}

	if runtimeVerdict == models.EvaluationFail {
		reason := runtimeReason
		if reason == "" {
			reason = "execution backend reported failure"
		}
		return Verdict{Result: models.EvaluationFail, Reason: reason}
	}

	length := utf8.RuneCountInString(output)
	if length < pointerOnlyMaxLen && isPointerOnly(output) {
		return Verdict{Result: models.EvaluationFail, Reason: "output points to external work instead of including it inline"}
	}

	spec := task.Description + " " + task.CompletionCriteria
	threshold := shortThreshold
	if utf8.RuneCountInString(task.Description)+utf8.RuneCountInString(task.CompletionCriteria) > longSpecChars {
		threshold = longThreshold
	}

	keywords := Keywords(spec)
	coverage := Coverage(keywords, output)

	if length < minLength {
		return Verdict{Result: models.EvaluationFail, Coverage: coverage,
			Reason: fmt.Sprintf("output too short (%d chars, minimum %d)", length, minLength)}
	}
	if coverage < failCoverage {
		return Verdict{Result: models.EvaluationFail, Coverage: coverage,
			Reason: fmt.Sprintf("output covers %.0f%% of task keywords", coverage*100)}
	}

	if runtimeVerdict == models.EvaluationUnclear {
		reason := runtimeReason
		if reason == "" {
			reason = "execution backend was unsure the task is complete"
		}
		return Verdict{Result: models.EvaluationUnclear, Coverage: coverage, Reason: reason}
	}

	switch {
	case length < threshold:
		return Verdict{Result: models.EvaluationUnclear, Coverage: coverage,
			Reason: fmt.Sprintf("output shorter than expected (%d chars, expected %d)", length, threshold)}
	case !hasStructure(output):
		return Verdict{Result: models.EvaluationUnclear, Coverage: coverage,
			Reason: "output lacks section headers or bullet points"}
	case coverage < passCoverage:
		return Verdict{Result: models.EvaluationUnclear, Coverage: coverage,
			Reason: fmt.Sprintf("output only partially addresses the task (%.0f%% keyword coverage)", coverage*100)}
	}

	reason := "output meets length, structure and coverage checks"
	if runtimeReason != "" {
		reason = runtimeReason
	}
	return Verdict{Result: models.EvaluationPass, Coverage: coverage, Reason: reason}
}

// Keywords extracts up to 24 distinct lowercase keywords from text,
// in order of first appearance.
func Keywords(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var keywords []string
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < minKeywordLen || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// Coverage returns the fraction of keywords present in output. No keywords means full coverage.
func Coverage(keywords []string, output string) float64 {
	if len(keywords) == 0 {
		return 1.0
	}
	lower := strings.ToLower(output)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

func hasStructure(output string) bool {
	headers, bullets := 0, 0
	for _, line := range strings.Split(output, "\n") {
		switch {
		case headerPattern.MatchString(line):
			headers++
		case bulletPattern.MatchString(line):
			bullets++
		}
		if headers >= minHeaders || bullets >= minBullets {
			return true
		}
	}
	return false
}

// isPointerOnly reports whether output names an external artifact in place
// of the deliverable. Citing a path is fine when the output still carries
// structured or substantial content once the pointers are removed.
func isPointerOnly(output string) bool {
	rest, found := output, false
	for _, p := range pointerPatterns {
		if p.MatchString(rest) {
			found = true
			rest = p.ReplaceAllString(rest, " ")
		}
	}
	if !found {
		return false
	}
	rest = strings.TrimSpace(rest)
	return !hasStructure(rest) && utf8.RuneCountInString(rest) < minLength
}

var stopwords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "against": true, "also": true,
	"been": true, "before": true, "being": true, "below": true, "between": true, "both": true,
	"could": true, "does": true, "doing": true, "down": true, "during": true, "each": true,
	"every": true, "from": true, "further": true, "have": true, "having": true, "here": true,
	"into": true, "itself": true, "just": true, "make": true, "more": true, "most": true,
	"must": true, "need": true, "needs": true, "only": true, "other": true, "over": true,
	"same": true, "should": true, "some": true, "such": true, "than": true, "that": true,
	"their": true, "them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "through": true, "under": true, "until": true, "very": true,
	"were": true, "what": true, "when": true, "where": true, "which": true, "while": true,
	"will": true, "with": true, "within": true, "would": true, "your": true, "yours": true,
	"task": true, "tasks": true, "please": true, "include": true, "includes": true,
	"including": true, "ensure": true, "provide": true, "using": true, "based": true,
	"complete": true, "completed": true, "done": true, "work": true,
}
