package reputation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/ppiankov/tru8/internal/model"
)

const (
	minQualityMultiplier = 0.5
	maxQualityMultiplier = 1.2
)

var (
	newsSectionPattern    = regexp.MustCompile(`(?i)/(news|investigations?|world|politics|science|health|fact-?checks?|reality-?check|verify)(/|$)`)
	opinionSectionPattern = regexp.MustCompile(`(?i)/(opinions?|comment(isfree)?|blogs?|editorials?|entertainment|celebrity|lifestyle|sponsored|partner-content)(/|$)`)

	clickbaitPatterns = compileAll(
		`you won'?t believe`,
		`\bshocking\b`,
		`what happened next`,
		`doctors hate`,
		`this one (simple )?trick`,
		`(will|to) blow your mind`,
		`goes viral`,
		`jaw-?dropping`,
		`you need to know`,
		`number \d+ will`,
		`\bexposed\b`,
		`they don'?t want you to know`,
	)

	citationPatterns = compileAll(
		`according to`,
		`(study|paper|research) published`,
		`peer-?reviewed`,
		`\bdoi:`,
		`data (from|published by)`,
		`researchers (at|from)`,
		`\bet al\.`,
		`\[\d+\]`,
		`official (figures|statistics)`,
	)

	hedgingPatterns = compileAll(
		`\ballegedly\b`,
		`\breportedly\b`,
		`\brumou?red\b`,
		`\bunconfirmed\b`,
		`\bunverified\b`,
		`\bmay have\b`,
		`\bcould be\b`,
		`\bsome (say|claim|believe)\b`,
		`\bsources say\b`,
		`\bit is believed\b`,
	)

	// common acronyms that are not shouting
	capsAllowList = map[string]bool{
		"NASA": true, "NATO": true, "COVID": true, "UNICEF": true, "UNESCO": true,
		"OPEC": true, "FIFA": true, "AIDS": true, "NOAA": true, "USDA": true,
		"OECD": true, "IPCC": true,
	}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range patterns {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

// PageQuality scores title/URL/snippet heuristics into a multiplier in [0.5, 1.2].
// Every heuristic that fires is returned as a flag.
func PageQuality(rawURL, title, snippet string) (float64, []string) {
	multiplier := 1.0
	var flags []string

	if parsed, err := url.Parse(rawURL); err == nil {
		switch {
		case opinionSectionPattern.MatchString(parsed.Path):
			multiplier -= 0.15
			flags = append(flags, "section_opinion")
		case newsSectionPattern.MatchString(parsed.Path):
			multiplier += 0.05
			flags = append(flags, "section_news")
		}
	}

	text := title + " " + snippet

	if n := countMatches(clickbaitPatterns, text); n > 0 {
		multiplier -= min(0.1*float64(n), 0.3)
		flags = append(flags, fmt.Sprintf("clickbait:%d", n))
	}

	if n := countMatches(citationPatterns, text); n > 0 {
		multiplier += min(0.03*float64(n), 0.1)
		flags = append(flags, fmt.Sprintf("citations:%d", n))
	}

	// a little hedging is normal reporting
	if n := countMatches(hedgingPatterns, text); n > 2 {
		multiplier -= min(0.05*float64(n-2), 0.2)
		flags = append(flags, fmt.Sprintf("hedging:%d", n))
	}

	if n := allCapsTokens(title); n >= 2 {
		if n >= 4 {
			multiplier -= 0.2
		} else {
			multiplier -= 0.1
		}
		flags = append(flags, fmt.Sprintf("all_caps_title:%d", n))
	}

	return model.Clamp(multiplier, minQualityMultiplier, maxQualityMultiplier), flags
}

// allCapsTokens counts shouted words of four or more letters
func allCapsTokens(title string) int {
	n := 0
	for _, tok := range strings.FieldsFunc(title, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if len([]rune(tok)) < 4 || capsAllowList[tok] {
			continue
		}
		if strings.ToUpper(tok) == tok && strings.ToLower(tok) != tok {
			n++
		}
	}
	return n
}
