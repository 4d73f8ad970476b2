// Package mention parses @-directives out of discussion messages and resolves
// them against a participant roster. Directives drive the chain-of-turns flow:
// named targets nominate the next speakers, @ALL queues everyone, @END requests
// termination, and @MODERATOR asks for human input.
//
// The parser is pure and stateless; honoring @END only from the facilitator is
// the orchestrator's job, not the parser's.
package mention

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nogataka/cc-discussion/internal/room"
)

// Directive is the parsed form of a message's @-mentions.
type Directive struct {
	// Targets holds raw mentioned names in order of appearance, bracketed
	// forms first (matching the scan order, which processes @[Name] before
	// bare tokens).
	Targets     []string
	IsAll       bool
	IsEnd       bool
	IsModerator bool
	// CleanedText is the message content with all directive tokens removed.
	CleanedText string
}

// HasMention returns true if the directive carries any control token.
func (d Directive) HasMention() bool {
	return len(d.Targets) > 0 || d.IsAll || d.IsEnd || d.IsModerator
}

var (
	// @[Full Name] — brackets allow names containing arbitrary spacing.
	bracketRe = regexp.MustCompile(`@\[([^\]]+)\]`)

	allRe = regexp.MustCompile(`(?i)@ALL\b`)
	endRe = regexp.MustCompile(`(?i)@END\b`)
	// \b is ASCII-only in RE2, so the Japanese form cannot take a word
	// boundary; its katakana run is unambiguous without one.
	moderatorRe = regexp.MustCompile(`(?i)@moderator\b|@モデレーター`)

	// Bare token: word characters plus Hiragana/Katakana/CJK, with an
	// optional single space + single trailing alphanumeric so short
	// multi-word names like "エージェント B" resolve.
	nameRe = regexp.MustCompile(`(?i)@([\w\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FFF}][\w\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FFF}\-]*(?: [A-Za-z0-9])?)`)
)

// Parse extracts all directives from content.
func Parse(content string) Directive {
	d := Directive{
		IsAll:       allRe.MatchString(content),
		IsEnd:       endRe.MatchString(content),
		IsModerator: moderatorRe.MatchString(content),
	}

	for _, m := range bracketRe.FindAllStringSubmatch(content, -1) {
		d.Targets = append(d.Targets, m[1])
	}

	// Strip brackets and reserved tokens before the bare-token scan so
	// @ALL/@END/@MODERATOR are never double-counted as names. RE2 has no
	// lookahead; removal is the equivalent exclusion.
	scan := bracketRe.ReplaceAllString(content, "")
	scan = stripReserved(scan)
	for _, m := range nameRe.FindAllStringSubmatch(scan, -1) {
		d.Targets = append(d.Targets, m[1])
	}

	cleaned := bracketRe.ReplaceAllString(content, "")
	cleaned = stripReserved(cleaned)
	cleaned = nameRe.ReplaceAllString(cleaned, "")
	d.CleanedText = strings.TrimSpace(cleaned)

	return d
}

func stripReserved(s string) string {
	s = allRe.ReplaceAllString(s, "")
	s = endRe.ReplaceAllString(s, "")
	return moderatorRe.ReplaceAllString(s, "")
}

type candidate struct {
	variant string // lowercased name variant
	id      string
}

// Resolve maps a directive's targets to participant IDs, in target order.
// Matching is exact (case-insensitive, with space/underscore/hyphen variants)
// first, then best partial match by substring-containment ratio:
// score = len(shorter)/len(longer) in runes, strictly-greater-wins so the
// first occurrence breaks ties. Facilitators are never resolved, each
// participant appears at most once, and unmatched names are dropped.
func Resolve(d Directive, participants []room.Participant) []string {
	var candidates []candidate
	for _, p := range participants {
		if p.IsFacilitator {
			continue
		}
		lower := strings.ToLower(p.Name)
		candidates = append(candidates,
			candidate{lower, p.ID},
			candidate{strings.ReplaceAll(lower, " ", "_"), p.ID},
			candidate{strings.ReplaceAll(lower, " ", "-"), p.ID},
		)
	}

	var resolved []string
	seen := make(map[string]bool)

	for _, target := range d.Targets {
		normalized := strings.ToLower(target)

		if id, ok := exactMatch(normalized, candidates); ok {
			if !seen[id] {
				resolved = append(resolved, id)
				seen[id] = true
			}
			continue
		}

		if id, ok := bestPartialMatch(normalized, candidates, seen); ok {
			resolved = append(resolved, id)
			seen[id] = true
		}
	}

	return resolved
}

func exactMatch(normalized string, candidates []candidate) (string, bool) {
	for _, c := range candidates {
		if c.variant == normalized {
			return c.id, true
		}
	}
	return "", false
}

// bestPartialMatch preserves the original containment-ratio scoring, a known
// weak spot for ambiguous short names, kept for compatibility.
func bestPartialMatch(normalized string, candidates []candidate, seen map[string]bool) (string, bool) {
	var bestID string
	bestScore := 0.0
	for _, c := range candidates {
		if seen[c.id] {
			continue
		}
		var score float64
		switch {
		case strings.Contains(c.variant, normalized):
			score = ratio(normalized, c.variant)
		case strings.Contains(normalized, c.variant):
			score = ratio(c.variant, normalized)
		default:
			continue
		}
		if score > bestScore {
			bestScore = score
			bestID = c.id
		}
	}
	return bestID, bestID != ""
}

func ratio(shorter, longer string) float64 {
	return float64(utf8.RuneCountInString(shorter)) / float64(utf8.RuneCountInString(longer))
}
