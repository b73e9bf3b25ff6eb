// Package prompt validates and renders the prompt file that drives an
// unattended session.
package prompt

import (
	"regexp"
	"strings"
)

// Section titles every prompt file must carry.
const (
	SectionGoal               = "Goal"
	SectionAcceptanceCriteria = "Acceptance Criteria"
	SectionVerification       = "Verification"
	SectionProgress           = "Progress"
)

// RequiredSections must appear as headings, in this reporting order.
var RequiredSections = []string{
	SectionGoal,
	SectionAcceptanceCriteria,
	SectionVerification,
	SectionProgress,
}

// RequiredNonEmpty must have a body. Progress may start out empty.
var RequiredNonEmpty = []string{
	SectionGoal,
	SectionAcceptanceCriteria,
	SectionVerification,
}

// atxHeading matches a markdown ATX heading line, levels 1-6, with optional
// closing hashes.
var atxHeading = regexp.MustCompile(`^ {0,3}#{1,6}(?:[ \t]+(.*?))?(?:[ \t]+#+)?[ \t]*$`)

// Lint returns one message per problem with doc. Missing headings are
// reported first, then empty bodies. A nil result means doc is acceptable.
func Lint(doc string) []string {
	sections := Sections(doc)

	var errs []string
	for _, title := range RequiredSections {
		if _, ok := sections[strings.ToLower(title)]; !ok {
			errs = append(errs, "Missing section heading: "+title)
		}
	}
	for _, title := range RequiredNonEmpty {
		body, ok := sections[strings.ToLower(title)]
		if ok && body == "" {
			errs = append(errs, "Section must not be empty: "+title)
		}
	}
	return errs
}

// Sections maps each lower-cased heading title in doc to its trimmed body.
// A body runs until the next heading of any level or the end of doc. When a
// title repeats, the first occurrence wins.
func Sections(doc string) map[string]string {
	out := make(map[string]string)

	var (
		title   string
		open    bool
		body    []string
		claimed bool
	)

	closeSection := func() {
		if open && !claimed {
			out[title] = strings.TrimSpace(strings.Join(body, "\n"))
		}
		open = false
		body = body[:0]
	}

	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := atxHeading.FindStringSubmatch(line); m != nil {
			closeSection()
			title = strings.ToLower(strings.TrimSpace(m[1]))
			_, claimed = out[title]
			open = true
			continue
		}

		if open {
			body = append(body, line)
		}
	}
	closeSection()

	return out
}
