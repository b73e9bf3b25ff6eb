package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPrompt = `# Build the parser

## Goal
Parse the config format.

## Acceptance Criteria
- round-trips every fixture

## Verification
go test ./...

## Progress
`

func TestLint_Valid(t *testing.T) {
	assert.Empty(t, Lint(validPrompt))

	// An accepted document stays accepted after the agent appends progress.
	edited := validPrompt + "- parsed headers\n- next: bodies\n"
	assert.Empty(t, Lint(edited))
	assert.Empty(t, Lint(edited))
}

func TestLint_MissingAndEmpty(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "empty document",
			doc:  "",
			want: []string{
				"Missing section heading: Goal",
				"Missing section heading: Acceptance Criteria",
				"Missing section heading: Verification",
				"Missing section heading: Progress",
			},
		},
		{
			name: "empty bodies",
			doc:  "## Goal\n\n## Acceptance Criteria\n   \n## Verification\n## Progress\n",
			want: []string{
				"Section must not be empty: Goal",
				"Section must not be empty: Acceptance Criteria",
				"Section must not be empty: Verification",
			},
		},
		{
			name: "missing reported before empty",
			doc:  "## Goal\n## Verification\nrun it\n",
			want: []string{
				"Missing section heading: Acceptance Criteria",
				"Missing section heading: Progress",
				"Section must not be empty: Goal",
			},
		},
		{
			name: "body stops at deeper heading",
			doc:  "# Goal\n### Details\ntext\n## Acceptance Criteria\nx\n## Verification\ny\n## Progress\n",
			want: []string{"Section must not be empty: Goal"},
		},
		{
			name: "not a heading without space",
			doc:  "##Goal\nx\n## Acceptance Criteria\nx\n## Verification\ny\n## Progress\n",
			want: []string{"Missing section heading: Goal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lint(tt.doc))
		})
	}
}

func TestLint_HeadingForms(t *testing.T) {
	doc := strings.Join([]string{
		"###### goal",
		"lower case, level six",
		"# ACCEPTANCE CRITERIA ##",
		"closing hashes",
		"  ## Verification   ",
		"indented with trailing space",
		"## Progress",
		"",
	}, "\r\n")

	assert.Empty(t, Lint(doc))
}

func TestSections_FirstOccurrenceWins(t *testing.T) {
	doc := "## Goal\n\n## Goal\nsecond\n"

	sections := Sections(doc)
	assert.Equal(t, "", sections["goal"])
	assert.Contains(t, Lint(doc), "Section must not be empty: Goal")
}

func TestSections_HeadingAtEndOfFile(t *testing.T) {
	sections := Sections("## Goal\nx\n## Progress")

	body, ok := sections["progress"]
	require.True(t, ok)
	assert.Equal(t, "", body)
	assert.Equal(t, "x", sections["goal"])
}

func TestRenderIteration(t *testing.T) {
	out := RenderIteration(Iteration{
		Number:     2,
		Max:        5,
		PromptPath: "docs/PROMPT.md",
		Contents:   "## Goal\nship it",
		DoneToken:  "RALPH_DONE",
	})

	lines := strings.Split(out, "\n")
	assert.Equal(t, `<ralph_iteration number="2" max="5">`, lines[0])
	assert.Equal(t, "<ralph_rules>", lines[1])
	assert.Equal(t, "</ralph_iteration>", lines[len(lines)-1])

	assert.Contains(t, out, "- Task spec: follow the content in <task_prompt_file>.\n")
	assert.Contains(t, out, "end your final message with a line containing only: RALPH_DONE\n</ralph_rules>")
	assert.Contains(t, out, "<task_prompt_file path=\"docs/PROMPT.md\">\n## Goal\nship it\n</task_prompt_file>\n")
	assert.Equal(t, len(Rules)+1, strings.Count(out, "\n- "))
}
