package prompt

import (
	"fmt"
	"strings"
)

// Rules are the standing instructions sent with every iteration.
var Rules = []string{
	"Task spec: follow the content in <task_prompt_file>.",
	"Read `## Progress` as you may have already started coding and done some work.",
	"Focus: pick the single most useful next step you can complete now.",
	"Make concrete progress in implementing the features/functionality described in that doc. Do this by coding in this repo/working directory.",
	"Once you are done, update the prompt file, especially `## Progress`, to be accurate with your progress so far.",
	"In `## Progress`, record: what you changed, current status, next step, and any verification results/errors.",
	"Keep the prompt file concise and current; it is durable memory (chat may be compacted).",
	"Use ## Acceptance Criteria to define done; use ## Verification to prove it.",
	"If a command is blocked/denied, do not retry it; choose a safer alternative and note it in ## Progress.",
	"If stuck, log the blocker and what you tried in ## Progress, then attempt the next best approach.",
}

// Iteration is the data rendered into one iteration instruction.
type Iteration struct {
	Number     int
	Max        int
	PromptPath string
	Contents   string
	DoneToken  string
}

// RenderIteration builds the instruction submitted to the agent at the start
// of each iteration. Contents is embedded verbatim.
func RenderIteration(it Iteration) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "<ralph_iteration number=\"%d\" max=\"%d\">\n", it.Number, it.Max)
	sb.WriteString("<ralph_rules>\n")
	for _, rule := range Rules {
		sb.WriteString("- ")
		sb.WriteString(rule)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "- Completion: only when fully complete and verified, end your final message with a line containing only: %s\n", it.DoneToken)
	sb.WriteString("</ralph_rules>\n")
	fmt.Fprintf(&sb, "<task_prompt_file path=%q>\n", it.PromptPath)
	sb.WriteString(it.Contents)
	sb.WriteString("\n</task_prompt_file>\n")
	sb.WriteString("</ralph_iteration>")

	return sb.String()
}
