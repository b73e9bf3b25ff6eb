package guard

import "errors"

// Rule identifies the policy that rejected an action.
type Rule string

const (
	RuleAmbiguousCd   Rule = "ambiguous_cd"
	RuleNonLiteral    Rule = "non_literal"
	RuleHomePath      Rule = "home_path"
	RuleOutsideRepo   Rule = "outside_repo"
	RuleSudo          Rule = "sudo"
	RuleGitPush       Rule = "git_push"
	RuleGitCleanForce Rule = "git_clean_force"
	RulePromptFile    Rule = "prompt_file"
	RuleRepoWipe      Rule = "repo_wipe"
	RuleDiskWipe      Rule = "disk_wipe"
	RuleRepoRoot      Rule = "repo_root"
)

// PolicyViolation is returned when a command or file access is rejected.
// The host must not perform the action.
type PolicyViolation struct {
	Rule   Rule
	Reason string
}

func (e *PolicyViolation) Error() string {
	return "ralph safety: " + e.Reason
}

func deny(rule Rule, reason string) *PolicyViolation {
	return &PolicyViolation{Rule: rule, Reason: reason}
}

// IsViolation reports whether err is, or wraps, a PolicyViolation.
func IsViolation(err error) bool {
	var pv *PolicyViolation
	return errors.As(err, &pv)
}
