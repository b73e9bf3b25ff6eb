// Package guard implements the pre-execution safety policy for unattended
// agent sessions.
//
// An Analyzer inspects the text of a shell command line, or a file path a
// tool is about to touch, and rejects anything that could destroy the
// repository, escape it, or remove the prompt file that drives the session.
// It never executes anything and never touches the filesystem.
//
// The analyzer is a denylist over four categories:
//
//   - cd: tracked across the line so relative paths resolve correctly, and
//     refused when it leaves the repository or cannot be resolved statically
//   - privilege and publication: sudo, git push, git clean -f
//   - moves: mv and git mv may not touch the prompt file or leave the repo
//   - deletes: rm, rmdir and git rm may not wipe the repo, the disk, the
//     home directory, the prompt file, or anything outside the repo
//
// Every other command is permitted.
package guard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ternarybob/ralph/internal/fileutil"
	"github.com/ternarybob/ralph/pkg/shell"
)

// Analyzer checks commands and file paths against the policy for one
// repository and prompt file.
type Analyzer struct {
	root      string
	promptAbs string
	promptRel string
}

// NewAnalyzer creates an analyzer for root. promptPath is the session's
// prompt file, relative to root or absolute; empty disables prompt file
// protection.
func NewAnalyzer(root, promptPath string) *Analyzer {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	root = filepath.Clean(root)

	a := &Analyzer{root: root}
	if promptPath != "" {
		a.promptAbs = fileutil.Resolve(root, promptPath)
		if rel, err := filepath.Rel(root, a.promptAbs); err == nil {
			a.promptRel = shell.NormalizeRelToken(filepath.ToSlash(rel))
		}
	}
	return a
}

// Root returns the repository root the analyzer protects.
func (a *Analyzer) Root() string {
	return a.root
}

// walk is the scratch state of one Check call.
type walk struct {
	cwd   string
	saved []string
}

// Check returns nil when command may run, or a *PolicyViolation describing
// the first rule it breaks. Analysis stops at the first violation.
func (a *Analyzer) Check(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	w := &walk{cwd: a.root}

	for _, seg := range shell.SplitSegments(command) {
		for _, el := range shell.SplitElements(seg) {
			cmd := shell.ParseCommand(el.Text)

			for i := 0; i < cmd.Opens; i++ {
				w.saved = append(w.saved, w.cwd)
			}

			if err := a.checkCommand(w, cmd.Args, el.Subshell()); err != nil {
				return err
			}

			for i := 0; i < cmd.Closes && len(w.saved) > 0; i++ {
				w.cwd = w.saved[len(w.saved)-1]
				w.saved = w.saved[:len(w.saved)-1]
			}
		}
	}

	return nil
}

func (a *Analyzer) checkCommand(w *walk, args []string, subshell bool) error {
	if len(args) == 0 {
		return nil
	}

	verb := shell.Verb(args[0])
	switch verb {
	case "cd":
		next, err := a.resolveDir(w.cwd, cdTarget(args[1:]), "cd")
		if err != nil {
			return err
		}
		// Piped and backgrounded elements run in subshells; their cd does not persist.
		if !subshell {
			w.cwd = next
		}
		return nil
	case "sudo", "doas":
		return deny(RuleSudo, verb+" is disabled")
	case "git":
		return a.checkGit(w.cwd, args)
	case "mv":
		return a.checkMove(w.cwd, args[1:])
	case "rm", "rmdir":
		return a.checkDelete(w.cwd, args[1:])
	}

	return nil
}

// cdTarget returns the directory operand of cd, or "-" when it would go to
// $OLDPWD, or "" when it would go home.
func cdTarget(args []string) string {
	for _, t := range args {
		if t == "-" {
			return "-"
		}
		if t == "--" {
			break
		}
	}
	targets := shell.TargetsFromArgs(args)
	if len(targets) == 0 {
		return ""
	}
	return targets[0]
}

// resolveDir validates a directory change and returns the new directory.
func (a *Analyzer) resolveDir(cwd, dest, what string) (string, error) {
	if dest == "" || dest == "-" {
		return "", deny(RuleAmbiguousCd, "refusing ambiguous "+what)
	}
	if !shell.IsLiteral(dest) {
		return "", deny(RuleNonLiteral, fmt.Sprintf("refusing non-literal %s target", what))
	}
	if shell.IsHomeRef(shell.NormalizeRelToken(dest)) {
		return "", deny(RuleHomePath, fmt.Sprintf("refusing %s to home paths", what))
	}

	next := fileutil.Resolve(cwd, dest)
	if !fileutil.IsInside(a.root, next) {
		return "", deny(RuleOutsideRepo, fmt.Sprintf("refusing to %s outside repo", what))
	}
	return next, nil
}

// gitValueOptions are global git options that consume the following word.
var gitValueOptions = map[string]bool{
	"-c":             true,
	"--namespace":    true,
	"--config-env":   true,
	"--super-prefix": true,
}

func (a *Analyzer) checkGit(cwd string, args []string) error {
	i := 1
	for i < len(args) {
		t := args[i]
		switch {
		case t == "-C":
			if i+1 >= len(args) {
				return deny(RuleAmbiguousCd, "refusing ambiguous git -C")
			}
			dir, err := a.resolveDir(cwd, args[i+1], "git -C")
			if err != nil {
				return err
			}
			cwd = dir
			i += 2
		case t == "--git-dir" || t == "--work-tree":
			if i+1 >= len(args) {
				return deny(RuleAmbiguousCd, "refusing ambiguous "+t)
			}
			if _, err := a.resolveDir(cwd, args[i+1], t); err != nil {
				return err
			}
			i += 2
		case strings.HasPrefix(t, "--git-dir=") || strings.HasPrefix(t, "--work-tree="):
			name, value, _ := strings.Cut(t, "=")
			if _, err := a.resolveDir(cwd, value, name); err != nil {
				return err
			}
			i++
		case gitValueOptions[t]:
			i += 2
		case strings.HasPrefix(t, "-"):
			i++
		default:
			return a.checkGitSubcommand(cwd, args, i)
		}
	}
	return nil
}

func (a *Analyzer) checkGitSubcommand(cwd string, args []string, i int) error {
	rest := args[i+1:]

	switch args[i] {
	case "push":
		return deny(RuleGitPush, "git push is disabled")
	case "clean":
		for _, t := range rest {
			if strings.Contains(t, "-f") {
				return deny(RuleGitCleanForce, "git clean with -f is disabled")
			}
		}
	case "mv":
		return a.checkMove(cwd, rest)
	case "rm":
		return a.checkDelete(cwd, rest)
	}
	return nil
}

// movePaths returns every path a mv argument list names, including the
// value of --target-directory.
func movePaths(args []string) []string {
	paths := shell.TargetsFromArgs(args)
	for _, t := range args {
		if t == "--" {
			break
		}
		switch {
		case strings.HasPrefix(t, "--target-directory="):
			paths = append(paths, strings.TrimPrefix(t, "--target-directory="))
		case strings.HasPrefix(t, "-t") && len(t) > 2:
			paths = append(paths, t[2:])
		}
	}
	return paths
}

func (a *Analyzer) checkMove(cwd string, args []string) error {
	for _, raw := range movePaths(args) {
		if !shell.IsLiteral(raw) {
			return deny(RuleNonLiteral, "refusing non-literal mv path")
		}
		if shell.IsHomeRef(shell.NormalizeRelToken(raw)) {
			return deny(RuleHomePath, "refusing home paths")
		}

		abs := fileutil.Resolve(cwd, raw)
		if a.promptAbs != "" && abs == a.promptAbs {
			return deny(RulePromptFile, "cannot move/rename the prompt file")
		}
		if !fileutil.IsInside(a.root, abs) {
			return deny(RuleOutsideRepo, "refusing to move files outside repo")
		}
	}
	return nil
}

func (a *Analyzer) checkDelete(cwd string, args []string) error {
	for _, raw := range shell.TargetsFromArgs(args) {
		if !shell.IsLiteral(raw) {
			return deny(RuleNonLiteral, "refusing non-literal rm target")
		}

		if raw == "/" || raw == "/*" {
			return deny(RuleDiskWipe, "refusing disk wipe")
		}

		norm := strings.TrimRight(shell.NormalizeRelToken(raw), "/")
		if norm == "" || norm == "." || norm == "*" {
			return deny(RuleRepoWipe, "refusing repo wipe")
		}
		if shell.IsHomeRef(norm) {
			return deny(RuleHomePath, "refusing home paths")
		}
		if a.promptRel != "" && norm == a.promptRel {
			return deny(RulePromptFile, "cannot delete the prompt file")
		}

		abs := fileutil.Resolve(cwd, raw)
		if a.promptAbs != "" && abs == a.promptAbs {
			return deny(RulePromptFile, "cannot delete the prompt file")
		}
		if abs == a.root {
			return deny(RuleRepoRoot, "refusing to delete repo root")
		}
		if abs == filepath.Join(a.root, "*") {
			return deny(RuleRepoWipe, "refusing repo wipe")
		}
		if !fileutil.IsInside(a.root, abs) {
			return deny(RuleOutsideRepo, "refusing to delete files outside repo")
		}
	}
	return nil
}

// CheckFileAccess returns a *PolicyViolation when path, resolved against the
// repository root, lies outside it. An empty path is allowed.
func (a *Analyzer) CheckFileAccess(path string) error {
	if path == "" {
		return nil
	}
	if !fileutil.IsInside(a.root, fileutil.Resolve(a.root, path)) {
		return deny(RuleOutsideRepo, "file access outside repo is disabled")
	}
	return nil
}
