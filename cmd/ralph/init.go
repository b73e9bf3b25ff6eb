package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/ternarybob/ralph"
	"github.com/ternarybob/ralph/internal/fileutil"
)

// SettingsPath is where agent hook settings live, relative to the root.
var SettingsPath = filepath.Join(".claude", "settings.json")

func newInitCmd(flags *globalFlags) *cobra.Command {
	var promptName, title, binary string
	var force, printOnly bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter prompt file and agent hook settings",
		Long: `Writes a prompt file with the sections every session needs and registers
the ralph hooks in .claude/settings.json. Existing files are left alone
unless --force is given; the hook settings are printed instead so they can
be merged by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig("")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			command, _ := json.Marshal(quoteBinary(binary))
			settings, err := render("settings", ralph.SettingsTemplate, map[string]string{
				"Binary": strings.Trim(string(command), `"`),
			})
			if err != nil {
				return err
			}
			if !json.Valid(settings) {
				return fmt.Errorf("rendered hook settings are not valid JSON")
			}
			if printOnly {
				_, err := out.Write(settings)
				return err
			}

			if title == "" {
				title = filepath.Base(cfg.Root)
			}
			doc, err := render("prompt", ralph.PromptTemplate, map[string]string{"Title": title})
			if err != nil {
				return err
			}

			promptPath := cfg.Resolve(promptName)
			if err := writeIfAbsent(promptPath, doc, force); err != nil {
				fmt.Fprintf(out, "Skipped %s: %v\n", promptName, err)
			} else {
				fmt.Fprintf(out, "Wrote %s\n", promptName)
			}

			if err := writeIfAbsent(cfg.Resolve(SettingsPath), settings, force); err != nil {
				fmt.Fprintf(out, "Skipped %s: %v\nAdd these hooks to it:\n%s", SettingsPath, err, settings)
			} else {
				fmt.Fprintf(out, "Wrote %s\n", SettingsPath)
			}

			fmt.Fprintf(out, "\nStart a session from the agent chat with:\n  /ralph @%s %d\n",
				filepath.ToSlash(promptName), cfg.Loop.MaxIterations)
			return nil
		},
	}

	cmd.Flags().StringVar(&promptName, "prompt", "PROMPT.md", "Prompt file to create, relative to the root")
	cmd.Flags().StringVar(&title, "title", "", "Prompt file title (default: repository name)")
	cmd.Flags().StringVar(&binary, "binary", "ralph", "Command the hooks invoke")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Only print the hook settings")
	return cmd
}

func render(name, text string, data any) ([]byte, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s template: %w", name, err)
	}

	content := buf.Bytes()
	if !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, '\n')
	}
	return content, nil
}

func writeIfAbsent(path string, content []byte, force bool) error {
	if !force && fileutil.Exists(path) {
		return os.ErrExist
	}
	return fileutil.WriteFileAtomic(path, content)
}

// quoteBinary makes a binary path safe to embed in a hook command line.
func quoteBinary(path string) string {
	if !strings.ContainsAny(path, " \t'\"") {
		return path
	}
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
