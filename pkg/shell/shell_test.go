package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "rm -rf build", []string{"rm", "-rf", "build"}},
		{"extra whitespace", "  ls \t -la  ", []string{"ls", "-la"}},
		{"double quotes", `rm "my file.txt"`, []string{"rm", "my file.txt"}},
		{"single quotes", `echo 'a b' c`, []string{"echo", "a b", "c"}},
		{"quote joins word", `a"b c"d`, []string{"ab cd"}},
		{"unterminated quote", `echo "unterminated rest`, []string{"echo", "unterminated rest"}},
		{"empty quotes dropped", `echo ""`, []string{"echo"}},
		{"no escape processing", `echo 'a\'`, []string{"echo", `a\`}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestSplitSegments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"semicolon", "cd a; rm b", []string{"cd a", "rm b"}},
		{"and", "make && make test", []string{"make", "make test"}},
		{"or", "test -f x || touch x", []string{"test -f x", "touch x"}},
		{"newline", "echo a\necho b\n", []string{"echo a", "echo b"}},
		{"quoted operators", `echo "a; b && c" ; ls`, []string{`echo "a; b && c"`, "ls"}},
		{"single pipe stays", "cat f | grep x", []string{"cat f | grep x"}},
		{"single amp stays", "sleep 1 & echo", []string{"sleep 1 & echo"}},
		{"empty segments dropped", ";; ls ;;", []string{"ls"}},
		{"quote spans line", "echo 'a;\nb'; ls", []string{"echo 'a;\nb'", "ls"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSegments(tt.in))
		})
	}
}

func TestSplitPipeline(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"pipe", "echo hi | rm -rf /", []string{"echo hi", "rm -rf /"}},
		{"pipe stderr", "make |& tee log", []string{"make", "tee log"}},
		{"background", "sleep 1 & rm -rf ..", []string{"sleep 1", "rm -rf .."}},
		{"stderr redirect kept", "make 2>&1", []string{"make 2>&1"}},
		{"amp redirect kept", "make &> out.log", []string{"make &> out.log"}},
		{"fd dup kept", "cat <&3", []string{"cat <&3"}},
		{"quoted pipe kept", `grep "a|b" f`, []string{`grep "a|b" f`}},
		{"trailing background", "server &", []string{"server"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitPipeline(tt.in))
		})
	}
}

func TestSplitElements(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Element
	}{
		{"single", "cd sub", []Element{{Text: "cd sub"}}},
		{"trailing background", "cd a/b &", []Element{{Text: "cd a/b", Background: true}}},
		{"background then foreground", "sleep 1 & cd sub", []Element{
			{Text: "sleep 1", Background: true},
			{Text: "cd sub"},
		}},
		{"pipe", "cd sub | cat", []Element{
			{Text: "cd sub", Piped: true},
			{Text: "cat", Piped: true},
		}},
		{"background then pipe", "cd a & ls | cat", []Element{
			{Text: "cd a", Background: true},
			{Text: "ls", Piped: true},
			{Text: "cat", Piped: true},
		}},
		{"piped background", "ls | cat &", []Element{
			{Text: "ls", Piped: true},
			{Text: "cat", Piped: true, Background: true},
		}},
		{"redirect is not background", "make 2>&1", []Element{{Text: "make 2>&1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitElements(tt.in))
		})
	}
}

func TestElement_Subshell(t *testing.T) {
	assert.False(t, Element{Text: "cd sub"}.Subshell())
	assert.True(t, Element{Text: "cd sub", Piped: true}.Subshell())
	assert.True(t, Element{Text: "cd sub", Background: true}.Subshell())
}

func TestVerb(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"rm", "rm"},
		{"/bin/rm", "rm"},
		{"/usr/bin/git", "git"},
		{"./rm", "rm"},
		{`\rm`, "rm"},
		{`\/usr/bin/sudo`, "sudo"},
		{"/", "/"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Verb(tt.in))
		})
	}
}

func TestStripEnvPrefixes(t *testing.T) {
	assert.Equal(t, []string{"rm", "-rf", "build"},
		StripEnvPrefixes([]string{"env", "FOO=1", "BAR=2", "rm", "-rf", "build"}))
	assert.Equal(t, []string{"go", "test"},
		StripEnvPrefixes([]string{"CGO_ENABLED=0", "go", "test"}))
	assert.Equal(t, []string{"1FOO=x", "ls"},
		StripEnvPrefixes([]string{"1FOO=x", "ls"}), "invalid identifier is not an assignment")
	assert.Equal(t, []string{"env"},
		StripEnvPrefixes([]string{"env", "env"}), "only one env is stripped")
	assert.Empty(t, StripEnvPrefixes([]string{"A=1"}))
	assert.Empty(t, StripEnvPrefixes(nil))
}

func TestStripWrappers(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nohup", []string{"nohup", "rm", "x"}, []string{"rm", "x"}},
		{"command -p", []string{"command", "-p", "sudo", "ls"}, []string{"sudo", "ls"}},
		{"env then wrapper then env", []string{"A=1", "time", "B=2", "rm", "x"}, []string{"rm", "x"}},
		{"glued subshell", []string{"(cd", "a"}, []string{"cd", "a"}},
		{"separate brace", []string{"{", "rm", "x"}, []string{"rm", "x"}},
		{"plain", []string{"ls"}, []string{"ls"}},
		{"absolute wrapper", []string{"/usr/bin/nohup", "/bin/rm", "x"}, []string{"rm", "x"}},
		{"escaped wrapper", []string{`\command`, `\sudo`, "ls"}, []string{"sudo", "ls"}},
		{"absolute env", []string{"/usr/bin/env", "A=1", "rm", "x"}, []string{"rm", "x"}},
		{"absolute verb", []string{"/bin/rm", "-rf", "x"}, []string{"rm", "-rf", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripWrappers(tt.in))
		})
	}
}

func TestParseCommand(t *testing.T) {
	cmd := ParseCommand("(cd sub")
	assert.Equal(t, []string{"cd", "sub"}, cmd.Args)
	assert.Equal(t, 1, cmd.Opens)
	assert.Equal(t, 0, cmd.Closes)

	cmd = ParseCommand("rm -rf x)")
	assert.Equal(t, []string{"rm", "-rf", "x"}, cmd.Args)
	assert.Equal(t, 1, cmd.Closes)

	cmd = ParseCommand("echo $(pwd)")
	assert.Equal(t, 0, cmd.Opens)
	assert.Equal(t, 0, cmd.Closes)

	cmd = ParseCommand(`echo "(" x`)
	assert.Equal(t, 0, cmd.Opens)
}

func TestTargetsFromArgs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, TargetsFromArgs([]string{"-rf", "a", "--verbose", "b"}))
	assert.Equal(t, []string{"-weird", "x"}, TargetsFromArgs([]string{"-f", "--", "-weird", "x"}))
	assert.Equal(t, []string{"--"}, TargetsFromArgs([]string{"--", "--"}))
	assert.Empty(t, TargetsFromArgs([]string{"-rf"}))
}

func TestNormalizeRelToken(t *testing.T) {
	assert.Equal(t, "a/b", NormalizeRelToken(`a\b`))
	assert.Equal(t, "PROMPT.md", NormalizeRelToken("./PROMPT.md"))
	assert.Equal(t, "", NormalizeRelToken("./"))
	assert.Equal(t, "./x", NormalizeRelToken("././x"))
}

func TestIsLiteralAndHome(t *testing.T) {
	assert.False(t, IsLiteral("$(echo foo)"))
	assert.False(t, IsLiteral("`cat f`"))
	assert.True(t, IsLiteral("build/out"))

	assert.True(t, IsHomeRef("~/x"))
	assert.True(t, IsHomeRef("$HOME/x"))
	assert.True(t, IsHomeRef("${HOME}"))
	assert.False(t, IsHomeRef("home/x"))
}
