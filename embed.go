package ralph

import _ "embed"

// Embedded templates written by "ralph init"

//go:embed templates/PROMPT.md.tmpl
var PromptTemplate string

//go:embed templates/settings.json.tmpl
var SettingsTemplate string
