package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/ralph/internal/config"
)

func TestOutputs(t *testing.T) {
	tests := []struct {
		in         []string
		file, cons bool
	}{
		{[]string{"file"}, true, false},
		{[]string{"console"}, false, true},
		{[]string{"stdout", "FILE"}, true, true},
		{[]string{"both"}, true, true},
		{nil, false, false},
		{[]string{"syslog"}, false, false},
	}

	for _, tt := range tests {
		file, cons := Outputs(tt.in)
		assert.Equal(t, tt.file, file, "%v", tt.in)
		assert.Equal(t, tt.cons, cons, "%v", tt.in)
	}
}

func TestSetupLogger_FileOutput(t *testing.T) {
	cfg, err := config.Load(t.TempDir(), "")
	require.NoError(t, err)

	log := SetupLogger(cfg, true)
	require.NotNil(t, log)
	assert.Equal(t, log, GetLogger())

	log.Info().Str("test", "value").Msg("hello")

	assert.DirExists(t, cfg.DataDir())
}

func TestGetLogger_Fallback(t *testing.T) {
	InitLogger(nil)
	assert.NotNil(t, GetLogger())
}
