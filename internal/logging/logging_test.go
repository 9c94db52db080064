package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Output: &buf, Component: `api`})

	logger.Debug().Msg(`should not appear`)
	logger.Info().Msg(`should appear`)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, `should appear`, line[`message`])
	require.Equal(t, `api`, line[`component`])
}

func TestJobContextAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Output: &buf})

	logger := JobContext(base, `job-1`, ``, `user-9`)
	logger.Info().Msg(`hello`)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, `job-1`, line[`job_id`])
	require.Equal(t, `user-9`, line[`user_id`])
	require.NotContains(t, line, `submission_id`)
}
