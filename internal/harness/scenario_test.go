package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "Smallest valid scenario"
options:
  end: 3
assertions:
  - type: frontier
    id: 3
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.EqualValues(t, 3, s.Options.End)
	assert.Len(t, s.Assertions, 1)
}

func TestLoadScenario_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_Replies(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: replies
description: "Scripted replies"
options:
  end: 5
default:
  kind: missing
replies:
  4:
    - kind: throttled
      retry_after: 1s
    - kind: found
      patch: "2.3"
assertions:
  - type: stored
    ids: [4]
`))
	require.NoError(t, err)
	require.NotNil(t, s.Default)
	assert.Equal(t, ReplyMissing, s.Default.Kind)
	require.Len(t, s.Replies[4], 2)
	assert.Equal(t, "2.3", s.Replies[4][1].Patch)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\nassertion: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: y\noptions: {end: 1}\nassertions: [{type: frontier, id: 1}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\noptions: {end: 1}\nassertions: [{type: frontier, id: 1}]\n",
			want: "description is required",
		},
		{
			name: "unbounded",
			yaml: "name: x\ndescription: y\nassertions: [{type: frontier, id: 1}]\n",
			want: "options.end is required",
		},
		{
			name: "no assertions",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\n",
			want: "assertions list is required",
		},
		{
			name: "bad reply kind",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\nreplies: {1: [{kind: teapot}]}\nassertions: [{type: frontier, id: 1}]\n",
			want: `unknown reply kind "teapot"`,
		},
		{
			name: "patch on missing",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\nreplies: {1: [{kind: missing, patch: \"1.0\"}]}\nassertions: [{type: frontier, id: 1}]\n",
			want: "patch only applies to found replies",
		},
		{
			name: "bad retry_after",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\nreplies: {1: [{kind: throttled, retry_after: soon}]}\nassertions: [{type: frontier, id: 1}]\n",
			want: "retry_after",
		},
		{
			name: "bad ledger reason",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\nledger: {absent: {1: lost}}\nassertions: [{type: frontier, id: 1}]\n",
			want: `unknown reason "lost"`,
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "absent without reason",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\nassertions: [{type: absent, id: 1}]\n",
			want: "unknown reason",
		},
		{
			name: "zero rate limit",
			yaml: "name: x\ndescription: y\noptions: {end: 1, rate: {limit: 0, window: 1s}}\nassertions: [{type: frontier, id: 1}]\n",
			want: "options.rate.limit must be positive",
		},
		{
			name: "bad rate window",
			yaml: "name: x\ndescription: y\noptions: {end: 1, rate: {limit: 2, window: often}}\nassertions: [{type: frontier, id: 1}]\n",
			want: "options.rate.window",
		},
		{
			name: "stopped_by without value",
			yaml: "name: x\ndescription: y\noptions: {end: 1}\nassertions: [{type: stopped_by}]\n",
			want: "value is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
