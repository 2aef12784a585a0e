package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInvocation(t *testing.T) {
	tests := []struct {
		name    string
		command string
		cwd     string
		wantCmd string
		wantCwd string
	}{
		{
			name:    "plain command",
			command: "claude",
			cwd:     "/tmp/work",
			wantCmd: "cd '/tmp/work' && claude",
			wantCwd: "/tmp/work",
		},
		{
			name:    "command with args",
			command: "ollama run llama3",
			cwd:     "/home/me",
			wantCmd: "cd '/home/me' && ollama run llama3",
			wantCwd: "/home/me",
		},
		{
			name:    "workdir flag overrides cwd and is stripped",
			command: "claude --workdir /srv/project --verbose",
			cwd:     "/tmp",
			wantCmd: "cd '/srv/project' && claude --verbose",
			wantCwd: "/srv/project",
		},
		{
			name:    "workdir equals form",
			command: "claude --workdir=/srv/project",
			cwd:     "/tmp",
			wantCmd: "cd '/srv/project' && claude",
			wantCwd: "/srv/project",
		},
		{
			name:    "workdir alone falls back to claude",
			command: "--workdir /srv/project",
			cwd:     "/tmp",
			wantCmd: "cd '/srv/project' && claude",
			wantCwd: "/srv/project",
		},
		{
			name:    "glued workdir token is not a flag",
			command: "foo--workdir /x",
			cwd:     "/tmp",
			wantCmd: "cd '/tmp' && foo--workdir /x",
			wantCwd: "/tmp",
		},
		{
			name:    "cwd with single quote is escaped",
			command: "claude",
			cwd:     "/tmp/it's here",
			wantCmd: `cd '/tmp/it'\''s here' && claude`,
			wantCwd: "/tmp/it's here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			argv, cwd := BuildInvocation(tt.command, tt.cwd)
			assert.Equal(t, []string{"bash", "-c", tt.wantCmd}, argv)
			assert.Equal(t, tt.wantCwd, cwd)
		})
	}
}

func TestChildEnvForcesTerm(t *testing.T) {
	t.Setenv("TERM", "dumb")
	t.Setenv("COLORTERM", "")

	env := childEnv()
	assert.Contains(t, env, "TERM=xterm-color")
	assert.Contains(t, env, "COLORTERM=truecolor")
	assert.NotContains(t, env, "TERM=dumb")
}

func TestClampDim(t *testing.T) {
	assert.Equal(t, 1, clampDim(0))
	assert.Equal(t, 1, clampDim(-5))
	assert.Equal(t, 80, clampDim(80))
	assert.Equal(t, 1000, clampDim(1000))
	assert.Equal(t, 1000, clampDim(9999))
}
