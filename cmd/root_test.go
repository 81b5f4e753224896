package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conveyorci/conveyor/cmd/flag"
)

func TestValidate(t *testing.T) {
	valid := flag.EngineConfig{
		WorkflowsTable:       "workflows",
		GitHubAppID:          1234,
		GitHubPrivateKeyPath: "/etc/conveyor/app.pem",
	}

	tests := map[string]struct {
		mutate  func(e *flag.EngineConfig)
		wantErr bool
	}{
		"valid with key file": {
			mutate: func(*flag.EngineConfig) {},
		},
		"valid with ssm parameter": {
			mutate: func(e *flag.EngineConfig) {
				e.GitHubPrivateKeyPath = ""
				e.GitHubPrivateKeySSMParam = "/conveyor/github-app-key"
			},
		},
		"missing table": {
			mutate:  func(e *flag.EngineConfig) { e.WorkflowsTable = "" },
			wantErr: true,
		},
		"missing app id": {
			mutate:  func(e *flag.EngineConfig) { e.GitHubAppID = 0 },
			wantErr: true,
		},
		"no key source": {
			mutate:  func(e *flag.EngineConfig) { e.GitHubPrivateKeyPath = "" },
			wantErr: true,
		},
		"both key sources": {
			mutate: func(e *flag.EngineConfig) {
				e.GitHubPrivateKeySSMParam = "/conveyor/github-app-key"
			},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)

			err := validate(&e)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
