package flag

import (
	"time"

	"github.com/peterbourgon/ff/v4/ffval"
)

// EngineConfig holds the flag-settable configuration for the conveyor engine.
type EngineConfig struct {
	WorkflowsTable string

	GitHubAppID              int64
	GitHubPrivateKeyPath     string
	GitHubPrivateKeySSMParam string
	GitHubAPIURL             string

	TickInterval    time.Duration
	EmptyRunTimeout time.Duration
	MaxConcurrent   int

	BindAddr string
	BindPort int
}

func RegisterEngineFlags(fs *Set, ec *EngineConfig) {
	fs.Register(WorkflowsTable, ffval.NewValueDefault(&ec.WorkflowsTable, ec.WorkflowsTable))
	fs.Register(GitHubAppID, ffval.NewValueDefault(&ec.GitHubAppID, ec.GitHubAppID))
	fs.Register(GitHubPrivateKeyPath, ffval.NewValueDefault(&ec.GitHubPrivateKeyPath, ec.GitHubPrivateKeyPath))
	fs.Register(GitHubPrivateKeySSMParam, ffval.NewValueDefault(&ec.GitHubPrivateKeySSMParam, ec.GitHubPrivateKeySSMParam))
	fs.Register(GitHubAPIURL, ffval.NewValueDefault(&ec.GitHubAPIURL, ec.GitHubAPIURL))
	fs.Register(TickInterval, ffval.NewValueDefault(&ec.TickInterval, ec.TickInterval))
	fs.Register(EmptyRunTimeout, ffval.NewValueDefault(&ec.EmptyRunTimeout, ec.EmptyRunTimeout))
	fs.Register(MaxConcurrent, ffval.NewValueDefault(&ec.MaxConcurrent, ec.MaxConcurrent))
	fs.Register(BindAddr, ffval.NewValueDefault(&ec.BindAddr, ec.BindAddr))
	fs.Register(BindPort, ffval.NewValueDefault(&ec.BindPort, ec.BindPort))
}

var WorkflowsTable = Config{
	Name:  "workflows-table",
	Usage: "DynamoDB table holding workflow state",
}

// GitHub App flags.
var GitHubAppID = Config{
	Name:  "github-app-id",
	Usage: "[github] GitHub App id used to mint installation tokens",
}

var GitHubPrivateKeyPath = Config{
	Name:  "github-private-key-path",
	Usage: "[github] path to the GitHub App PEM private key",
}

var GitHubPrivateKeySSMParam = Config{
	Name:  "github-private-key-ssm-parameter",
	Usage: "[github] SSM parameter name holding the GitHub App PEM private key",
}

var GitHubAPIURL = Config{
	Name:  "github-api-url",
	Usage: "[github] base URL of the GitHub API",
}

// Dispatcher flags.
var TickInterval = Config{
	Name:  "tick-interval",
	Usage: "how often to look for due workflows (duration)",
}

var EmptyRunTimeout = Config{
	Name:  "empty-run-timeout",
	Usage: "how long to wait for CI runs to appear before treating an environment as successful (duration)",
}

var MaxConcurrent = Config{
	Name:  "max-concurrent",
	Usage: "maximum number of workflows processed concurrently per tick",
}

// HTTP flags.
var BindAddr = Config{
	Name:  "bind-addr",
	Usage: "IP address to bind the HTTP server to",
}

var BindPort = Config{
	Name:  "bind-port",
	Usage: "port for the HTTP server, 0 disables it",
}
