package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-logr/logr"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/conveyorci/conveyor/backend/dynamo"
	"github.com/conveyorci/conveyor/backend/ssm"
	"github.com/conveyorci/conveyor/ci/github"
	"github.com/conveyorci/conveyor/cmd/flag"
	"github.com/conveyorci/conveyor/engine"
)

func Execute(ctx context.Context, args []string) error {
	e := &flag.EngineConfig{
		GitHubAPIURL:    "https://api.github.com",
		TickInterval:    engine.DefaultTickInterval,
		EmptyRunTimeout: engine.DefaultEmptyRunTimeout,
		MaxConcurrent:   engine.DefaultMaxConcurrent,
		BindAddr:        "0.0.0.0",
		BindPort:        8080,
	}
	globals := &flag.GlobalConfig{
		LogLevel: "info",
	}

	gfs := ff.NewFlagSet("globals")
	efs := ff.NewFlagSet("engine").SetParent(gfs)
	flag.RegisterGlobal(&flag.Set{FlagSet: gfs}, globals)
	flag.RegisterEngineFlags(&flag.Set{FlagSet: efs}, e)

	cli := &ff.Command{
		Name:     "conveyor",
		Usage:    "conveyor [flags]",
		LongHelp: "Staged deployment orchestrator.",
		Flags:    efs,
	}
	if err := cli.Parse(args, ff.WithEnvVarPrefix("CONVEYOR")); err != nil {
		e := errors.New(ffhelp.Command(cli).String())
		if !errors.Is(err, ff.ErrHelp) {
			e = fmt.Errorf("%w\n%s", e, err)
		}

		return e
	}

	if err := validate(e); err != nil {
		return err
	}

	level := 0
	if globals.LogLevel == "debug" {
		level = 1
	}
	log := defaultLogger(level)
	log.Info("starting conveyor")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	pem, err := privateKeyPEM(ctx, awsCfg, e)
	if err != nil {
		return err
	}
	key, err := github.ParsePrivateKey(pem)
	if err != nil {
		return fmt.Errorf("failed to parse GitHub App private key: %w", err)
	}

	store := dynamo.New(dynamodb.NewFromConfig(awsCfg), e.WorkflowsTable)
	ci := github.New(strconv.FormatInt(e.GitHubAppID, 10), key,
		github.WithBaseURL(e.GitHubAPIURL),
		github.WithLogger(log),
	)

	cfg := engine.NewConfig(
		engine.WithStore(store),
		engine.WithCI(ci),
		engine.WithTickInterval(e.TickInterval),
		engine.WithEmptyRunTimeout(e.EmptyRunTimeout),
		engine.WithMaxConcurrent(e.MaxConcurrent),
		engine.WithBindAddrPort(e.BindAddr, e.BindPort),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cfg.Start(ctx, log)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func validate(e *flag.EngineConfig) error {
	if e.WorkflowsTable == "" {
		return errors.New("--workflows-table is required")
	}
	if e.GitHubAppID == 0 {
		return errors.New("--github-app-id is required")
	}
	havePath := e.GitHubPrivateKeyPath != ""
	haveSSM := e.GitHubPrivateKeySSMParam != ""
	if havePath == haveSSM {
		return errors.New("exactly one of --github-private-key-path or --github-private-key-ssm-parameter is required")
	}
	return nil
}

// privateKeyPEM loads the GitHub App key material from the local filesystem
// or from SSM Parameter Store.
func privateKeyPEM(ctx context.Context, awsCfg aws.Config, e *flag.EngineConfig) ([]byte, error) {
	if e.GitHubPrivateKeyPath != "" {
		pem, err := os.ReadFile(e.GitHubPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read GitHub App private key: %w", err)
		}
		return pem, nil
	}

	value, err := ssm.New(awsssm.NewFromConfig(awsCfg)).Parameter(ctx, e.GitHubPrivateKeySSMParam)
	if err != nil {
		return nil, fmt.Errorf("failed to read GitHub App private key from SSM: %w", err)
	}
	return []byte(value), nil
}

// defaultLogger uses the slog logr implementation.
func defaultLogger(level int) logr.Logger {
	// source file and function can be long. This makes the logs less readable.
	// for improved readability, truncate source file to last 3 parts and remove the function entirely.
	customAttr := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			ss, ok := a.Value.Any().(*slog.Source)
			if !ok || ss == nil {
				return a
			}
			ss.Function = ""
			p := strings.Split(ss.File, "/")
			if len(p) > 3 {
				ss.File = filepath.Join(p[len(p)-3:]...)
			}

			return a
		}

		// This changes the slog.Level string representation to an integer.
		// This makes it so that the V-levels passed in to the CLI show up as is in the logs.
		if a.Key == slog.LevelKey {
			v, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			switch v {
			case slog.LevelError:
				a.Value = slog.IntValue(0)
			default:
				b, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				a.Value = slog.Float64Value(math.Abs(float64(b)))
			}
			return a
		}

		return a
	}
	opts := &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.Level(-level),
		ReplaceAttr: customAttr,
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, opts))

	return logr.FromSlogHandler(log.Handler())
}
