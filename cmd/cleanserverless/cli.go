package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/oklog/ulid/v2"

	"github.com/theory-cloud/cleanserverless"
	"github.com/theory-cloud/cleanserverless/pkg/config"
	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/localdynamo"
	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/observability/zap"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// Dependencies are the seams run uses for output, run IDs and live storage.
type Dependencies struct {
	Out        io.Writer
	ErrOut     io.Writer
	NewRunID   func() string
	NewStorage func(ctx context.Context, endpoint, region string, logger observability.StructuredLogger) (platform.Storage, error)
}

// CLI is the command-line surface parsed by kong.
type CLI struct {
	EnvFile    string `name:"env-file" default:"../.env" help:"Path to a dotenv file; a missing file is ignored."`
	RoutesFile string `name:"routes" help:"Route table file (.yaml, .yml or .hcl). Defaults to the built-in micropost routes."`
	LogLevel   string `name:"log-level" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	LogFormat  string `name:"log-format" default:"console" enum:"console,json" help:"Log encoding."`
	TableName  string `name:"table-name" help:"Overrides DYNAMO_TABLE_NAME."`
	Stage      string `name:"stage" help:"Overrides STAGE_NAME."`

	Synth       SynthCmd       `cmd:"" help:"Synthesise the CDK cloud assembly."`
	Plan        PlanCmd        `cmd:"" help:"Print the topology that would be provisioned."`
	Routes      RoutesCmd      `cmd:"" help:"Print the route table."`
	CreateTable CreateTableCmd `cmd:"" name:"create-table" help:"Create the storage table on a DynamoDB-compatible endpoint."`
}

type (
	SynthCmd struct {
		Outdir string `name:"outdir" help:"Cloud assembly directory (defaults to CDK_OUTDIR or cdk.out)."`
	}

	PlanCmd struct {
		Format string `name:"format" default:"yaml" enum:"yaml,json" help:"Output format."`
	}

	RoutesCmd struct{}

	CreateTableCmd struct {
		Endpoint string `name:"endpoint" required:"" help:"DynamoDB endpoint URL, e.g. http://localhost:8000."`
		Region   string `name:"region" help:"AWS region (defaults to CDK_DEFAULT_REGION)."`
	}
)

// session is the state shared by every command once flags are parsed.
type session struct {
	ctx    context.Context
	cli    CLI
	cfg    config.Config
	table  routes.Table
	runID  string
	logger observability.StructuredLogger
	deps   Dependencies
}

func run(ctx context.Context, args []string, deps Dependencies) int {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.ErrOut == nil {
		deps.ErrOut = os.Stderr
	}
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return ulid.Make().String() }
	}
	if deps.NewStorage == nil {
		deps.NewStorage = defaultStorage
	}

	cli := CLI{}
	parser, err := kong.New(&cli,
		kong.Name("cleanserverless"),
		kong.Description("Provision the clean-serverless micropost API."),
		kong.Writers(deps.Out, deps.ErrOut),
	)
	if err != nil {
		fmt.Fprintf(deps.ErrOut, "cleanserverless: %v\n", err)
		return exitUsage
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(deps.ErrOut, "cleanserverless: %v\n", err)
		return exitUsage
	}

	s, err := newSession(ctx, cli, deps)
	if err != nil {
		fmt.Fprintf(deps.ErrOut, "cleanserverless: %v\n", err)
		return exitUsage
	}
	defer func() {
		_ = s.logger.Flush(context.Background())
		_ = s.logger.Close()
	}()

	switch kctx.Command() {
	case "synth":
		err = s.synth()
	case "plan":
		err = s.plan()
	case "routes":
		err = s.routes()
	case "create-table":
		err = s.createTable()
	default:
		err = cserrors.Configuration("unknown command %q", kctx.Command())
	}
	return s.exit(err)
}

func newSession(ctx context.Context, cli CLI, deps Dependencies) (*session, error) {
	lookup, err := config.LoadDotEnv(cli.EnvFile)
	if err != nil {
		return nil, err
	}
	cfg := config.FromEnv(lookup)
	if v := strings.TrimSpace(cli.TableName); v != "" {
		cfg.TableName = v
	}
	if v := strings.TrimSpace(cli.Stage); v != "" {
		cfg.StageName = v
	}

	table := routes.Default()
	if cli.RoutesFile != "" {
		table, err = routes.LoadFile(cli.RoutesFile)
		if err != nil {
			return nil, err
		}
	}

	factory := zap.NewZapLoggerFactory(zap.WithOutput(deps.ErrOut))
	logger, err := factory.CreateConsoleLogger(observability.LoggerConfig{
		Format: cli.LogFormat,
		Level:  cli.LogLevel,
	})
	if err != nil {
		return nil, err
	}

	runID := deps.NewRunID()
	return &session{
		ctx:    ctx,
		cli:    cli,
		cfg:    cfg,
		table:  table,
		runID:  runID,
		logger: logger.WithRunID(runID),
		deps:   deps,
	}, nil
}

func (s *session) exit(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(s.deps.ErrOut, "cleanserverless: %v\n", err)
	if cserrors.IsConfiguration(err) {
		return exitUsage
	}
	return exitFailed
}

func (s *session) orchestratorOptions() []cleanserverless.Option {
	return []cleanserverless.Option{cleanserverless.WithLogger(s.logger)}
}

func (s *session) orchestrator(p platform.Platform) (*cleanserverless.Orchestrator, error) {
	return cleanserverless.NewOrchestrator(s.cfg, p, s.orchestratorOptions()...)
}

func defaultStorage(ctx context.Context, endpoint, region string, logger observability.StructuredLogger) (platform.Storage, error) {
	return localdynamo.NewFromEndpoint(ctx, endpoint, region, localdynamo.WithLogger(logger))
}
