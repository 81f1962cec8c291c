package cdkstack

import (
	"context"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/cleanserverless"
	"github.com/theory-cloud/cleanserverless/pkg/config"
	"github.com/theory-cloud/cleanserverless/pkg/naming"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

// NewApp returns a CDK app. outdir overrides the cloud assembly directory
// when non-empty; otherwise the toolkit's CDK_OUTDIR (or cdk.out) applies.
func NewApp(outdir string) awscdk.App {
	props := &awscdk.AppProps{}
	if strings.TrimSpace(outdir) != "" {
		props.Outdir = jsii.String(outdir)
	}
	return awscdk.NewApp(props)
}

// NewStack declares the application stack. Account and region are pinned
// only when both are configured; otherwise the stack is environment-agnostic.
func NewStack(scope constructs.Construct, cfg config.Config) awscdk.Stack {
	props := &awscdk.StackProps{}
	if cfg.Account != "" && cfg.Region != "" {
		props.Env = &awscdk.Environment{
			Account: jsii.String(cfg.Account),
			Region:  jsii.String(cfg.Region),
		}
	}
	return awscdk.NewStack(scope, jsii.String(StackName(cfg)), props)
}

// StackName is cfg.StackName, or <app>-stack-<stage> when unset.
func StackName(cfg config.Config) string {
	if name := strings.TrimSpace(cfg.StackName); name != "" {
		return name
	}
	app := cfg.AppName
	if strings.TrimSpace(app) == "" {
		app = config.Default().AppName
	}
	return naming.ResourceName(app, "stack", cfg.StageName, "")
}

// Build declares the full topology for table in a new stack under app.
func Build(ctx context.Context, app awscdk.App, cfg config.Config, table routes.Table, opts ...cleanserverless.Option) (*Platform, *cleanserverless.Topology, error) {
	p := New(NewStack(app, cfg))
	o, err := cleanserverless.NewOrchestrator(cfg, p, opts...)
	if err != nil {
		return nil, nil, err
	}
	topology, err := o.Provision(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	return p, topology, nil
}
