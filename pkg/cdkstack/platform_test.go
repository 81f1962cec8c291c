package cdkstack

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/jsii-runtime-go"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/cleanserverless"
	"github.com/theory-cloud/cleanserverless/pkg/config"
	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node is required for jsii-backed CDK tests")
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM public.ecr.aws/lambda/provided:al2023 AS api\n"), 0o600))

	cfg := config.Default()
	cfg.TableName = "clean-serverless-resources"
	cfg.PayloadDir = dir
	return cfg
}

func TestBuild_DefaultRoutes(t *testing.T) {
	requireNode(t)
	cfg := testConfig(t)

	p, topology, err := Build(context.Background(), NewApp(t.TempDir()), cfg, routes.Default())
	require.NoError(t, err)
	require.Len(t, topology.Units, 10)

	template := assertions.Template_FromStack(p.Stack(), nil)
	template.ResourceCountIs(jsii.String("AWS::DynamoDB::Table"), jsii.Number(1))
	template.ResourceCountIs(jsii.String("AWS::Lambda::Function"), jsii.Number(10))
	template.ResourceCountIs(jsii.String("AWS::ApiGateway::RestApi"), jsii.Number(1))
	template.ResourceCountIs(jsii.String("AWS::ApiGateway::Resource"), jsii.Number(5))
	template.ResourceCountIs(jsii.String("AWS::ApiGateway::Method"), jsii.Number(10))

	template.HasResourceProperties(jsii.String("AWS::DynamoDB::Table"), map[string]any{
		"TableName":   "clean-serverless-resources",
		"BillingMode": "PAY_PER_REQUEST",
		"KeySchema": []any{
			map[string]any{"AttributeName": "PK", "KeyType": "HASH"},
			map[string]any{"AttributeName": "SK", "KeyType": "RANGE"},
		},
	})
	template.HasResource(jsii.String("AWS::DynamoDB::Table"), map[string]any{
		"DeletionPolicy": "Delete",
	})

	template.HasResourceProperties(jsii.String("AWS::Lambda::Function"), map[string]any{
		"FunctionName":  "clean-serverless-getUser",
		"PackageType":   "Image",
		"MemorySize":    1280,
		"Timeout":       30,
		"Architectures": []any{"arm64"},
	})
	template.HasResourceProperties(jsii.String("AWS::ApiGateway::RestApi"), map[string]any{
		"Name": "CleanServerlessBookSampleAPI",
	})
	template.HasResourceProperties(jsii.String("AWS::ApiGateway::Stage"), map[string]any{
		"StageName": "dev",
	})
	template.HasResourceProperties(jsii.String("AWS::ApiGateway::Method"), map[string]any{
		"HttpMethod": "DELETE",
	})

	require.Equal(t, []string{
		"/",
		"/v1",
		"/v1/users",
		"/v1/users/{user_id}",
		"/v1/users/{user_id}/microposts",
		"/v1/users/{user_id}/microposts/{micropost_id}",
	}, p.Paths(cleanserverless.APILogicalID))
}

func TestPlatform_LoggingPolicy(t *testing.T) {
	requireNode(t)
	cfg := testConfig(t)

	table := routes.MustTable(routes.Definition{Name: "getUsers", Method: routes.MethodGet, Path: "/v1/users"})
	p, _, err := Build(context.Background(), NewApp(t.TempDir()), cfg, table)
	require.NoError(t, err)

	template := assertions.Template_FromStack(p.Stack(), nil)
	template.HasResourceProperties(jsii.String("AWS::IAM::Policy"), map[string]any{
		"PolicyDocument": map[string]any{
			"Statement": assertions.Match_ArrayWith(&[]any{
				map[string]any{
					"Action":   []any{"logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents"},
					"Effect":   "Allow",
					"Resource": "*",
				},
			}),
		},
	})
}

func TestPlatform_RejectsUnknownReferences(t *testing.T) {
	requireNode(t)
	ctx := context.Background()
	cfg := testConfig(t)
	p := New(NewStack(NewApp(t.TempDir()), cfg))

	require.Error(t, p.GrantReadWrite(ctx, platform.TableIdentity{LogicalID: "missing"}, platform.UnitIdentity{LogicalID: "x"}))
	require.Error(t, p.AttachPolicy(ctx, platform.UnitIdentity{LogicalID: "x"}, platform.Statement{Actions: []string{"logs:PutLogEvents"}}))
	_, err := p.ResolvePath(ctx, platform.APIIdentity{LogicalID: "nope"}, "/v1")
	require.Error(t, err)
	require.Error(t, p.BindMethod(ctx, platform.NodeIdentity{API: "nope", Path: "/"}, "GET", platform.UnitIdentity{}))

	_, err = p.CreateTable(ctx, platform.TableSpec{LogicalID: "T", PartitionKey: platform.KeyAttribute{Name: "PK"}})
	require.NoError(t, err)
	_, err = p.CreateTable(ctx, platform.TableSpec{LogicalID: "T", PartitionKey: platform.KeyAttribute{Name: "PK"}})
	require.Error(t, err)

	_, err = p.CreateUnit(ctx, platform.UnitSpec{LogicalID: "fn", Name: "fn"})
	require.Error(t, err, "payload directory is required")
}

func TestBuild_PropagatesConfigurationErrors(t *testing.T) {
	requireNode(t)
	cfg := testConfig(t)
	cfg.TableName = ""

	_, _, err := Build(context.Background(), NewApp(t.TempDir()), cfg, routes.Default())
	require.True(t, cserrors.IsConfiguration(err))
}

func TestGuard_RecoversPanics(t *testing.T) {
	err := guard("explode", func() { panic("construct id clash") })
	require.EqualError(t, err, "cdkstack: explode: construct id clash")
	require.NoError(t, guard("fine", func() {}))
}

func TestPropMappings(t *testing.T) {
	require.Equal(t, "PAY_PER_REQUEST", string(billingMode(platform.BillingModePayPerRequest)))
	require.Equal(t, "PROVISIONED", string(billingMode("PROVISIONED")))
	require.Equal(t, "DESTROY", string(removalPolicy(platform.RemovalPolicyDestroy)))
	require.Equal(t, "RETAIN", string(removalPolicy("")))
	require.Equal(t, "ALLOW", string(effect(platform.EffectAllow)))
	require.Equal(t, "DENY", string(effect(platform.EffectDeny)))
}

func TestStackName(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, "CdkStack", StackName(cfg))

	cfg.StackName = " "
	cfg.StageName = "production"
	require.Equal(t, "clean-serverless-stack-live", StackName(cfg))

	cfg.AppName = ""
	cfg.StageName = ""
	require.Equal(t, "clean-serverless-stack", StackName(cfg))
}
