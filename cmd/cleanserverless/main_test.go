package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/cleanserverless/pkg/localdynamo"
	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

type runResult struct {
	code   int
	out    string
	errOut string
}

func runCLI(t *testing.T, deps Dependencies, args ...string) runResult {
	t.Helper()
	var out, errOut bytes.Buffer
	deps.Out = &out
	deps.ErrOut = &errOut
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return "run-1" }
	}
	full := append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)
	code := run(context.Background(), full, deps)
	return runResult{code: code, out: out.String(), errOut: errOut.String()}
}

func TestRun_PlanYAML(t *testing.T) {
	t.Parallel()
	res := runCLI(t, Dependencies{}, "--table-name", "resources", "--stage", "prod", "plan")
	require.Equal(t, exitOK, res.code, res.errOut)

	var plan planView
	require.NoError(t, yaml.Unmarshal([]byte(res.out), &plan))
	require.Equal(t, "run-1", plan.RunID)
	require.Equal(t, "CdkStack", plan.Stack)
	require.Equal(t, "resources", plan.Storage.TableName)
	require.Equal(t, "ResourceTable", plan.Storage.LogicalID)
	require.Equal(t, "PAY_PER_REQUEST", plan.Storage.BillingMode)
	require.Equal(t, "prod", plan.API.Stage)
	require.Equal(t, "CleanServerlessBookSampleAPI", plan.API.Name)

	require.Len(t, plan.Units, 10)
	first := plan.Units[0]
	require.Equal(t, "deleteMicropost", first.Route)
	require.Equal(t, "clean-serverless-deleteMicropost", first.Name)
	require.Equal(t, "arm64", first.Architecture)
	require.Equal(t, 30, first.TimeoutSeconds)
	require.Equal(t, 1280, first.MemoryMB)
	require.Equal(t, "resources", first.Environment["DYNAMO_TABLE_NAME"])
	require.Equal(t, "PK", first.Environment["DYNAMO_PK_NAME"])
	require.Equal(t, "SK", first.Environment["DYNAMO_SK_NAME"])

	require.Len(t, plan.Grants, 20)
	require.Len(t, plan.Bindings, 10)
	require.Equal(t, []string{
		"/",
		"/v1",
		"/v1/users",
		"/v1/users/{user_id}",
		"/v1/users/{user_id}/microposts",
		"/v1/users/{user_id}/microposts/{micropost_id}",
	}, plan.Nodes)

	require.Contains(t, res.errOut, "provisioning finished")
	require.Contains(t, res.errOut, "run-1")
}

func TestRun_PlanJSON(t *testing.T) {
	t.Parallel()
	res := runCLI(t, Dependencies{}, "--table-name", "resources", "--log-format", "json", "plan", "--format", "json")
	require.Equal(t, exitOK, res.code, res.errOut)

	var plan planView
	require.NoError(t, json.Unmarshal([]byte(res.out), &plan))
	require.Len(t, plan.Units, 10)
	require.Equal(t, "GET", plan.Bindings[2].Method)
	require.Contains(t, res.errOut, `"run_id":"run-1"`)
}

func TestRun_PlanReadsEnvFile(t *testing.T) {
	t.Setenv("DYNAMO_TABLE_NAME", "")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DYNAMO_TABLE_NAME=from-file\n"), 0o600))

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--env-file", envFile, "plan"}, Dependencies{Out: &out, ErrOut: &errOut})
	require.Equal(t, exitOK, code, errOut.String())

	var plan planView
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &plan))
	require.Equal(t, "from-file", plan.Storage.TableName)
	require.NotEmpty(t, plan.RunID)
}

func TestRun_MissingTableNameIsUsageError(t *testing.T) {
	t.Setenv("DYNAMO_TABLE_NAME", "")
	res := runCLI(t, Dependencies{}, "plan")
	require.Equal(t, exitUsage, res.code)
	require.Contains(t, res.errOut, "table name")
	require.Empty(t, res.out)
}

func TestRun_Routes(t *testing.T) {
	t.Parallel()
	res := runCLI(t, Dependencies{}, "routes")
	require.Equal(t, exitOK, res.code, res.errOut)

	table, err := routes.ParseYAML([]byte(res.out))
	require.NoError(t, err)
	require.Equal(t, routes.Default().All(), table.All())
}

func TestRun_RoutesFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "routes.yaml")
	src := "routes:\n  - name: getUsers\n    method: get\n    path: /v1/users\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	res := runCLI(t, Dependencies{}, "--routes", path, "routes")
	require.Equal(t, exitOK, res.code, res.errOut)
	require.Contains(t, res.out, "name: getUsers")
	require.Contains(t, res.out, "method: GET")

	res = runCLI(t, Dependencies{}, "--routes", filepath.Join(t.TempDir(), "routes.txt"), "routes")
	require.Equal(t, exitUsage, res.code)
}

type fakeDynamo struct {
	created []string
}

func (f *fakeDynamo) ListTables(context.Context, *dynamodb.ListTablesInput, ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	return &dynamodb.ListTablesOutput{TableNames: f.created}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	name := aws.ToString(in.TableName)
	f.created = append(f.created, name)
	return &dynamodb.CreateTableOutput{TableDescription: &types.TableDescription{
		TableName: in.TableName,
		TableArn:  aws.String("arn:aws:dynamodb:ddblocal:000000000000:table/" + name),
	}}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

func TestRun_CreateTable(t *testing.T) {
	t.Parallel()
	fake := &fakeDynamo{}
	var storage *localdynamo.Storage
	var gotEndpoint, gotRegion string
	deps := Dependencies{
		NewStorage: func(_ context.Context, endpoint, region string, logger observability.StructuredLogger) (platform.Storage, error) {
			gotEndpoint, gotRegion = endpoint, region
			storage = localdynamo.New(fake, localdynamo.WithLogger(logger))
			return storage, nil
		},
	}

	res := runCLI(t, deps, "--table-name", "resources", "create-table", "--endpoint", "http://localhost:8000", "--region", "ddblocal")
	require.Equal(t, exitOK, res.code, res.errOut)
	require.Equal(t, "http://localhost:8000", gotEndpoint)
	require.Equal(t, "ddblocal", gotRegion)
	require.Equal(t, []string{"resources"}, fake.created)
	require.Len(t, storage.Grants(), 10)
	require.Contains(t, res.out, "table resources ready at http://localhost:8000")
	require.Contains(t, res.out, "arn:aws:dynamodb:ddblocal:000000000000:table/resources")
	require.Contains(t, res.errOut, "table created")
}

func TestRun_CreateTableStorageFailure(t *testing.T) {
	t.Parallel()
	deps := Dependencies{
		NewStorage: func(context.Context, string, string, observability.StructuredLogger) (platform.Storage, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	res := runCLI(t, deps, "--table-name", "resources", "create-table", "--endpoint", "http://localhost:8000")
	require.Equal(t, exitFailed, res.code)
	require.Contains(t, res.errOut, "connection refused")
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()
	cases := map[string][]string{
		"unknown command":       {"deploy"},
		"missing endpoint":      {"create-table"},
		"bad log level":         {"--log-level", "trace", "routes"},
		"bad plan format":       {"plan", "--format", "toml"},
		"no command":            {},
		"unexpected positional": {"routes", "extra"},
	}
	for name, args := range cases {
		name, args := name, args
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res := runCLI(t, Dependencies{}, args...)
			require.Equal(t, exitUsage, res.code, res.errOut)
			require.Contains(t, res.errOut, "cleanserverless:")
		})
	}
}
