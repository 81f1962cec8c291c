package cleanserverless_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/theory-cloud/cleanserverless"
	"github.com/theory-cloud/cleanserverless/pkg/config"
	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/platform/memory"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
	"github.com/theory-cloud/cleanserverless/testkit"
)

func TestProvision_DefaultTopology(t *testing.T) {
	t.Parallel()
	env := testkit.New()

	topology, err := env.Provision(context.Background(), routes.Default())
	require.NoError(t, err)

	p := env.Platform
	require.Len(t, p.Tables(), 1)
	require.Len(t, p.APIs(), 1)
	require.Len(t, p.Units(), 10)
	require.Len(t, p.Bindings(), 10)
	require.Equal(t, []string{
		"/",
		"/v1",
		"/v1/users",
		"/v1/users/{user_id}",
		"/v1/users/{user_id}/microposts",
		"/v1/users/{user_id}/microposts/{micropost_id}",
	}, p.Nodes(cleanserverless.APILogicalID))
	require.Equal(t, 5, p.CallCount(memory.OpResolvePath), "each prefix resolved once")

	require.Len(t, topology.Units, 10)
	require.Len(t, topology.Bindings, 10)
	require.Len(t, topology.Nodes, 6)
	require.Len(t, topology.Grants, 20)

	require.Equal(t, cleanserverless.StorageLogicalID, topology.Storage.LogicalID)
	require.Equal(t, testkit.TableName, topology.Storage.Identity.Name)
	require.Equal(t, platform.BillingModePayPerRequest, topology.Storage.BillingMode)
	require.Equal(t, platform.RemovalPolicyDestroy, topology.Storage.RemovalPolicy)
	require.Equal(t, "CleanServerlessBookSampleAPI", topology.API.Name)
	require.Equal(t, "dev", topology.API.Stage)

	for _, method := range []string{"DELETE", "GET", "PUT"} {
		require.Contains(t, p.Methods(cleanserverless.APILogicalID, "/v1/users/{user_id}"), method)
	}
	require.Equal(t, []string{"GET", "POST"}, p.Methods(cleanserverless.APILogicalID, "/v1/users"))
}

func TestProvision_CreationOrder(t *testing.T) {
	t.Parallel()
	env := testkit.New()
	table := routes.MustTable(
		routes.Definition{Name: "getUsers", Method: routes.MethodGet, Path: "/v1/users"},
		routes.Definition{Name: "postUsers", Method: routes.MethodPost, Path: "/v1/users"},
	)

	_, err := env.Provision(context.Background(), table)
	require.NoError(t, err)

	require.Equal(t, []memory.Call{
		{Op: memory.OpCreateTable, Target: cleanserverless.StorageLogicalID},
		{Op: memory.OpCreateAPI, Target: cleanserverless.APILogicalID},
		{Op: memory.OpCreateUnit, Target: "getUsers"},
		{Op: memory.OpGrantReadWrite, Target: "getUsers"},
		{Op: memory.OpAttachPolicy, Target: "getUsers"},
		{Op: memory.OpResolvePath, Target: "/v1"},
		{Op: memory.OpResolvePath, Target: "/v1/users"},
		{Op: memory.OpBindMethod, Target: "GET /v1/users"},
		{Op: memory.OpCreateUnit, Target: "postUsers"},
		{Op: memory.OpGrantReadWrite, Target: "postUsers"},
		{Op: memory.OpAttachPolicy, Target: "postUsers"},
		{Op: memory.OpBindMethod, Target: "POST /v1/users"},
	}, env.Platform.Calls())
}

func TestProvision_UnitsAreDeterministic(t *testing.T) {
	t.Parallel()

	first, err := testkit.New().Provision(context.Background(), routes.Default())
	require.NoError(t, err)
	second, err := testkit.New().Provision(context.Background(), routes.Default())
	require.NoError(t, err)
	require.Equal(t, first.Units, second.Units)
	require.Equal(t, first.Bindings, second.Bindings)

	unit, ok := first.Unit("getUser")
	require.True(t, ok)
	require.Equal(t, "clean-serverless-getUser", unit.Name)
	require.Equal(t, "getUser", unit.LogicalID)
	require.Equal(t, "api", unit.BuildTarget)
	require.Equal(t, cleanserverless.ResourceLimits{
		Timeout:      30 * time.Second,
		MemoryMB:     1280,
		Architecture: platform.ArchitectureARM64,
	}, unit.Limits)
	require.Equal(t, map[string]string{
		config.EnvTableName:        testkit.TableName,
		config.EnvPartitionKeyName: "PK",
		config.EnvSortKeyName:      "SK",
	}, unit.Environment)

	unit.Environment[config.EnvTableName] = "mutated"
	again, _ := first.Unit("getUser")
	require.Equal(t, testkit.TableName, again.Environment[config.EnvTableName])

	binding, ok := first.Binding("getUser")
	require.True(t, ok)
	require.Equal(t, "clean-serverless-getUser", binding.Unit)
	require.Equal(t, "/v1/users/{user_id}", binding.Node)
	require.Equal(t, routes.MethodGet, binding.Route.Method)

	_, ok = first.Unit("nope")
	require.False(t, ok)
}

func TestProvision_PermissionCompleteness(t *testing.T) {
	t.Parallel()
	env := testkit.New()

	topology, err := env.Provision(context.Background(), routes.Default())
	require.NoError(t, err)

	require.Len(t, env.Platform.StorageGrants(), 10)
	for _, unit := range topology.Units {
		grants := topology.GrantsFor(unit.Name)
		require.Len(t, grants, 2, unit.Name)
		require.Equal(t, cleanserverless.GrantKindStorageReadWrite, grants[0].Kind)
		require.Equal(t, []string{topology.Storage.Identity.ARN}, grants[0].Resources)
		require.Equal(t, cleanserverless.GrantKindLogging, grants[1].Kind)
		require.Equal(t, []string{"*"}, grants[1].Resources)

		policies := env.Platform.Policies(unit.LogicalID)
		require.Len(t, policies, 1)
		require.Equal(t, cleanserverless.LoggingActions, policies[0].Actions)
		require.Equal(t, platform.EffectAllow, policies[0].Effect)
	}
}

func TestProvision_RejectsBadInputBeforeAnyResource(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		cfg   func(config.Config) config.Config
		table routes.Table
	}{
		{"zero table", nil, routes.Table{}},
		{"empty table", nil, routes.MustTable()},
		{"missing table name", func(c config.Config) config.Config { c.TableName = ""; return c }, routes.Default()},
		{"missing sort key", func(c config.Config) config.Config { c.SortKeyName = " "; return c }, routes.Default()},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := testkit.New()
			if tc.cfg != nil {
				env.Config = tc.cfg(env.Config)
			}
			_, err := env.Provision(context.Background(), tc.table)
			require.True(t, cserrors.IsConfiguration(err), "got %v", err)
			require.Empty(t, env.Platform.Calls())
		})
	}
}

func TestProvision_DuplicateRoutesNeverReachThePlatform(t *testing.T) {
	t.Parallel()

	_, err := routes.NewTable(
		routes.Definition{Name: "a", Method: routes.MethodGet, Path: "/v1/users"},
		routes.Definition{Name: "b", Method: routes.MethodGet, Path: "/v1/users"},
	)
	require.True(t, cserrors.IsConfiguration(err))
}

func TestProvision_CollidingUnitNamesNeverReachThePlatform(t *testing.T) {
	t.Parallel()

	_, err := routes.NewTable(
		routes.Definition{Name: "getUser", Method: routes.MethodGet, Path: "/v1/users/{user_id}"},
		routes.Definition{Name: "get_user", Method: routes.MethodPut, Path: "/v1/users/{user_id}"},
	)
	require.True(t, cserrors.IsConfiguration(err), "got %v", err)

	long := strings.Repeat("a", 60)
	table := routes.MustTable(
		routes.Definition{Name: long + "One", Method: routes.MethodGet, Path: "/v1/users"},
		routes.Definition{Name: long + "Two", Method: routes.MethodPost, Path: "/v1/users"},
	)
	env := testkit.New()
	_, err = env.Provision(context.Background(), table)
	require.True(t, cserrors.IsConfiguration(err), "got %v", err)
	require.ErrorContains(t, err, "share function name")
	require.Empty(t, env.Platform.Calls())
}

func TestProvision_KeepsStageAsSupplied(t *testing.T) {
	t.Parallel()
	env := testkit.New()
	env.Config.StageName = "prod"

	topology, err := env.Provision(context.Background(), routes.Default())
	require.NoError(t, err)
	require.Equal(t, "prod", topology.API.Stage)
	require.Equal(t, []platform.APIIdentity{topology.API.Identity}, env.Platform.APIs())
	require.Equal(t, "prod", env.Platform.APIs()[0].Stage)
}

func TestProvision_RunsOnce(t *testing.T) {
	t.Parallel()
	env := testkit.New()
	o, err := env.Orchestrator()
	require.NoError(t, err)

	_, err = o.Provision(context.Background(), routes.Default())
	require.NoError(t, err)
	_, err = o.Provision(context.Background(), routes.Default())
	require.True(t, cserrors.IsOrdering(err), "got %v", err)
	require.Len(t, env.Platform.Tables(), 1)
}

func TestProvision_AbortsOnFirstFailure(t *testing.T) {
	t.Parallel()
	env := testkit.New()
	failing := testkit.NewFailingPlatform(env.Platform).FailOn(memory.OpBindMethod, 3, errors.New("quota exceeded"))

	o, err := cleanserverless.NewOrchestrator(env.Config, failing, cleanserverless.WithLogger(env.Logger))
	require.NoError(t, err)

	topology, err := o.Provision(context.Background(), routes.Default())
	require.Nil(t, topology)
	require.True(t, cserrors.IsPlatform(err))
	require.ErrorContains(t, err, "quota exceeded")

	var coded *cserrors.Error
	require.True(t, errors.As(err, &coded))
	require.Equal(t, "getMicropost", coded.Route)
	require.Equal(t, cleanserverless.StepBindRoute, coded.Step)

	require.Len(t, env.Platform.Units(), 3, "no unit after the failing route")
	require.Equal(t, 3, failing.Count(memory.OpCreateUnit))
	require.Contains(t, env.Logger.Messages("error"), "provisioning failed")
}

func TestProvision_StorageFailure(t *testing.T) {
	t.Parallel()
	env := testkit.New()
	failing := testkit.NewFailingPlatform(env.Platform).FailOn(memory.OpCreateTable, 1, nil)

	o, err := cleanserverless.NewOrchestrator(env.Config, failing)
	require.NoError(t, err)
	_, err = o.Provision(context.Background(), routes.Default())

	var coded *cserrors.Error
	require.True(t, errors.As(err, &coded))
	require.Equal(t, cserrors.CodePlatform, coded.Code)
	require.Equal(t, cleanserverless.StepProvisionStorage, coded.Step)
	require.True(t, errors.Is(err, testkit.ErrInjected))
	require.Zero(t, failing.Count(memory.OpCreateAPI))
}

func TestProvision_HonoursCancellation(t *testing.T) {
	t.Parallel()
	env := testkit.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.Provision(ctx, routes.Default())
	require.True(t, cserrors.IsPlatform(err))
	require.True(t, errors.Is(err, context.Canceled))
	require.Empty(t, env.Platform.Calls())
}

func TestProvision_BuildTargetOverride(t *testing.T) {
	t.Parallel()
	env := testkit.New()

	_, err := env.Provision(context.Background(), routes.Default(), cleanserverless.WithBuildTarget("worker"))
	require.NoError(t, err)
	for _, unit := range env.Platform.Units() {
		require.Equal(t, "worker", unit.BuildTarget)
		require.Equal(t, "../app", unit.PayloadRef)
	}
}

func TestProvision_LogsSummary(t *testing.T) {
	t.Parallel()
	env := testkit.New()

	_, err := env.Provision(context.Background(), routes.Default())
	require.NoError(t, err)

	require.Equal(t, []string{"provisioning started", "provisioning finished"}, env.Logger.Messages("info"))
	entries := env.Logger.Entries()
	last := entries[len(entries)-1]
	require.Equal(t, 10, last.Fields["units"])
	require.Equal(t, 6, last.Fields["nodes"])
}

func TestNewOrchestrator_RequiresPlatform(t *testing.T) {
	t.Parallel()
	_, err := cleanserverless.NewOrchestrator(testkit.Config(), nil)
	require.True(t, cserrors.IsConfiguration(err))
}

func genRouteTable() *rapid.Generator[routes.Table] {
	return rapid.Custom[routes.Table](func(t *rapid.T) routes.Table {
		n := rapid.IntRange(1, 15).Draw(t, "n")
		seen := map[string]bool{}
		var defs []routes.Definition
		for i := 0; i < n; i++ {
			depth := rapid.IntRange(1, 4).Draw(t, fmt.Sprintf("depth_%d", i))
			path := ""
			for d := 0; d < depth; d++ {
				seg := rapid.SampledFrom([]string{"v1", "users", "items", "{id}"}).Draw(t, fmt.Sprintf("seg_%d_%d", i, d))
				if seg == "{id}" {
					seg = fmt.Sprintf("{id%d}", d)
				}
				path += "/" + seg
			}
			method := rapid.SampledFrom(routes.Methods).Draw(t, fmt.Sprintf("method_%d", i))
			key := method.String() + " " + path
			if seen[key] {
				continue
			}
			seen[key] = true
			defs = append(defs, routes.Definition{Name: fmt.Sprintf("route%d", i), Method: method, Path: path})
		}
		return routes.MustTable(defs...)
	})
}

func TestProperty_OneUnitPerRouteAndSharedPrefixes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		table := genRouteTable().Draw(rt, "table")
		env := testkit.New()

		topology, err := env.Provision(context.Background(), table)
		if err != nil {
			rt.Fatalf("Provision: %v", err)
		}

		prefixes := map[string]bool{}
		for _, def := range table.All() {
			tmpl, err := routes.ParsePath(def.Path)
			if err != nil {
				rt.Fatalf("ParsePath: %v", err)
			}
			for _, p := range tmpl.Prefixes() {
				prefixes[p] = true
			}
		}

		if len(topology.Units) != table.Len() || len(topology.Bindings) != table.Len() {
			rt.Fatalf("units=%d bindings=%d routes=%d", len(topology.Units), len(topology.Bindings), table.Len())
		}
		if len(topology.Nodes) != len(prefixes)+1 {
			rt.Fatalf("nodes=%d want %d", len(topology.Nodes), len(prefixes)+1)
		}
		if got := env.Platform.CallCount(memory.OpResolvePath); got != len(prefixes) {
			rt.Fatalf("resolve calls=%d want %d", got, len(prefixes))
		}
		if len(env.Platform.Units()) != table.Len() {
			rt.Fatalf("platform units=%d want %d", len(env.Platform.Units()), table.Len())
		}
	})
}
