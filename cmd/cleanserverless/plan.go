package main

import (
	"github.com/theory-cloud/cleanserverless"
	"github.com/theory-cloud/cleanserverless/pkg/sanitization"
)

// planView is the printable form of a topology.
type planView struct {
	RunID    string        `yaml:"run_id" json:"run_id"`
	Stack    string        `yaml:"stack" json:"stack"`
	Storage  storageView   `yaml:"storage" json:"storage"`
	API      apiView       `yaml:"api" json:"api"`
	Units    []unitView    `yaml:"units" json:"units"`
	Grants   []grantView   `yaml:"grants" json:"grants"`
	Bindings []bindingView `yaml:"bindings" json:"bindings"`
	Nodes    []string      `yaml:"nodes" json:"nodes"`
}

type storageView struct {
	LogicalID     string `yaml:"logical_id" json:"logical_id"`
	TableName     string `yaml:"table_name" json:"table_name"`
	ARN           string `yaml:"arn,omitempty" json:"arn,omitempty"`
	PartitionKey  string `yaml:"partition_key" json:"partition_key"`
	SortKey       string `yaml:"sort_key" json:"sort_key"`
	BillingMode   string `yaml:"billing_mode" json:"billing_mode"`
	RemovalPolicy string `yaml:"removal_policy" json:"removal_policy"`
}

type apiView struct {
	LogicalID string `yaml:"logical_id" json:"logical_id"`
	Name      string `yaml:"name" json:"name"`
	Stage     string `yaml:"stage" json:"stage"`
}

type unitView struct {
	Route          string            `yaml:"route" json:"route"`
	Name           string            `yaml:"name" json:"name"`
	LogicalID      string            `yaml:"logical_id" json:"logical_id"`
	BuildTarget    string            `yaml:"build_target" json:"build_target"`
	Architecture   string            `yaml:"architecture" json:"architecture"`
	TimeoutSeconds int               `yaml:"timeout_seconds" json:"timeout_seconds"`
	MemoryMB       int               `yaml:"memory_mb" json:"memory_mb"`
	Environment    map[string]string `yaml:"environment" json:"environment"`
}

type grantView struct {
	Unit      string   `yaml:"unit" json:"unit"`
	Kind      string   `yaml:"kind" json:"kind"`
	Effect    string   `yaml:"effect" json:"effect"`
	Actions   []string `yaml:"actions" json:"actions"`
	Resources []string `yaml:"resources" json:"resources"`
}

type bindingView struct {
	Route  string `yaml:"route" json:"route"`
	Method string `yaml:"method" json:"method"`
	Path   string `yaml:"path" json:"path"`
	Unit   string `yaml:"unit" json:"unit"`
}

func newPlanView(runID, stack string, t *cleanserverless.Topology) planView {
	v := planView{
		RunID: runID,
		Stack: stack,
		Storage: storageView{
			LogicalID:     t.Storage.LogicalID,
			TableName:     t.Storage.Identity.Name,
			ARN:           t.Storage.Identity.ARN,
			PartitionKey:  t.Storage.PartitionKeyName,
			SortKey:       t.Storage.SortKeyName,
			BillingMode:   string(t.Storage.BillingMode),
			RemovalPolicy: string(t.Storage.RemovalPolicy),
		},
		API: apiView{LogicalID: t.API.LogicalID, Name: t.API.Name, Stage: t.API.Stage},
	}
	for _, u := range t.Units {
		v.Units = append(v.Units, unitView{
			Route:          u.RouteName,
			Name:           u.Name,
			LogicalID:      u.LogicalID,
			BuildTarget:    u.BuildTarget,
			Architecture:   string(u.Limits.Architecture),
			TimeoutSeconds: int(u.Limits.Timeout.Seconds()),
			MemoryMB:       u.Limits.MemoryMB,
			Environment:    sanitization.SanitizeEnvironment(u.Environment),
		})
	}
	for _, g := range t.Grants {
		v.Grants = append(v.Grants, grantView{
			Unit:      g.Unit,
			Kind:      string(g.Kind),
			Effect:    string(g.Effect),
			Actions:   g.Actions,
			Resources: g.Resources,
		})
	}
	for _, b := range t.Bindings {
		v.Bindings = append(v.Bindings, bindingView{
			Route:  b.Route.Name,
			Method: b.Route.Method.String(),
			Path:   b.Route.Path,
			Unit:   b.Unit,
		})
	}
	for _, n := range t.Nodes {
		v.Nodes = append(v.Nodes, n.Path)
	}
	return v
}
