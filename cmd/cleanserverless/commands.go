package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/cleanserverless/pkg/cdkstack"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/platform/memory"
)

func (s *session) synth() error {
	app := cdkstack.NewApp(s.cli.Synth.Outdir)
	_, topology, err := cdkstack.Build(s.ctx, app, s.cfg, s.table, s.orchestratorOptions()...)
	if err != nil {
		return err
	}
	assembly := app.Synth(nil)
	dir := ""
	if d := assembly.Directory(); d != nil {
		dir = *d
	}
	fmt.Fprintf(s.deps.Out, "synthesised %d functions into %s\n", len(topology.Units), dir)
	return nil
}

func (s *session) plan() error {
	p := memory.New(memory.WithRegion(s.cfg.Region))
	o, err := s.orchestrator(p)
	if err != nil {
		return err
	}
	topology, err := o.Provision(s.ctx, s.table)
	if err != nil {
		return err
	}
	return s.write(s.cli.Plan.Format, newPlanView(s.runID, cdkstack.StackName(s.cfg), topology))
}

func (s *session) routes() error {
	return s.write("yaml", s.table)
}

// createTable provisions the table on a live endpoint. Compute and API are
// recorded in memory so the full orchestration still runs.
func (s *session) createTable() error {
	region := strings.TrimSpace(s.cli.CreateTable.Region)
	if region == "" {
		region = s.cfg.Region
	}
	storage, err := s.deps.NewStorage(s.ctx, s.cli.CreateTable.Endpoint, region, s.logger)
	if err != nil {
		return err
	}
	graph := memory.New(memory.WithRegion(region))
	o, err := s.orchestrator(platform.Compose(storage, graph, graph))
	if err != nil {
		return err
	}
	topology, err := o.Provision(s.ctx, s.table)
	if err != nil {
		return err
	}
	id := topology.Storage.Identity
	fmt.Fprintf(s.deps.Out, "table %s ready at %s (%s)\n", id.Name, s.cli.CreateTable.Endpoint, id.ARN)
	return nil
}

func (s *session) write(format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(s.deps.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		enc := yaml.NewEncoder(s.deps.Out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
}
