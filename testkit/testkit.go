package testkit

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/theory-cloud/cleanserverless"
	"github.com/theory-cloud/cleanserverless/pkg/config"
	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/platform/memory"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

// TableName is the physical table name used by Config.
const TableName = "clean-serverless-test"

// Env is a deterministic local provisioning environment: a recording
// platform, a valid configuration, a capturing logger and predictable run IDs.
type Env struct {
	Platform *memory.Platform
	Config   config.Config
	Logger   *observability.TestLogger
	IDs      *ManualIDGenerator
}

func New() *Env {
	return &Env{
		Platform: memory.New(),
		Config:   Config(),
		Logger:   observability.NewTestLogger(),
		IDs:      NewManualIDGenerator(),
	}
}

// Config returns the default configuration with a table name set, so it
// passes Validate.
func Config() config.Config {
	cfg := config.Default()
	cfg.TableName = TableName
	return cfg
}

// Orchestrator returns an orchestrator over the env's platform, logging to
// the env's logger scoped by a fresh run ID.
func (e *Env) Orchestrator(opts ...cleanserverless.Option) (*cleanserverless.Orchestrator, error) {
	combined := make([]cleanserverless.Option, 0, len(opts)+1)
	combined = append(combined, cleanserverless.WithLogger(e.Logger.WithRunID(e.IDs.NewID())))
	combined = append(combined, opts...)
	return cleanserverless.NewOrchestrator(e.Config, e.Platform, combined...)
}

// Provision runs a fresh orchestrator over table.
func (e *Env) Provision(ctx context.Context, table routes.Table, opts ...cleanserverless.Option) (*cleanserverless.Topology, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o, err := e.Orchestrator(opts...)
	if err != nil {
		return nil, err
	}
	return o.Provision(ctx, table)
}

// ManualIDGenerator is a deterministic, predictable ID generator for tests.
type ManualIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int64
	queue  []string
}

func NewManualIDGenerator() *ManualIDGenerator {
	return &ManualIDGenerator{prefix: "test-id", next: 1}
}

func (g *ManualIDGenerator) Queue(ids ...string) {
	g.mu.Lock()
	g.queue = append(g.queue, ids...)
	g.mu.Unlock()
}

func (g *ManualIDGenerator) Reset() {
	g.mu.Lock()
	g.queue = nil
	g.next = 1
	g.mu.Unlock()
}

func (g *ManualIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) > 0 {
		out := g.queue[0]
		g.queue = g.queue[1:]
		return out
	}

	out := fmt.Sprintf("%s-%s", g.prefix, strconv.FormatInt(g.next, 10))
	g.next++
	return out
}
