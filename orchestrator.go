package cleanserverless

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/theory-cloud/cleanserverless/pkg/config"
	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/naming"
	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

// Orchestrator runs one provisioning pass: storage, then the API surface,
// then for every route its unit, grants and binding.
type Orchestrator struct {
	cfg         config.Config
	platform    platform.Platform
	logger      observability.StructuredLogger
	buildTarget string

	mu   sync.Mutex
	used bool
}

type Option func(*Orchestrator)

// NewOrchestrator binds cfg and p. Configuration is validated when Provision
// runs.
func NewOrchestrator(cfg config.Config, p platform.Platform, opts ...Option) (*Orchestrator, error) {
	if p == nil {
		return nil, cserrors.Configuration("platform is required")
	}
	o := &Orchestrator{
		cfg:      cfg,
		platform: p,
		logger:   observability.NewNoOpLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(o)
	}
	return o, nil
}

func WithLogger(logger observability.StructuredLogger) Option {
	return func(o *Orchestrator) {
		o.logger = observability.OrNoOp(logger)
	}
}

// WithBuildTarget overrides the payload build target for every unit.
func WithBuildTarget(target string) Option {
	return func(o *Orchestrator) {
		o.buildTarget = strings.TrimSpace(target)
	}
}

// Provision expands table into a topology. The first failure aborts the run;
// resources created before it are left in place. An Orchestrator runs once.
func (o *Orchestrator) Provision(ctx context.Context, table routes.Table) (*Topology, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := o.cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, cserrors.WithStep(err, StepValidate)
	}
	if err := validateTable(table, cfg.FunctionPrefix); err != nil {
		return nil, cserrors.WithStep(err, StepValidate)
	}

	o.mu.Lock()
	if o.used {
		o.mu.Unlock()
		return nil, cserrors.Ordering("orchestrator already provisioned; create a new one to run again")
	}
	o.used = true
	o.mu.Unlock()

	buildTarget := o.buildTarget
	if buildTarget == "" {
		buildTarget = cfg.BuildTarget
	}

	start := time.Now()
	log := o.logger
	log.Info("provisioning started", map[string]any{
		"routes":     table.Len(),
		"api":        cfg.APIName,
		"stage":      cfg.StageName,
		"table_name": cfg.TableName,
	})

	if err := ctx.Err(); err != nil {
		return nil, o.fail(cserrors.WithStep(cserrors.Platform(err, "provisioning cancelled"), StepProvisionStorage))
	}

	storageP := NewStorageProvisioner(o.platform, log.WithStep(StepProvisionStorage))
	storage, err := storageP.ProvisionStorage(ctx, cfg.PartitionKeyName, cfg.SortKeyName, cfg.TableName)
	if err != nil {
		return nil, o.fail(cserrors.WithStep(err, StepProvisionStorage))
	}

	composer := NewAPIComposer(o.platform, log.WithStep(StepCreateAPI))
	api, err := composer.CreateAPISurface(ctx, cfg.APIName, cfg.StageName)
	if err != nil {
		return nil, o.fail(cserrors.WithStep(err, StepCreateAPI))
	}

	factory := NewComputeFactory(o.platform, cfg, log)
	binder := NewPermissionBinder(o.platform, o.platform, log)
	units := make([]ComputeUnit, 0, table.Len())

	err = table.Each(func(def routes.Definition) error {
		if err := ctx.Err(); err != nil {
			return cserrors.WithRoute(cserrors.Platform(err, "provisioning cancelled"), def.Name, StepCreateUnit)
		}
		routeLog := log.WithRoute(def.Name)

		unit, err := factory.CreateComputeUnit(ctx, def.Name, buildTarget, storage)
		if err != nil {
			return cserrors.WithRoute(err, def.Name, StepCreateUnit)
		}
		if err := binder.GrantAccess(ctx, unit, storage); err != nil {
			return cserrors.WithRoute(err, def.Name, StepGrantAccess)
		}
		if err := binder.GrantLogging(ctx, unit); err != nil {
			return cserrors.WithRoute(err, def.Name, StepGrantLogging)
		}
		if _, err := composer.BindRoute(ctx, api, def.Path, def.Method, unit); err != nil {
			return cserrors.WithRoute(err, def.Name, StepBindRoute)
		}

		units = append(units, *unit)
		routeLog.Debug("route provisioned", map[string]any{"unit": unit.Name, "method": def.Method.String(), "path": def.Path})
		return nil
	})
	if err != nil {
		return nil, o.fail(err)
	}

	topology := &Topology{
		Storage:  *storage,
		API:      *api,
		Units:    units,
		Grants:   binder.Grants(),
		Bindings: composer.Bindings(),
		Nodes:    composer.Tree().Nodes(),
	}

	log.Info("provisioning finished", map[string]any{
		"units":    len(topology.Units),
		"grants":   len(topology.Grants),
		"bindings": len(topology.Bindings),
		"nodes":    len(topology.Nodes),
		"duration": time.Since(start).String(),
	})
	return topology, nil
}

func (o *Orchestrator) fail(err error) error {
	var coded *cserrors.Error
	fields := map[string]any{"error": err.Error(), "code": cserrors.CodeOf(err)}
	if errors.As(err, &coded) {
		fields["failed_route"] = coded.Route
		fields["failed_step"] = coded.Step
	}
	o.logger.Error("provisioning failed", fields)
	return err
}

func validateTable(table routes.Table, prefix string) error {
	if !table.Validated() {
		return cserrors.Configuration("route table was not built with routes.NewTable")
	}
	if table.Len() == 0 {
		return cserrors.Configuration("route table is empty")
	}
	if _, err := routes.NewTable(table.All()...); err != nil {
		return err
	}
	names := make(map[string]string, table.Len())
	for _, def := range table.All() {
		name := naming.FunctionName(prefix, def.Name)
		if other, dup := names[name]; dup {
			return cserrors.Configuration("routes %q and %q share function name %q", other, def.Name, name)
		}
		names[name] = def.Name
	}
	return nil
}
