package cleanserverless

import (
	"context"
	"strings"

	"github.com/theory-cloud/cleanserverless/pkg/config"
	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/naming"
	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/sanitization"
)

// ComputeFactory creates one compute unit per route from a shared payload.
type ComputeFactory struct {
	compute    platform.Compute
	logger     observability.StructuredLogger
	prefix     string
	payloadRef string
	limits     ResourceLimits

	routes map[string]bool
}

// NewComputeFactory builds units named <cfg.FunctionPrefix>-<route> from the
// payload at cfg.PayloadDir.
func NewComputeFactory(compute platform.Compute, cfg config.Config, logger observability.StructuredLogger) *ComputeFactory {
	return &ComputeFactory{
		compute:    compute,
		logger:     observability.OrNoOp(logger),
		prefix:     strings.TrimSpace(cfg.FunctionPrefix),
		payloadRef: strings.TrimSpace(cfg.PayloadDir),
		limits:     DefaultLimits(),
		routes:     map[string]bool{},
	}
}

// CreateComputeUnit creates the unit serving routeName. storage must already
// exist; its identity is injected into the unit's environment.
func (f *ComputeFactory) CreateComputeUnit(ctx context.Context, routeName, buildTarget string, storage *StorageResource) (*ComputeUnit, error) {
	if storage == nil || storage.Identity.IsZero() {
		return nil, cserrors.Ordering("compute unit %q requested before storage was provisioned", routeName)
	}
	routeName = strings.TrimSpace(routeName)
	if routeName == "" {
		return nil, cserrors.Configuration("route name is required")
	}
	if f.routes[routeName] {
		return nil, cserrors.Configuration("compute unit for route %q already created", routeName)
	}
	buildTarget = strings.TrimSpace(buildTarget)
	if buildTarget == "" {
		buildTarget = DefaultBuildTarget
	}
	if f.compute == nil {
		return nil, cserrors.Configuration("compute capability is required")
	}

	unit := ComputeUnit{
		RouteName: routeName,
		Name:      naming.FunctionName(f.prefix, routeName),
		LogicalID: naming.LogicalID(routeName),
		Limits:    f.limits,
		Environment: map[string]string{
			config.EnvTableName:        storage.Identity.Name,
			config.EnvPartitionKeyName: storage.PartitionKeyName,
			config.EnvSortKeyName:      storage.SortKeyName,
		},
		BuildTarget: buildTarget,
	}
	if unit.LogicalID == "" {
		return nil, cserrors.Configuration("route name %q has no usable characters", routeName)
	}

	identity, err := f.compute.CreateUnit(ctx, platform.UnitSpec{
		LogicalID:    unit.LogicalID,
		Name:         unit.Name,
		PayloadRef:   f.payloadRef,
		BuildTarget:  unit.BuildTarget,
		Architecture: unit.Limits.Architecture,
		Timeout:      unit.Limits.Timeout,
		MemoryMB:     unit.Limits.MemoryMB,
		Environment:  unit.clone().Environment,
	})
	if err != nil {
		return nil, cserrors.Platform(err, "create unit %s", unit.Name)
	}
	unit.Identity = identity
	f.routes[routeName] = true

	f.logger.Debug("compute unit created", map[string]any{
		"unit":         unit.Name,
		"build_target": unit.BuildTarget,
		"environment":  sanitization.EnvironmentKeys(unit.Environment),
	})

	out := unit.clone()
	return &out, nil
}
