// Package cleanserverless expands a route table into a provisioned serverless
// topology: one keyed storage table, one HTTP API surface, and one compute
// unit per route, each granted table access and bound to its method and path.
//
// The engine never talks to a cloud SDK directly. It provisions through the
// capability interfaces in pkg/platform, so the same composition runs against
// the in-memory recorder, the CDK construct tree, or a live DynamoDB endpoint.
package cleanserverless

import (
	"time"

	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

// Construct identifiers and fixed resource settings.
const (
	StorageLogicalID = "ResourceTable"
	APILogicalID     = "CleanServerlessBookSampleApi"

	DefaultBuildTarget = "api"

	DefaultTimeout  = 30 * time.Second
	DefaultMemoryMB = 1280
)

// Steps reported on errors and log entries.
const (
	StepValidate         = "validate"
	StepProvisionStorage = "provision_storage"
	StepCreateAPI        = "create_api"
	StepCreateUnit       = "create_unit"
	StepGrantAccess      = "grant_access"
	StepGrantLogging     = "grant_logging"
	StepBindRoute        = "bind_route"
)

// ResourceLimits are the execution limits shared by every compute unit.
type ResourceLimits struct {
	Timeout      time.Duration
	MemoryMB     int
	Architecture platform.Architecture
}

// DefaultLimits returns the limits applied to every unit.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		Timeout:      DefaultTimeout,
		MemoryMB:     DefaultMemoryMB,
		Architecture: platform.ArchitectureARM64,
	}
}

// StorageResource is the single table backing every unit.
type StorageResource struct {
	LogicalID        string
	PartitionKeyName string
	SortKeyName      string
	BillingMode      platform.BillingMode
	RemovalPolicy    platform.RemovalPolicy
	Identity         platform.TableIdentity
}

// APISurface is the REST API all routes are bound under.
type APISurface struct {
	LogicalID string
	Name      string
	Stage     string
	Identity  platform.APIIdentity
}

// ComputeUnit is one deployable function serving exactly one route.
type ComputeUnit struct {
	RouteName   string
	Name        string
	LogicalID   string
	Limits      ResourceLimits
	Environment map[string]string
	BuildTarget string
	Identity    platform.UnitIdentity
}

func (u ComputeUnit) clone() ComputeUnit {
	env := make(map[string]string, len(u.Environment))
	for k, v := range u.Environment {
		env[k] = v
	}
	u.Environment = env
	return u
}

// GrantKind distinguishes the permissions a unit receives.
type GrantKind string

const (
	GrantKindStorageReadWrite GrantKind = "storage_read_write"
	GrantKindLogging          GrantKind = "logging"
)

// PermissionGrant records an access right given to a unit. Unit is the unit's
// physical name.
type PermissionGrant struct {
	Unit      string
	Kind      GrantKind
	Actions   []string
	Effect    platform.Effect
	Resources []string
}

func (g PermissionGrant) clone() PermissionGrant {
	g.Actions = append([]string(nil), g.Actions...)
	g.Resources = append([]string(nil), g.Resources...)
	return g
}

// RouteBinding attaches a route's method on its path node to a unit.
type RouteBinding struct {
	Route routes.Definition
	Unit  string
	Node  string
}

// ResourceNode is one segment of the API path tree. The root has an empty
// Parent and Segment.
type ResourceNode struct {
	Path        string
	Parent      string
	Segment     string
	IsParameter bool
}

// Topology is the result of one provisioning run. Slices follow route-table
// order (units, grants, bindings) or creation order (nodes).
type Topology struct {
	Storage  StorageResource
	API      APISurface
	Units    []ComputeUnit
	Grants   []PermissionGrant
	Bindings []RouteBinding
	Nodes    []ResourceNode
}

// Unit returns the compute unit serving routeName.
func (t *Topology) Unit(routeName string) (ComputeUnit, bool) {
	if t == nil {
		return ComputeUnit{}, false
	}
	for _, u := range t.Units {
		if u.RouteName == routeName {
			return u.clone(), true
		}
	}
	return ComputeUnit{}, false
}

// Binding returns the binding for routeName.
func (t *Topology) Binding(routeName string) (RouteBinding, bool) {
	if t == nil {
		return RouteBinding{}, false
	}
	for _, b := range t.Bindings {
		if b.Route.Name == routeName {
			return b, true
		}
	}
	return RouteBinding{}, false
}

// GrantsFor returns the grants recorded for the unit with the given physical
// name.
func (t *Topology) GrantsFor(unitName string) []PermissionGrant {
	if t == nil {
		return nil
	}
	var out []PermissionGrant
	for _, g := range t.Grants {
		if g.Unit == unitName {
			out = append(out, g.clone())
		}
	}
	return out
}
