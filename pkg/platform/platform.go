// Package platform defines the capability interfaces the composition engine
// provisions through. Implementations decide what "create" means: recording a
// desired-state graph (memory), declaring CloudFormation constructs
// (cdkstack), or calling a live endpoint (localdynamo).
package platform

import (
	"context"
	"time"
)

type BillingMode string

const (
	BillingModePayPerRequest BillingMode = "PAY_PER_REQUEST"
)

type RemovalPolicy string

const (
	RemovalPolicyDestroy RemovalPolicy = "DESTROY"
)

type Architecture string

const (
	ArchitectureARM64 Architecture = "arm64"
	ArchitectureX8664 Architecture = "x86_64"
)

type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// KeyAttribute is one element of a table's key schema. Only string-typed
// keys are provisioned.
type KeyAttribute struct {
	Name string
}

type TableSpec struct {
	LogicalID     string
	TableName     string
	PartitionKey  KeyAttribute
	SortKey       KeyAttribute
	BillingMode   BillingMode
	RemovalPolicy RemovalPolicy
}

// TableIdentity is the handle a platform returns for a created table. Name
// may be a deploy-time token rather than a literal.
type TableIdentity struct {
	LogicalID string
	Name      string
	ARN       string
}

func (t TableIdentity) IsZero() bool { return t.LogicalID == "" && t.Name == "" && t.ARN == "" }

type UnitSpec struct {
	LogicalID    string
	Name         string
	PayloadRef   string
	BuildTarget  string
	Architecture Architecture
	Timeout      time.Duration
	MemoryMB     int
	Environment  map[string]string
}

type UnitIdentity struct {
	LogicalID string
	Name      string
	ARN       string
}

func (u UnitIdentity) IsZero() bool { return u.LogicalID == "" && u.Name == "" && u.ARN == "" }

// Statement is a policy statement attached to a compute unit's role.
type Statement struct {
	Actions   []string
	Effect    Effect
	Resources []string
}

type APIIdentity struct {
	LogicalID string
	Name      string
	Stage     string
}

func (a APIIdentity) IsZero() bool { return a.LogicalID == "" && a.Name == "" }

// NodeIdentity addresses one resource node of an API's path tree.
type NodeIdentity struct {
	API  string
	Path string
}

type Storage interface {
	CreateTable(ctx context.Context, spec TableSpec) (TableIdentity, error)
	GrantReadWrite(ctx context.Context, table TableIdentity, principal UnitIdentity) error
}

type Compute interface {
	CreateUnit(ctx context.Context, spec UnitSpec) (UnitIdentity, error)
	AttachPolicy(ctx context.Context, unit UnitIdentity, statement Statement) error
}

type API interface {
	CreateAPI(ctx context.Context, logicalID, name, stage string) (APIIdentity, error)
	// ResolvePath returns the node for pathTemplate, creating it if needed.
	// Callers resolve parents before children.
	ResolvePath(ctx context.Context, api APIIdentity, pathTemplate string) (NodeIdentity, error)
	BindMethod(ctx context.Context, node NodeIdentity, method string, target UnitIdentity) error
}

// Platform is the full set of capabilities a topology needs.
type Platform interface {
	Storage
	Compute
	API
}

// Compose assembles a Platform from separately implemented capabilities, e.g.
// a live storage backend with a recorded compute/API graph.
func Compose(storage Storage, compute Compute, api API) Platform {
	return composed{Storage: storage, Compute: compute, API: api}
}

type composed struct {
	Storage
	Compute
	API
}
