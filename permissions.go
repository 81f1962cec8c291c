package cleanserverless

import (
	"context"
	"strings"

	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
)

// StorageReadWriteActions are the data-plane actions a storage grant covers.
var StorageReadWriteActions = []string{
	"dynamodb:BatchGetItem",
	"dynamodb:GetRecords",
	"dynamodb:GetShardIterator",
	"dynamodb:Query",
	"dynamodb:GetItem",
	"dynamodb:Scan",
	"dynamodb:ConditionCheckItem",
	"dynamodb:BatchWriteItem",
	"dynamodb:PutItem",
	"dynamodb:UpdateItem",
	"dynamodb:DeleteItem",
	"dynamodb:DescribeTable",
}

// LoggingActions let a unit write its own log streams.
var LoggingActions = []string{
	"logs:CreateLogGroup",
	"logs:CreateLogStream",
	"logs:PutLogEvents",
}

// LoggingScope is the resource scope of the logging grant. It is account-wide.
// TODO: narrow to the unit's own log group once units carry a log group ARN.
const LoggingScope = "*"

type grantKey struct {
	unit  string
	kind  GrantKind
	scope string
}

// PermissionBinder gives units access to storage and logging. Grants are a
// set: repeating one is a no-op.
type PermissionBinder struct {
	storage platform.Storage
	compute platform.Compute
	logger  observability.StructuredLogger

	seen   map[grantKey]bool
	grants []PermissionGrant
}

func NewPermissionBinder(storage platform.Storage, compute platform.Compute, logger observability.StructuredLogger) *PermissionBinder {
	return &PermissionBinder{
		storage: storage,
		compute: compute,
		logger:  observability.OrNoOp(logger),
		seen:    map[grantKey]bool{},
	}
}

// GrantAccess allows unit to read and write data in storage.
func (b *PermissionBinder) GrantAccess(ctx context.Context, unit *ComputeUnit, storage *StorageResource) error {
	if unit == nil || unit.Identity.IsZero() {
		return cserrors.Ordering("storage grant requested before the compute unit exists")
	}
	if storage == nil || storage.Identity.IsZero() {
		return cserrors.Ordering("storage grant for %s requested before storage was provisioned", unit.Name)
	}

	key := grantKey{unit: unit.Name, kind: GrantKindStorageReadWrite, scope: storage.LogicalID}
	if b.seen[key] {
		return nil
	}
	if b.storage == nil {
		return cserrors.Configuration("storage capability is required")
	}
	if err := b.storage.GrantReadWrite(ctx, storage.Identity, unit.Identity); err != nil {
		return cserrors.Platform(err, "grant %s access to %s", unit.Name, storage.LogicalID)
	}

	resource := storage.Identity.ARN
	if resource == "" {
		resource = storage.LogicalID
	}
	b.record(key, PermissionGrant{
		Unit:      unit.Name,
		Kind:      GrantKindStorageReadWrite,
		Actions:   append([]string(nil), StorageReadWriteActions...),
		Effect:    platform.EffectAllow,
		Resources: []string{resource},
	})
	return nil
}

// GrantLogging allows unit to create log groups and streams and put events.
func (b *PermissionBinder) GrantLogging(ctx context.Context, unit *ComputeUnit) error {
	if unit == nil || unit.Identity.IsZero() {
		return cserrors.Ordering("logging grant requested before the compute unit exists")
	}

	key := grantKey{unit: unit.Name, kind: GrantKindLogging, scope: LoggingScope}
	if b.seen[key] {
		return nil
	}
	if b.compute == nil {
		return cserrors.Configuration("compute capability is required")
	}
	stmt := platform.Statement{
		Actions:   append([]string(nil), LoggingActions...),
		Effect:    platform.EffectAllow,
		Resources: []string{LoggingScope},
	}
	if err := b.compute.AttachPolicy(ctx, unit.Identity, stmt); err != nil {
		return cserrors.Platform(err, "attach logging policy to %s", unit.Name)
	}

	b.record(key, PermissionGrant{
		Unit:      unit.Name,
		Kind:      GrantKindLogging,
		Actions:   stmt.Actions,
		Effect:    stmt.Effect,
		Resources: stmt.Resources,
	})
	return nil
}

func (b *PermissionBinder) record(key grantKey, grant PermissionGrant) {
	b.seen[key] = true
	b.grants = append(b.grants, grant)
	b.logger.Debug("permission granted", map[string]any{
		"unit":      grant.Unit,
		"kind":      string(grant.Kind),
		"resources": strings.Join(grant.Resources, ","),
	})
}

// Grants returns the recorded grants in the order they were made.
func (b *PermissionBinder) Grants() []PermissionGrant {
	out := make([]PermissionGrant, len(b.grants))
	for i, g := range b.grants {
		out[i] = g.clone()
	}
	return out
}

// HasGrant reports whether unit (by physical name) holds a grant of kind.
func (b *PermissionBinder) HasGrant(unit string, kind GrantKind) bool {
	for _, g := range b.grants {
		if g.Unit == unit && g.Kind == kind {
			return true
		}
	}
	return false
}
