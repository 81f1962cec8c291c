package cleanserverless

import (
	"context"
	"fmt"
	"strings"

	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
)

// StorageProvisioner declares the keyed storage table.
type StorageProvisioner struct {
	storage platform.Storage
	logger  observability.StructuredLogger
	created int
}

func NewStorageProvisioner(storage platform.Storage, logger observability.StructuredLogger) *StorageProvisioner {
	return &StorageProvisioner{storage: storage, logger: observability.OrNoOp(logger)}
}

// ProvisionStorage creates one table keyed by partitionKeyName and
// sortKeyName, both string attributes. tableNameHint is the physical name;
// when empty the platform picks one. Each call creates a new table.
func (p *StorageProvisioner) ProvisionStorage(ctx context.Context, partitionKeyName, sortKeyName, tableNameHint string) (*StorageResource, error) {
	partitionKeyName = strings.TrimSpace(partitionKeyName)
	sortKeyName = strings.TrimSpace(sortKeyName)
	if partitionKeyName == "" {
		return nil, cserrors.Configuration("partition key name is required")
	}
	if sortKeyName == "" {
		return nil, cserrors.Configuration("sort key name is required")
	}
	if partitionKeyName == sortKeyName {
		return nil, cserrors.Configuration("partition key and sort key must differ (both %q)", partitionKeyName)
	}
	if p.storage == nil {
		return nil, cserrors.Configuration("storage capability is required")
	}

	logicalID := StorageLogicalID
	if p.created > 0 {
		logicalID = fmt.Sprintf("%s%d", StorageLogicalID, p.created+1)
	}

	spec := platform.TableSpec{
		LogicalID:     logicalID,
		TableName:     strings.TrimSpace(tableNameHint),
		PartitionKey:  platform.KeyAttribute{Name: partitionKeyName},
		SortKey:       platform.KeyAttribute{Name: sortKeyName},
		BillingMode:   platform.BillingModePayPerRequest,
		RemovalPolicy: platform.RemovalPolicyDestroy,
	}
	identity, err := p.storage.CreateTable(ctx, spec)
	if err != nil {
		return nil, cserrors.Platform(err, "create table %s", logicalID)
	}
	p.created++

	p.logger.Debug("storage provisioned", map[string]any{
		"logical_id":    logicalID,
		"table_name":    identity.Name,
		"partition_key": partitionKeyName,
		"sort_key":      sortKeyName,
	})

	return &StorageResource{
		LogicalID:        logicalID,
		PartitionKeyName: partitionKeyName,
		SortKeyName:      sortKeyName,
		BillingMode:      spec.BillingMode,
		RemovalPolicy:    spec.RemovalPolicy,
		Identity:         identity,
	}, nil
}
