// Package localdynamo provisions the storage table against a live
// DynamoDB-compatible endpoint (DynamoDB Local, LocalStack, or AWS itself).
// It implements only the storage capability; compose it with another
// platform for compute and API.
package localdynamo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
)

const defaultRegion = "ap-northeast-1"

// API is the subset of *dynamodb.Client the storage uses.
type API interface {
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Grant is a read/write grant recorded for a principal. Local endpoints have
// no IAM, so grants are bookkeeping only.
type Grant struct {
	Table     string
	Principal string
}

type Storage struct {
	client API
	logger observability.StructuredLogger

	mu      sync.Mutex
	created []string
	skipped []string
	grants  []Grant
}

var _ platform.Storage = (*Storage)(nil)

type Option func(*Storage)

func WithLogger(logger observability.StructuredLogger) Option {
	return func(s *Storage) {
		s.logger = observability.OrNoOp(logger)
	}
}

func New(client API, opts ...Option) *Storage {
	s := &Storage{client: client, logger: observability.NewNoOpLogger()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// NewFromEndpoint builds a client for endpoint. Credentials come from
// AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY when set and fall back to dummy
// values, which DynamoDB Local accepts.
func NewFromEndpoint(ctx context.Context, endpoint, region string, opts ...Option) (*Storage, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("localdynamo: endpoint is required")
	}
	if strings.TrimSpace(region) == "" {
		region = defaultRegion
	}

	creds := credentials.NewStaticCredentialsProvider(envOr("AWS_ACCESS_KEY_ID", "dummy"), envOr("AWS_SECRET_ACCESS_KEY", "dummy"), "")
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("localdynamo: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return New(client, opts...), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// CreateTable creates the table unless one with the same name already
// exists, in which case the existing table is described and reused.
func (s *Storage) CreateTable(ctx context.Context, spec platform.TableSpec) (platform.TableIdentity, error) {
	name := strings.TrimSpace(spec.TableName)
	if name == "" {
		return platform.TableIdentity{}, fmt.Errorf("localdynamo: table %s: a physical table name is required", spec.LogicalID)
	}
	if spec.PartitionKey.Name == "" {
		return platform.TableIdentity{}, fmt.Errorf("localdynamo: table %s: partition key is required", name)
	}

	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return platform.TableIdentity{}, err
	}
	if exists {
		out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err != nil {
			return platform.TableIdentity{}, fmt.Errorf("localdynamo: describe table %s: %w", name, err)
		}
		s.mu.Lock()
		s.skipped = append(s.skipped, name)
		s.mu.Unlock()
		s.logger.Info("table already exists; skipping", map[string]any{"table_name": name})
		return identity(spec.LogicalID, name, out.Table), nil
	}

	out, err := s.client.CreateTable(ctx, BuildCreateTableInput(name, spec))
	if err != nil {
		return platform.TableIdentity{}, fmt.Errorf("localdynamo: create table %s: %w", name, err)
	}
	s.mu.Lock()
	s.created = append(s.created, name)
	s.mu.Unlock()
	s.logger.Info("table created", map[string]any{"table_name": name})
	return identity(spec.LogicalID, name, out.TableDescription), nil
}

func (s *Storage) GrantReadWrite(_ context.Context, table platform.TableIdentity, principal platform.UnitIdentity) error {
	if table.IsZero() || principal.IsZero() {
		return fmt.Errorf("localdynamo: grant needs both a table and a principal")
	}
	s.mu.Lock()
	s.grants = append(s.grants, Grant{Table: table.Name, Principal: principal.Name})
	s.mu.Unlock()
	return nil
}

// Created returns the names of tables this storage created.
func (s *Storage) Created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

// Skipped returns the names of tables that already existed.
func (s *Storage) Skipped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.skipped...)
}

func (s *Storage) Grants() []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Grant(nil), s.grants...)
}

func (s *Storage) tableExists(ctx context.Context, name string) (bool, error) {
	pager := dynamodb.NewListTablesPaginator(s.client, &dynamodb.ListTablesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return false, fmt.Errorf("localdynamo: list tables: %w", err)
		}
		for _, existing := range page.TableNames {
			if existing == name {
				return true, nil
			}
		}
	}
	return false, nil
}

// BuildCreateTableInput maps spec to a CreateTable request with string key
// attributes and on-demand billing.
func BuildCreateTableInput(name string, spec platform.TableSpec) *dynamodb.CreateTableInput {
	keySchema := []types.KeySchemaElement{
		{AttributeName: aws.String(spec.PartitionKey.Name), KeyType: types.KeyTypeHash},
	}
	attrs := []types.AttributeDefinition{
		{AttributeName: aws.String(spec.PartitionKey.Name), AttributeType: types.ScalarAttributeTypeS},
	}
	if spec.SortKey.Name != "" {
		keySchema = append(keySchema, types.KeySchemaElement{AttributeName: aws.String(spec.SortKey.Name), KeyType: types.KeyTypeRange})
		attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(spec.SortKey.Name), AttributeType: types.ScalarAttributeTypeS})
	}

	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(name),
		KeySchema:            keySchema,
		AttributeDefinitions: attrs,
		BillingMode:          types.BillingModePayPerRequest,
	}
	if spec.BillingMode != "" && spec.BillingMode != platform.BillingModePayPerRequest {
		input.BillingMode = types.BillingModeProvisioned
		input.ProvisionedThroughput = &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(1),
			WriteCapacityUnits: aws.Int64(1),
		}
	}
	return input
}

func identity(logicalID, name string, desc *types.TableDescription) platform.TableIdentity {
	id := platform.TableIdentity{LogicalID: logicalID, Name: name}
	if desc != nil {
		id.ARN = aws.ToString(desc.TableArn)
	}
	return id
}
