// Package cdkstack implements the provisioning capabilities as AWS CDK
// constructs. Every call declares constructs in one stack; nothing is
// deployed until the app is synthesised and deployed by the CDK toolkit.
//
// A Platform is not safe for concurrent use.
package cdkstack

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapigateway"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

type restAPI struct {
	api       awsapigateway.RestApi
	resources map[string]awsapigateway.IResource
	methods   map[string]map[string]bool
}

// Platform declares tables, functions and REST APIs in a CDK stack.
type Platform struct {
	stack awscdk.Stack

	tables    map[string]awsdynamodb.Table
	functions map[string]awslambda.DockerImageFunction
	apis      map[string]*restAPI
}

var _ platform.Platform = (*Platform)(nil)

func New(stack awscdk.Stack) *Platform {
	return &Platform{
		stack:     stack,
		tables:    map[string]awsdynamodb.Table{},
		functions: map[string]awslambda.DockerImageFunction{},
		apis:      map[string]*restAPI{},
	}
}

func (p *Platform) Stack() awscdk.Stack { return p.stack }

// guard converts a jsii panic (construct ID clash, invalid prop) into an
// error.
func guard(op string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cdkstack: %s: %v", op, r)
		}
	}()
	fn()
	return nil
}

func (p *Platform) CreateTable(_ context.Context, spec platform.TableSpec) (platform.TableIdentity, error) {
	if spec.LogicalID == "" {
		return platform.TableIdentity{}, fmt.Errorf("cdkstack: table logical id is required")
	}
	if _, exists := p.tables[spec.LogicalID]; exists {
		return platform.TableIdentity{}, fmt.Errorf("cdkstack: table %s already declared", spec.LogicalID)
	}

	props := &awsdynamodb.TableProps{
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.String(spec.PartitionKey.Name),
			Type: awsdynamodb.AttributeType_STRING,
		},
		BillingMode:   billingMode(spec.BillingMode),
		RemovalPolicy: removalPolicy(spec.RemovalPolicy),
	}
	if spec.SortKey.Name != "" {
		props.SortKey = &awsdynamodb.Attribute{
			Name: jsii.String(spec.SortKey.Name),
			Type: awsdynamodb.AttributeType_STRING,
		}
	}
	if spec.TableName != "" {
		props.TableName = jsii.String(spec.TableName)
	}

	var table awsdynamodb.Table
	if err := guard("create table "+spec.LogicalID, func() {
		table = awsdynamodb.NewTable(p.stack, jsii.String(spec.LogicalID), props)
	}); err != nil {
		return platform.TableIdentity{}, err
	}
	p.tables[spec.LogicalID] = table

	return platform.TableIdentity{
		LogicalID: spec.LogicalID,
		Name:      *table.TableName(),
		ARN:       *table.TableArn(),
	}, nil
}

func (p *Platform) GrantReadWrite(_ context.Context, table platform.TableIdentity, principal platform.UnitIdentity) error {
	t, ok := p.tables[table.LogicalID]
	if !ok {
		return fmt.Errorf("cdkstack: grant: unknown table %q", table.LogicalID)
	}
	fn, ok := p.functions[principal.LogicalID]
	if !ok {
		return fmt.Errorf("cdkstack: grant: unknown function %q", principal.LogicalID)
	}
	return guard("grant "+principal.LogicalID, func() {
		t.GrantReadWriteData(fn)
	})
}

func (p *Platform) CreateUnit(_ context.Context, spec platform.UnitSpec) (platform.UnitIdentity, error) {
	if spec.LogicalID == "" {
		return platform.UnitIdentity{}, fmt.Errorf("cdkstack: function logical id is required")
	}
	if _, exists := p.functions[spec.LogicalID]; exists {
		return platform.UnitIdentity{}, fmt.Errorf("cdkstack: function %s already declared", spec.LogicalID)
	}
	if strings.TrimSpace(spec.PayloadRef) == "" {
		return platform.UnitIdentity{}, fmt.Errorf("cdkstack: function %s: payload directory is required", spec.LogicalID)
	}

	env := make(map[string]*string, len(spec.Environment))
	for k, v := range spec.Environment {
		env[k] = jsii.String(v)
	}

	codeProps := &awslambda.AssetImageCodeProps{}
	if spec.BuildTarget != "" {
		codeProps.Target = jsii.String(spec.BuildTarget)
	}

	props := &awslambda.DockerImageFunctionProps{
		Code:         awslambda.DockerImageCode_FromImageAsset(jsii.String(spec.PayloadRef), codeProps),
		Architecture: architecture(spec.Architecture),
		Environment:  &env,
	}
	if spec.Name != "" {
		props.FunctionName = jsii.String(spec.Name)
	}
	if spec.Timeout > 0 {
		props.Timeout = awscdk.Duration_Seconds(jsii.Number(spec.Timeout.Seconds()))
	}
	if spec.MemoryMB > 0 {
		props.MemorySize = jsii.Number(float64(spec.MemoryMB))
	}

	var fn awslambda.DockerImageFunction
	if err := guard("create function "+spec.LogicalID, func() {
		fn = awslambda.NewDockerImageFunction(p.stack, jsii.String(spec.LogicalID), props)
	}); err != nil {
		return platform.UnitIdentity{}, err
	}
	p.functions[spec.LogicalID] = fn

	return platform.UnitIdentity{
		LogicalID: spec.LogicalID,
		Name:      spec.Name,
		ARN:       *fn.FunctionArn(),
	}, nil
}

func (p *Platform) AttachPolicy(_ context.Context, unit platform.UnitIdentity, statement platform.Statement) error {
	fn, ok := p.functions[unit.LogicalID]
	if !ok {
		return fmt.Errorf("cdkstack: attach policy: unknown function %q", unit.LogicalID)
	}
	if len(statement.Actions) == 0 {
		return fmt.Errorf("cdkstack: attach policy: statement has no actions")
	}
	resources := statement.Resources
	if len(resources) == 0 {
		resources = []string{"*"}
	}
	return guard("attach policy to "+unit.LogicalID, func() {
		fn.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Actions:   jsii.Strings(statement.Actions...),
			Effect:    effect(statement.Effect),
			Resources: jsii.Strings(resources...),
		}))
	})
}

func (p *Platform) CreateAPI(_ context.Context, logicalID, name, stage string) (platform.APIIdentity, error) {
	if logicalID == "" {
		return platform.APIIdentity{}, fmt.Errorf("cdkstack: api logical id is required")
	}
	if _, exists := p.apis[logicalID]; exists {
		return platform.APIIdentity{}, fmt.Errorf("cdkstack: api %s already declared", logicalID)
	}

	var api awsapigateway.RestApi
	if err := guard("create api "+logicalID, func() {
		api = awsapigateway.NewRestApi(p.stack, jsii.String(logicalID), &awsapigateway.RestApiProps{
			RestApiName: jsii.String(name),
			DeployOptions: &awsapigateway.StageOptions{
				StageName: jsii.String(stage),
			},
		})
	}); err != nil {
		return platform.APIIdentity{}, err
	}

	p.apis[logicalID] = &restAPI{
		api:       api,
		resources: map[string]awsapigateway.IResource{routes.Root: api.Root()},
		methods:   map[string]map[string]bool{},
	}
	return platform.APIIdentity{LogicalID: logicalID, Name: name, Stage: stage}, nil
}

func (p *Platform) ResolvePath(_ context.Context, api platform.APIIdentity, pathTemplate string) (platform.NodeIdentity, error) {
	r, ok := p.apis[api.LogicalID]
	if !ok {
		return platform.NodeIdentity{}, fmt.Errorf("cdkstack: resolve path: unknown api %q", api.LogicalID)
	}
	tmpl, err := routes.ParsePath(pathTemplate)
	if err != nil {
		return platform.NodeIdentity{}, err
	}

	parent := r.resources[routes.Root]
	for _, prefix := range tmpl.Prefixes() {
		if existing, ok := r.resources[prefix]; ok {
			parent = existing
			continue
		}
		var child awsapigateway.Resource
		segment := routes.LastSegment(prefix)
		if err := guard("add resource "+prefix, func() {
			child = parent.AddResource(jsii.String(segment), nil)
		}); err != nil {
			return platform.NodeIdentity{}, err
		}
		r.resources[prefix] = child
		parent = child
	}
	return platform.NodeIdentity{API: api.LogicalID, Path: tmpl.String()}, nil
}

func (p *Platform) BindMethod(_ context.Context, node platform.NodeIdentity, method string, target platform.UnitIdentity) error {
	r, ok := p.apis[node.API]
	if !ok {
		return fmt.Errorf("cdkstack: bind method: unknown api %q", node.API)
	}
	res, ok := r.resources[node.Path]
	if !ok {
		return fmt.Errorf("cdkstack: bind method: path %s was never resolved", node.Path)
	}
	fn, ok := p.functions[target.LogicalID]
	if !ok {
		return fmt.Errorf("cdkstack: bind method: unknown function %q", target.LogicalID)
	}
	method = strings.ToUpper(method)
	if r.methods[node.Path][method] {
		return fmt.Errorf("cdkstack: method %s already bound on %s", method, node.Path)
	}

	if err := guard("bind "+method+" "+node.Path, func() {
		res.AddMethod(jsii.String(method), awsapigateway.NewLambdaIntegration(fn, nil), nil)
	}); err != nil {
		return err
	}
	if r.methods[node.Path] == nil {
		r.methods[node.Path] = map[string]bool{}
	}
	r.methods[node.Path][method] = true
	return nil
}

// Paths returns the resource paths declared on api, sorted, root included.
func (p *Platform) Paths(apiLogicalID string) []string {
	r, ok := p.apis[apiLogicalID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.resources))
	for path := range r.resources {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func billingMode(mode platform.BillingMode) awsdynamodb.BillingMode {
	if mode == platform.BillingModePayPerRequest || mode == "" {
		return awsdynamodb.BillingMode_PAY_PER_REQUEST
	}
	return awsdynamodb.BillingMode_PROVISIONED
}

func removalPolicy(policy platform.RemovalPolicy) awscdk.RemovalPolicy {
	if policy == platform.RemovalPolicyDestroy {
		return awscdk.RemovalPolicy_DESTROY
	}
	return awscdk.RemovalPolicy_RETAIN
}

func architecture(arch platform.Architecture) awslambda.Architecture {
	if arch == platform.ArchitectureX8664 {
		return awslambda.Architecture_X86_64()
	}
	return awslambda.Architecture_ARM_64()
}

func effect(e platform.Effect) awsiam.Effect {
	if e == platform.EffectDeny {
		return awsiam.Effect_DENY
	}
	return awsiam.Effect_ALLOW
}
