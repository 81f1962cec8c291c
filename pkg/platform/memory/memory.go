package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

// Operation names recorded in the call log.
const (
	OpCreateTable    = "CreateTable"
	OpGrantReadWrite = "GrantReadWrite"
	OpCreateUnit     = "CreateUnit"
	OpAttachPolicy   = "AttachPolicy"
	OpCreateAPI      = "CreateAPI"
	OpResolvePath    = "ResolvePath"
	OpBindMethod     = "BindMethod"
)

const fakeAccount = "000000000000"

// Call is one recorded capability invocation.
type Call struct {
	Op     string
	Target string
}

type StorageGrant struct {
	Table     string
	Principal string
}

type Node struct {
	API     string
	Path    string
	Methods map[string]string
}

type Binding struct {
	API    string
	Path   string
	Method string
	Unit   string
}

// Platform records a desired-state graph in memory.
//
// It enforces the same structural rules a real deployment would: logical IDs
// are unique per resource kind, grants and bindings must reference resources
// that exist, and a method can be bound only once per resource node.
type Platform struct {
	mu sync.RWMutex

	region string

	tables   []platform.TableSpec
	tableIDs map[string]platform.TableIdentity

	units   []platform.UnitSpec
	unitIDs map[string]platform.UnitIdentity

	storageGrants []StorageGrant
	policies      map[string][]platform.Statement

	apis     map[string]platform.APIIdentity
	apiOrder []string
	nodes    map[string]map[string]*Node
	created  map[string][]string
	bindings []Binding

	calls []Call
}

var _ platform.Platform = (*Platform)(nil)

type Option func(*Platform)

// WithRegion sets the region used in recorded ARNs.
func WithRegion(region string) Option {
	return func(p *Platform) {
		if strings.TrimSpace(region) != "" {
			p.region = region
		}
	}
}

func New(opts ...Option) *Platform {
	p := &Platform{
		region:   "local",
		tableIDs: map[string]platform.TableIdentity{},
		unitIDs:  map[string]platform.UnitIdentity{},
		policies: map[string][]platform.Statement{},
		apis:     map[string]platform.APIIdentity{},
		nodes:    map[string]map[string]*Node{},
		created:  map[string][]string{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}
	return p
}

func (p *Platform) record(op, target string) {
	p.calls = append(p.calls, Call{Op: op, Target: target})
}

func (p *Platform) CreateTable(_ context.Context, spec platform.TableSpec) (platform.TableIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if spec.LogicalID == "" {
		return platform.TableIdentity{}, fmt.Errorf("table logical id is required")
	}
	if _, exists := p.tableIDs[spec.LogicalID]; exists {
		return platform.TableIdentity{}, fmt.Errorf("table %s already exists", spec.LogicalID)
	}
	if spec.PartitionKey.Name == "" {
		return platform.TableIdentity{}, fmt.Errorf("table %s: partition key is required", spec.LogicalID)
	}

	name := spec.TableName
	if name == "" {
		name = fmt.Sprintf("%s-%d", spec.LogicalID, len(p.tables)+1)
	}
	id := platform.TableIdentity{
		LogicalID: spec.LogicalID,
		Name:      name,
		ARN:       fmt.Sprintf("arn:aws:dynamodb:%s:%s:table/%s", p.region, fakeAccount, name),
	}
	p.tables = append(p.tables, spec)
	p.tableIDs[spec.LogicalID] = id
	p.record(OpCreateTable, spec.LogicalID)
	return id, nil
}

func (p *Platform) GrantReadWrite(_ context.Context, table platform.TableIdentity, principal platform.UnitIdentity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tableIDs[table.LogicalID]; !ok {
		return fmt.Errorf("grant: unknown table %q", table.LogicalID)
	}
	if _, ok := p.unitIDs[principal.LogicalID]; !ok {
		return fmt.Errorf("grant: unknown principal %q", principal.LogicalID)
	}
	p.storageGrants = append(p.storageGrants, StorageGrant{Table: table.LogicalID, Principal: principal.LogicalID})
	p.record(OpGrantReadWrite, principal.LogicalID)
	return nil
}

func (p *Platform) CreateUnit(_ context.Context, spec platform.UnitSpec) (platform.UnitIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if spec.LogicalID == "" {
		return platform.UnitIdentity{}, fmt.Errorf("unit logical id is required")
	}
	if _, exists := p.unitIDs[spec.LogicalID]; exists {
		return platform.UnitIdentity{}, fmt.Errorf("unit %s already exists", spec.LogicalID)
	}
	for _, u := range p.units {
		if u.Name == spec.Name {
			return platform.UnitIdentity{}, fmt.Errorf("function name %s already in use", spec.Name)
		}
	}

	stored := spec
	stored.Environment = copyEnv(spec.Environment)
	id := platform.UnitIdentity{
		LogicalID: spec.LogicalID,
		Name:      spec.Name,
		ARN:       fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", p.region, fakeAccount, spec.Name),
	}
	p.units = append(p.units, stored)
	p.unitIDs[spec.LogicalID] = id
	p.record(OpCreateUnit, spec.LogicalID)
	return id, nil
}

func (p *Platform) AttachPolicy(_ context.Context, unit platform.UnitIdentity, statement platform.Statement) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.unitIDs[unit.LogicalID]; !ok {
		return fmt.Errorf("attach policy: unknown unit %q", unit.LogicalID)
	}
	if len(statement.Actions) == 0 {
		return fmt.Errorf("attach policy: statement has no actions")
	}
	p.policies[unit.LogicalID] = append(p.policies[unit.LogicalID], copyStatement(statement))
	p.record(OpAttachPolicy, unit.LogicalID)
	return nil
}

func (p *Platform) CreateAPI(_ context.Context, logicalID, name, stage string) (platform.APIIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if logicalID == "" {
		return platform.APIIdentity{}, fmt.Errorf("api logical id is required")
	}
	if _, exists := p.apis[logicalID]; exists {
		return platform.APIIdentity{}, fmt.Errorf("api %s already exists", logicalID)
	}

	id := platform.APIIdentity{LogicalID: logicalID, Name: name, Stage: stage}
	p.apis[logicalID] = id
	p.apiOrder = append(p.apiOrder, logicalID)
	p.nodes[logicalID] = map[string]*Node{
		routes.Root: {API: logicalID, Path: routes.Root, Methods: map[string]string{}},
	}
	p.created[logicalID] = []string{routes.Root}
	p.record(OpCreateAPI, logicalID)
	return id, nil
}

func (p *Platform) ResolvePath(_ context.Context, api platform.APIIdentity, pathTemplate string) (platform.NodeIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree, ok := p.nodes[api.LogicalID]
	if !ok {
		return platform.NodeIdentity{}, fmt.Errorf("resolve path: unknown api %q", api.LogicalID)
	}
	tpl, err := routes.ParsePath(pathTemplate)
	if err != nil {
		return platform.NodeIdentity{}, err
	}

	for _, prefix := range tpl.Prefixes() {
		if _, exists := tree[prefix]; exists {
			continue
		}
		tree[prefix] = &Node{API: api.LogicalID, Path: prefix, Methods: map[string]string{}}
		p.created[api.LogicalID] = append(p.created[api.LogicalID], prefix)
	}
	p.record(OpResolvePath, tpl.String())
	return platform.NodeIdentity{API: api.LogicalID, Path: tpl.String()}, nil
}

func (p *Platform) BindMethod(_ context.Context, node platform.NodeIdentity, method string, target platform.UnitIdentity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree, ok := p.nodes[node.API]
	if !ok {
		return fmt.Errorf("bind method: unknown api %q", node.API)
	}
	n, ok := tree[node.Path]
	if !ok {
		return fmt.Errorf("bind method: path %s was never resolved", node.Path)
	}
	if _, ok := p.unitIDs[target.LogicalID]; !ok {
		return fmt.Errorf("bind method: unknown unit %q", target.LogicalID)
	}
	method = strings.ToUpper(method)
	if existing, bound := n.Methods[method]; bound {
		return fmt.Errorf("method %s already bound on %s (to %s)", method, node.Path, existing)
	}
	n.Methods[method] = target.LogicalID
	p.bindings = append(p.bindings, Binding{API: node.API, Path: node.Path, Method: method, Unit: target.LogicalID})
	p.record(OpBindMethod, method+" "+node.Path)
	return nil
}

// Tables returns the recorded table specs in creation order.
func (p *Platform) Tables() []platform.TableSpec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]platform.TableSpec(nil), p.tables...)
}

// Units returns the recorded unit specs in creation order.
func (p *Platform) Units() []platform.UnitSpec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]platform.UnitSpec, 0, len(p.units))
	for _, u := range p.units {
		u.Environment = copyEnv(u.Environment)
		out = append(out, u)
	}
	return out
}

func (p *Platform) StorageGrants() []StorageGrant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]StorageGrant(nil), p.storageGrants...)
}

// Policies returns the statements attached to a unit, in attachment order.
func (p *Platform) Policies(unitLogicalID string) []platform.Statement {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]platform.Statement, 0, len(p.policies[unitLogicalID]))
	for _, s := range p.policies[unitLogicalID] {
		out = append(out, copyStatement(s))
	}
	return out
}

func (p *Platform) APIs() []platform.APIIdentity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]platform.APIIdentity, 0, len(p.apiOrder))
	for _, id := range p.apiOrder {
		out = append(out, p.apis[id])
	}
	return out
}

// Nodes returns the resource node paths of an API in creation order,
// including the root.
func (p *Platform) Nodes(apiLogicalID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.created[apiLogicalID]...)
}

// Methods returns the methods bound on a node, sorted.
func (p *Platform) Methods(apiLogicalID, path string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[apiLogicalID][path]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.Methods))
	for m := range n.Methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (p *Platform) Bindings() []Binding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Binding(nil), p.bindings...)
}

// Calls returns the capability call log in invocation order.
func (p *Platform) Calls() []Call {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns how many times op was invoked successfully.
func (p *Platform) CallCount(op string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func copyStatement(s platform.Statement) platform.Statement {
	return platform.Statement{
		Actions:   append([]string(nil), s.Actions...),
		Effect:    s.Effect,
		Resources: append([]string(nil), s.Resources...),
	}
}
