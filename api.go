package cleanserverless

import (
	"context"
	"sort"
	"strings"

	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/routes"
)

// ResourceTree is the path tree of an API surface: one node per distinct
// path prefix plus the root. It also tracks which methods are bound where.
type ResourceTree struct {
	nodes   []ResourceNode
	index   map[string]int
	methods map[string]map[routes.Method]string
}

// NewResourceTree returns a tree holding only the root node.
func NewResourceTree() *ResourceTree {
	t := &ResourceTree{
		index:   map[string]int{},
		methods: map[string]map[routes.Method]string{},
	}
	t.insert(routes.Root)
	return t
}

func (t *ResourceTree) insert(path string) ResourceNode {
	if i, ok := t.index[path]; ok {
		return t.nodes[i]
	}
	node := ResourceNode{Path: path}
	if path != routes.Root {
		node.Parent = routes.Parent(path)
		node.Segment = routes.LastSegment(path)
		node.IsParameter = strings.HasPrefix(node.Segment, "{")
	}
	t.index[path] = len(t.nodes)
	t.nodes = append(t.nodes, node)
	return node
}

// Missing returns the prefixes of tmpl not yet in the tree, parent first.
func (t *ResourceTree) Missing(tmpl routes.Template) []string {
	var out []string
	for _, prefix := range tmpl.Prefixes() {
		if !t.Has(prefix) {
			out = append(out, prefix)
		}
	}
	return out
}

// Add inserts every prefix of tmpl and returns the ones that were new.
func (t *ResourceTree) Add(tmpl routes.Template) []string {
	missing := t.Missing(tmpl)
	for _, p := range missing {
		t.insert(p)
	}
	return missing
}

// Nodes returns the nodes in creation order, root first.
func (t *ResourceTree) Nodes() []ResourceNode {
	return append([]ResourceNode(nil), t.nodes...)
}

func (t *ResourceTree) Len() int { return len(t.nodes) }

func (t *ResourceTree) Has(path string) bool {
	_, ok := t.index[path]
	return ok
}

// Node returns the node at path.
func (t *ResourceTree) Node(path string) (ResourceNode, bool) {
	i, ok := t.index[path]
	if !ok {
		return ResourceNode{}, false
	}
	return t.nodes[i], true
}

// Bound reports whether method is already bound on path.
func (t *ResourceTree) Bound(path string, method routes.Method) bool {
	_, ok := t.methods[path][method]
	return ok
}

// Methods returns the methods bound on path, sorted.
func (t *ResourceTree) Methods(path string) []routes.Method {
	bound := t.methods[path]
	out := make([]routes.Method, 0, len(bound))
	for m := range bound {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *ResourceTree) bind(path string, method routes.Method, unit string) {
	bound := t.methods[path]
	if bound == nil {
		bound = map[routes.Method]string{}
		t.methods[path] = bound
	}
	bound[method] = unit
}

// APIComposer creates the single API surface and binds routes onto it.
type APIComposer struct {
	api    platform.API
	logger observability.StructuredLogger

	surface  *APISurface
	tree     *ResourceTree
	bindings []RouteBinding
}

func NewAPIComposer(api platform.API, logger observability.StructuredLogger) *APIComposer {
	return &APIComposer{
		api:    api,
		logger: observability.OrNoOp(logger),
		tree:   NewResourceTree(),
	}
}

// CreateAPISurface creates the API surface and its root node. It may be
// called once per composer.
func (c *APIComposer) CreateAPISurface(ctx context.Context, name, stage string) (*APISurface, error) {
	if c.surface != nil {
		return nil, cserrors.Ordering("api surface %s already created", c.surface.Name)
	}
	name = strings.TrimSpace(name)
	stage = strings.TrimSpace(stage)
	if name == "" {
		return nil, cserrors.Configuration("api name is required")
	}
	if stage == "" {
		return nil, cserrors.Configuration("stage name is required")
	}
	if c.api == nil {
		return nil, cserrors.Configuration("api capability is required")
	}

	identity, err := c.api.CreateAPI(ctx, APILogicalID, name, stage)
	if err != nil {
		return nil, cserrors.Platform(err, "create api %s", name)
	}
	c.surface = &APISurface{LogicalID: APILogicalID, Name: name, Stage: stage, Identity: identity}

	c.logger.Debug("api surface created", map[string]any{"api": name, "stage": stage})

	out := *c.surface
	return &out, nil
}

// BindRoute binds method on path to unit. Path prefixes missing from the tree
// are resolved on the platform parent first; existing ones are reused. A
// method already bound on the same node is rejected before any platform call.
func (c *APIComposer) BindRoute(ctx context.Context, api *APISurface, path string, method routes.Method, unit *ComputeUnit) (*RouteBinding, error) {
	if c.surface == nil || api == nil || api.Identity.IsZero() {
		return nil, cserrors.Ordering("route binding requested before the api surface exists")
	}
	if api.Identity != c.surface.Identity {
		return nil, cserrors.Ordering("api surface %s was not created by this composer", api.Name)
	}
	if unit == nil || unit.Identity.IsZero() {
		return nil, cserrors.Ordering("route binding for %s %s requested before its compute unit exists", method, path)
	}
	if !method.Valid() {
		return nil, cserrors.Configuration("unsupported method %q", string(method))
	}
	tmpl, err := routes.ParsePath(path)
	if err != nil {
		return nil, err
	}
	path = tmpl.String()
	if c.tree.Bound(path, method) {
		return nil, cserrors.Configuration("%s %s is already bound", method, path)
	}

	for _, prefix := range c.tree.Missing(tmpl) {
		if _, err := c.api.ResolvePath(ctx, api.Identity, prefix); err != nil {
			return nil, cserrors.Platform(err, "resolve path %s", prefix)
		}
		c.tree.insert(prefix)
	}

	node := platform.NodeIdentity{API: api.Identity.LogicalID, Path: path}
	if err := c.api.BindMethod(ctx, node, method.String(), unit.Identity); err != nil {
		return nil, cserrors.Platform(err, "bind %s %s", method, path)
	}
	c.tree.bind(path, method, unit.Name)

	binding := RouteBinding{
		Route: routes.Definition{Name: unit.RouteName, Method: method, Path: path},
		Unit:  unit.Name,
		Node:  path,
	}
	c.bindings = append(c.bindings, binding)

	c.logger.Debug("route bound", map[string]any{
		"method": method.String(),
		"path":   path,
		"unit":   unit.Name,
	})
	return &binding, nil
}

// Tree returns the composer's path tree.
func (c *APIComposer) Tree() *ResourceTree { return c.tree }

// Bindings returns the bindings made so far, in order.
func (c *APIComposer) Bindings() []RouteBinding {
	return append([]RouteBinding(nil), c.bindings...)
}
