package routes

import (
	"strings"

	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
)

// Method is an HTTP method a route can be bound to.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Methods lists the supported methods.
var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodDelete}

// ParseMethod accepts any casing of a supported method.
func ParseMethod(value string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(value)))
	if !m.Valid() {
		return "", cserrors.Configuration("unsupported http method %q", value)
	}
	return m, nil
}

func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return true
	default:
		return false
	}
}

func (m Method) String() string { return string(m) }

// Definition is one entry of the route table.
type Definition struct {
	Name   string `json:"name" yaml:"name"`
	Method Method `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
}

// Key identifies the (method, path) pair a definition binds. The path is
// taken in its parsed form.
func (d Definition) Key() string {
	path := d.Path
	if tmpl, err := ParsePath(d.Path); err == nil {
		path = tmpl.String()
	}
	return string(d.Method) + " " + path
}

// Validate checks a single definition in isolation.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return cserrors.Configuration("route name is required (path %q)", d.Path)
	}
	if strings.TrimSpace(d.Name) != d.Name {
		return cserrors.Configuration("route name %q has surrounding whitespace", d.Name)
	}
	if !d.Method.Valid() {
		return cserrors.Configuration("route %s: unsupported http method %q", d.Name, d.Method)
	}
	if strings.TrimSpace(d.Path) != d.Path {
		return cserrors.Configuration("route %s: path %q has surrounding whitespace", d.Name, d.Path)
	}
	if _, err := ParsePath(d.Path); err != nil {
		return cserrors.WithRoute(err, d.Name, "parse_path")
	}
	return nil
}
