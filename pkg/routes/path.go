package routes

import (
	"strings"

	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
)

// Root is the path of the API's root resource node.
const Root = "/"

// Segment is one component of a path template.
type Segment struct {
	Value string
	Param string
	// Greedy marks a {name+} segment that swallows the rest of the path.
	Greedy bool
}

func (s Segment) IsParam() bool { return s.Param != "" }

// Template is a parsed, validated path template such as
// /v1/users/{user_id}/microposts.
type Template struct {
	path     string
	segments []Segment
}

// ParsePath validates a path template.
func ParsePath(path string) (Template, error) {
	raw := strings.TrimSpace(path)
	if raw == "" {
		return Template{}, cserrors.Configuration("path template is empty")
	}
	if !strings.HasPrefix(raw, "/") {
		return Template{}, cserrors.Configuration("path template %q must start with /", raw)
	}
	if raw == Root {
		return Template{path: Root}, nil
	}
	if strings.HasSuffix(raw, "/") {
		return Template{}, cserrors.Configuration("path template %q has a trailing /", raw)
	}

	parts := strings.Split(strings.TrimPrefix(raw, "/"), "/")
	segments := make([]Segment, 0, len(parts))
	params := map[string]struct{}{}
	for i, part := range parts {
		seg, err := parseSegment(raw, part)
		if err != nil {
			return Template{}, err
		}
		if seg.Greedy && i != len(parts)-1 {
			return Template{}, cserrors.Configuration("path template %q: greedy segment %q must be last", raw, part)
		}
		if seg.IsParam() {
			if _, dup := params[seg.Param]; dup {
				return Template{}, cserrors.Configuration("path template %q repeats parameter %q", raw, seg.Param)
			}
			params[seg.Param] = struct{}{}
		}
		segments = append(segments, seg)
	}

	return Template{path: raw, segments: segments}, nil
}

func parseSegment(path, part string) (Segment, error) {
	if part == "" {
		return Segment{}, cserrors.Configuration("path template %q has an empty segment", path)
	}

	open := strings.Count(part, "{")
	closing := strings.Count(part, "}")
	if open == 0 && closing == 0 {
		return Segment{Value: part}, nil
	}
	if open != 1 || closing != 1 || !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
		return Segment{}, cserrors.Configuration("path template %q has a malformed parameter segment %q", path, part)
	}

	name := part[1 : len(part)-1]
	greedy := strings.HasSuffix(name, "+")
	name = strings.TrimSuffix(name, "+")
	if name == "" || !isParamName(name) {
		return Segment{}, cserrors.Configuration("path template %q has an invalid parameter name in %q", path, part)
	}
	return Segment{Value: part, Param: name, Greedy: greedy}, nil
}

func isParamName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func (t Template) String() string { return t.path }

func (t Template) Segments() []Segment {
	return append([]Segment(nil), t.segments...)
}

// Prefixes returns every ancestor path of the template, shortest first, ending
// with the template itself. The root is not included.
func (t Template) Prefixes() []string {
	out := make([]string, 0, len(t.segments))
	var b strings.Builder
	for _, seg := range t.segments {
		b.WriteString("/")
		b.WriteString(seg.Value)
		out = append(out, b.String())
	}
	return out
}

func (t Template) Params() []string {
	var out []string
	for _, seg := range t.segments {
		if seg.IsParam() {
			out = append(out, seg.Param)
		}
	}
	return out
}

// Parent returns the parent path of p ("/" for top-level paths).
func Parent(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return Root
	}
	return p[:idx]
}

// LastSegment returns the final component of p ("" for the root).
func LastSegment(p string) string {
	if p == Root {
		return ""
	}
	return p[strings.LastIndex(p, "/")+1:]
}
