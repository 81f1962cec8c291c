package naming

import (
	"regexp"
	"strings"
)

const maxFunctionNameLength = 64

var (
	nonAlnum      = regexp.MustCompile(`[^a-z0-9-]+`)
	nonFunction   = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	nonLogicalID  = regexp.MustCompile(`[^A-Za-z0-9]+`)
	multiDash     = regexp.MustCompile(`-+`)
	leadingDigits = regexp.MustCompile(`^[0-9]+`)
)

func sanitizePart(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "_", "-")
	value = strings.ReplaceAll(value, " ", "-")
	value = nonAlnum.ReplaceAllString(value, "-")
	value = multiDash.ReplaceAllString(value, "-")
	value = strings.Trim(value, "-")
	return value
}

// NormalizeStage maps stage aliases to canonical values.
func NormalizeStage(stage string) string {
	stage = strings.ToLower(strings.TrimSpace(stage))
	switch stage {
	case "prod", "production", "live":
		return "live"
	case "dev", "development":
		return "dev"
	case "stg", "stage", "staging":
		return "stage"
	case "test", "testing":
		return "test"
	case "local":
		return "local"
	default:
		return sanitizePart(stage)
	}
}

// FunctionName returns the physical name of a route's compute unit:
// <prefix>-<route>. Route casing is preserved (getUser stays getUser) and
// characters Lambda rejects become dashes. Names longer than Lambda's limit are
// truncated.
func FunctionName(prefix, route string) string {
	prefix = sanitizePart(prefix)
	route = strings.Trim(multiDash.ReplaceAllString(nonFunction.ReplaceAllString(strings.TrimSpace(route), "-"), "-"), "-")

	name := route
	if prefix != "" && route != "" {
		name = prefix + "-" + route
	} else if prefix != "" {
		name = prefix
	}
	if len(name) > maxFunctionNameLength {
		name = strings.TrimRight(name[:maxFunctionNameLength], "-")
	}
	return name
}

// LogicalID returns a construct-safe identifier for value. Alphanumeric runs
// are kept; separators are dropped and the following run is capitalised, so
// "get_user" and "getUser" both become "getUser".
func LogicalID(value string) string {
	parts := nonLogicalID.Split(strings.TrimSpace(value), -1)
	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(part)
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	id := leadingDigits.ReplaceAllString(b.String(), "")
	return id
}

// ResourceName returns a deterministic resource name:
// - <app>-<resource>-<stage>
// - <app>-<tenant>-<resource>-<stage> (when tenant is provided)
func ResourceName(appName, resource, stage, tenant string) string {
	app := sanitizePart(appName)
	tenant = sanitizePart(tenant)
	resource = sanitizePart(resource)
	stage = NormalizeStage(stage)

	parts := []string{}
	if app != "" {
		parts = append(parts, app)
	}
	if tenant != "" {
		parts = append(parts, tenant)
	}
	if resource != "" {
		parts = append(parts, resource)
	}
	if stage != "" {
		parts = append(parts, stage)
	}
	return strings.Join(parts, "-")
}
