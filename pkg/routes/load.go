package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"

	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
)

const schemaURL = "https://theory-cloud.github.io/cleanserverless/routes.schema.json"

const routesSchema = `{
  "type": "object",
  "required": ["routes"],
  "additionalProperties": false,
  "properties": {
    "routes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "method", "path"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "method": {"type": "string", "pattern": "^(?i)(get|post|put|delete)$"},
          "path": {"type": "string", "pattern": "^/"}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledSchema *jsonschema.Schema
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, strings.NewReader(routesSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// LoadFile reads a route table from a .yaml/.yml or .hcl file.
func LoadFile(path string) (Table, error) {
	//nolint:gosec // Route files are supplied by the operator on the command line.
	src, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read route file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(src)
	case ".hcl":
		return ParseHCL(src, path)
	default:
		return Table{}, cserrors.Configuration("unsupported route file extension %q", filepath.Ext(path))
	}
}

type yamlDocument struct {
	Routes []yamlRoute `yaml:"routes"`
}

type yamlRoute struct {
	Name   string `yaml:"name"`
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
}

// ParseYAML decodes and schema-validates a YAML route document:
//
//	routes:
//	  - name: getUser
//	    method: GET
//	    path: /v1/users/{user_id}
func ParseYAML(src []byte) (Table, error) {
	sch, err := loadSchema()
	if err != nil {
		return Table{}, fmt.Errorf("compile route schema: %w", err)
	}

	jsonData, err := k8syaml.YAMLToJSON(src)
	if err != nil {
		return Table{}, cserrors.Configuration("route file is not valid yaml: %v", err)
	}
	var document any
	if err := json.Unmarshal(jsonData, &document); err != nil {
		return Table{}, cserrors.Configuration("route file is not valid yaml: %v", err)
	}
	if err := sch.Validate(document); err != nil {
		return Table{}, cserrors.Configuration("route file does not match schema: %v", err)
	}

	var doc yamlDocument
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Table{}, cserrors.Configuration("decode route file: %v", err)
	}

	defs := make([]Definition, 0, len(doc.Routes))
	for _, r := range doc.Routes {
		method, err := ParseMethod(r.Method)
		if err != nil {
			return Table{}, err
		}
		defs = append(defs, Definition{Name: r.Name, Method: method, Path: r.Path})
	}
	return NewTable(defs...)
}

type hclDocument struct {
	Routes []hclRoute `hcl:"route,block"`
}

type hclRoute struct {
	Name   string `hcl:"name,label"`
	Method string `hcl:"method"`
	Path   string `hcl:"path"`
}

// ParseHCL decodes route blocks:
//
//	route "getUser" {
//	  method = "GET"
//	  path   = "/v1/users/{user_id}"
//	}
func ParseHCL(src []byte, filename string) (Table, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Table{}, cserrors.Configuration("parse %s: %s", filename, diags.Error())
	}

	var doc hclDocument
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return Table{}, cserrors.Configuration("decode %s: %s", filename, diags.Error())
	}
	if len(doc.Routes) == 0 {
		return Table{}, cserrors.Configuration("%s declares no routes", filename)
	}

	defs := make([]Definition, 0, len(doc.Routes))
	for _, r := range doc.Routes {
		method, err := ParseMethod(r.Method)
		if err != nil {
			return Table{}, cserrors.WithRoute(err, r.Name, "parse_method")
		}
		defs = append(defs, Definition{Name: r.Name, Method: method, Path: r.Path})
	}
	return NewTable(defs...)
}

// MarshalYAML renders the table in the ParseYAML format.
func (t Table) MarshalYAML() (any, error) {
	doc := yamlDocument{Routes: make([]yamlRoute, 0, len(t.defs))}
	for _, d := range t.defs {
		doc.Routes = append(doc.Routes, yamlRoute{Name: d.Name, Method: string(d.Method), Path: d.Path})
	}
	return doc, nil
}
