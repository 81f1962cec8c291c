package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"

	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
)

// Environment variable names read by FromEnv. The DYNAMO_* names are also the
// keys injected into every compute unit's environment.
const (
	EnvTableName        = "DYNAMO_TABLE_NAME"
	EnvPartitionKeyName = "DYNAMO_PK_NAME"
	EnvSortKeyName      = "DYNAMO_SK_NAME"
	EnvStageName        = "STAGE_NAME"
	EnvPayloadDir       = "PAYLOAD_DIR"
	EnvAccount          = "CDK_DEFAULT_ACCOUNT"
	EnvRegion           = "CDK_DEFAULT_REGION"
)

// stageNamePattern is the character set API Gateway accepts for stage names.
var stageNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DefaultEnvFile is where the build looks for a dotenv file, relative to the
// CDK app directory.
const DefaultEnvFile = "../.env"

// Config is the externally supplied configuration of one provisioning run. It
// is read once at the edge and passed explicitly to the orchestrator.
type Config struct {
	AppName          string `yaml:"app_name" json:"app_name"`
	StackName        string `yaml:"stack_name" json:"stack_name"`
	APIName          string `yaml:"api_name" json:"api_name"`
	StageName        string `yaml:"stage_name" json:"stage_name"`
	TableName        string `yaml:"table_name" json:"table_name"`
	PartitionKeyName string `yaml:"partition_key_name" json:"partition_key_name"`
	SortKeyName      string `yaml:"sort_key_name" json:"sort_key_name"`
	FunctionPrefix   string `yaml:"function_prefix" json:"function_prefix"`
	PayloadDir       string `yaml:"payload_dir" json:"payload_dir"`
	BuildTarget      string `yaml:"build_target" json:"build_target"`
	Account          string `yaml:"account,omitempty" json:"account,omitempty"`
	Region           string `yaml:"region,omitempty" json:"region,omitempty"`
}

func Default() Config {
	return Config{
		AppName:          "clean-serverless",
		StackName:        "CdkStack",
		APIName:          "CleanServerlessBookSampleAPI",
		StageName:        "dev",
		PartitionKeyName: "PK",
		SortKeyName:      "SK",
		FunctionPrefix:   "clean-serverless",
		PayloadDir:       "../app",
		BuildTarget:      "api",
	}
}

// LookupFunc has the shape of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv overlays Default with values found through lookup. Empty values are
// treated as unset.
func FromEnv(lookup LookupFunc) Config {
	cfg := Default()
	if lookup == nil {
		return cfg
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.TableName, EnvTableName)
	set(&cfg.PartitionKeyName, EnvPartitionKeyName)
	set(&cfg.SortKeyName, EnvSortKeyName)
	set(&cfg.StageName, EnvStageName)
	set(&cfg.PayloadDir, EnvPayloadDir)
	set(&cfg.Account, EnvAccount)
	set(&cfg.Region, EnvRegion)
	return cfg
}

// LoadDotEnv reads a dotenv file and returns a lookup that prefers the process
// environment over the file when set and non-empty. The process environment
// is not modified. A missing file yields a lookup over the process
// environment only.
func LoadDotEnv(path string) (LookupFunc, error) {
	values := map[string]string{}
	if strings.TrimSpace(path) != "" {
		read, err := godotenv.Read(path)
		switch {
		case err == nil:
			values = read
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read env file %s: %w", path, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

// Normalize returns cfg with whitespace trimmed. The stage name is otherwise
// kept as supplied.
func (c Config) Normalize() Config {
	out := c
	for _, field := range []*string{
		&out.AppName, &out.StackName, &out.APIName, &out.StageName, &out.TableName,
		&out.PartitionKeyName, &out.SortKeyName, &out.FunctionPrefix, &out.PayloadDir,
		&out.BuildTarget, &out.Account, &out.Region,
	} {
		*field = strings.TrimSpace(*field)
	}
	return out
}

// Validate reports the first required field that is empty.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"table name (" + EnvTableName + ")", c.TableName},
		{"partition key name (" + EnvPartitionKeyName + ")", c.PartitionKeyName},
		{"sort key name (" + EnvSortKeyName + ")", c.SortKeyName},
		{"api name", c.APIName},
		{"stage name", c.StageName},
		{"function prefix", c.FunctionPrefix},
		{"payload directory", c.PayloadDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return cserrors.Configuration("%s is required", r.name)
		}
	}
	if !stageNamePattern.MatchString(c.StageName) {
		return cserrors.Configuration("stage name %q may only contain letters, digits, '-' and '_'", c.StageName)
	}
	if c.PartitionKeyName == c.SortKeyName {
		return cserrors.Configuration("partition key and sort key must differ (both %q)", c.PartitionKeyName)
	}
	return nil
}
