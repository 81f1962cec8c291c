package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestFromEnv_OverlaysDefaults(t *testing.T) {
	cfg := FromEnv(mapLookup(map[string]string{
		EnvTableName:        " micropost-table ",
		EnvPartitionKeyName: "PK",
		EnvSortKeyName:      "",
		EnvRegion:           "ap-northeast-1",
	}))

	require.Equal(t, "micropost-table", cfg.TableName)
	require.Equal(t, "PK", cfg.PartitionKeyName)
	require.Equal(t, "SK", cfg.SortKeyName, "empty value keeps default")
	require.Equal(t, "ap-northeast-1", cfg.Region)
	require.Equal(t, "CleanServerlessBookSampleAPI", cfg.APIName)
	require.Equal(t, "clean-serverless", cfg.FunctionPrefix)

	require.Equal(t, Default(), FromEnv(nil))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.True(t, cserrors.IsConfiguration(cfg.Validate()), "table name is required")

	cfg.TableName = "t"
	require.NoError(t, cfg.Validate())

	broken := cfg
	broken.SortKeyName = "  "
	require.True(t, cserrors.IsConfiguration(broken.Validate()))

	same := cfg
	same.SortKeyName = same.PartitionKeyName
	require.True(t, cserrors.IsConfiguration(same.Validate()))

	noPayload := cfg
	noPayload.PayloadDir = ""
	require.ErrorContains(t, noPayload.Validate(), "payload directory")
}

func TestNormalize(t *testing.T) {
	cfg := Default()
	cfg.StageName = " Development "
	cfg.TableName = " t "
	got := cfg.Normalize()
	require.Equal(t, "Development", got.StageName)
	require.Equal(t, "t", got.TableName)
	require.Equal(t, " Development ", cfg.StageName, "receiver is not modified")
}

func TestNormalize_KeepsStageAsSupplied(t *testing.T) {
	for _, stage := range []string{"prod", "production", "staging", "stg", "qa_2"} {
		cfg := Default()
		cfg.TableName = "t"
		cfg.StageName = stage
		got := cfg.Normalize()
		require.Equal(t, stage, got.StageName)
		require.NoError(t, got.Validate())
	}
}

func TestValidate_StageCharacters(t *testing.T) {
	cfg := Default()
	cfg.TableName = "t"
	cfg.StageName = "my stage"
	require.True(t, cserrors.IsConfiguration(cfg.Validate()))

	cfg.StageName = "v1.2"
	require.ErrorContains(t, cfg.Validate(), "stage name")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DYNAMO_TABLE_NAME=from-file\nDYNAMO_PK_NAME=pk\nCLEANSERVERLESS_TEST_ONLY=file\n"), 0o600))

	t.Setenv("DYNAMO_TABLE_NAME", "")
	t.Setenv("DYNAMO_PK_NAME", "from-process")

	lookup, err := LoadDotEnv(path)
	require.NoError(t, err)

	cfg := FromEnv(lookup)
	require.Equal(t, "from-file", cfg.TableName)
	require.Equal(t, "from-process", cfg.PartitionKeyName)

	_, set := os.LookupEnv("CLEANSERVERLESS_TEST_ONLY")
	require.False(t, set, "file values must not leak into the process environment")
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	lookup, err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.NotNil(t, lookup)

	lookup, err = LoadDotEnv("")
	require.NoError(t, err)
	require.NotNil(t, lookup)
}
