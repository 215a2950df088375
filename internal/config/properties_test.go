package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	cerrors "cdcflow/internal/errors"
)

func TestLoadPropertiesSkipsCommentsAndNoise(t *testing.T) {
	props, err := LoadProperties(filepath.Join("testdata", "datasources", "test_source.properties"))
	require.NoError(t, err)

	require.Equal(t, "oracle", props["db.type"])
	require.Equal(t, "scott", props["db.username"])
	// only the first '=' separates key and value
	require.Equal(t, "tiger=with=equals", props["db.password"])
	// last occurrence wins
	require.Equal(t, "15", props["db.pool.size"])
	require.NotContains(t, props, "not a property line")
	require.Len(t, props, 7)
}

func TestLoadPropertiesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.properties")
	content := "a=1\nb = two words \n\n#c=3\nd=\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	props, err := LoadProperties(path)
	require.NoError(t, err)
	require.Equal(t, Properties{"a": "1", "b": "two words", "d": ""}, props)
}

func TestLoadPropertiesNotFound(t *testing.T) {
	_, err := LoadProperties(filepath.Join(t.TempDir(), "missing.properties"))
	require.Error(t, err)
	require.True(t, cerrors.ErrConfigNotFound.Equal(err))
	require.Contains(t, err.Error(), "missing.properties")
}

func TestLoaderReadsNamedFiles(t *testing.T) {
	loader := NewLoader("testdata")
	require.Equal(t, "testdata", loader.BasePath())

	ds, err := loader.Datasource("test_source")
	require.NoError(t, err)
	require.Equal(t, "test_source", ds.Name)
	require.Equal(t, "192.168.3.13", ds.Host())
	require.Equal(t, "15", ds.PoolSize())
	require.Equal(t, DefaultDriverClass, ds.DriverClass())

	m, err := loader.Mapping("test_mapping")
	require.NoError(t, err)
	require.Equal(t, "Test Oracle to Oracle CDC", m.DisplayName())
	require.Equal(t, "test_source", m.SourceDatasource())
	require.Equal(t, "test_target", m.TargetDatasource())
	require.Equal(t, "SCOTT.EMP_1", m.SourceTable())
	require.Equal(t, "incremental", m.Properties["cdc.mode"])
	require.Equal(t, DefaultBatchSize, m.BatchSize())

	_, err = loader.Mapping("non_existent")
	require.True(t, cerrors.ErrConfigNotFound.Equal(err))
}

func TestLoaderDefaultsToWorkingDirectory(t *testing.T) {
	require.Equal(t, ".", NewLoader("").BasePath())
}

func TestEmptyMappingUsesDefaults(t *testing.T) {
	m, err := NewLoader("testdata").Mapping("empty")
	require.NoError(t, err)
	require.Empty(t, m.Properties)
	require.Equal(t, DefaultMappingName, m.DisplayName())
	require.Equal(t, DefaultBatchSize, m.BatchSize())
	require.Empty(t, m.SourceTable())
}

func TestBuildConnectionString(t *testing.T) {
	cases := []struct {
		name  string
		props Properties
		want  string
	}{
		{
			name: "oracle",
			props: Properties{
				"db.type":         "oracle",
				"db.host":         "192.168.3.13",
				"db.port":         "1521",
				"db.service.name": "ORCL",
			},
			want: "jdbc:oracle:thin:@192.168.3.13:1521:ORCL",
		},
		{
			name: "missing type",
			props: Properties{
				"db.host":         "db1",
				"db.port":         "1522",
				"db.service.name": "XE",
			},
			want: "",
		},
		{
			name:  "postgresql unsupported",
			props: Properties{"db.type": "postgresql", "db.host": "pg"},
			want:  "",
		},
		{
			name:  "mysql unsupported",
			props: Properties{"db.type": "mysql"},
			want:  "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildConnectionString(DatasourceConfig{Name: tc.name, Properties: tc.props})
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMaskSecrets(t *testing.T) {
	in := map[string]string{
		"Password":      "tiger",
		"db.password":   "lion",
		"Database User": "scott",
	}
	out := MaskSecrets(in)
	require.Equal(t, "******", out["Password"])
	require.Equal(t, "******", out["db.password"])
	require.Equal(t, "scott", out["Database User"])
	// input untouched
	require.Equal(t, "tiger", in["Password"])
}
