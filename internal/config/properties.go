package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pingcap/errors"

	cerrors "cdcflow/internal/errors"
)

const (
	datasourceDir = "datasources"
	mappingDir    = "mappings"
	propertiesExt = ".properties"
)

// Defaults applied by callers when a key is absent.
const (
	DefaultBatchSize   = "1000"
	DefaultPoolSize    = "10"
	DefaultDriverClass = "oracle.jdbc.OracleDriver"
	DefaultMappingName = "CDC Flow"
)

// Properties is a flat key=value mapping read from a properties file.
type Properties map[string]string

// Get returns the value for key, or def when key is absent.
func (p Properties) Get(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// DatasourceConfig describes one database endpoint.
type DatasourceConfig struct {
	Name       string
	Properties Properties
}

func (d DatasourceConfig) DBType() string      { return d.Properties["db.type"] }
func (d DatasourceConfig) Host() string        { return d.Properties["db.host"] }
func (d DatasourceConfig) Port() string        { return d.Properties["db.port"] }
func (d DatasourceConfig) ServiceName() string { return d.Properties["db.service.name"] }
func (d DatasourceConfig) Username() string    { return d.Properties["db.username"] }
func (d DatasourceConfig) Password() string    { return d.Properties["db.password"] }
func (d DatasourceConfig) DriverClass() string {
	return d.Properties.Get("oracle.driver.class", DefaultDriverClass)
}
func (d DatasourceConfig) PoolSize() string { return d.Properties.Get("db.pool.size", DefaultPoolSize) }

// MappingConfig describes one CDC job.
type MappingConfig struct {
	Name       string
	Properties Properties
}

// DisplayName is the process group name for the mapping.
func (m MappingConfig) DisplayName() string {
	return m.Properties.Get("mapping.name", DefaultMappingName)
}

func (m MappingConfig) SourceDatasource() string { return m.Properties["source.datasource"] }
func (m MappingConfig) TargetDatasource() string { return m.Properties["target.datasource"] }
func (m MappingConfig) SourceTable() string      { return m.Properties["source.table"] }
func (m MappingConfig) TargetTable() string      { return m.Properties["target.table"] }
func (m MappingConfig) CDCColumn() string        { return m.Properties["cdc.column"] }
func (m MappingConfig) IncrementalFrom() string  { return m.Properties["cdc.incremental.from"] }
func (m MappingConfig) IncrementalTo() string    { return m.Properties["cdc.incremental.to"] }
func (m MappingConfig) BatchSize() string {
	return m.Properties.Get("cdc.batch.size", DefaultBatchSize)
}

// LoadProperties reads a properties file. Blank lines, '#' comments and lines
// without '=' are skipped; the first '=' splits key from value and a repeated
// key overwrites the earlier one.
func LoadProperties(path string) (Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.ErrConfigNotFound.GenWithStackByArgs(path)
		}
		return nil, errors.Annotatef(err, "open %s", path)
	}
	defer f.Close()

	props := make(Properties)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotatef(err, "read %s", path)
	}
	return props, nil
}

// Loader resolves datasource and mapping files under a base directory.
type Loader struct {
	basePath string
}

// NewLoader 创建配置加载器
func NewLoader(basePath string) *Loader {
	if basePath == "" {
		basePath = "."
	}
	return &Loader{basePath: basePath}
}

// BasePath returns the directory the loader reads from.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Datasource loads <base>/datasources/<name>.properties.
func (l *Loader) Datasource(name string) (DatasourceConfig, error) {
	props, err := LoadProperties(l.path(datasourceDir, name))
	if err != nil {
		return DatasourceConfig{}, err
	}
	return DatasourceConfig{Name: name, Properties: props}, nil
}

// Mapping loads <base>/mappings/<name>.properties.
func (l *Loader) Mapping(name string) (MappingConfig, error) {
	props, err := LoadProperties(l.path(mappingDir, name))
	if err != nil {
		return MappingConfig{}, err
	}
	return MappingConfig{Name: name, Properties: props}, nil
}

func (l *Loader) path(dir, name string) string {
	return filepath.Join(l.basePath, dir, name+propertiesExt)
}

// BuildConnectionString returns the JDBC URL for a datasource. Only oracle is
// supported; any other type yields "" and callers treat it as unsupported.
func BuildConnectionString(ds DatasourceConfig) string {
	switch ds.DBType() {
	case "oracle":
		return fmt.Sprintf("jdbc:oracle:thin:@%s:%s:%s", ds.Host(), ds.Port(), ds.ServiceName())
	default:
		return ""
	}
}

// MaskSecrets returns a copy of props safe for logging.
func MaskSecrets(props map[string]string) map[string]string {
	masked := make(map[string]string, len(props))
	for k, v := range props {
		if isSecretKey(k) {
			v = "******"
		}
		masked[k] = v
	}
	return masked
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	return k == "password" || strings.HasSuffix(k, ".password")
}
