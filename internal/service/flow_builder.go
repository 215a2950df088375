package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
	"github.com/sirupsen/logrus"

	"cdcflow/internal/config"
	cerrors "cdcflow/internal/errors"
	"cdcflow/internal/nifi"
)

// Processor roles, also the keys of FlowResult.Processors.
const (
	RoleExtract    = "extract"
	RoleConvert    = "convert"
	RoleConvertSQL = "convert_sql"
	RoleLoad       = "load"
	RoleLogError   = "log_error"
)

// Run statuses.
const (
	StatusReady     = "ready"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

const oracleTimestampFormat = "YYYY-MM-DD HH24:MI:SS"

// Orchestrator is the subset of the nifi client the builder drives.
type Orchestrator interface {
	CreateProcessGroup(ctx context.Context, parentID, name string) (*nifi.Entity, error)
	CreateControllerService(ctx context.Context, groupID, serviceType, name string, properties map[string]string) (*nifi.Entity, error)
	EnableControllerService(ctx context.Context, id string) (*nifi.Entity, error)
	GetControllerService(ctx context.Context, id string) (*nifi.Entity, error)
	CreateProcessor(ctx context.Context, groupID, processorType, name string, properties map[string]string, position *nifi.Position) (*nifi.Entity, error)
	CreateConnection(ctx context.Context, groupID, sourceID, destID string, relationships []string) (*nifi.Entity, error)
	StartProcessor(ctx context.Context, id string) (*nifi.Entity, error)
}

// FlowPlan is everything resolved from configuration before the first
// network call.
type FlowPlan struct {
	Mapping       config.MappingConfig
	Source        config.DatasourceConfig
	Target        config.DatasourceConfig
	ParentGroupID string
}

// GroupName is the name of the process group holding the flow.
func (p *FlowPlan) GroupName() string {
	return p.Mapping.DisplayName()
}

// ServiceName names the connection pool of a datasource.
func ServiceName(datasource string) string {
	return datasource + "_DBCP"
}

// ExtractQuery selects the rows whose CDC column falls inside the
// incremental window, both bounds inclusive.
func (p *FlowPlan) ExtractQuery() string {
	m := p.Mapping
	return fmt.Sprintf("SELECT * FROM %s WHERE %s >= TO_TIMESTAMP('%s', '%s') AND %s <= TO_TIMESTAMP('%s', '%s')",
		m.SourceTable(),
		m.CDCColumn(), m.IncrementalFrom(), oracleTimestampFormat,
		m.CDCColumn(), m.IncrementalTo(), oracleTimestampFormat)
}

// ServiceProperties builds the DBCPConnectionPool properties for ds.
func ServiceProperties(ds config.DatasourceConfig) map[string]string {
	return map[string]string{
		"Database Connection URL":    config.BuildConnectionString(ds),
		"Database Driver Class Name": ds.DriverClass(),
		"Database User":              ds.Username(),
		"Password":                   ds.Password(),
		"Max Total Connections":      ds.PoolSize(),
	}
}

type processorSpec struct {
	role       string
	typ        string
	name       string
	position   nifi.Position
	properties func(p *FlowPlan, sourcePool, targetPool string) map[string]string
}

// processorSpecs is the pipeline in creation order.
var processorSpecs = []processorSpec{
	{
		role:     RoleExtract,
		typ:      nifi.TypeExecuteSQL,
		name:     "Extract CDC Data",
		position: nifi.Position{X: 100, Y: 100},
		properties: func(p *FlowPlan, sourcePool, _ string) map[string]string {
			return map[string]string{
				"Database Connection Pooling Service": sourcePool,
				"SQL select query":                    p.ExtractQuery(),
				"Max Rows Per Flow File":              p.Mapping.BatchSize(),
			}
		},
	},
	{
		role:     RoleConvert,
		typ:      nifi.TypeConvertAvroToJSON,
		name:     "Convert to JSON",
		position: nifi.Position{X: 400, Y: 100},
		properties: func(*FlowPlan, string, string) map[string]string {
			return map[string]string{}
		},
	},
	{
		role:     RoleConvertSQL,
		typ:      nifi.TypeConvertJSONToSQL,
		name:     "Convert to SQL",
		position: nifi.Position{X: 700, Y: 100},
		properties: func(p *FlowPlan, _, _ string) map[string]string {
			return map[string]string{
				"Statement Type": "INSERT",
				"Table Name":     p.Mapping.TargetTable(),
				"Catalog Name":   "",
				"Schema Name":    "",
			}
		},
	},
	{
		role:     RoleLoad,
		typ:      nifi.TypePutSQL,
		name:     "Load to Target",
		position: nifi.Position{X: 1000, Y: 100},
		properties: func(p *FlowPlan, _, targetPool string) map[string]string {
			return map[string]string{
				"JDBC Connection Pool": targetPool,
				"Batch Size":           p.Mapping.BatchSize(),
			}
		},
	},
	{
		role:     RoleLogError,
		typ:      nifi.TypeLogAttribute,
		name:     "Log Errors",
		position: nifi.Position{X: 700, Y: 300},
		properties: func(*FlowPlan, string, string) map[string]string {
			return map[string]string{
				"Log Level":         "error",
				"Attributes to Log": ".*",
			}
		},
	},
}

// ProcessorRoles lists the roles in creation order.
func ProcessorRoles() []string {
	roles := make([]string, 0, len(processorSpecs))
	for _, s := range processorSpecs {
		roles = append(roles, s.role)
	}
	return roles
}

type connectionSpec struct {
	from, to     string
	relationship string
}

// connectionSpecs: the success path first, then every non-sink processor
// routes its failures into the log sink.
var connectionSpecs = []connectionSpec{
	{RoleExtract, RoleConvert, nifi.RelSuccess},
	{RoleConvert, RoleConvertSQL, nifi.RelSuccess},
	{RoleConvertSQL, RoleLoad, nifi.RelSuccess},
	{RoleExtract, RoleLogError, nifi.RelFailure},
	{RoleConvert, RoleLogError, nifi.RelFailure},
	{RoleConvertSQL, RoleLogError, nifi.RelFailure},
	{RoleLoad, RoleLogError, nifi.RelFailure},
}

// FlowResult aggregates what one run created.
type FlowResult struct {
	MappingName   string
	ProcessGroup  *nifi.Entity
	SourceService *nifi.Entity
	TargetService *nifi.Entity
	Processors    map[string]*nifi.Entity
	Connections   []*nifi.Entity
}

// FlowRun tracks a single flow creation.
type FlowRun struct {
	MappingName string
	StartedAt   time.Time
	Status      string
	Result      *FlowResult
	Error       error
	mutex       sync.RWMutex
}

func (r *FlowRun) setStatus(status string) {
	r.mutex.Lock()
	r.Status = status
	r.mutex.Unlock()
}

// GetStatus returns the current status of the run.
func (r *FlowRun) GetStatus() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.Status
}

// FlowObserver 流程观察者接口
type FlowObserver interface {
	OnFlowStart(run *FlowRun)
	OnFlowComplete(run *FlowRun)
	OnFlowError(run *FlowRun, err error)
}

// BuilderOptions tune the wait between service creation and enablement.
type BuilderOptions struct {
	// SettleDelay is slept after both services are created, before enabling.
	SettleDelay time.Duration
	// WaitForServices polls each enabled service until nifi reports ENABLED.
	WaitForServices bool
	// ServiceWaitTimeout bounds the polling of one service.
	ServiceWaitTimeout time.Duration
	// PollInterval is the first polling interval.
	PollInterval time.Duration
}

// FlowBuilder turns a mapping into a running CDC flow on nifi.
type FlowBuilder struct {
	loader        *config.Loader
	client        Orchestrator
	rootGroupID   string
	opts          BuilderOptions
	observers     []FlowObserver
	observerMutex sync.RWMutex
}

// NewFlowBuilder 创建流程构建器
func NewFlowBuilder(loader *config.Loader, client Orchestrator, cfg config.NiFiConfig, opts BuilderOptions) *FlowBuilder {
	if opts.ServiceWaitTimeout <= 0 {
		opts.ServiceWaitTimeout = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &FlowBuilder{
		loader:      loader,
		client:      client,
		rootGroupID: cfg.RootProcessGroupID,
		opts:        opts,
	}
}

// RegisterObserver 注册观察者
func (b *FlowBuilder) RegisterObserver(observer FlowObserver) {
	b.observerMutex.Lock()
	defer b.observerMutex.Unlock()
	b.observers = append(b.observers, observer)
}

// Plan loads the mapping and both datasources without touching nifi.
func (b *FlowBuilder) Plan(mappingName string) (*FlowPlan, error) {
	mapping, err := b.loader.Mapping(mappingName)
	if err != nil {
		return nil, err
	}
	source, err := b.loader.Datasource(mapping.SourceDatasource())
	if err != nil {
		return nil, err
	}
	target, err := b.loader.Datasource(mapping.TargetDatasource())
	if err != nil {
		return nil, err
	}
	return &FlowPlan{
		Mapping:       mapping,
		Source:        source,
		Target:        target,
		ParentGroupID: b.rootGroupID,
	}, nil
}

// Build plans and applies the flow for mappingName.
func (b *FlowBuilder) Build(ctx context.Context, mappingName string) (*FlowResult, error) {
	plan, err := b.Plan(mappingName)
	if err != nil {
		return nil, err
	}
	return b.Apply(ctx, plan)
}

// Apply creates the flow described by plan. The first failing call aborts
// the run; whatever was created before it stays on the server.
func (b *FlowBuilder) Apply(ctx context.Context, plan *FlowPlan) (*FlowResult, error) {
	run := &FlowRun{
		MappingName: plan.Mapping.Name,
		StartedAt:   time.Now(),
		Status:      StatusReady,
	}
	b.notifyStart(run)

	result, err := b.apply(ctx, plan)
	if err != nil {
		b.notifyError(run, err)
		return nil, err
	}

	run.mutex.Lock()
	run.Result = result
	run.Status = StatusCompleted
	run.mutex.Unlock()
	b.notifyComplete(run)
	return result, nil
}

func (b *FlowBuilder) apply(ctx context.Context, plan *FlowPlan) (*FlowResult, error) {
	result := &FlowResult{
		MappingName: plan.Mapping.Name,
		Processors:  make(map[string]*nifi.Entity, len(processorSpecs)),
	}

	// 1. process group
	pg, err := b.client.CreateProcessGroup(ctx, plan.ParentGroupID, plan.GroupName())
	if err != nil {
		return nil, errors.Annotate(err, "create process group")
	}
	result.ProcessGroup = pg
	groupID := pg.ResourceID()
	logrus.WithFields(logrus.Fields{
		"id":     groupID,
		"name":   plan.GroupName(),
		"parent": plan.ParentGroupID,
	}).Info("process group created")

	// 2. connection pools
	if result.SourceService, err = b.createPool(ctx, groupID, plan.Source); err != nil {
		return nil, err
	}
	if result.TargetService, err = b.createPool(ctx, groupID, plan.Target); err != nil {
		return nil, err
	}

	// 3. enable pools
	if err := sleepContext(ctx, b.opts.SettleDelay); err != nil {
		return nil, errors.Trace(err)
	}
	for _, svc := range []*nifi.Entity{result.SourceService, result.TargetService} {
		if err := b.enablePool(ctx, svc.ResourceID()); err != nil {
			return nil, err
		}
	}

	// 4. processors
	sourcePool, targetPool := result.SourceService.ResourceID(), result.TargetService.ResourceID()
	for _, spec := range processorSpecs {
		pos := spec.position
		p, err := b.client.CreateProcessor(ctx, groupID, spec.typ, spec.name, spec.properties(plan, sourcePool, targetPool), &pos)
		if err != nil {
			return nil, errors.Annotatef(err, "create %s processor", spec.role)
		}
		result.Processors[spec.role] = p
		logrus.WithFields(logrus.Fields{
			"role": spec.role,
			"id":   p.ResourceID(),
			"type": spec.typ,
		}).Info("processor created")
	}

	// 5. connections
	for _, spec := range connectionSpecs {
		from, to := result.Processors[spec.from], result.Processors[spec.to]
		conn, err := b.client.CreateConnection(ctx, groupID, from.ResourceID(), to.ResourceID(), []string{spec.relationship})
		if err != nil {
			return nil, errors.Annotatef(err, "connect %s -> %s (%s)", spec.from, spec.to, spec.relationship)
		}
		result.Connections = append(result.Connections, conn)
		logrus.WithFields(logrus.Fields{
			"from":         spec.from,
			"to":           spec.to,
			"relationship": spec.relationship,
		}).Debug("connection created")
	}

	// 6. start
	for _, spec := range processorSpecs {
		id := result.Processors[spec.role].ResourceID()
		if _, err := b.client.StartProcessor(ctx, id); err != nil {
			return nil, errors.Annotatef(err, "start %s processor", spec.role)
		}
		logrus.WithFields(logrus.Fields{"role": spec.role, "id": id}).Info("processor started")
	}

	return result, nil
}

func (b *FlowBuilder) createPool(ctx context.Context, groupID string, ds config.DatasourceConfig) (*nifi.Entity, error) {
	props := ServiceProperties(ds)
	if props["Database Connection URL"] == "" {
		logrus.WithFields(logrus.Fields{
			"datasource": ds.Name,
			"db.type":    ds.DBType(),
		}).Warn("unsupported database type, connection URL left empty")
	}
	name := ServiceName(ds.Name)
	logrus.WithFields(logrus.Fields{
		"name":       name,
		"properties": config.MaskSecrets(props),
	}).Debug("creating controller service")

	svc, err := b.client.CreateControllerService(ctx, groupID, nifi.TypeDBCPConnectionPool, name, props)
	if err != nil {
		return nil, errors.Annotatef(err, "create controller service %s", name)
	}
	logrus.WithFields(logrus.Fields{"name": name, "id": svc.ResourceID()}).Info("controller service created")
	return svc, nil
}

func (b *FlowBuilder) enablePool(ctx context.Context, id string) error {
	if _, err := b.client.EnableControllerService(ctx, id); err != nil {
		return errors.Annotatef(err, "enable controller service %s", id)
	}
	if b.opts.WaitForServices {
		if err := b.waitEnabled(ctx, id); err != nil {
			return err
		}
	}
	logrus.WithField("id", id).Info("controller service enabled")
	return nil
}

// waitEnabled polls the service with exponential backoff until nifi
// reports it ENABLED or the wait timeout elapses.
func (b *FlowBuilder) waitEnabled(ctx context.Context, id string) error {
	lastState := ""
	op := func() error {
		svc, err := b.client.GetControllerService(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		lastState = svc.Component.State
		if strings.EqualFold(lastState, nifi.StateEnabled) {
			return nil
		}
		return cerrors.ErrServiceNotReady.GenWithStackByArgs(id, nifi.StateEnabled, lastState)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.opts.PollInterval
	bo.MaxElapsedTime = b.opts.ServiceWaitTimeout
	notify := func(err error, next time.Duration) {
		logrus.WithFields(logrus.Fields{
			"id":    id,
			"state": lastState,
			"next":  next,
		}).Debug("controller service not enabled yet")
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// 通知方法
func (b *FlowBuilder) notifyStart(run *FlowRun) {
	run.setStatus(StatusRunning)
	b.observerMutex.RLock()
	defer b.observerMutex.RUnlock()
	for _, observer := range b.observers {
		observer.OnFlowStart(run)
	}
}

func (b *FlowBuilder) notifyComplete(run *FlowRun) {
	b.observerMutex.RLock()
	defer b.observerMutex.RUnlock()
	for _, observer := range b.observers {
		observer.OnFlowComplete(run)
	}
}

func (b *FlowBuilder) notifyError(run *FlowRun, err error) {
	run.mutex.Lock()
	run.Error = err
	run.Status = StatusError
	run.mutex.Unlock()

	b.observerMutex.RLock()
	defer b.observerMutex.RUnlock()
	for _, observer := range b.observers {
		observer.OnFlowError(run, err)
	}
}
