package nifi

// Component types used by the CDC flow.
const (
	TypeDBCPConnectionPool = "org.apache.nifi.dbcp.DBCPConnectionPool"
	TypeExecuteSQL         = "org.apache.nifi.processors.standard.ExecuteSQL"
	TypeConvertAvroToJSON  = "org.apache.nifi.processors.kite.ConvertAvroToJSON"
	TypeConvertJSONToSQL   = "org.apache.nifi.processors.standard.ConvertJSONToSQL"
	TypePutSQL             = "org.apache.nifi.processors.standard.PutSQL"
	TypeLogAttribute       = "org.apache.nifi.processors.standard.LogAttribute"
)

// Run states accepted by PUT on controller services and processors.
const (
	StateEnabled = "ENABLED"
	StateRunning = "RUNNING"
)

// Relationships a processor can route to.
const (
	RelSuccess = "success"
	RelFailure = "failure"
)

const (
	connectableProcessor = "PROCESSOR"

	defaultBackPressureObjectThreshold = "10000"
	defaultBackPressureDataSize        = "1 GB"
	defaultFlowFileExpiration          = "0 sec"
)

// Revision is the optimistic-concurrency stamp nifi attaches to every component.
type Revision struct {
	Version  int64  `json:"version"`
	ClientID string `json:"clientId,omitempty"`
}

// Position is a canvas layout hint.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Component is the union of the component fields this tool reads or writes.
type Component struct {
	ID                            string            `json:"id,omitempty"`
	ParentGroupID                 string            `json:"parentGroupId,omitempty"`
	Name                          string            `json:"name,omitempty"`
	Type                          string            `json:"type,omitempty"`
	State                         string            `json:"state,omitempty"`
	Position                      *Position         `json:"position,omitempty"`
	Properties                    map[string]string `json:"properties,omitempty"`
	Config                        *ProcessorConfig  `json:"config,omitempty"`
	ValidationStatus              string            `json:"validationStatus,omitempty"`
	ValidationErrors              []string          `json:"validationErrors,omitempty"`
	Source                        *Connectable      `json:"source,omitempty"`
	Destination                   *Connectable      `json:"destination,omitempty"`
	SelectedRelationships         []string          `json:"selectedRelationships,omitempty"`
	FlowFileExpiration            string            `json:"flowFileExpiration,omitempty"`
	BackPressureDataSizeThreshold string            `json:"backPressureDataSizeThreshold,omitempty"`
	BackPressureObjectThreshold   string            `json:"backPressureObjectThreshold,omitempty"`
}

type ProcessorConfig struct {
	Properties                  map[string]string `json:"properties"`
	AutoTerminatedRelationships []string          `json:"autoTerminatedRelationships"`
}

type Connectable struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}

// Entity is the {revision, component} envelope nifi uses for every resource.
type Entity struct {
	ID        string    `json:"id,omitempty"`
	Revision  Revision  `json:"revision"`
	Component Component `json:"component"`
}

// ResourceID prefers the envelope id and falls back to the component id.
func (e *Entity) ResourceID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Component.ID
}

type controllerServicesEntity struct {
	ControllerServices []Entity `json:"controllerServices"`
}
