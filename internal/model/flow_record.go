package model

import "time"

// FlowRecord is one flow created on nifi.
type FlowRecord struct {
	ID               uint              `json:"id" gorm:"primaryKey"`
	MappingName      string            `json:"mapping_name" gorm:"size:255;index"`
	ProcessGroupID   string            `json:"process_group_id" gorm:"size:64"`
	ProcessGroupName string            `json:"process_group_name" gorm:"size:255"`
	SourceServiceID  string            `json:"source_service_id" gorm:"size:64"`
	TargetServiceID  string            `json:"target_service_id" gorm:"size:64"`
	ProcessorIDs     map[string]string `json:"processor_ids" gorm:"serializer:json;type:text"`
	ConnectionCount  int               `json:"connection_count"`
	NiFiBaseURL      string            `json:"nifi_base_url" gorm:"column:nifi_base_url;size:255"`
	StartedAt        time.Time         `json:"started_at"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (FlowRecord) TableName() string {
	return "cdc_flow_record"
}
