package models

import (
	"encoding/json"
	"time"
)

// ActivityState 被监测设备的粗粒度状态
type ActivityState int32

const (
	// StateUnknown 窗口尚未填满
	StateUnknown ActivityState = iota
	StateInactive
	StateActive
)

// String 返回上报使用的状态名
func (s ActivityState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// MarshalJSON 以字符串形式输出
func (s ActivityState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status 分类器最近一次推送的状态快照
type Status struct {
	State       ActivityState `json:"state"`
	Previous    ActivityState `json:"previous"`
	Metric      int           `json:"metric"`
	ActiveCount int           `json:"active_count"`
	ObservedAt  time.Time     `json:"observed_at"`
}

// Changed 是否为状态变化（而非定时重复推送）
func (s Status) Changed() bool {
	return s.State != s.Previous
}

// Transition 状态变化日志记录
type Transition struct {
	TransitionID string    `json:"transition_id"`
	NodeID       string    `json:"node_id"`
	State        string    `json:"state"`
	Previous     string    `json:"previous"`
	Metric       int       `json:"metric"`
	ActiveCount  int       `json:"active_count"`
	ObservedAt   time.Time `json:"observed_at"`
}

// RingStatus 环形存储游标
type RingStatus struct {
	Capacity      int `json:"capacity"`
	Alignment     int `json:"alignment"`
	Head          int `json:"head"`
	Tail          int `json:"tail"`
	OccupiedBytes int `json:"occupied_bytes"`
}

// QueueStats 订阅队列统计
type QueueStats struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// NodeStatus 本地状态接口返回的节点快照
type NodeStatus struct {
	NodeID          string                `json:"node_id"`
	BootID          string                `json:"boot_id"`
	FirmwareVersion string                `json:"firmware_version"`
	UplinkMode      string                `json:"uplink_mode"`
	Uptime          string                `json:"uptime"`
	State           ActivityState         `json:"state"`
	Activity        *Status               `json:"activity,omitempty"`
	Ring            RingStatus            `json:"ring"`
	Subscribers     map[string]QueueStats `json:"subscribers"`
	SessionRefs     int                   `json:"session_refs"`
}
