package models

import "time"

// FrameType enumerates live-channel event categories.
type FrameType string

const (
	FrameIncidentNew     FrameType = "incident.new"
	FrameStatusUpdate    FrameType = "status.update"
	FrameAIThinking      FrameType = "ai.thinking"
	FrameAIStream        FrameType = "ai.stream"
	FrameAIComplete      FrameType = "ai.complete"
	FrameCouncilVote     FrameType = "council.vote"
	FrameCouncilDecision FrameType = "council.decision"
	FrameRuntimeAction   FrameType = "runtime.action"
	FrameScaleEvent      FrameType = "scale.event"
	FrameHealthCheck     FrameType = "health.check"
	FrameMetrics         FrameType = "metrics"
	FrameContainerList   FrameType = "container.list"
	FrameResolved        FrameType = "resolved"
	FrameFailed          FrameType = "failed"
	FrameHeartbeat       FrameType = "heartbeat"
)

// Frame is the envelope broadcast to live-channel subscribers.
type Frame struct {
	Type       FrameType `json:"type"`
	IncidentID string    `json:"incident_id,omitempty"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkloadInfo describes one running workload for diagnostics endpoints.
type WorkloadInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Image  string `json:"image"`
	ID     string `json:"id"`
}

// TopologyNode is one workload in the dashboard's service graph.
type TopologyNode struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Image  string `json:"image"`
}

// TopologyEdge links two topology nodes with a relationship label.
type TopologyEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// Topology is the node/edge graph returned by the topology endpoint.
type Topology struct {
	Nodes []TopologyNode `json:"nodes"`
	Edges []TopologyEdge `json:"edges"`
}

// WorkloadStats carries a live resource snapshot for one workload.
type WorkloadStats struct {
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryLimitMB float64 `json:"memory_limit_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	NetRxBytes    int64   `json:"net_rx_bytes"`
	NetTxBytes    int64   `json:"net_tx_bytes"`
	Status        string  `json:"status"`
	Image         string  `json:"image"`
}
