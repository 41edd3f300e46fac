package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current state of a classification run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one execution of the classification workflow.
type Run struct {
	ID        string          `json:"id"`
	TableName string          `json:"table_name"`
	Query     string          `json:"query"`
	Status    RunStatus       `json:"status"`
	Attempts  int             `json:"attempts"`
	State     json.RawMessage `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
	Nodes     []NodeExecution `json:"nodes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NodeStatus is the outcome of one node execution.
type NodeStatus string

const (
	NodeStatusComplete  NodeStatus = "complete"
	NodeStatusRecovered NodeStatus = "recovered"
	NodeStatusFailed    NodeStatus = "failed"
)

// NodeExecution records one node run inside a workflow run.
type NodeExecution struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Node       string     `json:"node"`
	Step       int        `json:"step"`
	Status     NodeStatus `json:"status"`
	Keys       []string   `json:"keys,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
}
