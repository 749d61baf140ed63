package core

import "time"

// Card is a kanban card as the core service reports it.
type Card struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	LaneID      string `json:"laneId"`
	LaneName    string `json:"laneName"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Description string `json:"description"`
	ParentID    string `json:"parentId,omitempty"`
	ChildIDs    []string `json:"childIds,omitempty"`
}

// Project is the project a card belongs to.
type Project struct {
	ID            string `json:"id"`
	WorkspaceID   string `json:"workspaceId"`
	WorkspaceName string `json:"workspaceName"`
	Name          string `json:"name"`
}

// Run is the durable run record kept by the core service.
type Run struct {
	ID           string     `json:"id"`
	CardID       string     `json:"cardId"`
	AgentID      string     `json:"agentId"`
	UserID       string     `json:"userId"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	InputTokens  int        `json:"inputTokens"`
	OutputTokens int        `json:"outputTokens"`
	ProviderCost float64    `json:"providerCost"`
	BilledAmount float64    `json:"billedAmount"`
	ToolsUsed    []string   `json:"toolsUsed,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// RunUpdate is a partial update to a run record. Nil fields are left
// unchanged by the core service.
type RunUpdate struct {
	Status       string   `json:"status,omitempty"`
	Error        string   `json:"error,omitempty"`
	InputTokens  *int     `json:"inputTokens,omitempty"`
	OutputTokens *int     `json:"outputTokens,omitempty"`
	ProviderCost *float64 `json:"providerCost,omitempty"`
	BilledAmount *float64 `json:"billedAmount,omitempty"`
	ToolsUsed    []string `json:"toolsUsed,omitempty"`
	Completed    bool     `json:"completed,omitempty"`
}
