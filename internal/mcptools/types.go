package mcptools

// --- MCP tool types for the serve-mcp mode ---
// These tools drive one course session: generating stages, editing and
// saving them, resolving change notices and chatting with the assistant.

var version = "dev"

// StartStageInput is the input for the start_stage MCP tool.
type StartStageInput struct {
	Stage        int    `json:"stage" jsonschema:"stage to generate (1-3)"`
	Instructions string `json:"instructions,omitempty" jsonschema:"extra instructions for the generator"`
	Wait         bool   `json:"wait,omitempty" jsonschema:"block until the generation finishes"`
}

// StartStageOutput is the result of the start_stage MCP tool.
type StartStageOutput struct {
	Stage   int    `json:"stage"`
	Status  string `json:"status"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// AbortStageInput is the input for the abort_stage MCP tool.
type AbortStageInput struct {
	Stage int `json:"stage" jsonschema:"stage whose generation to cancel (1-3)"`
}

// AbortStageOutput is the result of the abort_stage MCP tool.
type AbortStageOutput struct {
	Stage   int    `json:"stage"`
	Aborted bool   `json:"aborted"`
	Status  string `json:"status"`
}

// EditStageInput is the input for the edit_stage MCP tool.
type EditStageInput struct {
	Stage   int    `json:"stage" jsonschema:"stage to edit (1-3)"`
	Content string `json:"content" jsonschema:"replacement markdown for the stage"`
}

// EditStageOutput is the result of the edit_stage MCP tool.
type EditStageOutput struct {
	Stage  int    `json:"stage"`
	Status string `json:"status"`
	Dirty  bool   `json:"isDirty"`
}

// SaveStageInput is the input for the save_stage MCP tool.
type SaveStageInput struct {
	Stage int `json:"stage" jsonschema:"stage whose edit to save (1-3)"`
}

// SaveStageOutput is the result of the save_stage MCP tool.
type SaveStageOutput struct {
	Stage          int    `json:"stage"`
	Status         string `json:"status"`
	AffectedStages []int  `json:"affectedStages,omitempty"`
}

// GetStatusInput is the input for the get_status MCP tool.
type GetStatusInput struct{}

// GetStatusOutput is the result of the get_status MCP tool.
type GetStatusOutput struct {
	CourseID  string        `json:"courseId"`
	Title     string        `json:"title"`
	Stages    []StageStatus `json:"stages"`
	NextStage int           `json:"nextStage"`
	Notice    *NoticeView   `json:"changeNotice,omitempty"`
	Lines     []string      `json:"lines"`
}

// StageStatus is a brief overview of one stage.
type StageStatus struct {
	Stage    int    `json:"stage"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Dirty    bool   `json:"isDirty"`
	Saving   bool   `json:"isSaving"`
	Error    string `json:"error,omitempty"`
}

// NoticeView is the wire form of a pending change notice.
type NoticeView struct {
	ChangedStage   int   `json:"changedStage"`
	AffectedStages []int `json:"affectedStages"`
}

// ResolveChangeInput is the input for the resolve_change MCP tool.
type ResolveChangeInput struct {
	Resolution string `json:"resolution" jsonschema:"one of regenerate, cancel or skipForSession"`
	Stages     []int  `json:"stages,omitempty" jsonschema:"subset of affected stages to regenerate (default: all)"`
}

// ResolveChangeOutput is the result of the resolve_change MCP tool.
type ResolveChangeOutput struct {
	Resolution  string `json:"resolution"`
	Regenerated []int  `json:"regenerated,omitempty"`
}

// SendChatInput is the input for the send_chat MCP tool.
type SendChatInput struct {
	Message string `json:"message" jsonschema:"message for the assistant"`
	Step    int    `json:"step,omitempty" jsonschema:"stage the message is about (default: 1)"`
}

// SendChatOutput is the result of the send_chat MCP tool.
type SendChatOutput struct {
	Reply   string       `json:"reply"`
	Handoff *HandoffView `json:"handoff,omitempty"`
}

// HandoffView is a regenerate request made by the assistant. Pass it to
// start_stage to act on it.
type HandoffView struct {
	Stage        int    `json:"stage"`
	Instructions string `json:"instructions"`
}
