package api

// Priority orders delivery: high-priority payloads are flushed first and
// trigger an immediate flush attempt on enqueue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank maps a priority to its flush order, lowest first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// MonitorPayload is one record per supervised call, in the wire shape the
// monitoring endpoint expects. Field names are fixed by the server contract.
type MonitorPayload struct {
	Email        string   `json:"email"`
	ChatID       string   `json:"chatId"`
	Prompt       any      `json:"prompt"`
	Response     any      `json:"response"`
	Blocked      bool     `json:"blocked"`
	Tokens       int      `json:"tokens"`
	RequestTime  int64    `json:"requestTime"`
	Task         string   `json:"task,omitempty"`
	SubTask      string   `json:"subTask,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Sensitivity  []string `json:"sensitivity,omitempty"`
}

// ControlPayload is the pre-call authorization request body.
type ControlPayload struct {
	Prompt                  any      `json:"prompt"`
	Email                   string   `json:"email"`
	ChatID                  string   `json:"chatId"`
	Task                    string   `json:"task,omitempty"`
	SubTask                 string   `json:"subTask,omitempty"`
	Tokens                  int      `json:"tokens"`
	OverrideControlCriteria []string `json:"overrideControlCriteria,omitempty"`
}

// MonitoringResult reports the outcome for one payload inside a batch
// response. The delivery contract is whole-batch retry, so these are
// informational only.
type MonitoringResult struct {
	Index           int    `json:"index"`
	Success         bool   `json:"success"`
	PromptRequestID string `json:"promptRequestId,omitempty"`
	Error           string `json:"error,omitempty"`
}

// BatchResponse is the monitoring endpoint's answer to a batch request.
type BatchResponse struct {
	Success       bool               `json:"success"`
	TotalRequests int                `json:"totalRequests"`
	SuccessCount  int                `json:"successCount"`
	FailureCount  int                `json:"failureCount"`
	Results       []MonitoringResult `json:"results,omitempty"`
	Message       string             `json:"message,omitempty"`
}

// ControlDetails carries the policy engine's verdict context.
type ControlDetails struct {
	DetectedSensitivity []string `json:"detectedSensitivity"`
	IsAllowedPersona    bool     `json:"isAllowedPersona"`
}

// ControlResponse is the control endpoint's allow/deny verdict.
type ControlResponse struct {
	Allowed bool           `json:"allowed"`
	Details ControlDetails `json:"details"`
	Message string         `json:"message,omitempty"`
}
