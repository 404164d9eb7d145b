package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusRunning     TaskStatus = "running"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusBlocked     TaskStatus = "blocked"
	TaskStatusStopped     TaskStatus = "stopped"
	TaskStatusArchived    TaskStatus = "archived"
	TaskStatusSystemAlert TaskStatus = "system_alert"
)

// Executable reports whether a new attempt may start from this status.
func (s TaskStatus) Executable() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusBlocked,
		TaskStatusStopped, TaskStatusArchived, TaskStatusSystemAlert:
		return true
	}
	return false
}

// DependencyStatus tracks whether a task's prerequisites are done
type DependencyStatus string

const (
	DependencyNone    DependencyStatus = "none"
	DependencyWaiting DependencyStatus = "waiting"
	DependencyReady   DependencyStatus = "ready"
)

// StringList is a list of strings stored as a JSON array column.
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// Task is a unit of work assigned to a role
type Task struct {
	ID                   string           `json:"id" db:"id"`
	CompanyID            string           `json:"company_id" db:"company_id"`
	RoleID               string           `json:"role_id" db:"role_id"`
	Title                string           `json:"title" db:"title"`
	Description          string           `json:"description" db:"description"`
	CompletionCriteria   string           `json:"completion_criteria" db:"completion_criteria"`
	Status               TaskStatus       `json:"status" db:"status"`
	CurrentAttempt       int              `json:"current_attempt" db:"current_attempt"`
	PriorAttempts        int              `json:"prior_attempts" db:"prior_attempts"`
	MaxAttempts          int              `json:"max_attempts" db:"max_attempts"`
	CompletionSummary    *string          `json:"completion_summary,omitempty" db:"completion_summary"`
	DependsOn            StringList       `json:"depends_on" db:"depends_on"`
	DependencyStatus     DependencyStatus `json:"dependency_status" db:"dependency_status"`
	RequiresVerification bool             `json:"requires_verification" db:"requires_verification"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
}

// NextAttemptNumber is the log number the next claimed attempt will record.
// Numbering continues across human resets.
func (t *Task) NextAttemptNumber() int {
	return t.PriorAttempts + t.CurrentAttempt + 1
}

// AttemptsLeft returns how many attempts remain before the retry budget is spent
func (t *Task) AttemptsLeft() int {
	if t.CurrentAttempt >= t.MaxAttempts {
		return 0
	}
	return t.MaxAttempts - t.CurrentAttempt
}

// EvaluationResult is the verdict on a single attempt's output
type EvaluationResult string

const (
	EvaluationPass    EvaluationResult = "pass"
	EvaluationFail    EvaluationResult = "fail"
	EvaluationUnclear EvaluationResult = "unclear"
)

// ParseEvaluationResult maps loosely formatted verdicts onto the known values.
// Anything unrecognised is treated as unclear.
func ParseEvaluationResult(s string) EvaluationResult {
	r := EvaluationResult(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case EvaluationPass, EvaluationFail, EvaluationUnclear:
		return r
	}
	return EvaluationUnclear
}

// TaskAttempt is one immutable execution record for a task
type TaskAttempt struct {
	ID               string           `json:"id" db:"id"`
	TaskID           string           `json:"task_id" db:"task_id"`
	AttemptNumber    int              `json:"attempt_number" db:"attempt_number"`
	ModelOutput      string           `json:"model_output" db:"model_output"`
	EvaluationResult EvaluationResult `json:"evaluation_result" db:"evaluation_result"`
	EvaluationReason string           `json:"evaluation_reason" db:"evaluation_reason"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// DeadLetterResolution is the human disposition of a dead-lettered task
type DeadLetterResolution string

const (
	ResolutionRetry   DeadLetterResolution = "retry"
	ResolutionArchive DeadLetterResolution = "archive"
)

// DeadLetterEntry records a task that exhausted its retry budget
type DeadLetterEntry struct {
	ID              string                `json:"id" db:"id"`
	TaskID          string                `json:"task_id" db:"task_id"`
	RoleID          string                `json:"role_id" db:"role_id"`
	CompanyID       string                `json:"company_id" db:"company_id"`
	FailureReason   string                `json:"failure_reason" db:"failure_reason"`
	AttemptsMade    int                   `json:"attempts_made" db:"attempts_made"`
	LastOutput      string                `json:"last_output" db:"last_output"`
	CreatedAt       time.Time             `json:"created_at" db:"created_at"`
	ResolvedAt      *time.Time            `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy      *string               `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolutionNotes *string               `json:"resolution_notes,omitempty" db:"resolution_notes"`
	Resolution      *DeadLetterResolution `json:"resolution,omitempty" db:"resolution"`
}

// Resolved reports whether a human has acted on the entry
func (e *DeadLetterEntry) Resolved() bool {
	return e.ResolvedAt != nil
}

// RequestType identifies the kind of action an AI role proposes
type RequestType string

const (
	RequestSendMemo        RequestType = "send_memo"
	RequestStartTask       RequestType = "start_task"
	RequestContinueTask    RequestType = "continue_task"
	RequestSuggestNextTask RequestType = "suggest_next_task"
	RequestReviewOutput    RequestType = "review_output"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	switch t {
	case RequestSendMemo, RequestStartTask, RequestContinueTask, RequestSuggestNextTask, RequestReviewOutput:
		return true
	}
	return false
}

// RequestStatus is the review state of a workflow request
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestDenied:
		return true
	}
	return false
}

// WorkflowRequest is an AI-proposed action waiting on governance review
type WorkflowRequest struct {
	ID               string        `json:"id" db:"id"`
	CompanyID        string        `json:"company_id" db:"company_id"`
	RequestingRoleID string        `json:"requesting_role_id" db:"requesting_role_id"`
	TargetRoleID     *string       `json:"target_role_id,omitempty" db:"target_role_id"`
	RequestType      RequestType   `json:"request_type" db:"request_type"`
	Summary          string        `json:"summary" db:"summary"`
	ProposedContent  string        `json:"proposed_content" db:"proposed_content"`
	Status           RequestStatus `json:"status" db:"status"`
	ReviewedBy       *string       `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt       *time.Time    `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNotes      *string       `json:"review_notes,omitempty" db:"review_notes"`
	SourceTaskID     *string       `json:"source_task_id,omitempty" db:"source_task_id"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
}

// TargetOrRequester returns the role the request acts on.
func (r *WorkflowRequest) TargetOrRequester() string {
	if r.TargetRoleID != nil && *r.TargetRoleID != "" {
		return *r.TargetRoleID
	}
	return r.RequestingRoleID
}

// OutputActionType identifies a handoff outside the system
type OutputActionType string

const (
	ActionMarkExternal    OutputActionType = "mark_external"
	ActionDelegateToHuman OutputActionType = "delegate_to_human"
)

// OutputActionStatus tracks an output action's resolution
type OutputActionStatus string

const (
	OutputActionPending   OutputActionStatus = "pending"
	OutputActionCompleted OutputActionStatus = "completed"
	OutputActionFailed    OutputActionStatus = "failed"
)

// OutputActionData is the JSON payload stored on an output action
type OutputActionData struct {
	Summary        string `json:"summary"`
	RoleName       string `json:"role_name"`
	ExecutionRoute string `json:"execution_route"`
}

// OutputAction hands a task to an executor outside this system
type OutputAction struct {
	ID          string             `json:"id" db:"id"`
	TaskID      string             `json:"task_id" db:"task_id"`
	CompanyID   string             `json:"company_id" db:"company_id"`
	ActionType  OutputActionType   `json:"action_type" db:"action_type"`
	ActionData  string             `json:"action_data" db:"action_data"`
	Status      OutputActionStatus `json:"status" db:"status"`
	Notes       *string            `json:"notes,omitempty" db:"notes"`
	CompletedAt *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	CompletedBy *string            `json:"completed_by,omitempty" db:"completed_by"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
}

// Data decodes the action payload. A malformed payload yields an empty struct.
func (a *OutputAction) Data() OutputActionData {
	var d OutputActionData
	_ = json.Unmarshal([]byte(a.ActionData), &d)
	return d
}

// ObjectiveStatus is the state of a role objective
type ObjectiveStatus string

const (
	ObjectiveActive    ObjectiveStatus = "active"
	ObjectiveCompleted ObjectiveStatus = "completed"
)

// RoleObjective is a standing goal that drives a role's autonomous proposals
type RoleObjective struct {
	ID          string          `json:"id" db:"id"`
	RoleID      string          `json:"role_id" db:"role_id"`
	CompanyID   string          `json:"company_id" db:"company_id"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Status      ObjectiveStatus `json:"status" db:"status"`
	Priority    int             `json:"priority" db:"priority"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// AuthorityLevel is how much a role may decide on its own
type AuthorityLevel string

const (
	AuthorityExecutive    AuthorityLevel = "executive"
	AuthorityOrchestrator AuthorityLevel = "orchestrator"
	AuthorityManager      AuthorityLevel = "manager"
	AuthorityContributor  AuthorityLevel = "contributor"
	AuthorityObserver     AuthorityLevel = "observer"
)

// Role is an AI agent persona inside a company
type Role struct {
	ID               string         `json:"id" db:"id"`
	CompanyID        string         `json:"company_id" db:"company_id"`
	Name             string         `json:"name" db:"name"`
	Mandate          string         `json:"mandate" db:"mandate"`
	SystemPrompt     string         `json:"system_prompt" db:"system_prompt"`
	AuthorityLevel   AuthorityLevel `json:"authority_level" db:"authority_level"`
	IsActivated      bool           `json:"is_activated" db:"is_activated"`
	AwaitingApproval bool           `json:"awaiting_approval" db:"awaiting_approval"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}

// Memo is a persisted role-to-role message that passed governance
type Memo struct {
	ID         string    `json:"id" db:"id"`
	CompanyID  string    `json:"company_id" db:"company_id"`
	FromRoleID string    `json:"from_role_id" db:"from_role_id"`
	ToRoleID   string    `json:"to_role_id" db:"to_role_id"`
	Content    string    `json:"content" db:"content"`
	RequestID  *string   `json:"request_id,omitempty" db:"request_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// MessageKind classifies entries in a role's activity stream
type MessageKind string

const (
	MessageInbound MessageKind = "inbound"
	MessageAudit   MessageKind = "audit"
	MessageAlert   MessageKind = "alert"
	MessageChat    MessageKind = "chat"
)

// RoleMessage is one entry on a role's activity stream
type RoleMessage struct {
	ID        string      `json:"id" db:"id"`
	CompanyID string      `json:"company_id" db:"company_id"`
	RoleID    string      `json:"role_id" db:"role_id"`
	Kind      MessageKind `json:"kind" db:"kind"`
	Sender    string      `json:"sender" db:"sender"`
	Content   string      `json:"content" db:"content"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// CompanyGrounding holds the company's confirmed foundational facts
type CompanyGrounding struct {
	CompanyID      string     `json:"company_id" db:"company_id"`
	IsConfirmed    bool       `json:"is_confirmed" db:"is_confirmed"`
	Products       StringList `json:"products" db:"products"`
	TargetCustomer string     `json:"target_customer" db:"target_customer"`
	Constraints    StringList `json:"constraints" db:"business_constraints"`
	KnownFacts     StringList `json:"known_facts" db:"known_facts"`
	Assumptions    StringList `json:"assumptions" db:"assumptions"`
	OpenQuestions  StringList `json:"open_questions" db:"open_questions"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// MemoryEntry is one item of company-wide memory
type MemoryEntry struct {
	ID        string    `json:"id" db:"id"`
	CompanyID string    `json:"company_id" db:"company_id"`
	Category  string    `json:"category" db:"category"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Webhook is an outbound automation endpoint configured by a company
type Webhook struct {
	ID         string    `json:"id" db:"id"`
	CompanyID  string    `json:"company_id" db:"company_id"`
	Name       string    `json:"name" db:"name"`
	URL        string    `json:"url" db:"url"`
	SecretHash string    `json:"-" db:"secret_hash"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Notification is an owner-facing notice
type Notification struct {
	ID        string    `json:"id" db:"id"`
	CompanyID string    `json:"company_id" db:"company_id"`
	Audience  string    `json:"audience" db:"audience"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
