package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jordanhubbard/axis/pkg/models"
)

// Payload is the decoded body of a workflow request. The set of
// implementations is closed; apply switches over it exhaustively.
type Payload interface {
	Type() models.RequestType
	sealed()
}

// TaskSpec describes a task proposed through the gate
type TaskSpec struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	CompletionCriteria string `json:"completion_criteria"`
}

// SendMemo delivers a memo to the target role
type SendMemo struct {
	Content string
	// CompletionUpdate marks the memo raised when a task completes; it never
	// derives new work for its recipient.
	CompletionUpdate bool
}

// StartTask creates a task for the target role
type StartTask struct{ Spec TaskSpec }

// SuggestNextTask is a follow-up task proposed after finishing work
type SuggestNextTask struct{ Spec TaskSpec }

// ContinueTask resumes a blocked or pending task
type ContinueTask struct {
	TaskID string `json:"task_id"`
}

// ReviewOutput asks governance to review a completed task's output
type ReviewOutput struct {
	TaskID             string `json:"task_id"`
	Summary            string `json:"summary"`
	ObjectiveID        string `json:"objective_id,omitempty"`
	ObjectiveCompleted bool   `json:"objective_completed"`
}

func (SendMemo) Type() models.RequestType        { return models.RequestSendMemo }
func (StartTask) Type() models.RequestType       { return models.RequestStartTask }
func (SuggestNextTask) Type() models.RequestType { return models.RequestSuggestNextTask }
func (ContinueTask) Type() models.RequestType    { return models.RequestContinueTask }
func (ReviewOutput) Type() models.RequestType    { return models.RequestReviewOutput }

func (SendMemo) sealed()        {}
func (StartTask) sealed()       {}
func (SuggestNextTask) sealed() {}
func (ContinueTask) sealed()    {}
func (ReviewOutput) sealed()    {}

// ParsePayload decodes a request's content. A non-empty edited replaces the
// proposed content, so reviewers can rewrite a proposal before approving it.
func ParsePayload(req *models.WorkflowRequest, edited string) (Payload, error) {
	content := req.ProposedContent
	if strings.TrimSpace(edited) != "" {
		content = edited
	}

	switch req.RequestType {
	case models.RequestSendMemo:
		body := strings.TrimSpace(content)
		if body == "" {
			return nil, fmt.Errorf("%w: memo content is empty", ErrInvalidRequest)
		}
		return SendMemo{Content: body, CompletionUpdate: req.SourceTaskID != nil}, nil

	case models.RequestStartTask, models.RequestSuggestNextTask:
		spec, err := parseTaskSpec(content, req.Summary)
		if err != nil {
			return nil, err
		}
		if req.RequestType == models.RequestStartTask {
			return StartTask{Spec: spec}, nil
		}
		return SuggestNextTask{Spec: spec}, nil

	case models.RequestContinueTask:
		var p ContinueTask
		_ = json.Unmarshal([]byte(content), &p)
		if p.TaskID == "" && req.SourceTaskID != nil {
			p.TaskID = *req.SourceTaskID
		}
		if p.TaskID == "" {
			return nil, fmt.Errorf("%w: continue_task needs a task_id", ErrInvalidRequest)
		}
		return p, nil

	case models.RequestReviewOutput:
		var p ReviewOutput
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			p = ReviewOutput{Summary: strings.TrimSpace(content)}
		}
		if p.TaskID == "" && req.SourceTaskID != nil {
			p.TaskID = *req.SourceTaskID
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: unknown request type %q", ErrInvalidRequest, req.RequestType)
}

// parseTaskSpec reads {title, description, completion_criteria}. Content that
// is not such an object becomes the description.
func parseTaskSpec(content, summary string) (TaskSpec, error) {
	var spec TaskSpec
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &spec); err != nil || spec == (TaskSpec{}) {
		spec = TaskSpec{Description: strings.TrimSpace(content)}
	}
	spec.Title = strings.TrimSpace(spec.Title)
	spec.Description = strings.TrimSpace(spec.Description)
	spec.CompletionCriteria = strings.TrimSpace(spec.CompletionCriteria)

	if spec.Title == "" {
		spec.Title = strings.TrimSpace(summary)
	}
	if spec.Title == "" {
		spec.Title = headline(spec.Description)
	}
	if spec.Title == "" {
		return TaskSpec{}, fmt.Errorf("%w: task has no title or description", ErrInvalidRequest)
	}
	return spec, nil
}

// encodePayload renders p as proposed_content
func encodePayload(p Payload) string {
	switch v := p.(type) {
	case SendMemo:
		return v.Content
	case StartTask:
		return mustJSON(v.Spec)
	case SuggestNextTask:
		return mustJSON(v.Spec)
	case ContinueTask:
		return mustJSON(v)
	case ReviewOutput:
		return mustJSON(v)
	}
	return ""
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only plain structs reach here
		panic(err)
	}
	return string(b)
}
