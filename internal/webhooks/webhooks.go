// Package webhooks hands external work to a company's automation endpoints
// and applies their callbacks.
package webhooks

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jordanhubbard/axis/internal/metrics"
	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

var (
	// ErrActionNotFound is returned for an unknown output action
	ErrActionNotFound = errors.New("output action not found")
	// ErrUnauthorized means the api_key matched no active webhook of the company
	ErrUnauthorized = errors.New("invalid webhook api key")
	// ErrInvalidCallback is returned for a malformed callback
	ErrInvalidCallback = errors.New("invalid callback")
)

// TaskFinisher closes tasks whose work happened outside the system
type TaskFinisher interface {
	CompleteExternal(ctx context.Context, taskID, summary string) (*models.Task, error)
	BlockExternal(ctx context.Context, taskID, reason string) (*models.Task, error)
}

// Store is what the service persists through
type Store interface {
	store.ActionStore
	ListActiveWebhooks(ctx context.Context, companyID string) ([]*models.Webhook, error)
	CreateWebhook(ctx context.Context, hook *models.Webhook) error
}

// Artifact is an inline deliverable attached to a callback
type Artifact struct {
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Callback is the body of POST /webhooks/callback
type Callback struct {
	ActionID  string     `json:"action_id"`
	Status    string     `json:"status"`
	Notes     string     `json:"notes"`
	APIKey    string     `json:"api_key"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Result reports what a callback or human completion did
type Result struct {
	Action           *models.OutputAction `json:"action"`
	Task             *models.Task         `json:"task,omitempty"`
	AlreadyProcessed bool                 `json:"already_processed,omitempty"`
}

// Event is the JSON posted to each webhook
type Event struct {
	Event       string                  `json:"event"`
	ActionID    string                  `json:"action_id"`
	TaskID      string                  `json:"task_id"`
	CompanyID   string                  `json:"company_id"`
	ActionType  models.OutputActionType `json:"action_type"`
	Data        models.OutputActionData `json:"data"`
	CallbackURL string                  `json:"callback_url,omitempty"`
}

// Service dispatches output actions and resolves them
type Service struct {
	store   Store
	tasks   TaskFinisher
	client  *http.Client
	cfg     config.WebhooksConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a webhook service
func NewService(st Store, tasks TaskFinisher, cfg config.WebhooksConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store: st,
		tasks: tasks,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cfg:    cfg,
		logger: logger.Named("webhooks"),
	}
}

// SetMetrics enables Prometheus recording
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetHTTPClient replaces the outbound client
func (s *Service) SetHTTPClient(c *http.Client) {
	s.client = c
}

// Register creates an active webhook and returns it with its plaintext
// secret. Only the bcrypt hash is stored.
func (s *Service) Register(ctx context.Context, companyID, name, url string) (*models.Webhook, string, error) {
	if companyID == "" || !strings.HasPrefix(url, "http") {
		return nil, "", fmt.Errorf("%w: company and http(s) url are required", ErrInvalidCallback)
	}
	secret, err := newSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	hook := &models.Webhook{
		CompanyID:  companyID,
		Name:       name,
		URL:        url,
		SecretHash: string(hash),
		IsActive:   true,
	}
	if err := s.store.CreateWebhook(ctx, hook); err != nil {
		return nil, "", err
	}
	return hook, secret, nil
}

// HandleDispatchJob posts a pending action to every active webhook of its
// company. A failed post returns an error so the queue redelivers the job.
func (s *Service) HandleDispatchJob(ctx context.Context, job *queue.Job) error {
	action, err := s.store.GetOutputAction(ctx, job.ActionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("%w: %s", ErrActionNotFound, job.ActionID))
		}
		return err
	}
	logger := s.logger.With(zap.String("action_id", action.ID), zap.String("task_id", action.TaskID))
	if action.Status != models.OutputActionPending {
		logger.Debug("Skipping dispatch of resolved action", zap.String("status", string(action.Status)))
		return nil
	}

	hooks, err := s.store.ListActiveWebhooks(ctx, action.CompanyID)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		s.metrics.RecordWebhookDispatch("no_webhooks")
		logger.Warn("No active webhooks for external action", zap.String("company_id", action.CompanyID))
		return nil
	}

	body, err := json.Marshal(Event{
		Event:       "output_action.created",
		ActionID:    action.ID,
		TaskID:      action.TaskID,
		CompanyID:   action.CompanyID,
		ActionType:  action.ActionType,
		Data:        action.Data(),
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		return queue.Permanent(err)
	}

	var failed []error
	for _, hook := range hooks {
		if err := s.post(ctx, hook, body); err != nil {
			s.metrics.RecordWebhookDispatch("error")
			logger.Warn("Webhook dispatch failed", zap.String("webhook_id", hook.ID), zap.Error(err))
			failed = append(failed, err)
			continue
		}
		s.metrics.RecordWebhookDispatch("delivered")
		logger.Info("Webhook dispatched", zap.String("webhook_id", hook.ID))
	}
	return errors.Join(failed...)
}

func (s *Service) post(ctx context.Context, hook *models.Webhook, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Axis-Webhook-ID", hook.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", hook.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook %s: unexpected status code %d: %s", hook.ID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// HandleCallback authenticates and applies an external completion report.
// Callbacks for an already resolved action change nothing.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (*Result, error) {
	if cb.ActionID == "" || cb.APIKey == "" {
		return nil, fmt.Errorf("%w: action_id and api_key are required", ErrInvalidCallback)
	}
	status := models.OutputActionStatus(strings.ToLower(strings.TrimSpace(cb.Status)))
	if status != models.OutputActionCompleted && status != models.OutputActionFailed {
		return nil, fmt.Errorf("%w: status must be completed or failed, got %q", ErrInvalidCallback, cb.Status)
	}

	action, err := s.getAction(ctx, cb.ActionID)
	if err != nil {
		return nil, err
	}
	hook, err := s.authenticate(ctx, action.CompanyID, cb.APIKey)
	if err != nil {
		return nil, err
	}
	by := "webhook:" + hook.ID
	return s.resolve(ctx, action, status, by, cb.Notes, cb.Artifacts)
}

// CompleteAction records a human's completion of a delegated or external action
func (s *Service) CompleteAction(ctx context.Context, actionID, by, notes string) (*Result, error) {
	action, err := s.getAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, action, models.OutputActionCompleted, by, notes, nil)
}

// GetAction loads an output action
func (s *Service) GetAction(ctx context.Context, id string) (*models.OutputAction, error) {
	return s.getAction(ctx, id)
}

func (s *Service) getAction(ctx context.Context, id string) (*models.OutputAction, error) {
	action, err := s.store.GetOutputAction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
		}
		return nil, err
	}
	return action, nil
}

func (s *Service) authenticate(ctx context.Context, companyID, apiKey string) (*models.Webhook, error) {
	hooks, err := s.store.ListActiveWebhooks(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, hook := range hooks {
		if bcrypt.CompareHashAndPassword([]byte(hook.SecretHash), []byte(apiKey)) == nil {
			return hook, nil
		}
	}
	return nil, ErrUnauthorized
}

func (s *Service) resolve(ctx context.Context, action *models.OutputAction, status models.OutputActionStatus, by, notes string, artifacts []Artifact) (*Result, error) {
	logger := s.logger.With(zap.String("action_id", action.ID), zap.String("task_id", action.TaskID))

	ok, err := s.store.ResolveOutputAction(ctx, action.ID, status, by, notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.getAction(ctx, action.ID)
		if err != nil {
			return nil, err
		}
		logger.Info("Output action already resolved", zap.String("status", string(current.Status)))
		return &Result{Action: current, AlreadyProcessed: true}, nil
	}

	// the action is resolved; its task follows even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	var task *models.Task
	if status == models.OutputActionCompleted {
		task, err = s.tasks.CompleteExternal(ctx, action.TaskID, completionSummary(action, notes, artifacts))
	} else {
		reason := strings.TrimSpace(notes)
		if reason == "" {
			reason = "external executor reported failure"
		}
		task, err = s.tasks.BlockExternal(ctx, action.TaskID, reason)
	}
	if err != nil {
		logger.Error("Failed to apply output action to task", zap.String("status", string(status)), zap.Error(err))
		return nil, err
	}
	logger.Info("Output action resolved", zap.String("status", string(status)), zap.String("by", by))

	current, err := s.getAction(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Action: current, Task: task}, nil
}

func completionSummary(action *models.OutputAction, notes string, artifacts []Artifact) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(notes))
	for _, a := range artifacts {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		name := a.Name
		if name == "" {
			name = "Artifact"
		}
		fmt.Fprintf(&b, "## %s\n", name)
		if a.Content != "" {
			b.WriteString(strings.TrimSpace(a.Content))
		} else {
			b.WriteString(a.URL)
		}
	}
	if b.Len() == 0 {
		return "Completed externally: " + action.Data().Summary
	}
	return b.String()
}

func newSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
