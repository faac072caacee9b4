package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vlikhobabin/camunda-bridge/internal/engine/vartype"
)

// Client talks to the workflow engine's external-task REST API
// (spec.md §6). All methods carry a fixed 30s HTTP timeout and are retried
// only at the broker-adapter layer, never here (spec.md §5: "the Poller and
// Response Loop do not retry engine HTTP calls beyond one attempt per
// message").
type Client struct {
	baseURL  string
	username string
	password string
	auth     bool
	http     *http.Client
}

// NewClient builds an engine Client. baseURL may or may not already end in
// "/engine-rest"; both are normalized the way the original source does.
func NewClient(baseURL, username, password string, auth bool) *Client {
	base := strings.TrimSuffix(baseURL, "/")
	if !strings.HasSuffix(base, "/engine-rest") {
		base += "/engine-rest"
	}
	return &Client{
		baseURL:  base,
		username: username,
		password: password,
		auth:     auth,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type fetchAndLockTopic struct {
	TopicName                   string   `json:"topicName"`
	LockDuration                 int     `json:"lockDuration"`
	Variables                    []string `json:"variables,omitempty"`
	DeserializeValues            bool    `json:"deserializeValues"`
	IncludeExtensionProperties   bool    `json:"includeExtensionProperties"`
}

type fetchAndLockRequest struct {
	WorkerID              string              `json:"workerId"`
	MaxTasks              int                 `json:"maxTasks"`
	AsyncResponseTimeout  int                 `json:"asyncResponseTimeout"`
	Topics                []fetchAndLockTopic `json:"topics"`
}

// ExternalTask is the engine's raw fetch-and-lock response shape.
type ExternalTask struct {
	ID                   string      `json:"id"`
	TopicName            string      `json:"topicName"`
	WorkerID             string      `json:"workerId"`
	ProcessInstanceID    string      `json:"processInstanceId"`
	ProcessDefinitionID  string      `json:"processDefinitionId"`
	ProcessDefinitionKey string      `json:"processDefinitionKey"`
	ActivityID           string      `json:"activityId"`
	ActivityInstanceID   string      `json:"activityInstanceId"`
	BusinessKey          string      `json:"businessKey"`
	TenantID             string      `json:"tenantId"`
	Retries              *int        `json:"retries"`
	Priority             int         `json:"priority"`
	CreateTime           string      `json:"createTime"`
	Variables            vartype.Map `json:"variables"`
}

// FetchAndLock calls POST /external-task/fetchAndLock for a single topic
// (spec.md §4.4 step 1, §6).
func (c *Client) FetchAndLock(ctx context.Context, workerID, topic string, maxTasks, lockDurationMillis, asyncResponseTimeoutMillis int) ([]ExternalTask, error) {
	req := fetchAndLockRequest{
		WorkerID:             workerID,
		MaxTasks:             maxTasks,
		AsyncResponseTimeout: asyncResponseTimeoutMillis,
		Topics: []fetchAndLockTopic{{
			TopicName:                 topic,
			LockDuration:              lockDurationMillis,
			DeserializeValues:         false,
			IncludeExtensionProperties: true,
		}},
	}

	var tasks []ExternalTask
	if err := c.post(ctx, "/external-task/fetchAndLock", req, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Complete calls POST /external-task/{id}/complete (spec.md §4.7).
// An engine 404 is treated as success: the task is already closed
// (spec.md §7, "Not found").
func (c *Client) Complete(ctx context.Context, taskID, workerID string, variables, localVariables vartype.Map) error {
	body := map[string]any{"workerId": workerID}
	if len(variables) > 0 {
		body["variables"] = variables
	}
	if len(localVariables) > 0 {
		body["localVariables"] = localVariables
	}
	return c.postIdempotent(ctx, fmt.Sprintf("/external-task/%s/complete", taskID), body)
}

// Failure calls POST /external-task/{id}/failure (spec.md §4.7, §4.4 step 2d).
func (c *Client) Failure(ctx context.Context, taskID, workerID, errorMessage, errorDetails string, retries, retryTimeoutMillis int) error {
	body := map[string]any{
		"workerId":     workerID,
		"errorMessage": errorMessage,
		"errorDetails": errorDetails,
		"retries":      retries,
		"retryTimeout": retryTimeoutMillis,
	}
	return c.postIdempotent(ctx, fmt.Sprintf("/external-task/%s/failure", taskID), body)
}

// BPMNError calls POST /external-task/{id}/bpmnError (spec.md §4.7).
func (c *Client) BPMNError(ctx context.Context, taskID, workerID, errorCode, errorMessage string, variables vartype.Map) error {
	body := map[string]any{
		"workerId":     workerID,
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
	}
	if len(variables) > 0 {
		body["variables"] = variables
	}
	return c.postIdempotent(ctx, fmt.Sprintf("/external-task/%s/bpmnError", taskID), body)
}

// Unlock calls POST /external-task/{id}/unlock (Recovery only, spec.md §4.9).
func (c *Client) Unlock(ctx context.Context, taskID string) error {
	return c.postIdempotent(ctx, fmt.Sprintf("/external-task/%s/unlock", taskID), map[string]any{})
}

// ProcessDefinitionXML calls GET /process-definition/{id}/xml (spec.md §4.3 step 2).
func (c *Client) ProcessDefinitionXML(ctx context.Context, processDefinitionID string) (string, error) {
	var out struct {
		ID        string `json:"id"`
		BPMN20XML string `json:"bpmn20Xml"`
	}
	if err := c.get(ctx, fmt.Sprintf("/process-definition/%s/xml", processDefinitionID), &out); err != nil {
		return "", err
	}
	return out.BPMN20XML, nil
}

// ListLockedTasks calls GET /external-task?workerId=... (Recovery only,
// spec.md §4.9 step 1). workerID may be empty to list all locked tasks.
func (c *Client) ListLockedTasks(ctx context.Context, workerID string) ([]LockRecord, error) {
	path := "/external-task?locked=true"
	if workerID != "" {
		path += "&workerId=" + workerID
	}
	var records []LockRecord
	if err := c.get(ctx, path, &records); err != nil {
		return nil, err
	}
	locked := records[:0]
	for _, r := range records {
		if r.WorkerID != "" {
			locked = append(locked, r)
		}
	}
	return locked, nil
}

// TaskStatus calls GET /external-task/{id} for diagnostics (spec.md §6).
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*LockRecord, error) {
	var rec LockRecord
	if err := c.get(ctx, fmt.Sprintf("/external-task/%s", taskID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ProcessDefinitionSummary is one entry from GET /process-definition
// (spec.md §6, "process list|info|start|stop|delete").
type ProcessDefinitionSummary struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// ListProcessDefinitions calls GET /process-definition?latestVersion=true.
func (c *Client) ListProcessDefinitions(ctx context.Context) ([]ProcessDefinitionSummary, error) {
	var defs []ProcessDefinitionSummary
	if err := c.get(ctx, "/process-definition?latestVersion=true", &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// ProcessDefinition calls GET /process-definition/{id}.
func (c *Client) ProcessDefinition(ctx context.Context, processDefinitionID string) (*ProcessDefinitionSummary, error) {
	var def ProcessDefinitionSummary
	if err := c.get(ctx, fmt.Sprintf("/process-definition/%s", processDefinitionID), &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ProcessInstance is one running or historic process instance.
type ProcessInstance struct {
	ID                  string `json:"id"`
	ProcessDefinitionID string `json:"processDefinitionId"`
	BusinessKey         string `json:"businessKey"`
	Ended               bool   `json:"ended"`
	Suspended           bool   `json:"suspended"`
}

// StartProcessInstance calls POST /process-definition/{id}/start with
// typed variables and an optional business key.
func (c *Client) StartProcessInstance(ctx context.Context, processDefinitionID, businessKey string, variables vartype.Map) (*ProcessInstance, error) {
	body := map[string]any{}
	if businessKey != "" {
		body["businessKey"] = businessKey
	}
	if len(variables) > 0 {
		body["variables"] = variables
	}
	var instance ProcessInstance
	if err := c.post(ctx, fmt.Sprintf("/process-definition/%s/start", processDefinitionID), body, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// ListProcessInstances calls GET /process-instance, optionally filtered by
// processDefinitionID (empty lists every running instance).
func (c *Client) ListProcessInstances(ctx context.Context, processDefinitionID string) ([]ProcessInstance, error) {
	path := "/process-instance"
	if processDefinitionID != "" {
		path += "?processDefinitionId=" + processDefinitionID
	}
	var instances []ProcessInstance
	if err := c.get(ctx, path, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// SuspendProcessInstance calls PUT /process-instance/{id}/suspended to stop
// (suspended=true) or resume (suspended=false) an instance.
func (c *Client) SuspendProcessInstance(ctx context.Context, processInstanceID string, suspended bool) error {
	return c.put(ctx, fmt.Sprintf("/process-instance/%s/suspended", processInstanceID), map[string]any{"suspended": suspended})
}

// DeleteProcessInstance calls DELETE /process-instance/{id}.
func (c *Client) DeleteProcessInstance(ctx context.Context, processInstanceID, reason string) error {
	path := fmt.Sprintf("/process-instance/%s", processInstanceID)
	if reason != "" {
		path += "?deleteReason=" + url.QueryEscape(reason)
	}
	return c.delete(ctx, path)
}

// IsNotFound reports whether err represents an engine 404.
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.StatusCode == http.StatusNotFound
}

// StatusError wraps a non-2xx HTTP response from the engine.
type StatusError struct {
	StatusCode int
	Body       string
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine: %s: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

// postIdempotent performs a POST expecting 204, treating 404 as success per
// spec.md §7 ("Not found ... treated as success").
func (c *Client) postIdempotent(ctx context.Context, path string, body any) error {
	err := c.post(ctx, path, body, nil)
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("engine: marshal request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("engine: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("engine: build request for %s: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("engine: marshal request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("engine: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, nil)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("engine: build request for %s: %w", path, err)
	}
	return c.do(req, path, nil)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	if c.auth {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: buf.String(), Path: path}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("engine: decode response from %s: %w", path, err)
	}
	return nil
}
