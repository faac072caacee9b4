// Package engine is the client for the workflow engine's external-task REST
// API (spec.md §6), plus the wire types that flow between the engine and the
// rest of the bridge (spec.md §3).
package engine

import (
	"encoding/json"
	"time"

	"github.com/vlikhobabin/camunda-bridge/internal/engine/vartype"
)

// ActivityInfo is the activity-level summary carried in ActivityMetadata.
type ActivityInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// ActivityMetadata is the BPMN service-task metadata the Metadata Cache
// extracts and the Poller attaches to every WorkItem (spec.md §3.2).
type ActivityMetadata struct {
	ExtensionProperties map[string]string `json:"extensionProperties,omitempty"`
	FieldInjections     map[string]string `json:"fieldInjections,omitempty"`
	InputParameters     map[string]string `json:"inputParameters,omitempty"`
	OutputParameters    map[string]string `json:"outputParameters,omitempty"`
	ActivityInfo        ActivityInfo      `json:"activityInfo"`
}

// WorkItem is the message the Poller publishes to the main exchange
// (spec.md §3.1). taskId is the idempotency key preserved verbatim on every
// hop.
type WorkItem struct {
	TaskID               string           `json:"taskId"`
	Topic                string           `json:"topic"`
	System               string           `json:"system"`
	ProcessInstanceID     string          `json:"processInstanceId"`
	ProcessDefinitionID   string          `json:"processDefinitionId"`
	ProcessDefinitionKey  string          `json:"processDefinitionKey"`
	ActivityID            string          `json:"activityId"`
	ActivityInstanceID    string          `json:"activityInstanceId"`
	BusinessKey           string          `json:"businessKey"`
	TenantID              string          `json:"tenantId"`
	WorkerID              string          `json:"workerId"`
	Retries               *int            `json:"retries"`
	Priority              int             `json:"priority"`
	CreatedTime            string         `json:"createdTime"`
	Timestamp              int64          `json:"timestamp"`
	Variables              vartype.Map    `json:"variables"`
	Metadata               ActivityMetadata `json:"metadata"`
}

// ResponseType enumerates the terminal outcomes a handler can report
// (spec.md §3.3).
type ResponseType string

const (
	ResponseComplete  ResponseType = "complete"
	ResponseFailure   ResponseType = "failure"
	ResponseBPMNError ResponseType = "bpmn_error"
)

// ResponseMessage is what a handler (or the Reconciliation Tracker) places
// on the response queue to finalize a task (spec.md §3.3).
type ResponseMessage struct {
	TaskID          string       `json:"taskId"`
	ResponseType    ResponseType `json:"responseType"`
	WorkerID        string       `json:"workerId"`
	Variables       vartype.Map  `json:"variables,omitempty"`
	LocalVariables  vartype.Map  `json:"localVariables,omitempty"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
	ErrorDetails    string       `json:"errorDetails,omitempty"`
	Retries         *int         `json:"retries,omitempty"`
	RetryTimeout    *int         `json:"retryTimeout,omitempty"`
	ErrorCode       string       `json:"errorCode,omitempty"`
}

// Validate checks the required fields for a ResponseMessage (spec.md §4.7
// step 1).
func (r ResponseMessage) Validate() error {
	if r.TaskID == "" {
		return errMissingField("taskId")
	}
	if r.ResponseType == "" {
		return errMissingField("responseType")
	}
	if r.WorkerID == "" {
		return errMissingField("workerId")
	}
	switch r.ResponseType {
	case ResponseComplete, ResponseFailure, ResponseBPMNError:
	default:
		return errUnknownResponseType(r.ResponseType)
	}
	return nil
}

// ProcessingStatus enumerates SentMirror.ProcessingStatus values.
type ProcessingStatus string

const (
	ProcessingSuccess ProcessingStatus = "success"
)

// SentMirror is the handler's out-of-band record of "I finished this task",
// independent of the response queue (spec.md §3.4).
type SentMirror struct {
	Timestamp        int64            `json:"timestamp"`
	ProcessedAt      int64            `json:"processedAt"`
	OriginalQueue    string           `json:"originalQueue"`
	OriginalMessage  WorkItem         `json:"originalMessage"`
	ResponseData     any              `json:"responseData"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
}

// IsTerminalSuccess reports whether this mirror represents a completed,
// successful outcome (spec.md §4.8 step 2: "whose processingStatus
// indicates terminal success").
func (s SentMirror) IsTerminalSuccess() bool {
	return s.ProcessingStatus == ProcessingSuccess
}

// LockRecord is the engine-side view of a locked external task, as observed
// by the Recovery Utility (spec.md §3.6).
type LockRecord struct {
	TaskID             string     `json:"id"`
	WorkerID           string     `json:"workerId"`
	Topic              string     `json:"topicName"`
	LockExpirationTime *time.Time `json:"-"`
	ProcessInstanceID  string     `json:"processInstanceId"`
	ActivityID         string     `json:"activityId"`
	Retries            *int       `json:"retries"`
}

// camundaTimeLayouts are the timestamp formats the engine is observed to
// emit for lockExpirationTime, e.g. "2025-10-08T03:50:45.087+0000".
var camundaTimeLayouts = []string{
	"2006-01-02T15:04:05.999-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	time.RFC3339,
}

// UnmarshalJSON parses the engine's lockExpirationTime format, which is not
// standard RFC3339 (grounded on the camunda worker's ExternalTask decoder).
func (l *LockRecord) UnmarshalJSON(data []byte) error {
	type alias LockRecord
	aux := &struct {
		LockExpirationTime *string `json:"lockExpirationTime"`
		*alias
	}{alias: (*alias)(l)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.LockExpirationTime == nil || *aux.LockExpirationTime == "" {
		return nil
	}
	var lastErr error
	for _, layout := range camundaTimeLayouts {
		t, err := time.Parse(layout, *aux.LockExpirationTime)
		if err == nil {
			l.LockExpirationTime = &t
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// FinalizedEvent is the thin, non-authoritative broadcast the Reconciliation
// Tracker publishes to the notification fan-out stream. The response queue
// and sent-mirror queues remain the systems of record; this is for
// dashboards and other internal consumers that want a push feed.
type FinalizedEvent struct {
	TaskID      string `json:"taskId"`
	System      string `json:"system"`
	Topic       string `json:"topic"`
	Outcome     string `json:"outcome"`
	FinalizedAt int64  `json:"finalizedAt"`
}

// OutcomeAuditRecord is the Kafka audit-stream payload: a terminal
// ResponseMessage plus who processed it and when.
type OutcomeAuditRecord struct {
	ResponseMessage
	ProcessedBy string `json:"processedBy"`
	ProcessedAt int64  `json:"processedAt"`
}

type fieldError struct{ field string }

func (e fieldError) Error() string { return "engine: missing required field " + e.field }
func errMissingField(f string) error { return fieldError{field: f} }

type responseTypeError struct{ got ResponseType }

func (e responseTypeError) Error() string { return "engine: unknown responseType " + string(e.got) }
func errUnknownResponseType(t ResponseType) error { return responseTypeError{got: t} }
