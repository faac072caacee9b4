// Package enginetest is an httptest-backed fake of the engine's
// external-task REST API, used in place of a live engine throughout the
// bridge's test suite.
package enginetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
)

// Server is a fake engine. Call NewServer, point a Client at Server.URL(),
// then seed locked tasks with LockTask and inspect outcomes via Completed/
// Failed/BPMNErrors/Unlocked.
type Server struct {
	srv *httptest.Server

	mu             sync.Mutex
	locked         map[string]engine.ExternalTask
	lockExpiration map[string]string
	known          map[string]bool
	xmlByDef       map[string]string
	completed  []Completion
	failed     []Failure
	bpmnErrors []BPMNError
	unlocked   []string

	definitions map[string]engine.ProcessDefinitionSummary
	instances   map[string]engine.ProcessInstance
	nextID      int
}

// Completion records a /complete call.
type Completion struct {
	TaskID         string
	WorkerID       string
	Variables      map[string]json.RawMessage
	LocalVariables map[string]json.RawMessage
}

// Failure records a /failure call.
type Failure struct {
	TaskID       string
	WorkerID     string
	ErrorMessage string
	ErrorDetails string
	Retries      int
	RetryTimeout int
}

// BPMNError records a /bpmnError call.
type BPMNError struct {
	TaskID       string
	WorkerID     string
	ErrorCode    string
	ErrorMessage string
}

// NewServer starts a fake engine HTTP server.
func NewServer() *Server {
	s := &Server{
		locked:         make(map[string]engine.ExternalTask),
		lockExpiration: make(map[string]string),
		known:          make(map[string]bool),
		xmlByDef:       make(map[string]string),
		definitions:    make(map[string]engine.ProcessDefinitionSummary),
		instances:      make(map[string]engine.ProcessInstance),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/engine-rest/external-task/fetchAndLock", s.handleFetchAndLock)
	mux.HandleFunc("/engine-rest/external-task", s.handleListLockedTasks)
	mux.HandleFunc("/engine-rest/external-task/", s.handleTaskAction)
	mux.HandleFunc("/engine-rest/process-definition", s.handleListProcessDefinitions)
	mux.HandleFunc("/engine-rest/process-definition/", s.handleProcessDefinitionRoute)
	mux.HandleFunc("/engine-rest/process-instance", s.handleListProcessInstances)
	mux.HandleFunc("/engine-rest/process-instance/", s.handleProcessInstanceRoute)
	s.srv = httptest.NewServer(mux)
	return s
}

// SeedProcessDefinition registers a process definition so ListProcessDefinitions/
// ProcessDefinition/StartProcessInstance can find it.
func (s *Server) SeedProcessDefinition(def engine.ProcessDefinitionSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[def.ID] = def
}

// Instances returns every process instance started via StartProcessInstance.
func (s *Server) Instances() map[string]engine.ProcessInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]engine.ProcessInstance, len(s.instances))
	for k, v := range s.instances {
		out[k] = v
	}
	return out
}

// URL returns the fake engine's base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts down the fake engine.
func (s *Server) Close() { s.srv.Close() }

// LockTask seeds a task as already locked and returnable by fetchAndLock.
func (s *Server) LockTask(task engine.ExternalTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[task.ID] = task
	s.known[task.ID] = true
}

// SetLockExpiration seeds the lockExpirationTime a locked task reports via
// ListLockedTasks/TaskStatus, in the engine's own timestamp format (e.g.
// "2025-10-08T03:50:45.087+0000").
func (s *Server) SetLockExpiration(taskID, lockExpirationTime string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockExpiration[taskID] = lockExpirationTime
}

// SetProcessDefinitionXML seeds the BPMN XML returned for a process
// definition id.
func (s *Server) SetProcessDefinitionXML(processDefinitionID, bpmnXML string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xmlByDef[processDefinitionID] = bpmnXML
}

func (s *Server) Completed() []Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Completion, len(s.completed))
	copy(out, s.completed)
	return out
}

func (s *Server) Failed() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Failure, len(s.failed))
	copy(out, s.failed)
	return out
}

func (s *Server) BPMNErrors() []BPMNError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BPMNError, len(s.bpmnErrors))
	copy(out, s.bpmnErrors)
	return out
}

func (s *Server) Unlocked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.unlocked))
	copy(out, s.unlocked)
	return out
}

func (s *Server) handleFetchAndLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topics []struct {
			TopicName string `json:"topicName"`
		} `json:"topics"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	wanted := map[string]bool{}
	for _, t := range req.Topics {
		wanted[t.TopicName] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.ExternalTask
	for id, task := range s.locked {
		if wanted[task.TopicName] {
			out = append(out, task)
			delete(s.locked, id)
		}
	}
	if out == nil {
		out = []engine.ExternalTask{}
	}
	writeJSON(w, http.StatusOK, out)
}

// lockedTaskView mirrors the engine's external-task listing shape
// (engine.LockRecord's JSON tags).
type lockedTaskView struct {
	ID                 string `json:"id"`
	WorkerID           string `json:"workerId"`
	TopicName          string `json:"topicName"`
	LockExpirationTime string `json:"lockExpirationTime,omitempty"`
	ProcessInstanceID  string `json:"processInstanceId"`
	ActivityID         string `json:"activityId"`
	Retries            *int   `json:"retries"`
}

func (s *Server) handleListLockedTasks(w http.ResponseWriter, r *http.Request) {
	workerFilter := r.URL.Query().Get("workerId")

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []lockedTaskView
	for id, task := range s.locked {
		if workerFilter != "" && task.WorkerID != workerFilter {
			continue
		}
		out = append(out, lockedTaskView{
			ID:                 id,
			WorkerID:           task.WorkerID,
			TopicName:          task.TopicName,
			LockExpirationTime: s.lockExpiration[id],
			ProcessInstanceID:  task.ProcessInstanceID,
			ActivityID:         task.ActivityID,
			Retries:            task.Retries,
		})
	}
	if out == nil {
		out = []lockedTaskView{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	// Path shape: /engine-rest/external-task/{id}/{action}
	path := r.URL.Path[len("/engine-rest/external-task/"):]
	taskID, action := splitLast(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if action != "" && !s.known[taskID] {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch action {
	case "complete":
		var body struct {
			WorkerID       string                     `json:"workerId"`
			Variables      map[string]json.RawMessage `json:"variables"`
			LocalVariables map[string]json.RawMessage `json:"localVariables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.completed = append(s.completed, Completion{TaskID: taskID, WorkerID: body.WorkerID, Variables: body.Variables, LocalVariables: body.LocalVariables})
		w.WriteHeader(http.StatusNoContent)
	case "failure":
		var body struct {
			WorkerID     string `json:"workerId"`
			ErrorMessage string `json:"errorMessage"`
			ErrorDetails string `json:"errorDetails"`
			Retries      int    `json:"retries"`
			RetryTimeout int    `json:"retryTimeout"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.failed = append(s.failed, Failure{TaskID: taskID, WorkerID: body.WorkerID, ErrorMessage: body.ErrorMessage, ErrorDetails: body.ErrorDetails, Retries: body.Retries, RetryTimeout: body.RetryTimeout})
		w.WriteHeader(http.StatusNoContent)
	case "bpmnError":
		var body struct {
			WorkerID     string `json:"workerId"`
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.bpmnErrors = append(s.bpmnErrors, BPMNError{TaskID: taskID, WorkerID: body.WorkerID, ErrorCode: body.ErrorCode, ErrorMessage: body.ErrorMessage})
		w.WriteHeader(http.StatusNoContent)
	case "unlock":
		s.unlocked = append(s.unlocked, taskID)
		w.WriteHeader(http.StatusNoContent)
	case "":
		if _, ok := s.locked[taskID]; ok {
			writeJSON(w, http.StatusOK, s.locked[taskID])
			return
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleListProcessDefinitions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.ProcessDefinitionSummary, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, def)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleProcessDefinitionRoute dispatches /process-definition/{id},
// /process-definition/{id}/xml, and /process-definition/{id}/start.
func (s *Server) handleProcessDefinitionRoute(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/engine-rest/process-definition/"):]
	if strings.HasSuffix(path, "/xml") {
		s.handleProcessDefinitionXML(w, strings.TrimSuffix(path, "/xml"))
		return
	}
	if strings.HasSuffix(path, "/start") {
		s.handleStartProcessInstance(w, r, strings.TrimSuffix(path, "/start"))
		return
	}
	s.handleGetProcessDefinition(w, path)
}

func (s *Server) handleProcessDefinitionXML(w http.ResponseWriter, defID string) {
	s.mu.Lock()
	xmlBody, ok := s.xmlByDef[defID]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": defID, "bpmn20Xml": xmlBody})
}

func (s *Server) handleGetProcessDefinition(w http.ResponseWriter, defID string) {
	s.mu.Lock()
	def, ok := s.definitions[defID]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleStartProcessInstance(w http.ResponseWriter, r *http.Request, defID string) {
	var body struct {
		BusinessKey string `json:"businessKey"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[defID]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.nextID++
	instance := engine.ProcessInstance{
		ID:                  fmt.Sprintf("pi-%d", s.nextID),
		ProcessDefinitionID: defID,
		BusinessKey:         body.BusinessKey,
	}
	s.instances[instance.ID] = instance
	writeJSON(w, http.StatusOK, instance)
}

func (s *Server) handleListProcessInstances(w http.ResponseWriter, r *http.Request) {
	defFilter := r.URL.Query().Get("processDefinitionId")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.ProcessInstance, 0, len(s.instances))
	for _, instance := range s.instances {
		if defFilter != "" && instance.ProcessDefinitionID != defFilter {
			continue
		}
		out = append(out, instance)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleProcessInstanceRoute dispatches /process-instance/{id} (DELETE)
// and /process-instance/{id}/suspended (PUT).
func (s *Server) handleProcessInstanceRoute(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/engine-rest/process-instance/"):]

	if strings.HasSuffix(path, "/suspended") {
		s.handleSuspendProcessInstance(w, r, strings.TrimSuffix(path, "/suspended"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodDelete:
		delete(s.instances, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, instance)
	}
}

func (s *Server) handleSuspendProcessInstance(w http.ResponseWriter, r *http.Request, instanceID string) {
	var body struct {
		Suspended bool `json:"suspended"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[instanceID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	instance.Suspended = body.Suspended
	s.instances[instanceID] = instance
	w.WriteHeader(http.StatusNoContent)
}

func splitLast(path string) (head, tail string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
