package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenticai/healthguard/internal/logging"
	"github.com/agenticai/healthguard/internal/workflow"
)

// createWorkflowHandler accepts a diagnosis request and enqueues it
func (s *Server) createWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	var req workflow.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	workflowID, err := s.workflowMgr.Create(r.Context(), req)
	if err != nil {
		logging.Error("api", "Failed to create workflow", map[string]interface{}{
			"subject_id": req.SubjectID,
			"error":      err.Error(),
		})
		s.sendWorkflowError(w, err)
		return
	}

	logging.Info("api", "Workflow created", map[string]interface{}{
		"workflow_id": workflowID,
		"subject_id":  req.SubjectID,
		"steps":       req.RequestedSteps,
	})
	logging.AuditLog(logging.AuditEntry{
		UserID:     s.getUserID(r),
		Action:     "create_workflow",
		Resource:   "workflow",
		ResourceID: workflowID,
		Result:     "success",
		Details:    map[string]interface{}{"subject_id": req.SubjectID, "priority": req.Priority},
		IP:         s.getClientIP(r),
		UserAgent:  r.UserAgent(),
	})

	s.sendResponse(w, http.StatusAccepted, Response{
		Success: true,
		Message: "Workflow accepted",
		Data: map[string]string{
			"workflow_id": workflowID,
		},
	})
}

// listWorkflowsHandler lists workflows for one subject
func (s *Server) listWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		s.sendError(w, http.StatusBadRequest, "subject_id query parameter is required")
		return
	}

	workflows, err := s.workflowMgr.ListForSubject(r.Context(), subjectID)
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Workflows retrieved successfully",
		Data: map[string]interface{}{
			"subject_id": subjectID,
			"workflows":  workflows,
			"count":      len(workflows),
		},
	})
}

// getStatusHandler returns the progress snapshot of a workflow
func (s *Server) getStatusHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	view, err := s.workflowMgr.Status(r.Context(), workflowID)
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Workflow status retrieved successfully",
		Data:    view,
	})
}

// getResultsHandler returns the aggregated report of a completed
// workflow. A workflow that has not completed yet yields 409 so callers
// can distinguish "retry later" from "does not exist".
func (s *Server) getResultsHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	report, err := s.workflowMgr.Results(r.Context(), workflowID)
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Workflow results retrieved successfully",
		Data:    report,
	})
}

// cancelWorkflowHandler requests cooperative cancellation
func (s *Server) cancelWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]
	requester := s.getUserID(r)

	cancelled, err := s.workflowMgr.Cancel(r.Context(), workflowID, requester)
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:     requester,
		Action:     "cancel_workflow",
		Resource:   "workflow",
		ResourceID: workflowID,
		Result:     "success",
		Details:    map[string]interface{}{"effective": cancelled},
		IP:         s.getClientIP(r),
		UserAgent:  r.UserAgent(),
	})

	message := "Workflow cancelled"
	if !cancelled {
		message = "Workflow already finished; cancellation had no effect"
	}
	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		Data: map[string]interface{}{
			"workflow_id": workflowID,
			"cancelled":   cancelled,
		},
	})
}
