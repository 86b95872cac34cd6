package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/agenticai/healthguard/internal/logging"
	"github.com/agenticai/healthguard/internal/patients"
)

func (s *Server) createPatientHandler(w http.ResponseWriter, r *http.Request) {
	var p patients.Patient
	if err := decodeBody(r, &p); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if p.Name == "" {
		s.sendError(w, http.StatusBadRequest, "Patient name is required")
		return
	}

	if p.ID == "" {
		p.ID = patients.NewID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.patientRepo.Insert(r.Context(), &p); err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:     s.getUserID(r),
		Action:     "create_patient",
		Resource:   "patient",
		ResourceID: p.ID,
		Result:     "success",
		IP:         s.getClientIP(r),
		UserAgent:  r.UserAgent(),
	})

	s.sendResponse(w, http.StatusCreated, Response{
		Success: true,
		Message: "Patient created successfully",
		Data:    p,
	})
}

func (s *Server) getPatientHandler(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]

	p, err := s.patientRepo.Get(r.Context(), patientID)
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Patient retrieved successfully",
		Data:    p,
	})
}

func (s *Server) updatePatientHandler(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]

	var p patients.Patient
	if err := decodeBody(r, &p); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p.ID = patientID
	p.UpdatedAt = time.Now().UTC()

	if err := s.patientRepo.Update(r.Context(), &p); err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:     s.getUserID(r),
		Action:     "update_patient",
		Resource:   "patient",
		ResourceID: patientID,
		Result:     "success",
		IP:         s.getClientIP(r),
		UserAgent:  r.UserAgent(),
	})

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Patient updated successfully",
		Data:    p,
	})
}

func (s *Server) listPatientsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.patientRepo.List(r.Context())
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Patients retrieved successfully",
		Data: map[string]interface{}{
			"patients": list,
			"count":    len(list),
		},
	})
}
