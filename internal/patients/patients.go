// Package patients holds the patient record model and its repositories.
// The history analysis step and the patient CRUD API both read from
// here; the orchestrator itself never interprets patient data.
package patients

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticai/healthguard/internal/workflow"
)

// Patient is one patient record
type Patient struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	DateOfBirth string    `json:"date_of_birth,omitempty" bson:"date_of_birth,omitempty"`
	Sex         string    `json:"sex,omitempty" bson:"sex,omitempty"`
	Conditions  []string  `json:"conditions,omitempty" bson:"conditions,omitempty"`
	Medications []string  `json:"medications,omitempty" bson:"medications,omitempty"`
	Allergies   []string  `json:"allergies,omitempty" bson:"allergies,omitempty"`
	Notes       string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// Repository is the persistence contract for patient records
type Repository interface {
	Insert(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context) ([]*Patient, error)
}

// NewID returns a fresh patient identifier
func NewID() string {
	return uuid.New().String()
}

// MemoryRepository is an in-process Repository used by tests and
// single-node development setups.
type MemoryRepository struct {
	mu       sync.RWMutex
	patients map[string]*Patient
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{patients: make(map[string]*Patient)}
}

func (r *MemoryRepository) Insert(ctx context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.patients[p.ID]; exists {
		return workflow.Errorf(workflow.KindConflict, "patient %s already exists", p.ID)
	}
	clone := *p
	r.patients[p.ID] = &clone
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, workflow.Errorf(workflow.KindNotFound, "patient %s not found", id)
	}
	clone := *p
	return &clone, nil
}

func (r *MemoryRepository) Update(ctx context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; !ok {
		return workflow.Errorf(workflow.KindNotFound, "patient %s not found", p.ID)
	}
	clone := *p
	r.patients[p.ID] = &clone
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		clone := *p
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
