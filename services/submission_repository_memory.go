package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"request-routing-api/models"
	"request-routing-api/workflow"
)

var errLockHeld = errors.New("submission lock held")

type memoryRecord struct {
	lock    sync.Mutex
	sub     models.Submission
	history workflow.History
}

// MemorySubmissionRepository keeps submissions in process. Update uses a
// per-submission TryLock, so a busy submission yields a ConflictError the
// same way MySQL NOWAIT does.
type MemorySubmissionRepository struct {
	mu      sync.RWMutex
	clock   clock.PassiveClock
	records map[uint]*memoryRecord
	seq     map[string]uint
	nextID  uint
}

func NewMemorySubmissionRepository(clk clock.PassiveClock) *MemorySubmissionRepository {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemorySubmissionRepository{
		clock:   clk,
		records: make(map[uint]*memoryRecord),
		seq:     make(map[string]uint),
	}
}

func (r *MemorySubmissionRepository) Insert(_ context.Context, in NewSubmission) (*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.seq[in.Prefix] + 1
	sub, history, err := in.Build(FormatRequestNumber(in.Prefix, n))
	if err != nil {
		return nil, err
	}
	r.seq[in.Prefix] = n
	r.nextID++
	now := r.clock.Now()
	sub.SubmissionID = r.nextID
	sub.CreatedAt, sub.UpdatedAt = now, now

	r.records[sub.SubmissionID] = &memoryRecord{sub: cloneSubmission(*sub), history: history.Clone()}
	out := cloneSubmission(*sub)
	return &out, nil
}

type memorySubmissionTx struct {
	sub     models.Submission
	history workflow.History
	now     time.Time
}

func (t *memorySubmissionTx) Submission() *models.Submission { return &t.sub }

func (t *memorySubmissionTx) History() workflow.History { return t.history.Clone() }

func (t *memorySubmissionTx) Save(sub *models.Submission) error {
	t.sub = cloneSubmission(*sub)
	t.sub.UpdatedAt = t.now
	return nil
}

func (t *memorySubmissionTx) AppendHistory(e workflow.Entry) error {
	e.VisitedBy = slices.Clone(e.VisitedBy)
	t.history = append(t.history, e)
	return nil
}

func (r *MemorySubmissionRepository) Update(_ context.Context, id uint, fn func(tx SubmissionTx) error) (*models.Submission, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	if !rec.lock.TryLock() {
		return nil, &workflow.ConflictError{SubmissionID: id, Err: errLockHeld}
	}
	defer rec.lock.Unlock()

	r.mu.RLock()
	tx := &memorySubmissionTx{sub: cloneSubmission(rec.sub), history: rec.history.Clone(), now: r.clock.Now()}
	r.mu.RUnlock()
	if err := fn(tx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	rec.sub = cloneSubmission(tx.sub)
	rec.history = tx.history
	r.mu.Unlock()

	out := cloneSubmission(tx.sub)
	return &out, nil
}

func (r *MemorySubmissionRepository) Get(_ context.Context, id uint) (*models.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	out := cloneSubmission(rec.sub)
	return &out, nil
}

func (r *MemorySubmissionRepository) GetByNumber(_ context.Context, requestNumber string) (*models.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.sub.RequestNumber == strings.TrimSpace(requestNumber) {
			out := cloneSubmission(rec.sub)
			return &out, nil
		}
	}
	return nil, ErrSubmissionNotFound
}

func (r *MemorySubmissionRepository) History(_ context.Context, id uint) (workflow.History, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	return rec.history.Clone(), nil
}

func (r *MemorySubmissionRepository) Query(_ context.Context, f SubmissionFilter) ([]models.Submission, int64, error) {
	r.mu.RLock()
	var matched []models.Submission
	for _, rec := range r.records {
		if matchesFilter(&rec.sub, f) {
			matched = append(matched, cloneSubmission(rec.sub))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].SubmissionID > matched[j].SubmissionID
	})
	total := int64(len(matched))
	limit, offset := normalizePage(f.Limit, f.Offset)
	if offset >= len(matched) {
		return []models.Submission{}, total, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], total, nil
}

func matchesFilter(s *models.Submission, f SubmissionFilter) bool {
	if !f.AssignedRole.IsZero() && s.CurrentRole() != f.AssignedRole {
		return false
	}
	if f.ExcludeCreator != 0 && s.CreatedBy == f.ExcludeCreator {
		return false
	}
	if f.CreatedBy != 0 && s.CreatedBy != f.CreatedBy {
		return false
	}
	if !f.SharedRole.IsZero() && !s.SharedWithRole(f.SharedRole) {
		return false
	}
	if f.OpenOnly && s.Closed {
		return false
	}
	if f.DecidedOnly && !s.Status.Decided() {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(s.Title), q) && !strings.Contains(strings.ToLower(s.RequestNumber), q) {
			return false
		}
	}
	return true
}

func (r *MemorySubmissionRepository) CountByStatus(_ context.Context, createdBy uint) (map[workflow.Status]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[workflow.Status]int64)
	for _, rec := range r.records {
		if createdBy != 0 && rec.sub.CreatedBy != createdBy {
			continue
		}
		out[rec.sub.Status]++
	}
	return out, nil
}

func (r *MemorySubmissionRepository) IntakeActed(_ context.Context, ids []uint) (map[uint]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if rec, ok := r.records[id]; ok && rec.history.ActedEver(workflow.IntakeRole) {
			out[id] = true
		}
	}
	return out, nil
}

func cloneSubmission(s models.Submission) models.Submission {
	out := s
	out.RoutingPlan = slices.Clone(s.RoutingPlan)
	out.SharedWith = slices.Clone(s.SharedWith)
	if s.AssignedRole != nil {
		r := *s.AssignedRole
		out.AssignedRole = &r
	}
	if s.UpdatedBy != nil {
		u := *s.UpdatedBy
		out.UpdatedBy = &u
	}
	out.Creator = nil
	return out
}
