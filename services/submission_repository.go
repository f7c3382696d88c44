package services

import (
	"context"
	"fmt"

	"request-routing-api/models"
	"request-routing-api/workflow"
)

// SubmissionTx is the view of one locked submission inside Update.
type SubmissionTx interface {
	Submission() *models.Submission
	History() workflow.History
	// Save persists the routing and content columns of sub.
	Save(sub *models.Submission) error
	// AppendHistory inserts e. Rows are never updated afterwards.
	AppendHistory(e workflow.Entry) error
}

// NewSubmission is what Insert stores. Build receives the allocated request
// number.
type NewSubmission struct {
	Prefix string
	Build  func(requestNumber string) (*models.Submission, workflow.History, error)
}

// SubmissionFilter narrows Query. Zero fields are ignored.
type SubmissionFilter struct {
	AssignedRole   workflow.Role
	ExcludeCreator uint
	CreatedBy      uint
	SharedRole     workflow.Role
	OpenOnly       bool
	DecidedOnly    bool
	Search         string
	Limit          int
	Offset         int
}

// SubmissionRepository persists submissions and their history. Update holds
// an exclusive per-submission lock while fn runs; a lock it cannot take is
// reported as *workflow.ConflictError.
type SubmissionRepository interface {
	Insert(ctx context.Context, in NewSubmission) (*models.Submission, error)
	Update(ctx context.Context, id uint, fn func(tx SubmissionTx) error) (*models.Submission, error)
	Get(ctx context.Context, id uint) (*models.Submission, error)
	GetByNumber(ctx context.Context, requestNumber string) (*models.Submission, error)
	History(ctx context.Context, id uint) (workflow.History, error)
	Query(ctx context.Context, f SubmissionFilter) ([]models.Submission, int64, error)
	// CountByStatus counts submissions, restricted to a creator when createdBy
	// is non-zero.
	CountByStatus(ctx context.Context, createdBy uint) (map[workflow.Status]int64, error)
	// IntakeActed reports, per submission id, whether the Intake role authored
	// any history entry.
	IntakeActed(ctx context.Context, ids []uint) (map[uint]bool, error)
}

// FormatRequestNumber renders REQ0001 style numbers.
func FormatRequestNumber(prefix string, n uint) string {
	return fmt.Sprintf("%s%04d", prefix, n)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
