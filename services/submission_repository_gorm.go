package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"request-routing-api/config"
	"request-routing-api/models"
	"request-routing-api/workflow"
)

// MySQL error numbers that mean another transaction holds the row.
const (
	mysqlErrLockNoWait      = 3572
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
)

// GormSubmissionRepository stores submissions in MySQL. Update locks the
// submission row with SELECT ... FOR UPDATE, NOWAIT unless the lock mode is
// "wait".
type GormSubmissionRepository struct {
	db       *gorm.DB
	lockMode string
}

func NewGormSubmissionRepository(db *gorm.DB, lockMode string) *GormSubmissionRepository {
	if db == nil {
		db = config.DB
	}
	if lockMode != config.LockModeWait {
		lockMode = config.LockModeNoWait
	}
	return &GormSubmissionRepository{db: db, lockMode: lockMode}
}

func (r *GormSubmissionRepository) lockClause() clause.Locking {
	if r.lockMode == config.LockModeWait {
		return clause.Locking{Strength: "UPDATE"}
	}
	return clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}
}

func (r *GormSubmissionRepository) Insert(ctx context.Context, in NewSubmission) (*models.Submission, error) {
	var created *models.Submission
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := nextRequestNumber(tx, in.Prefix)
		if err != nil {
			return err
		}
		sub, history, err := in.Build(FormatRequestNumber(in.Prefix, n))
		if err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(sub).Error; err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		for _, e := range history {
			row := models.NewSubmissionHistory(sub.SubmissionID, e)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert history: %w", err)
			}
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// nextRequestNumber bumps the per-prefix counter. The upsert keeps the
// sequence row locked until the surrounding transaction ends.
func nextRequestNumber(tx *gorm.DB, prefix string) (uint, error) {
	if err := tx.Exec(
		"INSERT INTO request_sequences (prefix, last_value) VALUES (?, 1) ON DUPLICATE KEY UPDATE last_value = last_value + 1",
		prefix,
	).Error; err != nil {
		return 0, fmt.Errorf("advance request sequence: %w", err)
	}
	var value uint
	if err := tx.Raw("SELECT last_value FROM request_sequences WHERE prefix = ?", prefix).Scan(&value).Error; err != nil {
		return 0, fmt.Errorf("read request sequence: %w", err)
	}
	if value == 0 {
		return 0, fmt.Errorf("request sequence %q not advanced", prefix)
	}
	return value, nil
}

type gormSubmissionTx struct {
	tx      *gorm.DB
	sub     *models.Submission
	history workflow.History
}

func (t *gormSubmissionTx) Submission() *models.Submission { return t.sub }

func (t *gormSubmissionTx) History() workflow.History { return t.history.Clone() }

func (t *gormSubmissionTx) Save(sub *models.Submission) error {
	if err := t.tx.Omit(clause.Associations).Save(sub).Error; err != nil {
		return fmt.Errorf("save submission %d: %w", sub.SubmissionID, err)
	}
	t.sub = sub
	return nil
}

func (t *gormSubmissionTx) AppendHistory(e workflow.Entry) error {
	row := models.NewSubmissionHistory(t.sub.SubmissionID, e)
	if err := t.tx.Create(&row).Error; err != nil {
		return fmt.Errorf("append history to submission %d: %w", t.sub.SubmissionID, err)
	}
	t.history = append(t.history, e)
	return nil
}

func (r *GormSubmissionRepository) Update(ctx context.Context, id uint, fn func(tx SubmissionTx) error) (*models.Submission, error) {
	var out *models.Submission
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Submission
		if err := tx.Clauses(r.lockClause()).Where("submission_id = ?", id).First(&sub).Error; err != nil {
			return err
		}
		var rows []models.SubmissionHistory
		if err := tx.Where("submission_id = ?", id).Order("created_at ASC, history_id ASC").Find(&rows).Error; err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		stx := &gormSubmissionTx{tx: tx, sub: &sub, history: models.HistoryLog(rows)}
		if err := fn(stx); err != nil {
			return err
		}
		out = stx.sub
		return nil
	})
	if err != nil {
		return nil, translateStoreError(id, err)
	}
	return out, nil
}

// translateStoreError maps driver errors onto the service taxonomy and passes
// everything else through.
func translateStoreError(id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSubmissionNotFound
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrLockNoWait, mysqlErrLockWaitTimeout, mysqlErrLockDeadlock:
			return &workflow.ConflictError{SubmissionID: id, Err: err}
		}
	}
	return err
}

func (r *GormSubmissionRepository) Get(ctx context.Context, id uint) (*models.Submission, error) {
	var sub models.Submission
	if err := r.db.WithContext(ctx).Where("submission_id = ?", id).First(&sub).Error; err != nil {
		return nil, translateStoreError(id, err)
	}
	return &sub, nil
}

func (r *GormSubmissionRepository) GetByNumber(ctx context.Context, requestNumber string) (*models.Submission, error) {
	var sub models.Submission
	if err := r.db.WithContext(ctx).Where("request_number = ?", strings.TrimSpace(requestNumber)).First(&sub).Error; err != nil {
		return nil, translateStoreError(0, err)
	}
	return &sub, nil
}

func (r *GormSubmissionRepository) History(ctx context.Context, id uint) (workflow.History, error) {
	var rows []models.SubmissionHistory
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", id).
		Order("created_at ASC, history_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load history for submission %d: %w", id, err)
	}
	return models.HistoryLog(rows), nil
}

func (r *GormSubmissionRepository) Query(ctx context.Context, f SubmissionFilter) ([]models.Submission, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Submission{})
	if !f.AssignedRole.IsZero() {
		q = q.Where("assigned_role = ?", f.AssignedRole)
	}
	if f.ExcludeCreator != 0 {
		q = q.Where("created_by <> ?", f.ExcludeCreator)
	}
	if f.CreatedBy != 0 {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if !f.SharedRole.IsZero() {
		q = q.Where(datatypes.JSONArrayQuery("shared_with").Contains(string(f.SharedRole)))
	}
	if f.OpenOnly {
		q = q.Where("closed = ?", false)
	}
	if f.DecidedOnly {
		q = q.Where("status IN ?", []workflow.Status{workflow.StatusApproved, workflow.StatusRejected})
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		q = q.Where("(title LIKE ? OR request_number LIKE ?)", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}
	limit, offset := normalizePage(f.Limit, f.Offset)
	var rows []models.Submission
	if err := q.Order("updated_at DESC, submission_id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	return rows, total, nil
}

func (r *GormSubmissionRepository) CountByStatus(ctx context.Context, createdBy uint) (map[workflow.Status]int64, error) {
	var rows []struct {
		Status workflow.Status
		Total  int64
	}
	q := r.db.WithContext(ctx).Model(&models.Submission{}).Select("status, COUNT(*) AS total").Group("status")
	if createdBy != 0 {
		q = q.Where("created_by = ?", createdBy)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count submissions by status: %w", err)
	}
	out := make(map[workflow.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (r *GormSubmissionRepository) IntakeActed(ctx context.Context, ids []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []uint
	if err := r.db.WithContext(ctx).
		Model(&models.SubmissionHistory{}).
		Where("submission_id IN ? AND actor_role = ?", ids, workflow.IntakeRole).
		Distinct().
		Pluck("submission_id", &found).Error; err != nil {
		return nil, fmt.Errorf("load intake activity: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}
