package services

import (
	"context"
	"fmt"

	"request-routing-api/models"
	"request-routing-api/workflow"
)

// HistoryService answers history queries for one submission.
type HistoryService struct {
	repo       SubmissionRepository
	identities IdentityProvider
}

func NewHistoryService(repo SubmissionRepository, identities IdentityProvider) *HistoryService {
	return &HistoryService{repo: repo, identities: identities}
}

// visibleHistory filters h for viewer. A viewer with no visible entry who is
// neither the creator nor in shared_with may not see the submission at all.
func visibleHistory(sub *models.Submission, h workflow.History, viewer workflow.Actor) (workflow.History, error) {
	visible := h.VisibleTo(viewer)
	if len(visible) == 0 && sub.CreatedBy != viewer.ID && !sub.SharedWithRole(viewer.Role) {
		return nil, &workflow.AssignmentError{
			Actor:   viewer.Role,
			Current: sub.CurrentRole(),
			Reason:  fmt.Sprintf("submission %s is not visible to role %s", sub.RequestNumber, viewer.Role),
		}
	}
	return visible, nil
}

func (s *HistoryService) load(ctx context.Context, id, viewerID uint) (*models.Submission, workflow.History, workflow.Actor, error) {
	viewer, err := s.identities.Resolve(ctx, viewerID)
	if err != nil {
		return nil, nil, viewer, err
	}
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, viewer, err
	}
	h, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, nil, viewer, err
	}
	return sub, h, viewer, nil
}

// ForSubmission returns the entries viewer may see, newest first.
func (s *HistoryService) ForSubmission(ctx context.Context, id, viewerID uint) (workflow.History, error) {
	sub, h, viewer, err := s.load(ctx, id, viewerID)
	if err != nil {
		return nil, err
	}
	visible, err := visibleHistory(sub, h, viewer)
	if err != nil {
		return nil, err
	}
	return visible.Descending(), nil
}

// ByActorRole returns the visible entries authored by role, newest first.
func (s *HistoryService) ByActorRole(ctx context.Context, id, viewerID uint, role workflow.Role) (workflow.History, error) {
	if !role.Valid() {
		return nil, &workflow.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	visible, err := s.ForSubmission(ctx, id, viewerID)
	if err != nil {
		return nil, err
	}
	return visible.ByActor(role), nil
}

// Latest returns the most recent entry regardless of viewer.
func (s *HistoryService) Latest(ctx context.Context, id uint) (workflow.Entry, error) {
	h, err := s.repo.History(ctx, id)
	if err != nil {
		return workflow.Entry{}, err
	}
	e, ok := h.Latest()
	if !ok {
		return workflow.Entry{}, ErrSubmissionNotFound
	}
	return e, nil
}

// Audit replays the full history and checks it against the stored routing
// columns. The returned error lists every mismatch.
func (s *HistoryService) Audit(ctx context.Context, id uint) (workflow.Audit, error) {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return workflow.Audit{}, err
	}
	h, err := s.repo.History(ctx, id)
	if err != nil {
		return workflow.Audit{}, err
	}
	audit := workflow.Replay(h)
	return audit, audit.Verify(sub.State(h))
}
