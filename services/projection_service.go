package services

import (
	"context"

	"request-routing-api/models"
	"request-routing-api/workflow"
)

// SubmissionSummary is one row of a list view.
type SubmissionSummary struct {
	Submission    models.Submission `json:"submission"`
	Badge         workflow.Badge    `json:"badge"`
	IntakeRelayed bool              `json:"intake_relayed"`
}

type ListOptions struct {
	Search string
	Limit  int
	Offset int
}

type SubmissionPage struct {
	Items []SubmissionSummary `json:"items"`
	Total int64               `json:"total"`
}

type DashboardStats struct {
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Pending  int64 `json:"pending"`
	Total    int64 `json:"total"`
}

// ProjectionService builds the list and dashboard views from the routing
// columns. It never replays history.
type ProjectionService struct {
	repo       SubmissionRepository
	identities IdentityProvider
}

func NewProjectionService(repo SubmissionRepository, identities IdentityProvider) *ProjectionService {
	return &ProjectionService{repo: repo, identities: identities}
}

// AssignedToMe lists open submissions waiting on the viewer's role. Only
// Intake sees its own submissions here.
func (s *ProjectionService) AssignedToMe(ctx context.Context, viewerID uint, opts ListOptions) (*SubmissionPage, error) {
	viewer, err := s.identities.Resolve(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	f := SubmissionFilter{
		AssignedRole: viewer.Role,
		OpenOnly:     true,
		Search:       opts.Search,
		Limit:        opts.Limit,
		Offset:       opts.Offset,
	}
	if !viewer.Role.IsIntake() {
		f.ExcludeCreator = viewer.ID
	}
	return s.page(ctx, viewer, f, false)
}

// MySubmissions lists what the viewer created, flagged once Intake has acted.
func (s *ProjectionService) MySubmissions(ctx context.Context, viewerID uint, opts ListOptions) (*SubmissionPage, error) {
	viewer, err := s.identities.Resolve(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, viewer, SubmissionFilter{
		CreatedBy: viewer.ID,
		Search:    opts.Search,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	}, true)
}

// SharedWithMe lists decided submissions shared with the viewer's role.
func (s *ProjectionService) SharedWithMe(ctx context.Context, viewerID uint, opts ListOptions) (*SubmissionPage, error) {
	viewer, err := s.identities.Resolve(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, viewer, SubmissionFilter{
		SharedRole:  viewer.Role,
		DecidedOnly: true,
		Search:      opts.Search,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}, false)
}

func (s *ProjectionService) page(ctx context.Context, viewer workflow.Actor, f SubmissionFilter, annotate bool) (*SubmissionPage, error) {
	subs, total, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	var relayed map[uint]bool
	if annotate && len(subs) > 0 {
		ids := make([]uint, len(subs))
		for i := range subs {
			ids[i] = subs[i].SubmissionID
		}
		if relayed, err = s.repo.IntakeActed(ctx, ids); err != nil {
			return nil, err
		}
	}
	items := make([]SubmissionSummary, 0, len(subs))
	for i := range subs {
		sub := subs[i]
		items = append(items, SubmissionSummary{
			Submission:    sub,
			Badge:         workflow.BadgeFor(sub.Status, sub.CurrentRole(), sub.Closed, viewer),
			IntakeRelayed: relayed[sub.SubmissionID],
		})
	}
	return &SubmissionPage{Items: items, Total: total}, nil
}

// DashboardStats counts submissions by outcome. Intake, Terminal and
// privileged viewers see every submission, everyone else their own.
func (s *ProjectionService) DashboardStats(ctx context.Context, viewerID uint) (*DashboardStats, error) {
	viewer, err := s.identities.Resolve(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	scope := viewer.ID
	if viewer.Privileged || viewer.Role.IsIntake() || viewer.Role.IsTerminal() {
		scope = 0
	}
	counts, err := s.repo.CountByStatus(ctx, scope)
	if err != nil {
		return nil, err
	}
	stats := &DashboardStats{}
	for status, n := range counts {
		switch status {
		case workflow.StatusApproved:
			stats.Approved += n
		case workflow.StatusRejected:
			stats.Rejected += n
		default:
			stats.Pending += n
		}
		stats.Total += n
	}
	return stats, nil
}
