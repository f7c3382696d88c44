package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"k8s.io/utils/clock"

	"request-routing-api/models"
	"request-routing-api/tracing"
	"request-routing-api/utils"
	"request-routing-api/workflow"
)

const maxTitleLength = 255

// IntentPublisher receives notification intents after a commit. Publish must
// not block on delivery and never reports failures.
type IntentPublisher interface {
	Publish(ctx context.Context, intents ...workflow.Intent)
}

type WorkflowOptions struct {
	RequestPrefix string
	BaseURL       string
	Clock         clock.PassiveClock
}

// WorkflowService is the transactional shell around workflow.Decide.
type WorkflowService struct {
	repo        SubmissionRepository
	identities  IdentityProvider
	attachments AttachmentStore
	publisher   IntentPublisher
	clock       clock.PassiveClock
	prefix      string
	baseURL     string
}

func NewWorkflowService(repo SubmissionRepository, identities IdentityProvider, attachments AttachmentStore, publisher IntentPublisher, opts WorkflowOptions) *WorkflowService {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.RequestPrefix == "" {
		opts.RequestPrefix = "REQ"
	}
	return &WorkflowService{
		repo:        repo,
		identities:  identities,
		attachments: attachments,
		publisher:   publisher,
		clock:       opts.Clock,
		prefix:      opts.RequestPrefix,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
	}
}

type CreateSubmissionInput struct {
	ActorID        uint
	Title          string
	Description    string
	Remark         string
	Selections     []workflow.Role
	AttachmentName string
	Attachment     io.Reader
}

// CreateSubmission stores a new submission with its creation entry and
// notifies the first responsible role.
func (s *WorkflowService) CreateSubmission(ctx context.Context, in CreateSubmissionInput) (sub *models.Submission, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.create", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	actor, err := s.identities.Resolve(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}
	title := utils.SanitizeInput(in.Title)
	if title == "" {
		return nil, &workflow.ValidationError{Field: "title", Reason: "title is required"}
	}
	if len(title) > maxTitleLength {
		return nil, &workflow.ValidationError{Field: "title", Reason: fmt.Sprintf("title exceeds %d characters", maxTitleLength)}
	}

	now := s.clock.Now()
	state, intents, err := workflow.Open(actor, in.Selections, utils.SanitizeInput(in.Remark), now)
	if err != nil {
		return nil, err
	}

	var attachmentRef, attachmentName *string
	if in.Attachment != nil && s.attachments != nil {
		ref, err := s.attachments.Put(ctx, in.AttachmentName, in.Attachment)
		if errors.Is(err, ErrAttachmentType) {
			return nil, &workflow.ValidationError{Field: "attachment", Reason: err.Error()}
		}
		if err != nil {
			return nil, err
		}
		name := in.AttachmentName
		attachmentRef, attachmentName = &ref, &name
	}

	sub, err = s.repo.Insert(ctx, NewSubmission{
		Prefix: s.prefix,
		Build: func(requestNumber string) (*models.Submission, workflow.History, error) {
			created := &models.Submission{
				RequestNumber:  requestNumber,
				Title:          title,
				Description:    utils.SanitizeInput(in.Description),
				AttachmentRef:  attachmentRef,
				AttachmentName: attachmentName,
				UpdatedBy:      &actor.ID,
			}
			created.ApplyState(state)
			return created, state.History, nil
		},
	})
	if err != nil {
		return nil, err
	}
	span.WithAttributes(map[string]string{
		"submission.id":     strconv.FormatUint(uint64(sub.SubmissionID), 10),
		"submission.number": sub.RequestNumber,
	})

	log.Printf("[workflow] %s created by user %d (%s), assigned to %s", sub.RequestNumber, actor.ID, actor.Role, sub.CurrentRole())
	s.publish(ctx, sub, intents)
	return sub, nil
}

type ActInput struct {
	SubmissionID uint
	ActorID      uint
	Action       workflow.Action
	Remark       string
	ReassignTo   workflow.Role
	Selections   []workflow.Role
	ShareWith    []workflow.Role
}

type ActResult struct {
	Submission *models.Submission  `json:"submission"`
	Entry      *workflow.Entry     `json:"entry,omitempty"`
	Intents    []workflow.Intent   `json:"-"`
	Badge      workflow.Badge      `json:"badge"`
	Actor      workflow.Actor      `json:"-"`
	Transition workflow.Transition `json:"-"`
}

// ActOnSubmission runs one engine decision under the submission lock and
// publishes its intents after commit.
func (s *WorkflowService) ActOnSubmission(ctx context.Context, in ActInput) (res *ActResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.act", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{
		"submission.id": strconv.FormatUint(uint64(in.SubmissionID), 10),
		"action":        string(in.Action),
	})

	actor, err := s.identities.Resolve(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var tr workflow.Transition
	sub, err := s.repo.Update(ctx, in.SubmissionID, func(tx SubmissionTx) error {
		current := tx.Submission()
		decided, err := workflow.Decide(current.State(tx.History()), workflow.Command{
			Actor:      actor,
			Action:     in.Action,
			Remark:     utils.SanitizeInput(in.Remark),
			ReassignTo: in.ReassignTo,
			Selections: in.Selections,
			ShareWith:  in.ShareWith,
			At:         now,
		})
		if err != nil {
			return err
		}
		if decided.Entry != nil {
			if err := tx.AppendHistory(*decided.Entry); err != nil {
				return err
			}
		}
		current.ApplyTransition(decided, actor.ID)
		if err := tx.Save(current); err != nil {
			return err
		}
		tr = decided
		return nil
	})
	if err != nil {
		if workflow.IsRetryable(err) {
			log.Printf("[workflow] conflict on submission %d for user %d: %v", in.SubmissionID, actor.ID, err)
		}
		return nil, err
	}

	log.Printf("[workflow] %s %s by user %d (%s): status=%s next=%s",
		sub.RequestNumber, in.Action, actor.ID, actor.Role, sub.Status, describeRole(sub.CurrentRole()))
	intents := s.publish(ctx, sub, tr.Intents)
	return &ActResult{
		Submission: sub,
		Entry:      tr.Entry,
		Intents:    intents,
		Badge:      workflow.BadgeFor(sub.Status, sub.CurrentRole(), sub.Closed, actor),
		Actor:      actor,
		Transition: tr,
	}, nil
}

// ShareSubmission grants read access to roles after a decision.
func (s *WorkflowService) ShareSubmission(ctx context.Context, submissionID, actorID uint, roles []workflow.Role) (*ActResult, error) {
	return s.ActOnSubmission(ctx, ActInput{
		SubmissionID: submissionID,
		ActorID:      actorID,
		Action:       workflow.ActionShare,
		ShareWith:    roles,
	})
}

type SubmissionDetail struct {
	Submission *models.Submission `json:"submission"`
	History    workflow.History   `json:"history"`
	Badge      workflow.Badge     `json:"badge"`
}

// GetSubmission returns the submission with the history the viewer may see.
func (s *WorkflowService) GetSubmission(ctx context.Context, id, viewerID uint) (*SubmissionDetail, error) {
	viewer, err := s.identities.Resolve(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, err
	}
	visible, err := visibleHistory(sub, history, viewer)
	if err != nil {
		return nil, err
	}
	return &SubmissionDetail{
		Submission: sub,
		History:    visible.Descending(),
		Badge:      workflow.BadgeFor(sub.Status, sub.CurrentRole(), sub.Closed, viewer),
	}, nil
}

// CorrectContent lets a privileged identity fix the title or description.
// Routing columns and history are left alone.
func (s *WorkflowService) CorrectContent(ctx context.Context, id, actorID uint, title, description string) (*models.Submission, error) {
	actor, err := s.identities.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged {
		return nil, &workflow.AssignmentError{Actor: actor.Role, Reason: "only privileged users may correct submission content"}
	}
	title = utils.SanitizeInput(title)
	if title == "" {
		return nil, &workflow.ValidationError{Field: "title", Reason: "title is required"}
	}
	if len(title) > maxTitleLength {
		return nil, &workflow.ValidationError{Field: "title", Reason: fmt.Sprintf("title exceeds %d characters", maxTitleLength)}
	}

	sub, err := s.repo.Update(ctx, id, func(tx SubmissionTx) error {
		current := tx.Submission()
		current.Title = title
		current.Description = utils.SanitizeInput(description)
		current.UpdatedBy = &actor.ID
		return tx.Save(current)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[workflow] %s content corrected by user %d", sub.RequestNumber, actor.ID)
	return sub, nil
}

// OpenAttachment streams the stored attachment to a viewer of the submission.
func (s *WorkflowService) OpenAttachment(ctx context.Context, id, viewerID uint) (io.ReadCloser, string, error) {
	detail, err := s.GetSubmission(ctx, id, viewerID)
	if err != nil {
		return nil, "", err
	}
	sub := detail.Submission
	if sub.AttachmentRef == nil || s.attachments == nil {
		return nil, "", ErrAttachmentNotFound
	}
	rc, err := s.attachments.Open(ctx, *sub.AttachmentRef)
	if err != nil {
		return nil, "", err
	}
	name := sub.RequestNumber
	if sub.AttachmentName != nil && *sub.AttachmentName != "" {
		name = *sub.AttachmentName
	}
	return rc, name, nil
}

// SubmissionURL is the link placed in notifications.
func (s *WorkflowService) SubmissionURL(id uint) string {
	return fmt.Sprintf("%s/submissions/%d", s.baseURL, id)
}

func (s *WorkflowService) publish(ctx context.Context, sub *models.Submission, intents []workflow.Intent) []workflow.Intent {
	bound := workflow.Bind(intents, sub.SubmissionID, sub.RequestNumber, sub.Title, s.SubmissionURL(sub.SubmissionID))
	if s.publisher != nil && len(bound) > 0 {
		s.publisher.Publish(persistentContext(ctx), bound...)
	}
	return bound
}

func describeRole(r workflow.Role) string {
	if r.IsZero() {
		return "none"
	}
	return string(r)
}
