package controllers

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"request-routing-api/services"
	"request-routing-api/workflow"
)

const maxAttachmentBytes = 20 << 20

type SubmissionController struct {
	workflow   *services.WorkflowService
	history    *services.HistoryService
	projection *services.ProjectionService
}

func NewSubmissionController(wf *services.WorkflowService, history *services.HistoryService, projection *services.ProjectionService) *SubmissionController {
	return &SubmissionController{workflow: wf, history: history, projection: projection}
}

type createSubmissionRequest struct {
	Title       string   `json:"title" form:"title"`
	Description string   `json:"description" form:"description"`
	Remark      string   `json:"remark" form:"remark"`
	Selections  []string `json:"selections" form:"selections"`
}

// CreateSubmission accepts JSON or multipart/form-data with an optional
// "attachment" file.
func (sc *SubmissionController) CreateSubmission(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	var req createSubmissionRequest
	in := services.CreateSubmissionInput{ActorID: uid}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAttachmentBytes+1<<20)
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if fh, err := c.FormFile("attachment"); err == nil {
			if fh.Size > maxAttachmentBytes {
				c.JSON(http.StatusBadRequest, gin.H{"error": "attachment too large", "field": "attachment"})
				return
			}
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read attachment", "field": "attachment"})
				return
			}
			defer f.Close()
			in.Attachment = f
			in.AttachmentName = filepath.Base(fh.Filename)
		} else if !errors.Is(err, http.ErrMissingFile) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	selections, err := parseRoleList(req.Selections)
	if err != nil {
		respondError(c, err)
		return
	}
	in.Title = req.Title
	in.Description = req.Description
	in.Remark = req.Remark
	in.Selections = selections

	sub, err := sc.workflow.CreateSubmission(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "submission": sub})
}

type actRequest struct {
	Action     string   `json:"action" binding:"required"`
	Remark     string   `json:"remark"`
	ReassignTo string   `json:"reassign_to"`
	Selections []string `json:"selections"`
	ShareWith  []string `json:"share_with"`
}

// ActOnSubmission applies one routing action.
func (sc *SubmissionController) ActOnSubmission(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req actRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action, err := workflow.ParseAction(req.Action)
	if err != nil {
		respondError(c, err)
		return
	}
	selections, err := parseRoleList(req.Selections)
	if err != nil {
		respondError(c, err)
		return
	}
	shareWith, err := parseRoleList(req.ShareWith)
	if err != nil {
		respondError(c, err)
		return
	}
	var target workflow.Role
	if strings.TrimSpace(req.ReassignTo) != "" {
		if target, err = workflow.ParseRole(req.ReassignTo); err != nil {
			respondError(c, err)
			return
		}
	}

	res, err := sc.workflow.ActOnSubmission(c.Request.Context(), services.ActInput{
		SubmissionID: id,
		ActorID:      uid,
		Action:       action,
		Remark:       req.Remark,
		ReassignTo:   target,
		Selections:   selections,
		ShareWith:    shareWith,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

type shareRequest struct {
	Roles []string `json:"roles" binding:"required"`
}

func (sc *SubmissionController) ShareSubmission(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	roles, err := parseRoleList(req.Roles)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := sc.workflow.ShareSubmission(c.Request.Context(), id, uid, roles)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shared_with": res.Submission.SharedWith})
}

func (sc *SubmissionController) GetSubmission(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	detail, err := sc.workflow.GetSubmission(c.Request.Context(), id, uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type contentRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// CorrectContent is mounted behind RequirePrivileged.
func (sc *SubmissionController) CorrectContent(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub, err := sc.workflow.CorrectContent(c.Request.Context(), id, uid, req.Title, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "submission": sub})
}

// GetHistory returns the visible history, optionally narrowed by
// ?actor_role=.
func (sc *SubmissionController) GetHistory(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var (
		h   workflow.History
		err error
	)
	if code := strings.TrimSpace(c.Query("actor_role")); code != "" {
		h, err = sc.history.ByActorRole(c.Request.Context(), id, uid, workflow.Role(code))
	} else {
		h, err = sc.history.ForSubmission(c.Request.Context(), id, uid)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if h == nil {
		h = workflow.History{}
	}
	c.JSON(http.StatusOK, gin.H{"items": h})
}

// AuditSubmission replays the full history against the stored routing. It is
// mounted for Intake and privileged users only.
func (sc *SubmissionController) AuditSubmission(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	audit, err := sc.history.Audit(c.Request.Context(), id)
	if err != nil && len(audit.Steps) == 0 {
		respondError(c, err)
		return
	}
	body := gin.H{"audit": audit, "consistent": err == nil}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (sc *SubmissionController) DownloadAttachment(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	rc, name, err := sc.workflow.OpenAttachment(c.Request.Context(), id, uid)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": name}),
	})
}

func (sc *SubmissionController) listOptions(c *gin.Context) services.ListOptions {
	limit, offset := parsePaging(c)
	return services.ListOptions{Search: c.Query("search"), Limit: limit, Offset: offset}
}

func (sc *SubmissionController) ListAssignedToMe(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	page, err := sc.projection.AssignedToMe(c.Request.Context(), uid, sc.listOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (sc *SubmissionController) ListMine(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	page, err := sc.projection.MySubmissions(c.Request.Context(), uid, sc.listOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (sc *SubmissionController) ListSharedWithMe(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	page, err := sc.projection.SharedWithMe(c.Request.Context(), uid, sc.listOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (sc *SubmissionController) DashboardStats(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	stats, err := sc.projection.DashboardStats(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}
