package services

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"strings"

	"gorm.io/gorm"

	"request-routing-api/config"
	"request-routing-api/models"
	"request-routing-api/workflow"
)

// Audiences used as notification_message.send_to.
const (
	AudienceRole    = "role"
	AudienceCreator = "creator"
)

// RenderedMessage is what sinks deliver.
type RenderedMessage struct {
	Title string
	Body  string
	Type  string // info|success|warning|error
}

// TemplateSource returns an active override for an event, or nil.
type TemplateSource interface {
	Lookup(ctx context.Context, eventKey, sendTo string) (*models.NotificationMessage, error)
}

type GormTemplateSource struct {
	db *gorm.DB
}

func NewGormTemplateSource(db *gorm.DB) *GormTemplateSource {
	if db == nil {
		db = config.DB
	}
	return &GormTemplateSource{db: db}
}

func (s *GormTemplateSource) Lookup(ctx context.Context, eventKey, sendTo string) (*models.NotificationMessage, error) {
	var tmpl models.NotificationMessage
	err := s.db.WithContext(ctx).
		Where("event_key = ? AND send_to = ? AND is_active = 1", eventKey, sendTo).
		First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

type builtinTemplate struct {
	title string
	body  string
}

var builtinTemplates = map[workflow.Event]builtinTemplate{
	workflow.EventAssigned: {
		title: "Request assigned: {{title}}",
		body:  "{{request_number}} \"{{title}}\" is waiting for {{recipient_label}}. {{actor_name}} ({{actor_role}}) noted: {{remark}}",
	},
	workflow.EventReassigned: {
		title: "Request reassigned: {{title}}",
		body:  "{{actor_name}} ({{actor_role}}) reassigned {{request_number}} \"{{title}}\" to {{recipient_label}}. Remark: {{remark}}",
	},
	workflow.EventRelayed: {
		title: "Request {{status_label}}: {{title}}",
		body:  "Your request {{request_number}} \"{{title}}\" was {{status_label}}. Remark: {{remark}}",
	},
	workflow.EventCompleted: {
		title: "Request {{status_label}}: {{title}}",
		body:  "Routing of {{request_number}} \"{{title}}\" is complete with status {{status_label}}.",
	},
	workflow.EventShared: {
		title: "Request shared with you: {{title}}",
		body:  "{{actor_name}} ({{actor_role}}) shared {{request_number}} \"{{title}}\" ({{status_label}}) with {{recipient_label}}.",
	},
}

// NotificationRenderer renders intents from DB overrides or built-in text.
type NotificationRenderer struct {
	source TemplateSource
}

func NewNotificationRenderer(source TemplateSource) *NotificationRenderer {
	return &NotificationRenderer{source: source}
}

func audienceFor(in workflow.Intent) string {
	if in.RecipientID != 0 {
		return AudienceCreator
	}
	return AudienceRole
}

func placeholderData(in workflow.Intent) map[string]string {
	recipient := "you"
	if !in.RecipientRole.IsZero() {
		recipient = in.RecipientRole.Label()
	}
	actorName := in.ActorName
	if actorName == "" {
		actorName = in.ActorRole.Label()
	}
	remark := in.Remark
	if remark == "" {
		remark = "-"
	}
	return map[string]string{
		"title":           in.Title,
		"request_number":  in.RequestNumber,
		"recipient_role":  string(in.RecipientRole),
		"recipient_label": recipient,
		"actor_name":      actorName,
		"actor_role":      string(in.ActorRole),
		"status":          string(in.Status),
		"status_label":    strings.ToLower(in.Status.Label()),
		"remark":          remark,
		"url":             in.URL,
	}
}

func applyTemplatePlaceholders(text string, data map[string]string) string {
	result := text
	for key, value := range data {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

func messageType(in workflow.Intent) string {
	switch {
	case in.Event == workflow.EventReassigned:
		return "warning"
	case in.Status == workflow.StatusRejected && in.Event != workflow.EventAssigned:
		return "error"
	case in.Status == workflow.StatusApproved && in.Event != workflow.EventAssigned:
		return "success"
	}
	return "info"
}

// Render never fails: a broken override falls back to the built-in text.
func (r *NotificationRenderer) Render(ctx context.Context, in workflow.Intent) RenderedMessage {
	data := placeholderData(in)
	tmpl := builtinTemplates[in.Event]
	if tmpl.title == "" {
		tmpl = builtinTemplate{title: "Request update: {{title}}", body: "{{request_number}} \"{{title}}\" is now {{status_label}}."}
	}

	if r != nil && r.source != nil {
		override, err := r.source.Lookup(ctx, string(in.Event), audienceFor(in))
		if err != nil {
			log.Printf("[notify] template lookup failed for %s/%s: %v", in.Event, audienceFor(in), err)
		} else if override != nil {
			tmpl = builtinTemplate{title: override.TitleTemplate, body: override.BodyTemplate}
		}
	}

	return RenderedMessage{
		Title: applyTemplatePlaceholders(tmpl.title, data),
		Body:  applyTemplatePlaceholders(tmpl.body, data),
		Type:  messageType(in),
	}
}

type emailMetaItem struct {
	Label string
	Value string
}

// buildEmailTemplate renders the HTML mail body around a rendered message.
func buildEmailTemplate(subject string, paragraphs []string, meta []emailMetaItem, buttonText, buttonURL string) string {
	var content strings.Builder
	for _, paragraph := range paragraphs {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" {
			continue
		}
		escaped := template.HTMLEscapeString(trimmed)
		escaped = strings.ReplaceAll(strings.ReplaceAll(escaped, "\r\n", "\n"), "\n", "<br />")
		content.WriteString(`<p style="margin:0 0 18px 0;line-height:1.7;word-break:break-word;">`)
		content.WriteString(escaped)
		content.WriteString(`</p>`)
	}

	var metaSection strings.Builder
	for _, item := range meta {
		label, value := strings.TrimSpace(item.Label), strings.TrimSpace(item.Value)
		if label == "" || value == "" {
			continue
		}
		fmt.Fprintf(&metaSection, `<tr>
<td style="padding:10px 16px;font-size:13px;color:#6b7280;width:38%%;">%s</td>
<td style="padding:10px 16px;font-size:15px;color:#111827;font-weight:600;">%s</td>
</tr>
`, template.HTMLEscapeString(label), template.HTMLEscapeString(value))
	}
	metaHTML := ""
	if metaSection.Len() > 0 {
		metaHTML = `<table role="presentation" cellpadding="0" cellspacing="0" width="100%" style="border:1px solid #e5e7eb;border-radius:12px;background-color:#f9fafb;margin:0 0 24px 0;"><tbody>` +
			metaSection.String() + `</tbody></table>`
	}

	buttonHTML := ""
	if strings.TrimSpace(buttonText) != "" && strings.TrimSpace(buttonURL) != "" {
		buttonHTML = fmt.Sprintf(`<div style="text-align:center;margin:12px 0 24px 0;">
<a href="%s" style="display:inline-block;padding:12px 28px;background-color:#2563eb;color:#ffffff;text-decoration:none;border-radius:999px;font-weight:600;">%s</a>
</div>`, template.HTMLEscapeString(buttonURL), template.HTMLEscapeString(buttonText))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
</head>
<body style="margin:0;padding:0;background-color:#f9fafb;font-family:'Segoe UI',Tahoma,Arial,sans-serif;">
<div style="max-width:640px;margin:0 auto;padding:24px 20px;">
<div style="background-color:#ffffff;border:1px solid #e5e7eb;border-radius:12px;padding:24px;">
<h1 style="margin:0;font-size:22px;font-weight:700;color:#111827;line-height:1.35;">%s</h1>
<div style="margin-top:20px;color:#1f2937;font-size:16px;line-height:1.75;">
%s
</div>
%s
%s
</div>
</div>
</body>
</html>`, template.HTMLEscapeString(subject), template.HTMLEscapeString(subject), content.String(), metaHTML, buttonHTML)
}
