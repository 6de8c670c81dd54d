package services

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"content-autoposter/internal/config"
	"content-autoposter/internal/logger"
	"content-autoposter/models"
)

const displayTime = "2006-01-02 15:04:05"

var templateFuncs = map[string]any{
	"fmtTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format(displayTime)
	},
}

var (
	reportHTML = htmltemplate.Must(htmltemplate.New("report").Funcs(templateFuncs).Parse(reportHTMLTemplate))
	reportText = texttemplate.Must(texttemplate.New("report").Funcs(templateFuncs).Parse(reportTextTemplate))
	failHTML   = htmltemplate.Must(htmltemplate.New("failure").Funcs(templateFuncs).Parse(failureHTMLTemplate))
	failText   = texttemplate.Must(texttemplate.New("failure").Funcs(templateFuncs).Parse(failureTextTemplate))
)

// Notifier emails publishing summaries and fatal errors. It is a no-op when
// notifications are not configured.
type Notifier struct {
	mailer  Mailer
	to      []string
	enabled bool
}

func NewNotifier(cfg *config.Config, mailer Mailer) *Notifier {
	return &Notifier{
		mailer:  mailer,
		to:      []string{cfg.NotificationEmail},
		enabled: cfg.NotificationsEnabled() && mailer != nil,
	}
}

// SendReport mails the run summary. Runs that processed nothing are not reported.
func (n *Notifier) SendReport(ctx context.Context, report *models.PublishReport) error {
	if !n.enabled {
		logger.Info("Email notification not configured, skipping report")
		return nil
	}
	if report == nil || report.Processed() == 0 {
		logger.Debug("Nothing processed, skipping report email")
		return nil
	}

	subject, htmlBody, textBody, err := RenderReport(report)
	if err != nil {
		return err
	}
	if err := n.mailer.Send(ctx, n.to, subject, htmlBody, textBody); err != nil {
		return err
	}
	logger.Info("Report email sent", "to", n.to[0], "subject", subject)
	return nil
}

// SendFailure mails a fatal run error.
func (n *Notifier) SendFailure(ctx context.Context, stage string, cause error) error {
	if !n.enabled || cause == nil {
		return nil
	}

	data := struct {
		Stage string
		Error string
		At    time.Time
	}{stage, cause.Error(), time.Now()}

	var htmlBuf, textBuf bytes.Buffer
	if err := failHTML.Execute(&htmlBuf, data); err != nil {
		return fmt.Errorf("render failure email: %w", err)
	}
	if err := failText.Execute(&textBuf, data); err != nil {
		return fmt.Errorf("render failure email: %w", err)
	}

	subject := fmt.Sprintf("Posting Error - %s failed", stage)
	return n.mailer.Send(ctx, n.to, subject, htmlBuf.String(), textBuf.String())
}

// RenderReport builds the subject and both bodies of a report email.
func RenderReport(report *models.PublishReport) (subject, htmlBody, textBody string, err error) {
	subject = fmt.Sprintf("Posting Report - %d Posted, %d Failed", report.Succeeded, report.Failed)

	var htmlBuf, textBuf bytes.Buffer
	if err := reportHTML.Execute(&htmlBuf, report); err != nil {
		return "", "", "", fmt.Errorf("render report email: %w", err)
	}
	if err := reportText.Execute(&textBuf, report); err != nil {
		return "", "", "", fmt.Errorf("render report email: %w", err)
	}
	return subject, htmlBuf.String(), textBuf.String(), nil
}

const reportHTMLTemplate = `<html><body style="font-family: Arial, sans-serif;">
<h2>Posting Report</h2>
<p><strong>Posting completed at:</strong> {{fmtTime .FinishedAt}}</p>
<p><strong>Platform:</strong> {{.Platform}}</p>
<ul>
<li>Due: {{.Due}}</li>
<li style="color: green;">Posted: {{.Succeeded}}</li>
<li style="color: red;">Failed: {{.Failed}}</li>
</ul>
{{if .Aborted}}<p style="color: red;"><strong>Batch aborted:</strong> {{.AbortReason}}</p>{{end}}
<table style="border-collapse: collapse; width: 100%;">
<tr style="background: #f2f2f2;"><th style="padding: 8px;">Post</th><th style="padding: 8px;">Scheduled</th><th style="padding: 8px;">Status</th><th style="padding: 8px;">Details</th></tr>
{{range .Results}}<tr>
<td style="padding: 8px;"><a href="{{.URL}}">{{.EntryID}}</a><br><small>{{.Preview}}</small></td>
<td style="padding: 8px;">{{fmtTime .ScheduledAt}}</td>
<td style="padding: 8px;">{{.Status}}</td>
<td style="padding: 8px;">{{if .RemotePostID}}Post ID {{.RemotePostID}}{{else}}{{.Error}}{{end}}</td>
</tr>
{{end}}</table>
{{with .NextScheduled}}<p>Next scheduled post: {{fmtTime .}}</p>{{end}}
</body></html>`

const reportTextTemplate = `Posting Report

Posting completed at: {{fmtTime .FinishedAt}}
Platform: {{.Platform}}
Due: {{.Due}}  Posted: {{.Succeeded}}  Failed: {{.Failed}}
{{if .Aborted}}
Batch aborted: {{.AbortReason}}
{{end}}
{{range .Results}}- {{.EntryID}} [{{.Status}}] scheduled {{fmtTime .ScheduledAt}} {{.URL}}
  {{if .RemotePostID}}post id {{.RemotePostID}}{{else}}{{.Error}}{{end}}
{{end}}{{with .NextScheduled}}
Next scheduled post: {{fmtTime .}}
{{end}}`

const failureHTMLTemplate = `<html><body style="font-family: Arial, sans-serif;">
<h2 style="color: red;">Posting Error</h2>
<p>The <strong>{{.Stage}}</strong> run failed at {{fmtTime .At}}.</p>
<pre>{{.Error}}</pre>
</body></html>`

const failureTextTemplate = `Posting Error

The {{.Stage}} run failed at {{fmtTime .At}}.

{{.Error}}
`
