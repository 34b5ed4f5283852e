package turn

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	RequestCancelledNotice = "Request cancelled."
	UserCancelledNotice    = "User cancelled the request."
	LoopDetectedNotice     = "A potential loop was detected. This can happen due to repetitive tool calls or other model behavior. The request has been halted."
)

const noticeTemplates = `
{{- define "compressed" -}}
IMPORTANT: This conversation approached the input token limit for {{ .Model | default "the model" }}. A compressed context will be sent for future messages (compressed from: {{ .Original }} to {{ .New }} tokens).
{{- end -}}
{{- define "max_turns" -}}
The session has reached the maximum number of turns: {{ .Limit }}. Please update this limit in your settings.
{{- end -}}
{{- define "api_error" -}}
[API Error: {{ .Message | trim }}]
{{- if .Quota }}
Possible quota limitations in place or slow response times detected.
{{- end -}}
{{- end -}}
{{- define "finished" -}}
⚠️  {{ . }}
{{- end -}}
`

var notices = template.Must(template.New("notices").Funcs(sprig.TxtFuncMap()).Parse(noticeTemplates))

var finishReasonMessages = map[events.FinishReason]string{
	events.FinishReasonMaxTokens:             "Response truncated due to token limits.",
	events.FinishReasonSafety:                "Response stopped due to safety reasons.",
	events.FinishReasonRecitation:            "Response stopped due to recitation policy.",
	events.FinishReasonLanguage:              "Response stopped due to unsupported language.",
	events.FinishReasonBlocklist:             "Response stopped due to forbidden terms.",
	events.FinishReasonProhibitedContent:     "Response stopped due to prohibited content.",
	events.FinishReasonSPII:                  "Response stopped due to sensitive personally identifiable information.",
	events.FinishReasonOther:                 "Response stopped for other reasons.",
	events.FinishReasonMalformedFunctionCall: "Response stopped due to malformed function call.",
	events.FinishReasonImageSafety:           "Response stopped due to image safety violations.",
	events.FinishReasonUnexpectedToolCall:    "Response stopped due to unexpected tool call.",
}

func render(name string, data interface{}) string {
	var buf bytes.Buffer
	if err := notices.ExecuteTemplate(&buf, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("could not render notice")
		return ""
	}
	return buf.String()
}

// FinishNotice returns the notice for an abnormal finish reason, or false for normal and unknown reasons.
func FinishNotice(reason events.FinishReason) (string, bool) {
	if reason.IsNormal() {
		return "", false
	}
	msg, ok := finishReasonMessages[reason]
	if !ok {
		return "", false
	}
	return render("finished", msg), true
}

func CompressedNotice(model string, original, compressed int) string {
	return render("compressed", map[string]interface{}{
		"Model":    model,
		"Original": original,
		"New":      compressed,
	})
}

func MaxSessionTurnsNotice(limit int) string {
	return render("max_turns", map[string]interface{}{"Limit": limit})
}

// FormatAPIError renders a backend failure for the transcript.
// Quota failures get an extra hint line.
func FormatAPIError(err error) string {
	var msg string
	var status int
	var ev *events.EventError
	var apiErr *backend.APIError
	var quotaErr *backend.QuotaError
	var authErr *backend.AuthError
	switch {
	case errors.As(err, &ev):
		msg, status = ev.Message, ev.Status
	case errors.As(err, &quotaErr):
		msg, status = quotaErr.Message, quotaErr.Status
	case errors.As(err, &authErr):
		msg, status = authErr.Message, authErr.Status
	case errors.As(err, &apiErr):
		msg, status = apiErr.Message, apiErr.Status
	default:
		msg = err.Error()
	}
	if msg == "" {
		msg = "An unknown error occurred."
	}
	return render("api_error", map[string]interface{}{
		"Message": msg,
		"Quota":   status == 429 || backend.IsQuotaExceeded(err),
	})
}
