package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName        = "taskforge-board/api"
	boardEventName    = "board.request"
	boardEventDomain  = "taskforge.board"
	boardSpanName     = "board.request"
	observabilityMsg  = "observability.event"
	boardAttrPrefix   = "taskforge.board."
	severityInfoText  = "INFO"
	severityWarnText  = "WARN"
	severityErrorText = "ERROR"
)

// requestMetrics collects the timings of one API request. Log emits them as
// a structured observability event and closes the request span.
type requestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	route          string
	method         string
	start          time.Time
	authDuration   time.Duration
	engineDuration time.Duration
	encodeDuration time.Duration
	errorStage     string
	extra          map[string]any
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	m := &requestMetrics{
		logger: logger,
		route:  route,
		method: method,
		start:  time.Now(),
	}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, boardSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", method),
		),
	)
	m.span = span
	return m, spanCtx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveEngine(d time.Duration) {
	if d > 0 {
		m.engineDuration += d
	}
}

func (m *requestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Set records a request specific attribute such as a result count.
func (m *requestMetrics) Set(key string, value any) {
	if m.extra == nil {
		m.extra = make(map[string]any, 4)
	}
	m.extra[key] = value
}

func (m *requestMetrics) attributes(status int, err error) map[string]any {
	attrs := map[string]any{
		"http.route":                 m.route,
		"http.method":                m.method,
		"http.status_code":           status,
		boardAttrPrefix + "total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.authDuration > 0 {
		attrs[boardAttrPrefix+"auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.engineDuration > 0 {
		attrs[boardAttrPrefix+"engine_ms"] = durationToMillis(m.engineDuration)
	}
	if m.encodeDuration > 0 {
		attrs[boardAttrPrefix+"encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		attrs[boardAttrPrefix+"error_stage"] = m.errorStage
	}
	for k, v := range m.extra {
		attrs[boardAttrPrefix+k] = v
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	return attrs
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status, err)
	sevText, sevNumber := severityForStatus(status, err)

	if m.span != nil {
		kvs := toKeyValues(attrs)
		m.span.SetAttributes(kvs...)
		eventAttrs := append(kvs,
			attribute.String("event.name", boardEventName),
			attribute.String("event.domain", boardEventDomain),
			attribute.String("severity_text", sevText),
			attribute.Int("severity_number", sevNumber),
		)
		m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			if m.errorStage != "" {
				desc = m.errorStage + ": " + desc
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"attributes":      attrs,
		"severity_text":   sevText,
		"severity_number": sevNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch sevText {
	case severityErrorText:
		entry.Error(observabilityMsg)
	case severityWarnText:
		entry.Warn(observabilityMsg)
	default:
		entry.Info(observabilityMsg)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return severityErrorText, 17
	case status >= http.StatusBadRequest:
		return severityWarnText, 13
	default:
		return severityInfoText, 9
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		case []string:
			out = append(out, attribute.StringSlice(k, v))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
