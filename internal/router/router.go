// Package router runs one chat turn: classify the question, execute the
// chosen strategy and normalise the outcome into a chat.Response.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/alqutdigital/finance-chat/internal/chat"
	"github.com/alqutdigital/finance-chat/internal/classifier"
	"github.com/alqutdigital/finance-chat/internal/events"
	"github.com/alqutdigital/finance-chat/internal/metrics"
	"github.com/alqutdigital/finance-chat/internal/rag"
	"github.com/alqutdigital/finance-chat/internal/session"
	"github.com/alqutdigital/finance-chat/internal/sqlgen"
)

// User-facing texts.
const (
	VagueQuestionText = "Sorry the question seems vague or is not clear to generate a valid answer"

	InvalidMessage = "The question is invalid, classified as out of context"
	InvalidText    = "Looks like you're asking about a topic that is out of context, Feel free to ask any question regarding financial data"

	SQLFailureText = "Couldn't process your question to generate an SQL query, Please try asking a different question :)"

	RAGSuccessMessage = "Successfully got response using RAG strategy "
	RAGErrorMessage   = "Error while processing the question in RAG"
)

// DefaultMaxUserTurns is the history size at which a session starts over.
const DefaultMaxUserTurns = 20

// Classifier picks the strategy for a question.
type Classifier interface {
	Classify(ctx context.Context, question, transcript string) (classifier.Result, error)
}

// SQLExecutor answers questions about the finance tables.
type SQLExecutor interface {
	Execute(ctx context.Context, question string) sqlgen.Result
}

// RAGAnswerer answers questions from the documentation index.
type RAGAnswerer interface {
	Answer(ctx context.Context, question string) rag.Result
}

// TurnPublisher receives an event for every answered turn.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, ev events.TurnEvent) error
}

// Config holds router settings.
type Config struct {
	MaxUserTurns    int
	ClassifyTimeout time.Duration
}

// Option customises a Router.
type Option func(*Router)

// WithPublisher publishes a turn event after every answered turn.
func WithPublisher(p TurnPublisher) Option {
	return func(r *Router) { r.publisher = p }
}

// WithTracer records spans for each stage.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

// Router is the classify-then-execute pipeline shared by HTTP and websocket chat.
type Router struct {
	classifier Classifier
	sql        SQLExecutor
	rag        RAGAnswerer
	sessions   session.Store
	publisher  TurnPublisher
	tracer     trace.Tracer
	locks      *sessionLocks
	config     Config
	logger     *slog.Logger
}

// New creates a Router.
func New(cls Classifier, sql SQLExecutor, ragAnswerer RAGAnswerer, sessions session.Store, cfg Config, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUserTurns <= 0 {
		cfg.MaxUserTurns = DefaultMaxUserTurns
	}

	r := &Router{
		classifier: cls,
		sql:        sql,
		rag:        ragAnswerer,
		sessions:   sessions,
		tracer:     noop.NewTracerProvider().Tracer("router"),
		locks:      newSessionLocks(),
		config:     cfg,
		logger:     logger.With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle answers one question for sessionID. Strategy failures are reported
// inside the Response; a returned error means the turn could not be served.
func (r *Router) Handle(ctx context.Context, sessionID, question string) (chat.Response, error) {
	start := time.Now()

	release := r.locks.lock(sessionID)
	defer release()

	ctx, span := r.tracer.Start(ctx, "router.handle", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	history, _, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session load failed")
		return chat.Response{}, fmt.Errorf("failed to load session: %w", err)
	}

	if history.UserTurns() >= r.config.MaxUserTurns {
		if err := r.sessions.Clear(ctx, sessionID); err != nil {
			return chat.Response{}, fmt.Errorf("failed to reset session: %w", err)
		}
		r.logger.Info("session history reset", "session_id", sessionID, "user_turns", history.UserTurns())
		metrics.RecordHistoryReset()
		history = chat.History{}
	}

	verdict, err := r.classify(ctx, question, history.Transcript())
	if err != nil {
		r.logger.Warn("classification failed", "session_id", sessionID, "error", err)
		resp := classificationFailure(question, err)
		r.finish(ctx, span, sessionID, question, resp, start)
		return resp, nil
	}

	executed := verdict.Question(question)
	span.SetAttributes(
		attribute.String("chat.strategy", verdict.Strategy.String()),
		attribute.Bool("chat.rewritten", executed != question),
	)

	var resp chat.Response
	switch verdict.Strategy {
	case classifier.StrategySQL:
		resp = r.runSQL(ctx, executed)
	case classifier.StrategyRAG:
		resp = r.runRAG(ctx, executed)
	case classifier.StrategyInvalid:
		resp = invalidResponse(question)
	default:
		err := fmt.Errorf("unhandled strategy %s", verdict.Strategy)
		span.RecordError(err)
		return chat.Response{}, err
	}

	history = append(history, chat.UserTurn(question))
	if err := r.sessions.Put(ctx, sessionID, history); err != nil {
		span.RecordError(err)
		return chat.Response{}, fmt.Errorf("failed to save session: %w", err)
	}

	r.finish(ctx, span, sessionID, question, resp, start)
	return resp, nil
}

// History returns the stored turns of sessionID.
func (r *Router) History(ctx context.Context, sessionID string) (chat.History, bool, error) {
	return r.sessions.Get(ctx, sessionID)
}

// DeleteSession removes sessionID and reports whether it existed.
func (r *Router) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	release := r.locks.lock(sessionID)
	defer release()
	return r.sessions.Delete(ctx, sessionID)
}

func (r *Router) classify(ctx context.Context, question, transcript string) (classifier.Result, error) {
	ctx, span := r.tracer.Start(ctx, "router.classify")
	defer span.End()

	if r.config.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ClassifyTimeout)
		defer cancel()
	}

	start := time.Now()
	verdict, err := r.classifier.Classify(ctx, question, transcript)
	metrics.RecordStage("classify", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return classifier.Result{}, err
	}

	metrics.RecordClassification(verdict.Strategy.String(), verdict.Question(question) != question)
	return verdict, nil
}

func (r *Router) runSQL(ctx context.Context, question string) chat.Response {
	ctx, span := r.tracer.Start(ctx, "router.sql")
	defer span.End()

	start := time.Now()
	res := r.sql.Execute(ctx, question)
	metrics.RecordStage("sql", time.Since(start))

	span.SetAttributes(attribute.String("sql.query", res.SQLQuery), attribute.Int("sql.rows", len(res.Rows)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Err.Stage))
	}
	return sqlResponse(question, res)
}

func (r *Router) runRAG(ctx context.Context, question string) chat.Response {
	ctx, span := r.tracer.Start(ctx, "router.rag")
	defer span.End()

	start := time.Now()
	res := r.rag.Answer(ctx, question)
	metrics.RecordStage("rag", time.Since(start))

	span.SetAttributes(attribute.Int("rag.context_pages", len(res.Context)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "rag failed")
	}
	return ragResponse(question, res)
}

func (r *Router) finish(ctx context.Context, span trace.Span, sessionID, question string, resp chat.Response, start time.Time) {
	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.String("chat.source", string(resp.Source)),
		attribute.String("chat.status", string(resp.Status)),
	)
	metrics.RecordTurn(string(resp.Source), string(resp.Status), elapsed)

	r.logger.Info("chat turn answered",
		"session_id", sessionID,
		"source", resp.Source,
		"status", resp.Status,
		"duration_ms", elapsed.Milliseconds(),
	)

	if r.publisher == nil {
		return
	}
	ev := events.NewTurnEvent(sessionID, question, string(resp.Source), string(resp.Status))
	ev.RewrittenQuery = resp.Meta.RewrittenQuery
	ev.Message = resp.Message
	if resp.Meta.SQLQuery != chat.DefaultSQLQuery {
		ev.SQLQuery = resp.Meta.SQLQuery
	}
	ev.DurationMS = elapsed.Milliseconds()

	if err := r.publisher.PublishTurn(ctx, ev); err != nil {
		metrics.RecordPublishFailure()
		r.logger.Warn("failed to publish turn event", "session_id", sessionID, "error", err)
	}
}

func classificationFailure(question string, err error) chat.Response {
	meta := chat.NewMetaData()
	meta.RewrittenQuery = question
	meta.RawError = err.Error()

	message := classifier.ErrorMessage
	var ce *classifier.ClassifierError
	if errors.As(err, &ce) && ce.Message != "" {
		message = ce.Message
	}

	return chat.Response{
		Status:      chat.StatusError,
		Source:      chat.SourceClassification,
		Message:     message,
		BotResponse: chat.Text(VagueQuestionText),
		Meta:        meta,
	}
}

func invalidResponse(question string) chat.Response {
	meta := chat.NewMetaData()
	meta.RewrittenQuery = question
	return chat.Response{
		Status:      chat.StatusSuccess,
		Source:      chat.SourceInvalid,
		Message:     InvalidMessage,
		BotResponse: chat.Text(InvalidText),
		Meta:        meta,
	}
}

func sqlResponse(question string, res sqlgen.Result) chat.Response {
	meta := chat.NewMetaData()
	meta.RewrittenQuery = question
	if res.SQLQuery != "" {
		meta.SQLQuery = res.SQLQuery
	}

	if res.Status == chat.StatusSuccess {
		return chat.Response{
			Status:      chat.StatusSuccess,
			Source:      chat.SourceSQL,
			Message:     res.Message,
			BotResponse: chat.Table(ApplyCurrency(res.Rows)),
			Meta:        meta,
		}
	}

	meta.RawError = res.ErrorText
	text := SQLFailureText
	if res.UserText != "" {
		text = res.UserText
	}
	return chat.Response{
		Status:      chat.StatusError,
		Source:      chat.SourceSQL,
		Message:     res.Message,
		BotResponse: chat.Text(text),
		Meta:        meta,
	}
}

func ragResponse(question string, res rag.Result) chat.Response {
	meta := chat.NewMetaData()
	meta.RewrittenQuery = question

	if res.Status == chat.StatusSuccess {
		if res.Context != nil {
			meta.ContextPages = res.Context
		}
		return chat.Response{
			Status:      chat.StatusSuccess,
			Source:      chat.SourceRAG,
			Message:     RAGSuccessMessage,
			BotResponse: chat.Text(res.Answer),
			Meta:        meta,
		}
	}

	meta.RawError = res.ErrorText
	return chat.Response{
		Status:      chat.StatusError,
		Source:      chat.SourceRAG,
		Message:     RAGErrorMessage,
		BotResponse: chat.Text(VagueQuestionText),
		Meta:        meta,
	}
}
