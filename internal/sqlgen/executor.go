// Package sqlgen turns finance questions into one read-only SQL query and
// runs it against the purchase order and invoice tables.
package sqlgen

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alqutdigital/finance-chat/internal/chat"
	"github.com/alqutdigital/finance-chat/internal/llm"
)

// User-facing messages.
const (
	MessageSuccess      = "Successfully returned a valid SQL result"
	MessageGeneration   = "Error while processing SQL generator"
	MessageNoQuestion   = "No question recived by sql generator"
	MessageInvalidQuery = "LLM responded with INVALID_QUERY for user's question"
	MessageRejected     = "Generated SQL was rejected before execution"
	MessageConnection   = "Database connection error"
	MessageExecution    = "Error while executing the SQL query in the database"
	MessageNoData       = "there is no such data in the db"

	ErrTextNoQuestion   = "No question provided"
	ErrTextInvalidQuery = "Stopped before execution: input not recognized as a question."
	ErrTextConnection   = "Database connection failed"

	// NoDataUserText is shown to the user when the query matched nothing.
	NoDataUserText = "I couldn't find any data matching your query. Please try asking a different question."
)

// Stage names where execution stopped.
type Stage string

const (
	StageInput    Stage = "input"
	StageGenerate Stage = "generate"
	StageValidate Stage = "validate"
	StageConnect  Stage = "connect"
	StageQuery    Stage = "query"
	StageResult   Stage = "result"
)

// StageError records the stage and cause of a failed execution.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("sql %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is the outcome of one question.
type Result struct {
	Status   chat.Status
	Rows     []chat.Row
	SQLQuery string
	Message  string
	// ErrorText is the client-facing error detail.
	ErrorText string
	// UserText replaces the default apology when set.
	UserText string
	Err      *StageError
}

// Options configures an Executor.
type Options struct {
	Temperature  float64
	StageTimeout time.Duration
}

// Executor generates and runs SQL for finance questions.
type Executor struct {
	provider llm.Provider
	db       *sql.DB
	opts     Options
	logger   *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(provider llm.Provider, db *sql.DB, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		provider: provider,
		db:       db,
		opts:     opts,
		logger:   logger.With("component", "sql_executor"),
	}
}

// Execute answers question with a single SELECT. It never returns a Go
// error: every failure is folded into the Result.
func (e *Executor) Execute(ctx context.Context, question string) Result {
	if strings.TrimSpace(question) == "" {
		return failure(StageInput, "", MessageNoQuestion, ErrTextNoQuestion, errors.New("empty question"))
	}

	raw, err := e.generate(ctx, question)
	if err != nil {
		e.logger.Warn("sql generation failed", "error", err)
		return failure(StageGenerate, "", MessageGeneration, err.Error(), err)
	}

	stmt, err := ParseStatement(raw)
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return failure(StageValidate, InvalidQuery, MessageInvalidQuery, ErrTextInvalidQuery, err)
	case err != nil:
		e.logger.Warn("generated sql rejected", "error", err, "sql", raw)
		return failure(StageValidate, cleanModelOutput(raw), MessageRejected, err.Error(), err)
	}

	e.logger.Info("executing generated sql", "sql", stmt.SQL)

	rows, res, ok := e.run(ctx, stmt.SQL)
	if !ok {
		return res
	}

	if len(rows) == 0 {
		r := failure(StageResult, stmt.SQL, MessageNoData, MessageNoData, errors.New("no rows"))
		r.UserText = NoDataUserText
		return r
	}

	return Result{
		Status:   chat.StatusSuccess,
		Rows:     rows,
		SQLQuery: stmt.SQL,
		Message:  MessageSuccess,
	}
}

func (e *Executor) generate(ctx context.Context, question string) (string, error) {
	ctx, cancel := e.stageContext(ctx)
	defer cancel()

	req := llm.UserPrompt(SystemMessage, BuildPrompt(question)).WithTemperature(e.opts.Temperature)
	completion, err := e.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// run executes query on a dedicated connection that is always released.
func (e *Executor) run(ctx context.Context, query string) ([]chat.Row, Result, bool) {
	ctx, cancel := e.stageContext(ctx)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Error("database connection failed", "error", err)
		return nil, failure(StageConnect, query, MessageConnection, ErrTextConnection, err), false
	}
	defer conn.Close()

	rows, err := queryRows(ctx, conn, query)
	if err != nil {
		e.logger.Error("database query failed", "error", err)
		return nil, failure(StageQuery, query, MessageExecution, "Database query error: "+err.Error(), err), false
	}
	return rows, Result{}, true
}

func (e *Executor) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.StageTimeout)
}

func failure(stage Stage, query, message, errText string, cause error) Result {
	return Result{
		Status:    chat.StatusError,
		SQLQuery:  query,
		Message:   message,
		ErrorText: errText,
		Err:       &StageError{Stage: stage, Err: cause},
	}
}

func queryRows(ctx context.Context, conn *sql.Conn, query string) ([]chat.Row, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var out []chat.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := chat.NewRow()
		for i, col := range cols {
			row.Set(col.Name(), normalizeValue(strings.ToUpper(col.DatabaseTypeName()), values[i]))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue converts driver values into JSON-friendly forms. Decimals
// keep their exact digits and dates become ISO-8601 strings.
func normalizeValue(dbType string, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		if dbType == "DATE" {
			return val.Format("2006-01-02")
		}
		if val.Nanosecond() != 0 {
			return val.Format("2006-01-02T15:04:05.000000")
		}
		return val.Format("2006-01-02T15:04:05")
	case []byte:
		return normalizeText(dbType, string(val))
	default:
		return val
	}
}

func normalizeText(dbType, s string) any {
	switch {
	case strings.Contains(dbType, "DECIMAL") || strings.Contains(dbType, "NUMERIC"):
		return json.Number(s)
	case strings.Contains(dbType, "INT"):
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case dbType == "FLOAT" || dbType == "DOUBLE" || dbType == "REAL":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
