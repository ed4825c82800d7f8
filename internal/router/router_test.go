package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/finance-chat/internal/chat"
	"github.com/alqutdigital/finance-chat/internal/classifier"
	"github.com/alqutdigital/finance-chat/internal/events"
	"github.com/alqutdigital/finance-chat/internal/rag"
	"github.com/alqutdigital/finance-chat/internal/session"
	"github.com/alqutdigital/finance-chat/internal/sqlgen"
)

type fakeClassifier struct {
	mu          sync.Mutex
	result      classifier.Result
	err         error
	transcripts []string
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, transcript string) (classifier.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, transcript)
	return f.result, f.err
}

type fakeSQL struct {
	result    sqlgen.Result
	questions []string
}

func (f *fakeSQL) Execute(_ context.Context, question string) sqlgen.Result {
	f.questions = append(f.questions, question)
	return f.result
}

type fakeRAG struct {
	result    rag.Result
	questions []string
}

func (f *fakeRAG) Answer(_ context.Context, question string) rag.Result {
	f.questions = append(f.questions, question)
	return f.result
}

type fakePublisher struct {
	events []events.TurnEvent
	err    error
}

func (f *fakePublisher) PublishTurn(_ context.Context, ev events.TurnEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

type fixture struct {
	cls    *fakeClassifier
	sql    *fakeSQL
	rag    *fakeRAG
	store  *session.MemoryStore
	router *Router
}

func newFixture(strategy classifier.Strategy, opts ...Option) *fixture {
	f := &fixture{
		cls:   &fakeClassifier{result: classifier.Result{Strategy: strategy, RewrittenQuestion: classifier.NoRewrite}},
		sql:   &fakeSQL{},
		rag:   &fakeRAG{},
		store: session.NewMemoryStore(0),
	}
	f.router = New(f.cls, f.sql, f.rag, f.store, Config{MaxUserTurns: 20}, nil, opts...)
	return f
}

func countRow(n int64) chat.Row {
	row := chat.NewRow()
	row.Set("count", n)
	return row
}

func TestHandle_SQLSuccess(t *testing.T) {
	f := newFixture(classifier.StrategySQL)
	f.sql.result = sqlgen.Result{
		Status:   chat.StatusSuccess,
		Rows:     []chat.Row{countRow(42)},
		SQLQuery: "SELECT COUNT(*) AS count FROM purchase_order",
		Message:  sqlgen.MessageSuccess,
	}

	resp, err := f.router.Handle(context.Background(), "s1", "total number of purchase orders?")
	require.NoError(t, err)

	assert.Equal(t, chat.StatusSuccess, resp.Status)
	assert.Equal(t, chat.SourceSQL, resp.Source)
	assert.Equal(t, "SELECT COUNT(*) AS count FROM purchase_order", resp.Meta.SQLQuery)

	payload, err := json.Marshal(resp.BotResponse)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"count":42}]`, string(payload))
}

func TestHandle_NoRewriteExecutesOriginal(t *testing.T) {
	f := newFixture(classifier.StrategySQL)
	f.sql.result = sqlgen.Result{Status: chat.StatusSuccess, Rows: []chat.Row{countRow(1)}}

	resp, err := f.router.Handle(context.Background(), "s1", "how many invoices are pending?")
	require.NoError(t, err)

	assert.Equal(t, []string{"how many invoices are pending?"}, f.sql.questions)
	assert.Equal(t, "how many invoices are pending?", resp.Meta.RewrittenQuery)
}

func TestHandle_RewriteDrivesExecution(t *testing.T) {
	f := newFixture(classifier.StrategySQL)
	f.cls.result.RewrittenQuestion = "How many invoices from Dell are pending?"
	f.sql.result = sqlgen.Result{Status: chat.StatusSuccess, Rows: []chat.Row{countRow(3)}}

	resp, err := f.router.Handle(context.Background(), "s1", "and pending ones?")
	require.NoError(t, err)

	assert.Equal(t, []string{"How many invoices from Dell are pending?"}, f.sql.questions)
	assert.Equal(t, "How many invoices from Dell are pending?", resp.Meta.RewrittenQuery)

	history, ok, err := f.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chat.History{chat.UserTurn("and pending ones?")}, history)
}

func TestHandle_RAGSuccess(t *testing.T) {
	f := newFixture(classifier.StrategyRAG)
	pages := []chat.PageRef{chat.NewPageRange(12, 14)}
	f.rag.result = rag.Result{Status: chat.StatusSuccess, Answer: "A policy is...", Context: pages}

	resp, err := f.router.Handle(context.Background(), "s1", "what is a policy?")
	require.NoError(t, err)

	assert.Equal(t, chat.StatusSuccess, resp.Status)
	assert.Equal(t, chat.SourceRAG, resp.Source)
	assert.Equal(t, RAGSuccessMessage, resp.Message)
	assert.Equal(t, pages, resp.Meta.ContextPages)
	assert.Equal(t, chat.DefaultSQLQuery, resp.Meta.SQLQuery)

	text, ok := resp.BotResponse.AsText()
	require.True(t, ok)
	assert.Equal(t, "A policy is...", text)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"context_pages":[{"page_start":12,"page_end":14}]`)
}

func TestHandle_RAGError(t *testing.T) {
	f := newFixture(classifier.StrategyRAG)
	f.rag.result = rag.Result{Status: chat.StatusError, ErrorText: "embedding failed", Err: errors.New("embedding failed")}

	resp, err := f.router.Handle(context.Background(), "s1", "what is a hold?")
	require.NoError(t, err)

	assert.Equal(t, chat.StatusError, resp.Status)
	assert.Equal(t, chat.SourceRAG, resp.Source)
	assert.Equal(t, RAGErrorMessage, resp.Message)
	assert.Equal(t, "embedding failed", resp.Meta.RawError)
	text, _ := resp.BotResponse.AsText()
	assert.Equal(t, VagueQuestionText, text)
}

func TestHandle_Invalid(t *testing.T) {
	f := newFixture(classifier.StrategyInvalid)

	resp, err := f.router.Handle(context.Background(), "s1", "w")
	require.NoError(t, err)

	assert.Equal(t, chat.StatusSuccess, resp.Status)
	assert.Equal(t, chat.SourceInvalid, resp.Source)
	assert.Equal(t, "Classification", string(resp.Source))
	assert.Equal(t, InvalidMessage, resp.Message)
	assert.Equal(t, "w", resp.Meta.RewrittenQuery)
	assert.Empty(t, f.sql.questions)
	assert.Empty(t, f.rag.questions)

	history, _, _ := f.store.Get(context.Background(), "s1")
	assert.Equal(t, 1, history.UserTurns())
}

func TestHandle_SQLInvalidQuery(t *testing.T) {
	f := newFixture(classifier.StrategySQL)
	f.sql.result = sqlgen.Result{
		Status:    chat.StatusError,
		SQLQuery:  sqlgen.InvalidQuery,
		Message:   sqlgen.MessageInvalidQuery,
		ErrorText: sqlgen.ErrTextInvalidQuery,
	}

	resp, err := f.router.Handle(context.Background(), "s1", "how is the weather?")
	require.NoError(t, err)

	assert.Equal(t, chat.StatusError, resp.Status)
	assert.Equal(t, chat.SourceSQL, resp.Source)
	assert.Equal(t, "INVALID_QUERY", resp.Meta.SQLQuery)
	assert.Equal(t, sqlgen.ErrTextInvalidQuery, resp.Meta.RawError)
	text, _ := resp.BotResponse.AsText()
	assert.Equal(t, SQLFailureText, text)
}

func TestHandle_SQLNoRowsUsesUserText(t *testing.T) {
	f := newFixture(classifier.StrategySQL)
	f.sql.result = sqlgen.Result{
		Status:    chat.StatusError,
		SQLQuery:  "SELECT * FROM invoices WHERE 1 = 0",
		Message:   sqlgen.MessageNoData,
		ErrorText: sqlgen.MessageNoData,
		UserText:  sqlgen.NoDataUserText,
	}

	resp, err := f.router.Handle(context.Background(), "s1", "invoices from 1900?")
	require.NoError(t, err)

	text, _ := resp.BotResponse.AsText()
	assert.Equal(t, sqlgen.NoDataUserText, text)
	assert.Equal(t, sqlgen.MessageNoData, resp.Message)
}

func TestHandle_ClassifierErrorDoesNotTouchHistory(t *testing.T) {
	f := newFixture(classifier.StrategySQL)
	f.cls.err = &classifier.ClassifierError{Message: classifier.ErrorMessage, Cause: errors.New("bad json")}
	require.NoError(t, f.store.Put(context.Background(), "s1", chat.History{chat.UserTurn("earlier")}))

	resp, err := f.router.Handle(context.Background(), "s1", "and then?")
	require.NoError(t, err)

	assert.Equal(t, chat.StatusError, resp.Status)
	assert.Equal(t, chat.SourceClassification, resp.Source)
	assert.Equal(t, classifier.ErrorMessage, resp.Message)
	assert.NotNil(t, resp.Meta.RawError)
	assert.Equal(t, "and then?", resp.Meta.RewrittenQuery)
	text, _ := resp.BotResponse.AsText()
	assert.Equal(t, VagueQuestionText, text)

	history, _, _ := f.store.Get(context.Background(), "s1")
	assert.Equal(t, chat.History{chat.UserTurn("earlier")}, history)
	assert.Empty(t, f.sql.questions)
}

func TestHandle_TruncatesAtTurnLimit(t *testing.T) {
	f := newFixture(classifier.StrategyInvalid)

	full := make(chat.History, 0, 20)
	for i := 0; i < 20; i++ {
		full = append(full, chat.UserTurn(fmt.Sprintf("q%d", i)))
	}
	require.NoError(t, f.store.Put(context.Background(), "s1", full))

	_, err := f.router.Handle(context.Background(), "s1", "q20")
	require.NoError(t, err)

	require.Len(t, f.cls.transcripts, 1)
	assert.Empty(t, f.cls.transcripts[0])

	history, _, _ := f.store.Get(context.Background(), "s1")
	assert.Equal(t, chat.History{chat.UserTurn("q20")}, history)
}

func TestHandle_KeepsHistoryBelowLimit(t *testing.T) {
	f := newFixture(classifier.StrategyInvalid)

	var h chat.History
	for i := 0; i < 19; i++ {
		h = append(h, chat.UserTurn(fmt.Sprintf("q%d", i)))
	}
	require.NoError(t, f.store.Put(context.Background(), "s1", h))

	_, err := f.router.Handle(context.Background(), "s1", "q19")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(f.cls.transcripts[0], "User: q0\nUser: q1"))
	history, _, _ := f.store.Get(context.Background(), "s1")
	assert.Equal(t, 20, history.UserTurns())
}

func TestHandle_PublishesTurnEvent(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	f := newFixture(classifier.StrategySQL, WithPublisher(pub))
	f.sql.result = sqlgen.Result{Status: chat.StatusSuccess, Rows: []chat.Row{countRow(42)}, SQLQuery: "SELECT 42"}

	resp, err := f.router.Handle(context.Background(), "s1", "count?")
	require.NoError(t, err, "publish failures must not fail the turn")
	assert.Equal(t, chat.StatusSuccess, resp.Status)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "chat.turn.sql", ev.Subject())
	assert.Equal(t, "SELECT 42", ev.SQLQuery)
}

func TestHandle_ConcurrentTurnsOnOneSession(t *testing.T) {
	f := newFixture(classifier.StrategyInvalid)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.router.Handle(context.Background(), "shared", fmt.Sprintf("q%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, _, _ := f.store.Get(context.Background(), "shared")
	assert.Equal(t, 10, history.UserTurns())
	assert.Equal(t, 0, f.router.locks.size())
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(classifier.StrategyInvalid)

	ok, err := f.router.DeleteSession(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.router.Handle(context.Background(), "s1", "hello")
	require.NoError(t, err)

	ok, err = f.router.DeleteSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := f.router.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, found)
}

type failingStore struct{ session.Store }

func (failingStore) Get(context.Context, string) (chat.History, bool, error) {
	return nil, false, errors.New("redis unavailable")
}

func TestHandle_SessionLoadErrorEscapes(t *testing.T) {
	r := New(&fakeClassifier{}, &fakeSQL{}, &fakeRAG{}, failingStore{}, Config{}, nil)

	_, err := r.Handle(context.Background(), "s1", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable")
}
