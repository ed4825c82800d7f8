package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alqutdigital/finance-chat/internal/llm"
)

type verdict struct {
	Classification    string `json:"classification"`
	RewrittenQuestion string `json:"rewritten_question"`
}

// Classifier labels questions with one model call each.
type Classifier struct {
	provider llm.Provider
	logger   *slog.Logger
}

// New creates a Classifier over provider.
func New(provider llm.Provider, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		provider: provider,
		logger:   logger.With("component", "classifier"),
	}
}

// Classify decides the strategy for question given the session transcript.
// Every failure is a *ClassifierError.
func (c *Classifier) Classify(ctx context.Context, question, transcript string) (Result, error) {
	c.logger.Debug("classifying question", "question", question)

	req := llm.UserPrompt("", BuildPrompt(question, transcript))
	req.JSONOutput = true

	completion, err := c.provider.Complete(ctx, req)
	if err != nil {
		return Result{}, newError(fmt.Errorf("model call failed: %w", err))
	}

	result, err := parseVerdict(completion.Text)
	if err != nil {
		c.logger.Warn("unparseable classification", "error", err, "reply", completion.Text)
		return Result{}, newError(err)
	}

	c.logger.Info("question classified",
		"strategy", result.Strategy.String(),
		"rewritten", result.RewrittenQuestion != question && result.RewrittenQuestion != NoRewrite,
	)
	return result, nil
}

func parseVerdict(text string) (Result, error) {
	var v verdict
	if err := llm.DecodeJSONObject(text, &v); err != nil {
		return Result{}, fmt.Errorf("invalid classifier output: %w", err)
	}
	if v.Classification == "" {
		return Result{}, errors.New("classifier output has no classification")
	}

	strategy, err := ParseStrategy(v.Classification)
	if err != nil {
		return Result{}, err
	}

	rewritten := v.RewrittenQuestion
	if rewritten == "" {
		rewritten = NoRewrite
	}
	return Result{Strategy: strategy, RewrittenQuestion: rewritten}, nil
}
