// Package quiz is the LLM helper behind the quiz widget and the global chat box.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/quiz-assist/internal/ai"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
)

var ErrInvalid = errors.New("invalid quiz request")

type Answer struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

type AskRequest struct {
	QuestionText string   `json:"questionText"`
	Answers      []Answer `json:"answers"`
	PromptType   string   `json:"promptType"`
}

type Service struct {
	provider ai.Provider
	tpl      *Templates
	timeout  time.Duration
}

// NewService wires the helper. provider may be nil when no backend is
// configured; every call then fails with ai.ErrUpstream.
func NewService(provider ai.Provider, tpl *Templates, timeout time.Duration) *Service {
	if tpl == nil {
		tpl = &Templates{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{provider: provider, tpl: tpl, timeout: timeout}
}

// Actions lists the configured prompt types without their templates.
func (s *Service) Actions() []Action {
	return lo.Map(s.tpl.Actions, func(a Action, _ int) Action {
		return Action{Key: a.Key, Label: a.Label}
	})
}

// BuildLists numbers the answers from 1 and splits them by correctness.
func BuildLists(answers []Answer) (all, correct, incorrect string) {
	var a, c, inc strings.Builder
	for i, ans := range answers {
		line := fmt.Sprintf("%d. %s\n", i+1, strings.TrimSpace(ans.Text))
		a.WriteString(line)
		if ans.Correct {
			c.WriteString(line)
		} else {
			inc.WriteString(line)
		}
	}
	return a.String(), c.String(), inc.String()
}

func (s *Service) Ask(ctx context.Context, req AskRequest) (string, error) {
	act, ok := s.tpl.Action(strings.TrimSpace(req.PromptType))
	if !ok {
		return "", fmt.Errorf("%w: missing template for prompt type %q", ErrInvalid, req.PromptType)
	}

	all, correct, incorrect := BuildLists(req.Answers)
	user := strings.NewReplacer(
		"{question}", strings.TrimSpace(req.QuestionText),
		"{list}", all,
		"{correct}", correct,
		"{incorrect}", incorrect,
	).Replace(act.User)

	return s.complete(ctx, "ask", []ai.Message{
		{Role: ai.RoleSystem, Content: act.System},
		{Role: ai.RoleUser, Content: user},
	})
}

func (s *Service) GlobalChat(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalid)
	}
	msgs := make([]ai.Message, 0, 2)
	if s.tpl.GlobalPrompt != "" {
		msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: s.tpl.GlobalPrompt})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: message})
	return s.complete(ctx, "global", msgs)
}

func (s *Service) complete(ctx context.Context, kind string, msgs []ai.Message) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("%w: no ai provider configured", ai.ErrUpstream)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.provider.Complete(cctx, msgs)
	if err != nil {
		logger.WithFields(logrus.Fields{"kind": kind, "cost": time.Since(start).String()}).
			WithError(err).Warn("ai call failed")
		return "", fmt.Errorf("%w: %w", ai.ErrUpstream, err)
	}
	return reply, nil
}
