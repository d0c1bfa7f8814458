package main

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Assistant turns document text into summaries, ideas and answers by
// prompting the configured Generator.
type Assistant struct {
	gen          Generator
	prompts      Prompts
	instructions string
	sessions     *ChatSessions
	logger       *zap.Logger
}

func NewAssistant(gen Generator, prompts Prompts, instructions string, sessions *ChatSessions, logger *zap.Logger) *Assistant {
	return &Assistant{
		gen:          gen,
		prompts:      prompts,
		instructions: instructions,
		sessions:     sessions,
		logger:       logger,
	}
}

// Analysis bundles the results shown when a document is first opened.
type Analysis struct {
	Summary          string     `json:"summary"`
	KeyIdeas         string     `json:"keyIdeas"`
	DiscussionPoints string     `json:"discussionPoints"`
	Sentiment        *Sentiment `json:"sentiment"`
}

// runTask sends documentText once, under the task's system instruction.
func (a *Assistant) runTask(ctx context.Context, task Task, documentText string, vars map[string]string, failMsg string) (string, error) {
	if !isValidText(documentText) {
		return "", badRequest("documentText must be a non-empty string")
	}

	req := GenerateRequest{
		System: systemInstruction(a.instructions, a.prompts.Render(task, vars)),
		Turns:  []Turn{{Role: RoleUser, Text: documentText}},
		JSON:   task == TaskSentiment,
	}

	a.logger.Debug("AI task",
		zap.String("task", string(task)),
		zap.String("provider", a.gen.Name()),
		zap.Int("chars", len(documentText)))

	text, err := a.gen.Generate(ctx, req)
	if err != nil {
		return "", providerError(failMsg, err)
	}
	return text, nil
}

// providerError reports a failed model call as 502, except when the breaker
// is holding calls back.
func providerError(msg string, err error) error {
	if errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return upstreamError(msg, err)
}

func (a *Assistant) Summarize(ctx context.Context, documentText string) (string, error) {
	return a.runTask(ctx, TaskSummary, documentText, nil, "Failed to generate a summary from the AI")
}

func (a *Assistant) BulletSummary(ctx context.Context, documentText string) (string, error) {
	return a.runTask(ctx, TaskBulletSummary, documentText, nil, "Failed to generate bullet point summary from the AI")
}

func (a *Assistant) KeyIdeas(ctx context.Context, documentText string) (string, error) {
	return a.runTask(ctx, TaskKeyIdeas, documentText, nil, "Failed to generate key ideas from the AI")
}

func (a *Assistant) DiscussionPoints(ctx context.Context, documentText string) (string, error) {
	return a.runTask(ctx, TaskDiscussionPoints, documentText, nil, "Failed to generate discussion points from the AI")
}

func (a *Assistant) SummaryInLanguage(ctx context.Context, documentText, language string) (string, error) {
	if !isValidText(language) {
		return "", badRequest("language is required")
	}
	vars := map[string]string{"language": strings.TrimSpace(language)}
	return a.runTask(ctx, TaskSummaryInLanguage, documentText, vars, "Failed to generate translated summary from the AI")
}

func (a *Assistant) Rewrite(ctx context.Context, documentText, style string) (string, error) {
	if !isValidText(style) {
		return "", badRequest("style is required")
	}
	vars := map[string]string{"style": strings.TrimSpace(style)}
	return a.runTask(ctx, TaskRewrite, documentText, vars, "Failed to rewrite content using the AI")
}

func (a *Assistant) Recommendations(ctx context.Context, documentText string) (string, error) {
	return a.runTask(ctx, TaskRecommendations, documentText, nil, "Failed to generate actionable recommendations using the AI")
}

func (a *Assistant) Sentiment(ctx context.Context, documentText string) (*Sentiment, error) {
	reply, err := a.runTask(ctx, TaskSentiment, documentText, nil, "Failed to perform sentiment analysis from the AI")
	if err != nil {
		return nil, err
	}
	s, err := parseSentiment(reply)
	if err != nil {
		a.logger.Warn("unparseable sentiment reply", zap.String("reply", reply), zap.Error(err))
		return nil, upstreamError("Failed to parse sentiment analysis response", err)
	}
	return s, nil
}

// Analyze runs summary, key ideas, discussion points and sentiment in parallel.
func (a *Assistant) Analyze(ctx context.Context, documentText string) (*Analysis, error) {
	if !isValidText(documentText) {
		return nil, badRequest("documentText must be a non-empty string")
	}

	var out Analysis
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Summary, err = a.Summarize(ctx, documentText)
		return err
	})
	g.Go(func() (err error) {
		out.KeyIdeas, err = a.KeyIdeas(ctx, documentText)
		return err
	})
	g.Go(func() (err error) {
		out.DiscussionPoints, err = a.DiscussionPoints(ctx, documentText)
		return err
	})
	g.Go(func() (err error) {
		out.Sentiment, err = a.Sentiment(ctx, documentText)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat continues the conversation stored under sessionID. originalText seeds
// a new session with the document it is about.
func (a *Assistant) Chat(ctx context.Context, sessionID, message, originalText string) (string, error) {
	if !isValidText(sessionID) {
		return "", badRequest("sessionId is required")
	}
	if !isValidText(message) {
		return "", badRequest("User message must be a non-empty string.")
	}

	sess, turns, ok := a.sessions.Begin(sessionID, message, originalText)
	if !ok {
		return "", errSessionBusy
	}

	reply, err := a.gen.Generate(ctx, GenerateRequest{
		System: systemInstruction(a.instructions, a.prompts.Render(TaskChat, nil)),
		Turns:  turns,
	})
	if err != nil {
		a.sessions.Abort(sess)
		return "", providerError("Failed to get AI response", err)
	}

	a.sessions.Commit(sess, message, reply)
	return reply, nil
}

func (a *Assistant) ClearChat(sessionID string) {
	a.sessions.Clear(sessionID)
}

var audioMIMETypes = map[string]string{
	"audio/wav":   "audio/wav",
	"audio/wave":  "audio/wav",
	"audio/x-wav": "audio/wav",
	"audio/mp3":   "audio/mp3",
	"audio/mpeg":  "audio/mp3",
}

var errUnsupportedAudio = badRequest("Unsupported audio format. Please upload a WAV or MP3 file.")

// normalizeAudioMIME maps the accepted audio content types onto the two the
// provider knows; anything else is rejected.
func normalizeAudioMIME(mimeType string) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if m, ok := audioMIMETypes[mimeType]; ok {
		return m, nil
	}
	return "", errUnsupportedAudio
}

// ProcessAudio answers a spoken request, optionally about a document.
func (a *Assistant) ProcessAudio(ctx context.Context, data []byte, mimeType, name, docContext string) (string, error) {
	if len(data) == 0 {
		return "", badRequest("No file uploaded")
	}
	mimeType, err := normalizeAudioMIME(mimeType)
	if err != nil {
		return "", err
	}

	ag, ok := a.gen.(AudioGenerator)
	if !ok {
		return "", ErrUnsupported
	}

	prompt := a.prompts.Render(TaskAudio, nil)
	if isValidText(docContext) {
		prompt += " " + a.prompts.Render(TaskAudioContext, map[string]string{"context": docContext})
	}
	if a.instructions != "" {
		prompt = strings.TrimSuffix(strings.TrimSpace(a.instructions), ".") + ". " + prompt
	}

	text, err := ag.GenerateFromAudio(ctx, AudioClip{Data: data, MIMEType: mimeType, Name: name, Prompt: prompt})
	if err != nil {
		if errors.Is(err, ErrUnsupported) || errors.Is(err, errAudioFailed) {
			return "", err
		}
		return "", providerError("Failed to generate a summary from the AI", err)
	}
	return text, nil
}

// SupportsAudio reports whether the provider can take audio input at all.
func (a *Assistant) SupportsAudio() bool {
	g := a.gen
	for {
		w, ok := g.(interface{ Unwrap() Generator })
		if !ok {
			break
		}
		g = w.Unwrap()
	}
	_, ok := g.(AudioGenerator)
	return ok
}
