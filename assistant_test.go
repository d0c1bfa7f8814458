package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAssistantTasksSendSystemInstruction(t *testing.T) {
	gen := &fakeGenerator{}
	sessions := NewChatSessions(time.Hour, 10, 0)
	a := NewAssistant(gen, testPrompts(t), "You are DocuThinker", sessions, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() (string, error)
		want string
	}{
		{"key ideas", func() (string, error) { return a.KeyIdeas(ctx, "doc") },
			"You are DocuThinker. Your task now is to: Generate key ideas from the provided text."},
		{"discussion points", func() (string, error) { return a.DiscussionPoints(ctx, "doc") },
			"You are DocuThinker. Your task now is to: Generate discussion points from the provided text."},
		{"bullet summary", func() (string, error) { return a.BulletSummary(ctx, "doc") },
			"You are DocuThinker. Your task now is to: Summarize the provided document text in bullet points."},
		{"language", func() (string, error) { return a.SummaryInLanguage(ctx, "doc", " Spanish ") },
			"You are DocuThinker. Your task now is to: Summarize the given text in Spanish."},
		{"rewrite", func() (string, error) { return a.Rewrite(ctx, "doc", "casual") },
			"You are DocuThinker. Your task now is to: Rephrase or rewrite the provided text in a casual style."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.run()
			require.NoError(t, err)
			assert.Equal(t, "ok", out)

			calls := gen.Calls()
			last := calls[len(calls)-1]
			assert.Equal(t, tt.want, last.System)
			assert.Equal(t, []Turn{{Role: RoleUser, Text: "doc"}}, last.Turns)
		})
	}
}

func TestAssistantValidation(t *testing.T) {
	gen := &fakeGenerator{}
	a := newTestAssistant(t, gen)
	ctx := context.Background()

	_, err := a.KeyIdeas(ctx, "  \n ")
	assert.Equal(t, http.StatusBadRequest, statusFor(err))

	_, err = a.SummaryInLanguage(ctx, "doc", "")
	assert.Equal(t, http.StatusBadRequest, statusFor(err))

	_, err = a.Rewrite(ctx, "doc", " ")
	assert.Equal(t, http.StatusBadRequest, statusFor(err))

	_, err = a.Analyze(ctx, "")
	assert.Equal(t, http.StatusBadRequest, statusFor(err))

	assert.Empty(t, gen.Calls(), "invalid input must not reach the provider")
}

func TestAssistantProviderFailure(t *testing.T) {
	gen := &fakeGenerator{reply: func(GenerateRequest) (string, error) { return "", ErrEmptyReply }}
	a := newTestAssistant(t, gen)

	_, err := a.KeyIdeas(context.Background(), "doc")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, statusFor(err))
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Contains(t, err.Error(), "Failed to generate key ideas from the AI")
}

func TestAssistantProviderUnavailable(t *testing.T) {
	gen := &fakeGenerator{reply: func(GenerateRequest) (string, error) { return "", ErrProviderUnavailable }}
	a := newTestAssistant(t, gen)

	_, err := a.Summarize(context.Background(), "doc")
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(err))
}

func TestAssistantSentiment(t *testing.T) {
	gen := &fakeGenerator{reply: func(GenerateRequest) (string, error) {
		return "```json\n{\"score\": 0.8, \"description\": \"Positive\"}\n```", nil
	}}
	a := newTestAssistant(t, gen)

	s, err := a.Sentiment(context.Background(), "great news")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, s.Score, 1e-9)
	assert.Equal(t, "Positive", s.Description)
	assert.True(t, gen.Calls()[0].JSON)

	gen.reply = func(GenerateRequest) (string, error) { return "no idea", nil }
	_, err = a.Sentiment(context.Background(), "great news")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, statusFor(err))
	assert.Contains(t, err.Error(), "Failed to parse sentiment analysis response")
}

func TestAssistantAnalyze(t *testing.T) {
	gen := &fakeGenerator{reply: replyByTask(map[string]string{
		"in paragraphs":         "the summary",
		"key ideas":             "the ideas",
		"discussion points":     "the points",
		"Analyze the sentiment": `{"score": -0.2, "description": "meh"}`,
	})}
	a := newTestAssistant(t, gen)

	out, err := a.Analyze(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, "the summary", out.Summary)
	assert.Equal(t, "the ideas", out.KeyIdeas)
	assert.Equal(t, "the points", out.DiscussionPoints)
	assert.InDelta(t, -0.2, out.Sentiment.Score, 1e-9)
	assert.Len(t, gen.Calls(), 4)
}

func TestAssistantAnalyzeFailsAsAWhole(t *testing.T) {
	gen := &fakeGenerator{reply: replyByTask(map[string]string{
		"in paragraphs":     "the summary",
		"key ideas":         "the ideas",
		"discussion points": "the points",
	})}
	a := newTestAssistant(t, gen)

	_, err := a.Analyze(context.Background(), "doc")
	assert.Equal(t, http.StatusBadGateway, statusFor(err))
}

func TestAssistantChat(t *testing.T) {
	gen := &fakeGenerator{reply: func(GenerateRequest) (string, error) { return "Hello!", nil }}
	a := newTestAssistant(t, gen)
	ctx := context.Background()

	reply, err := a.Chat(ctx, "s1", "Hi", "Some document")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply)

	call := gen.Calls()[0]
	assert.Contains(t, call.System, "respond to the user's message conversationally")
	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "Some document"},
		{Role: RoleUser, Text: "Hi"},
	}, call.Turns)

	_, err = a.Chat(ctx, "s1", "   ", "")
	assert.Equal(t, http.StatusBadRequest, statusFor(err))
	_, err = a.Chat(ctx, "", "Hi", "")
	assert.Equal(t, http.StatusBadRequest, statusFor(err))
}

func TestAssistantChatRollsBackOnFailure(t *testing.T) {
	gen := &fakeGenerator{reply: func(GenerateRequest) (string, error) { return "", errors.New("quota") }}
	a := newTestAssistant(t, gen)
	ctx := context.Background()

	_, err := a.Chat(ctx, "s1", "Hi", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, statusFor(err))
	assert.Contains(t, err.Error(), "Failed to get AI response: quota")
	assert.Empty(t, a.sessions.History("s1"))

	gen.reply = func(GenerateRequest) (string, error) { return "Back.", nil }
	_, err = a.Chat(ctx, "s1", "Hi", "")
	require.NoError(t, err)

	last := gen.Calls()[1]
	assert.Equal(t, []Turn{{Role: RoleUser, Text: "Hi"}}, last.Turns, "failed turn must not be resent")
}

func TestAssistantProcessAudio(t *testing.T) {
	gen := &fakeAudioGenerator{audioReply: "You asked about cats."}
	sessions := NewChatSessions(time.Hour, 10, 0)
	a := NewAssistant(gen, testPrompts(t), "Be brief", sessions, zap.NewNop())
	ctx := context.Background()

	out, err := a.ProcessAudio(ctx, []byte("RIFF"), "audio/x-wav", "q.wav", "A paper about cats")
	require.NoError(t, err)
	assert.Equal(t, "You asked about cats.", out)

	clip := gen.Clips()[0]
	assert.Equal(t, "audio/wav", clip.MIMEType)
	assert.Contains(t, clip.Prompt, "Be brief. Please respond conversationally")
	assert.Contains(t, clip.Prompt, "Answer based on this document: A paper about cats")

	_, err = a.ProcessAudio(ctx, []byte("x"), "video/mp4", "v.mp4", "")
	assert.Equal(t, http.StatusBadRequest, statusFor(err))

	_, err = a.ProcessAudio(ctx, nil, "audio/wav", "q.wav", "")
	assert.Equal(t, http.StatusBadRequest, statusFor(err))
}

func TestAssistantProcessAudioUnsupportedProvider(t *testing.T) {
	a := newTestAssistant(t, &fakeGenerator{})
	assert.False(t, a.SupportsAudio())

	_, err := a.ProcessAudio(context.Background(), []byte("RIFF"), "audio/wav", "q.wav", "")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, http.StatusNotImplemented, statusFor(err))
}

func TestSupportsAudioThroughWrappers(t *testing.T) {
	gen := withRateLimit(withCircuitBreaker(&fakeAudioGenerator{}, 3, time.Second), 10, 1)
	a := newTestAssistant(t, gen)
	assert.True(t, a.SupportsAudio())
}

func TestNormalizeAudioMIME(t *testing.T) {
	for in, want := range map[string]string{
		"audio/wav":             "audio/wav",
		"audio/wave":            "audio/wav",
		"audio/x-wav":           "audio/wav",
		"AUDIO/MP3":             "audio/mp3",
		"audio/mpeg; charset=x": "audio/mp3",
	} {
		got, err := normalizeAudioMIME(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := normalizeAudioMIME("audio/ogg")
	assert.Equal(t, errUnsupportedAudio, err)
}
