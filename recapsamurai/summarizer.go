package recapsamurai

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrSummarizationFailed indicates the generation backend returned an error
// or timed out. Cadence handlers treat it per-guild: skip that guild's digest
// for the cycle, log, don't retry.
var ErrSummarizationFailed = errors.New("summarization failed")

const (
	// summaryFallbackText is returned when the backend yields an empty
	// result, so downstream dispatch always has non-empty content.
	summaryFallbackText = "要約を生成できませんでした。"

	weeklyPromptTemplate   = "次のDiscordメッセージの要点を日本語で簡潔にまとめてください（300文字以内）。"
	headlinePromptTemplate = "次のDiscordメッセージから重要トピックを抽出し、3〜5項目の箇条書きで構成された日本語のヘッドライン要約を作成してください。各項目は50文字以内にしてください。"
	logQAPromptTemplate    = "あなたはDiscordのメッセージ履歴を熟知したAIです。履歴を参考に、ユーザーの質問に日本語で簡潔かつ正確に答えてください。"
)

var (
	weeklyGenerateOptions = GenerateOptions{
		MaxTokens:   1024,
		Temperature: 0.7,
		TopP:        0.95,
	}
	headlineGenerateOptions = GenerateOptions{
		MaxTokens:   512,
		Temperature: 0.4,
		TopP:        0.95,
	}
	logQAGenerateOptions = GenerateOptions{
		MaxTokens:   1024,
		Temperature: 0.2,
		TopP:        0.95,
		Fallback:    "履歴から答えを生成できませんでした。",
	}
)

// GenerateOptions are pass-through sampling parameters for a single
// generation call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float32
	TopP        float32

	// Fallback overrides summaryFallbackText for an empty result
	Fallback string
}

// Summarizer abstracts the generative-text backend used for digests and
// log QA.
type Summarizer interface {
	// Summarize builds a "{author}: {content}" transcript from msgs in
	// chronological order, prepends the instructional prompt, and returns
	// the accumulated generation. An empty backend result yields the
	// fallback string rather than ""; backend errors and timeouts wrap
	// ErrSummarizationFailed.
	Summarize(
		ctx context.Context,
		prompt string,
		msgs []MessageRecord,
		opts GenerateOptions,
	) (string, error)
}

// completionStream is the portion of [openai.ChatCompletionStream] the
// adapter consumes. The stream is finite and non-restartable; the adapter
// fully drains it before returning.
type completionStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// completionStreamer defines the OpenAI client methods used by the adapter,
// to enable testing/mocking.
type completionStreamer interface {
	CreateChatCompletionStream(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (completionStream, error)
}

// openAIStreamClient wraps [openai.Client] as a completionStreamer.
type openAIStreamClient struct {
	client *openai.Client
}

func (c openAIStreamClient) CreateChatCompletionStream(
	ctx context.Context,
	request openai.ChatCompletionRequest,
) (completionStream, error) {
	return c.client.CreateChatCompletionStream(ctx, request)
}

// OpenAISummarizer implements Summarizer over the OpenAI chat completion
// streaming API.
//
// Model selection is a pure function of wall-clock time and static config:
// when an alternate model and cutover timestamp are configured, the
// alternate model is used for every call started strictly before the
// cutover. This is re-evaluated on every invocation, never cached.
type OpenAISummarizer struct {
	client         completionStreamer
	config         *SummarizerConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter

	// now is swappable for tests
	now func() time.Time
}

func newOpenAISummarizer(
	config *SummarizerConfig,
	httpClient *http.Client,
) *OpenAISummarizer {
	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	rps := config.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultSummaryMaxRequestsPerSecond
	}

	return &OpenAISummarizer{
		client:         openAIStreamClient{client: openai.NewClientWithConfig(clientCfg)},
		config:         config,
		logger:         newComponentLogger("summarizer", config.LogLevel),
		requestLimiter: rate.NewLimiter(rate.Limit(rps), 1),
		now:            time.Now,
	}
}

// model returns the model identifier to use for a call starting at the
// given time. The boundary now == AlternateModelUntil selects the primary.
func (s *OpenAISummarizer) model(now time.Time) string {
	if s.config.AlternateModel != "" &&
		!s.config.AlternateModelUntil.IsZero() &&
		now.Before(s.config.AlternateModelUntil) {
		return s.config.AlternateModel
	}
	return s.config.Model
}

// transcript renders records as newline-joined "{author}: {content}" lines
// in chronological (append) order.
func transcript(msgs []MessageRecord) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = fmt.Sprintf("%s: %s", m.Author, m.Content)
	}
	return strings.Join(lines, "\n")
}

func (s *OpenAISummarizer) Summarize(
	ctx context.Context,
	prompt string,
	msgs []MessageRecord,
	opts GenerateOptions,
) (string, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	if err := s.requestLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}

	model := s.model(s.now())
	request := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: transcript(msgs),
			},
		},
	}

	started := s.now()
	stream, err := s.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		s.logger.ErrorContext(ctx, "error creating completion stream", tint.Err(err), "model", model)
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			s.logger.Warn("error closing completion stream", tint.Err(closeErr))
		}
	}()

	var sb strings.Builder
	var fragments int
	for {
		response, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			s.logger.ErrorContext(ctx, "error receiving fragment", tint.Err(recvErr), "model", model)
			return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, recvErr)
		}
		for _, choice := range response.Choices {
			sb.WriteString(choice.Delta.Content)
		}
		fragments++
	}

	summary := sb.String()
	s.logger.InfoContext(
		ctx,
		"generation complete",
		"model", model,
		"fragments", fragments,
		"messages", len(msgs),
		"output_len", len(summary),
		"elapsed", s.now().Sub(started),
	)

	if strings.TrimSpace(summary) == "" {
		if opts.Fallback != "" {
			return opts.Fallback, nil
		}
		return summaryFallbackText, nil
	}
	return summary, nil
}
