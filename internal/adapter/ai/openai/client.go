package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/pkg/config"
)

// Client wraps the OpenAI chat API behind a circuit breaker. Every AI
// feature in the engine (LLM recognition, decomposition, ledger search)
// goes through completeJSON, so one sick upstream trips one breaker.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewClient(cfg config.OpenAIConfig, log *zap.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "openai",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			minRequests := cfg.Breaker.MinRequests
			if minRequests == 0 {
				minRequests = 5
			}
			rate := cfg.Breaker.FailureRate
			if rate == 0 {
				rate = 0.6
			}
			return counts.Requests >= minRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= rate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		api:     openai.NewClient(cfg.APIKey),
		model:   model,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// completeJSON sends one system+user exchange and returns the raw JSON the
// model produced.
func (c *Client) completeJSON(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: 0,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("openai: no choices returned")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// Available reports whether the breaker currently lets requests through.
func (c *Client) Available() bool {
	return c.breaker.State() != gobreaker.StateOpen
}
