package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/revaiconcierge/concierge/internal/config"
	obsmetrics "github.com/revaiconcierge/concierge/internal/observability/metrics"
	"github.com/revaiconcierge/concierge/internal/reply/domain"
	usagemetricdomain "github.com/revaiconcierge/concierge/internal/usagemetric/domain"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 200
)

// ChatClient is the part of *openai.Client used for reply generation.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewChatClient returns nil when no API key is configured, which disables generation.
func NewChatClient(cfg config.Config) ChatClient {
	if cfg.AI.APIKey == "" {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.AI.APIKey)
	if cfg.AI.BaseURL != "" {
		clientCfg.BaseURL = cfg.AI.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Client  ChatClient `optional:"true"`
	Usage   usagemetricdomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	cfg     config.AIConfig
	log     *zap.Logger
	client  ChatClient
	usage   usagemetricdomain.Service
	metrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		cfg:     p.Cfg.AI,
		log:     p.Log.Named("reply.service"),
		client:  p.Client,
		usage:   p.Usage,
		metrics: p.Metrics,
	}
}

func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return domain.GenerateResponse{}, domain.ErrInvalidTenant
	}
	if strings.TrimSpace(req.ReviewID) == "" {
		return domain.GenerateResponse{}, domain.ErrInvalidReview
	}
	if s.client == nil {
		return domain.GenerateResponse{}, domain.ErrGeneratorDisabled
	}

	if _, err := s.usage.Record(ctx, usagemetricdomain.RecordRequest{
		TenantID:   tenantID,
		MetricName: usagemetricdomain.MetricAIReply,
		Count:      1,
	}); err != nil {
		return domain.GenerateResponse{}, err
	}

	in := newPromptInput(req, s.cfg.Language)
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model(),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.maxTokens(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: in.userPrompt()},
		},
	})
	if err != nil {
		s.metrics.RecordAIReply(ctx, string(in.tone), false)
		s.log.Error("reply generation failed",
			zap.String("tenant_id", tenantID),
			zap.String("review_id", req.ReviewID),
			zap.Error(err),
		)
		return domain.GenerateResponse{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		s.metrics.RecordAIReply(ctx, string(in.tone), false)
		return domain.GenerateResponse{}, domain.ErrEmptyCompletion
	}

	s.metrics.RecordAIReply(ctx, string(in.tone), true)
	return domain.GenerateResponse{
		Reply:        truncateRunes(strings.TrimSpace(resp.Choices[0].Message.Content), maxReplyRunes),
		ReviewID:     req.ReviewID,
		UsedTemplate: in.template != "",
	}, nil
}

func (s *Service) model() string {
	if s.cfg.Model == "" {
		return defaultModel
	}
	return s.cfg.Model
}

func (s *Service) maxTokens() int {
	if s.cfg.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return s.cfg.MaxTokens
}
