package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/market"
)

// Provider 产出开仓建议，由扫描器消费。
type Provider interface {
	Generate(ctx context.Context, snapshots []market.Snapshot) ([]Entry, error)
}

// Client 封装 OpenAI 调用逻辑。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建信号客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}
	config.HTTPClient = httpClient
	client := openai.NewClientWithConfig(config)

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    client,
	}, nil
}

// Generate 根据市场快照获取模型的开仓建议列表。
// 不合法的单条建议剔除后继续，整批解析失败才返回错误。
func (c *Client) Generate(ctx context.Context, snapshots []market.Snapshot) ([]Entry, error) {
	if c.cfg.Model == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	prompt, err := BuildPrompt(snapshots)
	if err != nil {
		return nil, err
	}

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return nil, fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return nil, errors.New("OpenAI 返回内容为空")
	}

	entries, err := parseEntries(rawContent)
	if err != nil {
		c.logger.Error("解析开仓建议失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return nil, err
	}

	valid := entries[:0]
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			c.logger.Warn("剔除非法开仓建议",
				zap.String("symbol", entry.Symbol),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, entry)
	}

	c.logger.Info("开仓建议生成成功",
		zap.Int("candidates", len(snapshots)),
		zap.Int("entries", len(valid)),
	)
	return valid, nil
}

func parseEntries(content string) ([]Entry, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	var envelope EntryEnvelope
	if err = json.Unmarshal(jsonPayload, &envelope); err != nil {
		return nil, fmt.Errorf("解析建议JSON失败: %w", err)
	}
	return envelope.Entries, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
