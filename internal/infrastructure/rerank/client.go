// Package rerank 提供交叉编码器重排序服务客户端
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"novel-rag-api/internal/config"
	"novel-rag-api/pkg/metrics"
)

type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// RankedDocument 重排序结果：候选文档下标及其相关性得分
type RankedDocument struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []RankedDocument `json:"results"`
}

func NewClient(cfg *config.RerankConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = "jina-reranker-v3"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		model:    model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Rerank 对候选文档做联合打分。documents 为空时不发起外部调用。
// 调用失败由上层降级处理，这里只返回错误。
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankedDocument, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() { metrics.RerankCallDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds()) }()

	reqBody, err := json.Marshal(&rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	endpoint := strings.TrimRight(c.endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("rerank endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid rerank endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/rerank"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RerankCallTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		metrics.RerankCallTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rerank request failed: status=%d", httpResp.StatusCode)
	}

	var resp rerankResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		metrics.RerankCallTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	metrics.RerankCallTotal.WithLabelValues("ok").Inc()
	return resp.Results, nil
}
