// Package contentstore は出品・メッセージを管理する外部コンテンツサービスとの連携を提供する。
// 通報・措置の対象の存在確認、所有者の解決、モデレーター向けスニペットの生成を行う。
package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hitoshi/tradeguard/internal/model"
)

const (
	// maxResponseSize はコンテンツサービスのレスポンスの最大サイズ。
	maxResponseSize = 1 << 20

	defaultCacheSize = 1000
	defaultCacheTTL  = 5 * time.Minute
)

// Content はコンテンツサービスが返す出品・メッセージの内容。
type Content struct {
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// Client はコンテンツサービスのHTTPクライアント。
// 取得できた内容は期限付きLRUにキャッシュする。存在しない対象はキャッシュしない。
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	cache      *expirable.LRU[string, *Content]
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, baseURL string, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Client {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
		cache:      expirable.NewLRU[string, *Content](cacheSize, nil, cacheTTL),
	}
}

// collection は対象種別に対応するコンテンツサービスのパスを返す。
func collection(targetType model.TargetType) (string, bool) {
	switch targetType {
	case model.TargetTypeListing:
		return "listings", true
	case model.TargetTypeMessage:
		return "messages", true
	}
	return "", false
}

// Fetch は出品またはメッセージの内容を取得する。存在しない場合はnilを返す。
func (c *Client) Fetch(ctx context.Context, targetType model.TargetType, targetID string) (*Content, error) {
	coll, ok := collection(targetType)
	if !ok {
		return nil, fmt.Errorf("コンテンツサービスが扱わない対象種別です: %s", targetType)
	}
	key := coll + "/" + targetID
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	reqURL := c.baseURL + "/" + coll + "/" + url.PathEscape(targetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "TradeGuard/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("コンテンツサービスの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("target_type", string(targetType)),
			slog.String("target_id", targetID),
		)
		return nil, fmt.Errorf("コンテンツサービスの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("コンテンツサービスがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("target_type", string(targetType)),
			slog.String("target_id", targetID),
		)
		return nil, fmt.Errorf("コンテンツサービスがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var content Content
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if content.OwnerID == "" {
		return nil, fmt.Errorf("コンテンツサービスのレスポンスにowner_idがありません: %s", key)
	}

	c.cache.Add(key, &content)
	return &content, nil
}

// Invalidate はキャッシュから対象を取り除く。
func (c *Client) Invalidate(targetType model.TargetType, targetID string) {
	if coll, ok := collection(targetType); ok {
		c.cache.Remove(coll + "/" + targetID)
	}
}
