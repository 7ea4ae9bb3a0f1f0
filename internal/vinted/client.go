package vinted

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/config"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/metrics"
)

const catalogPath = "/api/v2/catalog/items"

// Limiter 请求节流接口，Acquire 阻塞直到允许发起下一个请求。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Money 上游金额字段，金额以字符串形式返回。
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

// Float 解析金额，解析失败返回 0。
func (m *Money) Float() float64 {
	if m == nil {
		return 0
	}
	f, err := strconv.ParseFloat(m.Amount, 64)
	if err != nil {
		return 0
	}
	return f
}

// CatalogUser 商品的卖家信息。
type CatalogUser struct {
	ID       int64  `json:"id"`
	Login    string `json:"login"`
	Business bool   `json:"business"`
}

// CatalogPhoto 商品首图。
type CatalogPhoto struct {
	URL            string `json:"url"`
	HighResolution struct {
		Timestamp int64 `json:"timestamp"`
	} `json:"high_resolution"`
}

// CatalogItem 目录 API 返回的单个商品。
//
// Raw 保留该商品的原始 JSON，入库时整体存进 RawPayload。
type CatalogItem struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	BrandTitle     string          `json:"brand_title"`
	SizeTitle      string          `json:"size_title"`
	Status         string          `json:"status"` // 成色文本，如 "Very good"
	StatusID       *int64          `json:"status_id"`
	URL            string          `json:"url"`
	Price          Money           `json:"price"`
	ServiceFee     *Money          `json:"service_fee"`
	TotalItemPrice *Money          `json:"total_item_price"`
	Photo          *CatalogPhoto   `json:"photo"`
	User           *CatalogUser    `json:"user"`
	FavouriteCount *int            `json:"favourite_count"`
	ViewCount      *int            `json:"view_count"`
	Raw            json.RawMessage `json:"-"`
}

// Page 目录 API 的单页结果。
type Page struct {
	Items        []CatalogItem
	CurrentPage  int
	TotalPages   int
	TotalEntries int
}

// Empty 判断该页是否没有任何商品。
func (p *Page) Empty() bool { return len(p.Items) == 0 }

type catalogResponse struct {
	Items      []json.RawMessage `json:"items"`
	Pagination struct {
		CurrentPage  int `json:"current_page"`
		TotalPages   int `json:"total_pages"`
		TotalEntries int `json:"total_entries"`
	} `json:"pagination"`
}

// Client Vinted 目录 API 客户端。
//
// 重试策略：瞬时错误指数退避重试（上限 MaxRetries）；令牌过期
// 刷新一次后重试一次；封锁与解析错误立即上抛，不做任何重试。
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	tokens    TokenProvider
	limiter   Limiter
	logger    *slog.Logger

	maxRetries int
	baseDelay  time.Duration
}

// NewClient 创建客户端。limiter 可为 nil（不节流）。
func NewClient(cfg *config.VintedConfig, tokens TokenProvider, limiter Limiter, logger *slog.Logger) *Client {
	return &Client{
		http:       &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		tokens:     tokens,
		limiter:    limiter,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
	}
}

// SearchPage 抓取目录搜索的第 page 页。
func (c *Client) SearchPage(ctx context.Context, params *SearchParams, page, perPage int) (*Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("ratelimit: %w", err)
		}
	}

	refreshed := false
	attempt := 0
	for {
		result, err := c.doSearch(ctx, params, page, perPage)
		if err == nil {
			metrics.APIRequestsTotal.WithLabelValues("success").Inc()
			metrics.PagesFetchedTotal.Inc()
			return result, nil
		}

		kind := KindOf(err)
		metrics.APIRequestsTotal.WithLabelValues(kind.String()).Inc()

		switch kind {
		case KindAuthExpired:
			if refreshed {
				return nil, err
			}
			refreshed = true
			c.logger.Warn("token expired, refreshing",
				slog.Int("page", page))
			if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
				return nil, fmt.Errorf("refresh token: %w", rerr)
			}
			continue

		case KindTransient:
			attempt++
			if attempt > c.maxRetries {
				return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err)
			}
			delay := c.backoff(attempt)
			c.logger.Warn("transient error, will retry",
				slog.Int("attempt", attempt),
				slog.String("delay", delay.String()),
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue

		default:
			// blocked / malformed，直接上抛
			return nil, err
		}
	}
}

func (c *Client) doSearch(ctx context.Context, params *SearchParams, page, perPage int) (*Page, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, authErr(0, err)
	}

	u := c.baseURL + catalogPath + "?" + params.BuildQuery(page, perPage).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: "access_token_web", Value: token})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transientErr(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, transientErr(resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, authErr(resp.StatusCode, fmt.Errorf("unauthorized"))
	case resp.StatusCode == http.StatusForbidden:
		return nil, blockedErr(resp.StatusCode, fmt.Errorf("access forbidden"))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, blockedErr(resp.StatusCode, fmt.Errorf("rate limited by upstream"))
	case resp.StatusCode >= 500:
		return nil, transientErr(resp.StatusCode, fmt.Errorf("server error"))
	case resp.StatusCode != http.StatusOK:
		return nil, malformedErr(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var cr catalogResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, malformedErr(fmt.Errorf("decode response: %w", err))
	}

	result := &Page{
		CurrentPage:  cr.Pagination.CurrentPage,
		TotalPages:   cr.Pagination.TotalPages,
		TotalEntries: cr.Pagination.TotalEntries,
		Items:        make([]CatalogItem, 0, len(cr.Items)),
	}
	if result.CurrentPage == 0 {
		result.CurrentPage = page
	}

	for _, raw := range cr.Items {
		var item CatalogItem
		if err := json.Unmarshal(raw, &item); err != nil {
			// 单个商品解析失败只跳过该商品，页内其余商品照常返回
			c.logger.Warn("skipping unparseable item",
				slog.Int("page", page),
				slog.String("error", err.Error()))
			continue
		}
		if item.ID == 0 {
			c.logger.Warn("skipping item without id", slog.Int("page", page))
			continue
		}
		item.Raw = raw
		result.Items = append(result.Items, item)
	}

	c.logger.Debug("catalog page fetched",
		slog.Int("page", result.CurrentPage),
		slog.Int("items", len(result.Items)))
	return result, nil
}

// backoff 指数退避 + 抖动。
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
