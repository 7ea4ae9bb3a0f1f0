package vinted

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SearchParams 表示一次目录搜索的过滤条件。
//
// 字段与 Vinted 目录 API 的查询参数一一对应；Extra 容纳
// 未显式建模的参数，按原样透传。
type SearchParams struct {
	SearchText  string  `json:"search_text,omitempty"`
	CatalogIDs  []int64 `json:"catalog_ids,omitempty"`
	BrandIDs    []int64 `json:"brand_ids,omitempty"`
	StatusIDs   []int64 `json:"status_ids,omitempty"` // 成色过滤
	SizeIDs     []int64 `json:"size_ids,omitempty"`
	ColorIDs    []int64 `json:"color_ids,omitempty"`
	MaterialIDs []int64 `json:"material_ids,omitempty"`
	PatternIDs  []int64 `json:"patterns_ids,omitempty"`

	PriceFrom *float64 `json:"price_from,omitempty"`
	PriceTo   *float64 `json:"price_to,omitempty"`

	Currency string `json:"currency,omitempty"`
	Order    string `json:"order,omitempty"` // 默认 newest_first

	Extra map[string]string `json:"extra,omitempty"`
}

// BuildQuery 构造目录 API 的查询参数。
func (p *SearchParams) BuildQuery(page, perPage int) url.Values {
	q := url.Values{}
	if p.SearchText != "" {
		q.Set("search_text", p.SearchText)
	}
	setIDs(q, "catalog_ids", p.CatalogIDs)
	setIDs(q, "brand_ids", p.BrandIDs)
	setIDs(q, "status_ids", p.StatusIDs)
	setIDs(q, "size_ids", p.SizeIDs)
	setIDs(q, "color_ids", p.ColorIDs)
	setIDs(q, "material_ids", p.MaterialIDs)
	setIDs(q, "patterns_ids", p.PatternIDs)

	if p.PriceFrom != nil {
		q.Set("price_from", strconv.FormatFloat(*p.PriceFrom, 'f', -1, 64))
	}
	if p.PriceTo != nil {
		q.Set("price_to", strconv.FormatFloat(*p.PriceTo, 'f', -1, 64))
	}
	if p.Currency != "" {
		q.Set("currency", p.Currency)
	}

	order := p.Order
	if order == "" {
		order = "newest_first"
	}
	q.Set("order", order)

	for k, v := range p.Extra {
		q.Set(k, v)
	}

	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	return q
}

// Encode 序列化为 JSON 字符串，用于写入 Watch.SearchParams。
func (p *SearchParams) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode search params: %w", err)
	}
	return string(data), nil
}

// DecodeSearchParams 从 Watch.SearchParams 反序列化。
func DecodeSearchParams(s string) (*SearchParams, error) {
	if strings.TrimSpace(s) == "" {
		return &SearchParams{}, nil
	}
	var p SearchParams
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decode search params: %w", err)
	}
	return &p, nil
}

func setIDs(q url.Values, key string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	q.Set(key, strings.Join(parts, ","))
}
