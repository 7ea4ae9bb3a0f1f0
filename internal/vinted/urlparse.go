package vinted

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseCatalogURL 从浏览器地址栏复制的 Vinted 目录链接中提取搜索条件。
//
// 支持的域名为 vinted.be / vinted.com 的任意子域，路径需包含 /catalog。
// 数组型参数同时接受带括号（catalog[]）与不带括号（catalog）两种写法。
func ParseCatalogURL(raw string) (*SearchParams, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !isCatalogURL(u) {
		return nil, fmt.Errorf("not a vinted catalog url: %s", raw)
	}

	q := u.Query()
	p := &SearchParams{}

	if v := q.Get("search_text"); v != "" {
		p.SearchText = v
	}
	if v := q.Get("price_to"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.PriceTo = &f
		}
	}
	if v := q.Get("price_from"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.PriceFrom = &f
		}
	}

	p.CatalogIDs = collectIDs(q, "catalog[]", "catalog_ids[]", "catalog")
	p.BrandIDs = collectIDs(q, "brand_ids[]", "brand_ids")
	p.StatusIDs = collectIDs(q, "status_ids[]", "status_ids")
	p.SizeIDs = collectIDs(q, "size_ids[]", "size_ids")
	p.ColorIDs = collectIDs(q, "color_ids[]", "color_ids")
	p.MaterialIDs = collectIDs(q, "material_ids[]", "material_ids")
	p.PatternIDs = collectIDs(q, "patterns_ids[]", "patterns_ids")

	return p, nil
}

func isCatalogURL(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, "vinted.be") && !strings.HasSuffix(host, "vinted.com") {
		return false
	}
	return strings.Contains(strings.ToLower(u.Path), "/catalog")
}

// collectIDs 按优先级取第一个出现的参数名，解析出全部数值 ID。
func collectIDs(q url.Values, keys ...string) []int64 {
	for _, key := range keys {
		values, ok := q[key]
		if !ok || len(values) == 0 {
			continue
		}
		var ids []int64
		for _, v := range values {
			// 同一个值里也可能是逗号分隔列表
			for _, part := range strings.Split(v, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if id, err := strconv.ParseInt(part, 10, 64); err == nil {
					ids = append(ids, id)
				}
			}
		}
		if len(ids) > 0 {
			return ids
		}
	}
	return nil
}

// Preview 生成搜索条件的单行可读摘要。
func (p *SearchParams) Preview() string {
	var parts []string
	if p.SearchText != "" {
		parts = append(parts, fmt.Sprintf("Search: %q", p.SearchText))
	}
	if p.PriceTo != nil {
		parts = append(parts, fmt.Sprintf("Max Price: €%.2f", *p.PriceTo))
	}
	if n := len(p.CatalogIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("Categories: %d selected", n))
	}
	if n := len(p.BrandIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("Brands: %d selected", n))
	}
	if n := len(p.StatusIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("Conditions: %d selected", n))
	}
	if n := len(p.SizeIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("Sizes: %d selected", n))
	}
	if n := len(p.ColorIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("Colors: %d selected", n))
	}
	if len(parts) == 0 {
		return "No search parameters"
	}
	return strings.Join(parts, " • ")
}
