package vinted

import (
	"testing"
)

func TestSearchParams_BuildQuery(t *testing.T) {
	priceTo := 50.0
	p := &SearchParams{
		SearchText: "barbour jacket",
		CatalogIDs: []int64{2050, 79},
		BrandIDs:   []int64{94},
		StatusIDs:  []int64{6, 1, 2},
		PriceTo:    &priceTo,
		Extra:      map[string]string{"currency": "EUR"},
	}

	q := p.BuildQuery(2, 96)

	if got := q.Get("search_text"); got != "barbour jacket" {
		t.Errorf("search_text = %q", got)
	}
	if got := q.Get("catalog_ids"); got != "2050,79" {
		t.Errorf("catalog_ids = %q", got)
	}
	if got := q.Get("status_ids"); got != "6,1,2" {
		t.Errorf("status_ids = %q", got)
	}
	if got := q.Get("price_to"); got != "50" {
		t.Errorf("price_to = %q", got)
	}
	if got := q.Get("page"); got != "2" {
		t.Errorf("page = %q", got)
	}
	if got := q.Get("per_page"); got != "96" {
		t.Errorf("per_page = %q", got)
	}
	if got := q.Get("order"); got != "newest_first" {
		t.Errorf("default order = %q", got)
	}
	if got := q.Get("currency"); got != "EUR" {
		t.Errorf("extra currency = %q", got)
	}

	// 未设置的过滤条件不应出现在查询中
	if q.Has("size_ids") || q.Has("price_from") {
		t.Errorf("unexpected keys in query: %v", q)
	}
}

func TestSearchParams_EncodeDecodeRoundTrip(t *testing.T) {
	priceTo := 30.0
	p := &SearchParams{
		SearchText: "levi 501",
		BrandIDs:   []int64{10},
		PriceTo:    &priceTo,
	}

	s, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeSearchParams(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SearchText != "levi 501" || len(got.BrandIDs) != 1 || got.BrandIDs[0] != 10 {
		t.Errorf("round trip = %+v", got)
	}
	if got.PriceTo == nil || *got.PriceTo != 30.0 {
		t.Errorf("price_to = %v", got.PriceTo)
	}
}

func TestDecodeSearchParams_Empty(t *testing.T) {
	p, err := DecodeSearchParams("  ")
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if p.SearchText != "" || len(p.CatalogIDs) != 0 {
		t.Errorf("expected zero params, got %+v", p)
	}

	if _, err := DecodeSearchParams("{not json"); err == nil {
		t.Error("expected error for invalid json")
	}
}
