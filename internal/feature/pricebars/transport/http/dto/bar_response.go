// Package dto defines the HTTP request and response bodies of the pricebars feature.
package dto

import "github.com/shopspring/decimal"

// BarResponse は日足1本のレスポンスDTOです。価格は文字列の10進数で返します。
type BarResponse struct {
	Date   string          `json:"date"`   // 日付 (YYYY-MM-DD)
	Open   decimal.Decimal `json:"open"`   // 始値
	High   decimal.Decimal `json:"high"`   // 高値
	Low    decimal.Decimal `json:"low"`    // 安値
	Close  decimal.Decimal `json:"close"`  // 終値
	Volume int64           `json:"volume"` // 出来高
}

// BarsResponse は GET /bars/:symbol のレスポンスです。
type BarsResponse struct {
	Symbol string        `json:"symbol"`
	Bars   []BarResponse `json:"bars"`
}

// WatermarkResponse は銘柄ごとの最新日付です。
type WatermarkResponse struct {
	Symbol   string `json:"symbol"`
	LastDate string `json:"last_date,omitempty"`
}

// ErrorResponse はエラー時の共通レスポンスです。
type ErrorResponse struct {
	Error string `json:"error"`
}
