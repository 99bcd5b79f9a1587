// Package http は外部API (マーケットデータプロバイダー) 呼び出し用のHTTPクライアントを提供します。
package http

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig はプロバイダー向けHTTPクライアントの設定です。
// ゼロ値の項目は既定値で補われます。
type ClientConfig struct {
	Timeout             time.Duration // リクエスト全体の上限 (プロバイダー設定の Timeout)
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	IdleConnTimeout     time.Duration
	// MaxIdleConnsPerHost は同時に取得するシンボル数に合わせる
	MaxIdleConnsPerHost int
}

const (
	defaultTimeout             = 10 * time.Second
	defaultDialTimeout         = 5 * time.Second
	defaultTLSHandshakeTimeout = 5 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
	defaultKeepAlive           = 30 * time.Second
)

// withDefaults はゼロ値の項目を既定値で埋めたコピーを返します。
func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = defaultTLSHandshakeTimeout
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}
	if c.MaxIdleConnsPerHost < http.DefaultMaxIdleConnsPerHost {
		c.MaxIdleConnsPerHost = http.DefaultMaxIdleConnsPerHost
	}
	return c
}

// NewHTTPClient はプロバイダー呼び出し用のHTTPクライアントを作成します。
// 接続先は1ホストなので、アイドル接続の上限はホスト単位で設定します。
// http.DefaultClient にはタイムアウトがないため使わないこと。
func NewHTTPClient(cfg ClientConfig) *http.Client {
	cfg = cfg.withDefaults()
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: t}
}
