// Package broker предоставляет интерфейс торгового терминала и его
// HTTP-реализацию поверх моста терминала.
package broker

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig содержит настройки HTTP клиента для моста терминала.
// Мост опрашивается циклами синхронизации с субсекундным интервалом,
// поэтому соединения переиспользуются.
type HTTPClientConfig struct {
	ConnectTimeout time.Duration // таймаут установки TCP соединения (default: 3s)
	ReadTimeout    time.Duration // таймаут чтения ответа (default: 5s)
	TotalTimeout   time.Duration // общий таймаут операции (default: 10s)

	MaxIdleConns        int           // максимум idle соединений (default: 20)
	MaxIdleConnsPerHost int           // максимум idle соединений на хост (default: 10)
	IdleConnTimeout     time.Duration // таймаут простоя соединения (default: 90s)

	TLSHandshakeTimeout time.Duration // таймаут TLS handshake (default: 5s)
	DisableKeepAlives   bool
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию.
// Таймауты короткие: зависший вызов терминала блокирует тик цикла.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      3 * time.Second,
		ReadTimeout:         5 * time.Second,
		TotalTimeout:        10 * time.Second,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// NewHTTPClient создаёт http.Client с connection pooling по конфигурации
func NewHTTPClient(config HTTPClientConfig) *http.Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 3 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if config.TotalTimeout <= 0 {
		config.TotalTimeout = 10 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		DisableKeepAlives:     config.DisableKeepAlives,
		DisableCompression:    true, // мост локальный, сжатие только добавляет latency
		ResponseHeaderTimeout: config.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.TotalTimeout,
	}
}
