// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// APIゲートウェイ、リスト差分適用、ビューコントローラから利用する。
type Recorder interface {
	RecordRequest(operation string, statusCode int, duration time.Duration)
	RecordFailure(operation string, category string)
	RecordReconcile(kind string, outcome string)
	RecordValidationFailure(form string)
}

// Nop は何も記録しないRecorder。メトリクス未設定時のデフォルト。
type Nop struct{}

func (Nop) RecordRequest(string, int, time.Duration) {}
func (Nop) RecordFailure(string, string)             {}
func (Nop) RecordReconcile(string, string)           {}
func (Nop) RecordValidationFailure(string)           {}

// OrNop はrecがnilならNopを返す。
func OrNop(rec Recorder) Recorder {
	if rec == nil {
		return Nop{}
	}
	return rec
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	requests   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	reconciles *prometheus.CounterVec
	invalid    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_api_requests_total",
			Help: "リモートAPIへのリクエスト数（操作・ステータス別）",
		}, []string{"operation", "status_code"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_api_failures_total",
			Help: "リモートAPI呼び出しの失敗数（操作・カテゴリ別）",
		}, []string{"operation", "category"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postboard_api_latency_seconds",
			Help:    "リモートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_reconcile_total",
			Help: "投稿リストへの差分適用の結果数",
		}, []string{"kind", "outcome"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_validation_failures_total",
			Help: "送信前の入力検証で拒否されたフォーム送信数",
		}, []string{"form"}),
	}

	reg.MustRegister(
		c.requests,
		c.failures,
		c.latency,
		c.reconciles,
		c.invalid,
	)

	return c
}

// InitOperations は操作ごとのレイテンシ系列を0件で作成する。
// 一度も呼ばれていない操作もスクレイプ結果に現れる。
func (c *Collector) InitOperations(operations ...string) {
	for _, op := range operations {
		c.latency.WithLabelValues(op)
	}
}

// RecordRequest は決着したリクエストを記録する。ネットワーク障害時のstatusCodeは0。
func (c *Collector) RecordRequest(operation string, statusCode int, duration time.Duration) {
	c.requests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	c.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFailure は失敗したリクエストをカテゴリ別に記録する。
func (c *Collector) RecordFailure(operation string, category string) {
	c.failures.WithLabelValues(operation, category).Inc()
}

// RecordReconcile は差分適用の結果（applied, no_match, stale など）を記録する。
func (c *Collector) RecordReconcile(kind string, outcome string) {
	c.reconciles.WithLabelValues(kind, outcome).Inc()
}

// RecordValidationFailure は入力検証での拒否を記録する。
func (c *Collector) RecordValidationFailure(form string) {
	c.invalid.WithLabelValues(form).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
