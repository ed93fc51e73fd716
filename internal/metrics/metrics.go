// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションストア、ルートガード、ピン留めストア、APIクライアントから利用する。
type MetricsCollector interface {
	RecordGuardDecision(requirement, action string)
	RecordSessionTransition(role, state string)
	RecordStaleResult(role, operation string)
	RecordAPILatency(operation string, duration time.Duration)
	RecordPinToggle(result string)
	SetActiveRuntimes(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions     *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	staleResults       *prometheus.CounterVec
	apiLatency         *prometheus.HistogramVec
	pinToggles         *prometheus.CounterVec
	activeRuntimes     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicportal_guard_decisions_total",
			Help: "ルートガードの判定結果の合計数",
		}, []string{"requirement", "action"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicportal_session_transitions_total",
			Help: "セッションストアの状態遷移の合計数",
		}, []string{"role", "state"}),
		staleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicportal_stale_results_discarded_total",
			Help: "世代不一致により破棄された非同期結果の合計数",
		}, []string{"role", "operation"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civicportal_api_request_duration_seconds",
			Help:    "外部API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		pinToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicportal_pin_toggles_total",
			Help: "ピン留め切り替えの合計数",
		}, []string{"result"}),
		activeRuntimes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "civicportal_active_runtimes",
			Help: "保持している端末ランタイム数",
		}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.sessionTransitions,
		c.staleResults,
		c.apiLatency,
		c.pinToggles,
		c.activeRuntimes,
	)

	return c
}

// RecordGuardDecision はルートガードの判定を記録する。
func (c *Collector) RecordGuardDecision(requirement, action string) {
	c.guardDecisions.WithLabelValues(requirement, action).Inc()
}

// RecordSessionTransition はセッション状態遷移を記録する。
func (c *Collector) RecordSessionTransition(role, state string) {
	c.sessionTransitions.WithLabelValues(role, state).Inc()
}

// RecordStaleResult は破棄された非同期結果を記録する。
func (c *Collector) RecordStaleResult(role, operation string) {
	c.staleResults.WithLabelValues(role, operation).Inc()
}

// RecordAPILatency は外部API呼び出しのレイテンシを記録する。
func (c *Collector) RecordAPILatency(operation string, duration time.Duration) {
	c.apiLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPinToggle はピン留め切り替えを記録する。resultは pinned / unpinned / rejected。
func (c *Collector) RecordPinToggle(result string) {
	c.pinToggles.WithLabelValues(result).Inc()
}

// SetActiveRuntimes は保持中の端末ランタイム数を設定する。
func (c *Collector) SetActiveRuntimes(n int) {
	c.activeRuntimes.Set(float64(n))
}

// Nop は何も記録しないMetricsCollector。テストや未設定時に使用する。
type Nop struct{}

func (Nop) RecordGuardDecision(string, string)     {}
func (Nop) RecordSessionTransition(string, string) {}
func (Nop) RecordStaleResult(string, string)       {}
func (Nop) RecordAPILatency(string, time.Duration) {}
func (Nop) RecordPinToggle(string)                 {}
func (Nop) SetActiveRuntimes(int)                  {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても取得できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:       promhttp.ContinueOnError,
		MaxRequestsInFlight: 2,
	})
}
