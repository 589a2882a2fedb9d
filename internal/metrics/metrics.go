// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLocked  = "locked"
	ResultExpired = "expired"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordContactOperation(operation, kind, result string)
	RecordViolation(violation string)
	RecordLoginAttempt(method, result string)
	RecordTokenRefresh(result string)
	RecordHTTPStatus(statusCode int)
	RecordVerificationCode(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	contactOps        *prometheus.CounterVec
	violations        *prometheus.CounterVec
	loginAttempts     *prometheus.CounterVec
	tokenRefresh      *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	verificationCodes *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		contactOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userbook_contact_operations_total",
			Help: "連絡先操作の合計数（操作・種別・結果別）",
		}, []string{"operation", "kind", "result"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userbook_contact_violations_total",
			Help: "検出された集約の整合性違反の合計数",
		}, []string{"violation"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userbook_login_attempts_total",
			Help: "ログイン試行の合計数（方式・結果別）",
		}, []string{"method", "result"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userbook_token_refresh_total",
			Help: "リフレッシュトークンによるトークン再発行の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userbook_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		verificationCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userbook_verification_codes_total",
			Help: "確認コードの発行・照合の合計数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.contactOps,
		c.violations,
		c.loginAttempts,
		c.tokenRefresh,
		c.httpStatus,
		c.verificationCodes,
	)

	return c
}

// RecordContactOperation は連絡先操作の結果を記録する。
func (c *Collector) RecordContactOperation(operation, kind, result string) {
	c.contactOps.WithLabelValues(operation, kind, result).Inc()
}

// RecordViolation は整合性違反の検出を記録する。
func (c *Collector) RecordViolation(violation string) {
	c.violations.WithLabelValues(violation).Inc()
}

// RecordLoginAttempt はログイン試行を記録する。
func (c *Collector) RecordLoginAttempt(method, result string) {
	c.loginAttempts.WithLabelValues(method, result).Inc()
}

// RecordTokenRefresh はトークン再発行を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordVerificationCode は確認コードの発行・照合結果を記録する。
func (c *Collector) RecordVerificationCode(result string) {
	c.verificationCodes.WithLabelValues(result).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordContactOperation(string, string, string) {}
func (Nop) RecordViolation(string)                        {}
func (Nop) RecordLoginAttempt(string, string)             {}
func (Nop) RecordTokenRefresh(string)                     {}
func (Nop) RecordHTTPStatus(int)                          {}
func (Nop) RecordVerificationCode(string)                 {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
