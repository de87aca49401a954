package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/internal/app"
	"github.com/nemonet1337/zaiGoBatch/internal/config"
	"github.com/nemonet1337/zaiGoBatch/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "設定ファイルのパス")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("設定読み込みに失敗しました: ", err)
	}

	// ログ設定
	zl, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました: ", err)
	}
	defer zl.Sync()

	// データベース接続とサービス構築
	ctx := context.Background()
	a, err := app.New(ctx, cfg, zl, app.Options{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		zl.Fatal("アプリケーション初期化に失敗しました", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			zl.Warn("終了処理に失敗しました", zap.Error(err))
		}
	}()

	// HTTPハンドラー設定
	handlers := NewHandlers(a, zl)
	var metricsHandler http.Handler
	if cfg.API.EnableMetrics {
		metricsHandler = promhttp.Handler()
	}
	router := setupRouter(handlers, cfg.API, metricsHandler)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		zl.Info("バッチAPIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("サーバーをシャットダウンしています...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	zl.Info("サーバーが正常に停止しました")
}

// setupRouter sets up HTTP routes; a nil metrics handler disables /metrics
// HTTPルートを設定
func setupRouter(handlers *Handlers, cfg config.APIConfig, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// 日付検証
	api.HandleFunc("/validate-date", handlers.ValidateDate).Methods("POST")

	// バッチ実行
	api.HandleFunc("/batch/carryover", handlers.RunCarryover).Methods("POST")
	api.HandleFunc("/batch/daily-close", handlers.RunDailyClose).Methods("POST")
	api.HandleFunc("/batch/daily-close/readiness", handlers.GetDailyCloseReadiness).Methods("GET")

	// 履歴
	api.HandleFunc("/history", handlers.GetHistory).Methods("GET")
	api.HandleFunc("/history/last-success/{processType}", handlers.GetLastSuccess).Methods("GET")

	// 在庫評価
	api.HandleFunc("/inventory/valuation", handlers.GetValuation).Methods("GET")

	// データセット
	api.HandleFunc("/datasets/{dataSetId}", handlers.GetDataSet).Methods("GET")

	if cfg.EnableCORS {
		router.Use(corsMiddleware)
	}
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

// corsMiddleware allows browser clients of other origins
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.Int("status", rec.status),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
