package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/observ"
	"github.com/KNICEX/trading-automaton/internal/repo"
	"github.com/KNICEX/trading-automaton/internal/schedule"
	"github.com/KNICEX/trading-automaton/internal/service/analytics"
	"github.com/KNICEX/trading-automaton/internal/service/broker"
	"github.com/KNICEX/trading-automaton/internal/service/checker"
	"github.com/KNICEX/trading-automaton/internal/service/engine"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/llm"
	"github.com/KNICEX/trading-automaton/internal/service/notification"
	"github.com/KNICEX/trading-automaton/internal/service/portfolio"
	"github.com/KNICEX/trading-automaton/internal/service/positioner"
	"github.com/KNICEX/trading-automaton/ioc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func initViper() {

	// --config=./config/xxx.yaml
	file := pflag.String("config", "./config/config.dev.yaml", "specify config file")
	pflag.Parse()

	viper.SetConfigFile(*file)
	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s \n", err))
	}

}

func initLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// checkerIntervals 模拟行情需要覆盖的全部K线周期
func checkerIntervals(cfg config.Config) []exchange.Interval {
	intervals := []exchange.Interval{cfg.Automaton.TimeframeInterval()}
	for _, cc := range cfg.Checkers.Params {
		if cc.Timeframe != "" && cc.Timeframe != cfg.Automaton.Timeframe {
			intervals = append(intervals, exchange.Interval(cc.Timeframe))
		}
	}
	return intervals
}

func main() {
	initViper()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		panic(err)
	}
	initLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observ.NewMetrics(reg)
	reporter := observ.NewErrorReporter(slog.Default(), metrics)

	db := ioc.InitDB(cfg.DB.DSN)
	tradeRepo := repo.NewTradeRepo(db)

	hub := notification.NewWebsocketHub()
	notifiers := []notification.Notifier{
		notification.NewLogNotifier(slog.Default()),
		notification.NewJournalNotifier(tradeRepo),
		hub,
		metrics,
	}
	if cfg.Notify.Webhook != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(
			notification.NewWebhookService(&http.Client{Timeout: 10 * time.Second}), cfg.Notify.Webhook))
	}
	mediator := notification.NewMediator(notifiers,
		notification.WithBuffer(cfg.Notify.Buffer),
		notification.WithDropHook(func(event notification.Event) { metrics.IncDropped() }),
	)
	mediatorCtx, stopMediator := context.WithCancel(context.Background())
	mediatorDone := make(chan struct{})
	go func() {
		defer close(mediatorDone)
		mediator.Run(mediatorCtx)
	}()

	feed := ioc.InitPaperFeed(cfg.Broker, cfg.Automaton.Currencies, cfg.Automaton.Count*4, checkerIntervals(cfg)...)
	client := ioc.InitBrokerClient(cfg.Broker, ioc.InitSessionFactory(cfg.Broker, feed), ioc.InitCredentials(cfg.Broker),
		mediator, reporter, metrics)
	if err = client.Start(ctx); err != nil {
		slog.Error("broker start failed", "mode", cfg.Broker.Mode, "error", err)
		stopMediator()
		<-mediatorDone
		os.Exit(1)
	}

	predictor, band, err := ioc.InitPredictor(cfg.Predictor, client, func() llm.Service {
		return ioc.InitLLMService(cfg.Predictor.LLM.Model)
	})
	if err != nil {
		panic(err)
	}

	loops := schedule.NewRegistry()
	metrics.RegisterLoops(reg, loops.Len)

	preserver := portfolio.NewPreserver(client, cfg.Preserver)
	sizer, err := portfolio.NewSizer(cfg.Automaton.Sizing, preserver, client)
	if err != nil {
		panic(err)
	}
	// 处理链: positioner -> automaton -> mediator
	automaton := engine.NewAutomaton(cfg.Automaton, client, predictor, sizer, preserver, loops, mediator,
		engine.WithRecorder(metrics))

	pos, err := positioner.New(cfg.Checkers, checker.DefaultRegistry(), checker.Deps{
		Klines:    client,
		Band:      band,
		Timeframe: cfg.Automaton.TimeframeInterval(),
		Count:     cfg.Automaton.Count,
	}, client, loops, automaton,
		positioner.WithRecorder(metrics),
		positioner.WithCooldown(cfg.Automaton.Cooldown),
	)
	if err != nil {
		panic(err)
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newMux(reg, hub, client, automaton, loops, tradeRepo),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	if err = pos.Start(ctx); err != nil {
		panic(err)
	}
	if err = automaton.Start(ctx); err != nil {
		panic(err)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	_ = automaton.Stop()
	pos.Stop()
	if stuck := loops.StopAll(2 * time.Minute); len(stuck) > 0 {
		slog.Error("loops did not stop in time", "loops", stuck)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	hub.Close()
	if err = client.Close(shutdownCtx); err != nil {
		slog.Error("broker close failed", "error", err)
	}
	stopMediator()
	<-mediatorDone
	slog.Info("bye", "result", client.Results())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newMux(reg *prometheus.Registry, hub *notification.WebsocketHub, client *broker.Client,
	automaton *engine.Automaton, loops *schedule.Registry, trades repo.TradeRepo) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/ws", hub)

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"mode":      client.Mode(),
			"result":    client.Results(),
			"automaton": automaton.State().String(),
			"loops":     loops.Active(),
		})
	})

	// POST /mode?mode=live 切换模式
	mux.HandleFunc("/mode", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		mode, err := exchange.ParseMode(r.URL.Query().Get("mode"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err = client.ChangeMode(r.Context(), mode); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"mode": client.Mode()})
	})

	mux.HandleFunc("/trades", func(w http.ResponseWriter, r *http.Request) {
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		list, err := trades.FindRecent(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	// GET /report?mode=demo 平仓记录绩效, 缺省为当前模式
	analyzer := analytics.NewAnalyzer(trades)
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		mode := client.Mode()
		if raw := r.URL.Query().Get("mode"); raw != "" {
			parsed, err := exchange.ParseMode(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			mode = parsed
		}
		report, err := analyzer.Analyze(r.Context(), mode)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
	return mux
}
