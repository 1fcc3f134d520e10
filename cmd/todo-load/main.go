package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type config struct {
	Target                    string        `env:"LOADGEN_TARGET" env-default:"http://localhost:3000"`
	Workers                   int           `env:"LOADGEN_WORKERS" env-default:"50"`
	StartupWait               time.Duration `env:"LOADGEN_STARTUP_WAIT" env-default:"2m"`
	Duration                  time.Duration `env:"LOADGEN_DURATION" env-default:"10m"`
	RampUp                    time.Duration `env:"LOADGEN_RAMP_UP" env-default:"30s"`
	ActionsPerWorkerPerSecond float64       `env:"LOADGEN_ACTIONS_PER_WORKER_PER_SECOND" env-default:"0.5"`
	RequestTimeout            time.Duration `env:"LOADGEN_REQUEST_TIMEOUT" env-default:"10s"`
	MetricsAddr               string        `env:"LOADGEN_METRICS_ADDR" env-default:":9099"`
}

type worker struct {
	Index int

	mu    sync.Mutex
	todos []string
}

type runner struct {
	cfg    config
	client *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeWorkers   atomic.Int64
}

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todoload_requests_total",
		Help: "HTTP requests sent by the load tool.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todoload_actions_total",
		Help: "Worker actions executed.",
	}, []string{"action", "outcome"})

	activeWorkersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "todoload_active_workers",
		Help: "Workers currently sending actions.",
	})
)

func main() {
	var cfg config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("read env: %v", err)
	}
	cfg.Target = strings.TrimRight(strings.TrimSpace(cfg.Target), "/")
	if cfg.Workers <= 0 {
		log.Fatal("LOADGEN_WORKERS must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 2,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	r := &runner{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
	}

	if err := r.waitForHTTPStatus(ctx, cfg.Target+"/readyz", http.StatusOK, cfg.StartupWait); err != nil {
		log.Fatalf("todo-api not ready: %v", err)
	}

	log.Printf("load tool initialized: workers=%d duration=%s rate_per_worker=%.2f req/s",
		cfg.Workers, cfg.Duration.String(), cfg.ActionsPerWorkerPerSecond)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		w := &worker{Index: i}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runWorker(ctx, w)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("load run complete: success_requests=%d error_requests=%d",
		r.requestsSuccess.Load(), r.requestsError.Load())
}

func (r *runner) runWorker(ctx context.Context, w *worker) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(max(r.cfg.Workers, 1))) * float64(w.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	activeWorkersGauge.Inc()
	r.activeWorkers.Add(1)
	defer activeWorkersGauge.Dec()
	defer r.activeWorkers.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerWorkerPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.ActionsPerWorkerPerSecond)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w.Index*7)))
	initialJitter := time.Duration(rng.Int63n(int64(interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJitter):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, w, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, w *worker, rng *rand.Rand) {
	todoID, hasTodo := w.randomTodo(rng)

	choice := rng.Float64()
	switch {
	case !hasTodo || choice < 0.40:
		r.createTodo(ctx, w, rng)
	case choice < 0.60:
		r.updateTodo(ctx, w, rng, todoID)
	case choice < 0.70:
		r.deleteTodo(ctx, w, todoID)
	case choice < 0.90:
		r.listTodos(ctx)
	default:
		r.getTodo(ctx, todoID)
	}
}

func (r *runner) createTodo(ctx context.Context, w *worker, rng *rand.Rand) {
	var resp struct {
		ID string `json:"id"`
	}
	_, err := r.requestJSON(ctx, "create", http.MethodPost, r.cfg.Target+"/todos", map[string]string{
		"title": fmt.Sprintf("Load Todo %d", rng.Intn(1_000_000)),
	}, &resp, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("create", "error").Inc()
		return
	}
	if strings.TrimSpace(resp.ID) != "" {
		w.addTodo(resp.ID)
	}
	actionsTotal.WithLabelValues("create", "success").Inc()
}

func (r *runner) updateTodo(ctx context.Context, w *worker, rng *rand.Rand, todoID string) {
	if strings.TrimSpace(todoID) == "" {
		r.createTodo(ctx, w, rng)
		return
	}

	payload := map[string]any{}
	if rng.Intn(2) == 0 {
		payload["title"] = fmt.Sprintf("Updated Load Todo %d", rng.Intn(1_000_000))
	} else {
		payload["completed"] = rng.Intn(2) == 0
	}
	_, err := r.requestJSON(ctx, "update", http.MethodPut, r.cfg.Target+"/todos/"+todoID, payload, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("update", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("update", "success").Inc()
}

func (r *runner) deleteTodo(ctx context.Context, w *worker, todoID string) {
	if strings.TrimSpace(todoID) == "" {
		actionsTotal.WithLabelValues("delete", "error").Inc()
		return
	}

	_, err := r.requestJSON(ctx, "delete", http.MethodDelete, r.cfg.Target+"/todos/"+todoID, nil, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("delete", "error").Inc()
		return
	}
	w.removeTodo(todoID)
	actionsTotal.WithLabelValues("delete", "success").Inc()
}

func (r *runner) listTodos(ctx context.Context) {
	_, err := r.requestJSON(ctx, "list", http.MethodGet, r.cfg.Target+"/todos", nil, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("list", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("list", "success").Inc()
}

func (r *runner) getTodo(ctx context.Context, todoID string) {
	if strings.TrimSpace(todoID) == "" {
		r.listTodos(ctx)
		return
	}

	// 404 is tolerated: the tool does not assume exclusive ownership of the
	// collection.
	_, err := r.requestJSON(ctx, "get", http.MethodGet, r.cfg.Target+"/todos/"+todoID, nil, nil, http.StatusOK, http.StatusNotFound)
	if err != nil {
		actionsTotal.WithLabelValues("get", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("get", "success").Inc()
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode == expectedStatus {
			return nil
		}
		lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) requestJSON(
	ctx context.Context,
	endpoint, method, requestURL string,
	payload any,
	out any,
	expectedStatuses ...int,
) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(resp.StatusCode), "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, readErr
	}

	statusText := strconv.Itoa(resp.StatusCode)
	if isExpectedStatus(resp.StatusCode, expectedStatuses) {
		requestsTotal.WithLabelValues(endpoint, method, statusText, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
	r.requestsError.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("progress: success_requests=%d error_requests=%d active_workers=%d",
				r.requestsSuccess.Load(),
				r.requestsError.Load(),
				r.activeWorkers.Load(),
			)
		}
	}
}

func runMetricsServer(addr string) {
	if strings.TrimSpace(addr) == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("load tool metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("load tool metrics server failed: %v", err)
	}
}

func (w *worker) addTodo(todoID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.todos = append(w.todos, todoID)
}

func (w *worker) randomTodo(rng *rand.Rand) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.todos) == 0 {
		return "", false
	}
	return w.todos[rng.Intn(len(w.todos))], true
}

func (w *worker) removeTodo(todoID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for idx, existing := range w.todos {
		if existing != todoID {
			continue
		}
		w.todos[idx] = w.todos[len(w.todos)-1]
		w.todos = w.todos[:len(w.todos)-1]
		return
	}
}

func isExpectedStatus(status int, expected []int) bool {
	for _, candidate := range expected {
		if status == candidate {
			return true
		}
	}
	return false
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}
