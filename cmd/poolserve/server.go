package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/taskpool/pkg/core"
	"github.com/fluxorio/taskpool/pkg/observability/prometheus"
	"github.com/fluxorio/taskpool/pkg/pool"
)

// taskServer is the fasthttp ingest API in front of a pool. Submitted
// tasks run asynchronously; results are fetched by id and delivered
// once.
type taskServer struct {
	pool   pool.Pool
	logger core.Logger

	mu      sync.Mutex
	results map[uuid.UUID]*taskEntry
}

type taskEntry struct {
	handle      *pool.Handle
	submittedAt time.Time
}

type submitRequest struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

type sleepParams struct {
	DurationMS int `json:"duration_ms"`
}

type fibParams struct {
	N int `json:"n"`
}

type failParams struct {
	Message string `json:"message"`
}

type rebootRequest struct {
	Workers int `json:"workers"`
}

func newTaskServer(p pool.Pool, logger core.Logger) *taskServer {
	return &taskServer{
		pool:    p,
		logger:  logger,
		results: make(map[uuid.UUID]*taskEntry),
	}
}

func (s *taskServer) handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())
	ctx.SetContentType("application/json")

	switch {
	case path == "/health":
		json.NewEncoder(ctx).Encode(map[string]interface{}{"status": "ok"})
	case path == "/status":
		json.NewEncoder(ctx).Encode(s.pool.Status())
	case path == "/metrics":
		prometheus.FastHTTPHandler()(ctx)
	case path == "/tasks" && method == fasthttp.MethodPost:
		s.handleSubmit(ctx)
	case strings.HasPrefix(path, "/tasks/") && method == fasthttp.MethodGet:
		s.handleResult(ctx, strings.TrimPrefix(path, "/tasks/"))
	case path == "/pool/reboot" && method == fasthttp.MethodPost:
		s.handleReboot(ctx)
	default:
		ctx.SetStatusCode(404)
		json.NewEncoder(ctx).Encode(map[string]interface{}{"error": "not found"})
	}
}

func (s *taskServer) handleSubmit(ctx *fasthttp.RequestCtx) {
	var req submitRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(400)
		json.NewEncoder(ctx).Encode(map[string]interface{}{"error": "invalid json"})
		return
	}

	fn, err := buildWorkload(req.Type, req.Params)
	if err != nil {
		ctx.SetStatusCode(400)
		json.NewEncoder(ctx).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	handle, err := s.pool.SubmitNamed(req.Type, fn)
	if err != nil {
		status := 500
		if errors.Is(err, pool.ErrNotRunning) {
			status = 503
		}
		ctx.SetStatusCode(status)
		json.NewEncoder(ctx).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	s.track(handle)

	ctx.SetStatusCode(202)
	json.NewEncoder(ctx).Encode(map[string]interface{}{
		"id":   handle.ID().String(),
		"name": handle.Name(),
	})
}

// track stores the handle for retrieval and records a latency metric
// once the task completes.
func (s *taskServer) track(h *pool.Handle) {
	entry := &taskEntry{handle: h, submittedAt: time.Now()}
	s.mu.Lock()
	s.results[h.ID()] = entry
	s.mu.Unlock()

	go func() {
		<-h.Done()
		_, err := h.Get()
		prometheus.GetMetrics().RecordTask(h.Name(), taskStatus(err), time.Since(entry.submittedAt))
	}()
}

func taskStatus(err error) string {
	var panicErr *pool.PanicError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &panicErr):
		return "panic"
	default:
		return "error"
	}
}

func (s *taskServer) handleResult(ctx *fasthttp.RequestCtx, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		ctx.SetStatusCode(400)
		json.NewEncoder(ctx).Encode(map[string]interface{}{"error": "invalid task id"})
		return
	}

	s.mu.Lock()
	entry, ok := s.results[id]
	s.mu.Unlock()
	if !ok {
		ctx.SetStatusCode(404)
		json.NewEncoder(ctx).Encode(map[string]interface{}{"error": "unknown task"})
		return
	}

	select {
	case <-entry.handle.Done():
	default:
		json.NewEncoder(ctx).Encode(map[string]interface{}{"id": rawID, "state": "pending"})
		return
	}

	value, taskErr := entry.handle.Get()

	// A finished result is delivered once.
	s.mu.Lock()
	delete(s.results, id)
	s.mu.Unlock()

	resp := map[string]interface{}{"id": rawID, "state": "done"}
	if taskErr != nil {
		resp["error"] = taskErr.Error()
	} else {
		resp["value"] = value
	}
	json.NewEncoder(ctx).Encode(resp)
}

func (s *taskServer) handleReboot(ctx *fasthttp.RequestCtx) {
	var req rebootRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(400)
		json.NewEncoder(ctx).Encode(map[string]interface{}{"error": "invalid json"})
		return
	}

	if err := s.pool.Reboot(req.Workers); err != nil {
		status := 500
		if errors.Is(err, pool.ErrInvalidWorkerCount) {
			status = 400
		}
		ctx.SetStatusCode(status)
		json.NewEncoder(ctx).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	s.logger.Infof("pool rebooted via api: workers=%d", req.Workers)
	json.NewEncoder(ctx).Encode(s.pool.Status())
}

// buildWorkload turns a submit request into a runnable task.
func buildWorkload(kind string, params json.RawMessage) (pool.TaskFunc, error) {
	switch kind {
	case "sleep":
		var p sleepParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("bad sleep params: %w", err)
			}
		}
		if p.DurationMS <= 0 {
			p.DurationMS = 100
		}
		d := time.Duration(p.DurationMS) * time.Millisecond
		return func(ctx context.Context) (any, error) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
				return fmt.Sprintf("slept %s", d), nil
			}
		}, nil

	case "fib":
		var p fibParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad fib params: %w", err)
		}
		if p.N < 0 || p.N > 92 {
			return nil, fmt.Errorf("fib n out of range: %d", p.N)
		}
		n := p.N
		return func(ctx context.Context) (any, error) {
			return fib(n), nil
		}, nil

	case "fail":
		var p failParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("bad fail params: %w", err)
			}
		}
		if p.Message == "" {
			p.Message = "task failed"
		}
		msg := p.Message
		return func(ctx context.Context) (any, error) {
			return nil, errors.New(msg)
		}, nil

	case "panic":
		return func(ctx context.Context) (any, error) {
			panic("workload panic requested")
		}, nil

	default:
		return nil, fmt.Errorf("unknown workload type: %s", kind)
	}
}

func fib(n int) uint64 {
	if n < 2 {
		return uint64(n)
	}
	a, b := uint64(0), uint64(1)
	for i := 2; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}
