package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type recorded struct {
	method, path, query string
	body                map[string]any
}

type recorder struct {
	mu   sync.Mutex
	reqs []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.reqs...)
}

// startAPIStub serves canned responses keyed by path and records requests.
func startAPIStub(t *testing.T, routes map[string]func(w http.ResponseWriter)) (BaseURLFunc, *recorder) {
	t.Helper()
	reqs := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.body)
		}
		reqs.mu.Lock()
		reqs.reqs = append(reqs.reqs, rec)
		reqs.mu.Unlock()
		h, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no route"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w)
	}))
	t.Cleanup(srv.Close)
	return func() string { return srv.URL }, reqs
}

func reply(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func execute(t *testing.T, root interface {
	SetOut(io.Writer)
	SetErr(io.Writer)
	SetArgs([]string)
	Execute() error
}, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

const statusBody = `{
  "replica": "r1",
  "local": {"state": "Stopping", "inFlight": 2, "since": "2026-01-02T03:04:05Z"},
  "fleet": {"state": "Working", "replicas": 2, "counts": {"Working": 1, "Stopping": 1}, "stale": ["r9"]},
  "replicas": [],
  "queues": {"workitems": {"visible": 3, "invisible": 1}}
}`

func TestProcessorStatusPrintsSummary(t *testing.T) {
	base, _ := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/status": reply(http.StatusOK, statusBody),
	})
	out, err := execute(t, NewRoot(base), "processor", "status")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{
		"replica:   r1",
		"Stopping (in flight 2",
		"Working (2 replicas: Stopping=1 Working=1)",
		"stale:     r9",
		"workitems visible=3 invisible=1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}

	out, err = execute(t, NewRoot(base), "processor", "status", "--json")
	if err != nil {
		t.Fatalf("execute json: %v", err)
	}
	if !strings.Contains(out, `"replica": "r1"`) {
		t.Fatalf("expected JSON output, got:\n%s", out)
	}
}

func TestProcessorStopWait(t *testing.T) {
	base, reqs := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/status/stop": reply(http.StatusOK, `{"replica":"r1","local":{"state":"Stopped","inFlight":0},"reached":true}`),
	})
	out, err := execute(t, NewRoot(base), "processor", "stop", "--wait", "30s")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "state: Stopped") {
		t.Fatalf("unexpected output: %s", out)
	}
	got := reqs.all()[0]
	if got.method != http.MethodPost || got.query != "wait=30s" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestProcessorStopWaitNotReached(t *testing.T) {
	base, _ := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/status/stop": reply(http.StatusOK, `{"replica":"r1","local":{"state":"Stopping","inFlight":1},"reached":false}`),
	})
	_, err := execute(t, NewRoot(base), "processor", "stop", "--wait", "1s")
	if !errors.Is(err, ErrNotStopped) {
		t.Fatalf("expected ErrNotStopped, got %v", err)
	}
}

func TestProcessorStartConflict(t *testing.T) {
	base, _ := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/status/start": reply(http.StatusConflict, `{"error":"replica is still initializing"}`),
	})
	_, err := execute(t, NewRoot(base), "processor", "start")
	if err == nil || !strings.Contains(err.Error(), "still initializing") {
		t.Fatalf("expected server error message, got %v", err)
	}
}

func TestQueueEnqueueSendsItem(t *testing.T) {
	base, reqs := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/queues/jobs/messages": reply(http.StatusCreated, `{"queue":"jobs","messageId":"abc","nextVisibleAt":"2026-01-02T03:04:05Z"}`),
	})
	out, err := execute(t, NewRoot(base), "queue", "enqueue", "--queue", "jobs", "--type", "ping",
		"--data", `{"message":"hi"}`, "--delay", "1m")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "message_id: abc") {
		t.Fatalf("unexpected output: %s", out)
	}
	body := reqs.all()[0].body
	if body["type"] != "ping" || body["delay"] != "1m0s" {
		t.Fatalf("unexpected body %+v", body)
	}
	if data, _ := body["data"].(map[string]any); data["message"] != "hi" {
		t.Fatalf("unexpected data %+v", body["data"])
	}
}

func TestQueueEnqueueValidatesFlags(t *testing.T) {
	base, reqs := startAPIStub(t, nil)
	if _, err := execute(t, NewRoot(base), "queue", "enqueue"); err == nil {
		t.Fatalf("expected missing --type error")
	}
	if _, err := execute(t, NewRoot(base), "queue", "enqueue", "--type", "ping", "--data", "{bad"); err == nil {
		t.Fatalf("expected invalid --data error")
	}
	if n := len(reqs.all()); n != 0 {
		t.Fatalf("no request should be sent, got %d", n)
	}
}

func TestQueueList(t *testing.T) {
	base, _ := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/queues": reply(http.StatusOK, `{"queues":["a","b"]}`),
	})
	out, err := execute(t, NewRoot(base), "queue", "list")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "a\nb\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestProcessorHealthOverGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("maestro.Processor", healthpb.HealthCheckResponse_NOT_SERVING)
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	t.Setenv("MAESTRO_GRPC", lis.Addr().String())

	base := func() string { return "http://unused" }
	out, err := execute(t, NewRoot(base), "processor", "health")
	if err != nil || !strings.Contains(out, "SERVING") {
		t.Fatalf("health: %v %s", err, out)
	}
	if _, err := execute(t, NewRoot(base), "processor", "health", "--service", "maestro.Processor"); err == nil {
		t.Fatalf("expected NOT_SERVING to fail")
	}
	out, err = execute(t, NewRoot(base), "processor", "health", "--json")
	if err != nil || !strings.Contains(out, `"status"`) || !strings.Contains(out, `"SERVING"`) {
		t.Fatalf("health --json: %v %s", err, out)
	}
}

func TestProcessorStopWaitsForFleet(t *testing.T) {
	var polls atomic.Int32
	base, _ := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/status/stop": reply(http.StatusOK, `{"replica":"r1","local":{"state":"Stopped"},"reached":true}`),
		"/v1/status": func(w http.ResponseWriter) {
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"fleet":{"state":"Stopping","replicas":2,"allStopped":false}}`))
				return
			}
			_, _ = w.Write([]byte(`{"fleet":{"state":"Stopped","replicas":2,"allStopped":true}}`))
		},
	})
	out, err := execute(t, NewRoot(base), "processor", "stop", "--wait", "10s", "--fleet", "--poll", "10ms")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if polls.Load() != 3 || !strings.Contains(out, "fleet: Stopped (2 replicas)") {
		t.Fatalf("polls=%d output:\n%s", polls.Load(), out)
	}
}

func TestProcessorStopFleetTimesOut(t *testing.T) {
	base, _ := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/status/stop": reply(http.StatusOK, `{"replica":"r1","local":{"state":"Stopped"},"reached":true}`),
		"/v1/status":      reply(http.StatusOK, `{"fleet":{"state":"Working","replicas":2,"allStopped":false}}`),
	})
	_, err := execute(t, NewRoot(base), "processor", "stop", "--wait", "50ms", "--fleet", "--poll", "10ms")
	if !errors.Is(err, ErrNotStopped) {
		t.Fatalf("expected ErrNotStopped, got %v", err)
	}
	if _, err := execute(t, NewRoot(base), "processor", "stop", "--fleet"); err == nil {
		t.Fatalf("--fleet without --wait must be rejected")
	}
}

func TestProcessorHistory(t *testing.T) {
	base, reqs := startAPIStub(t, map[string]func(http.ResponseWriter){
		"/v1/status/history": reply(http.StatusOK, `{"replica":"r1","entries":[
			{"seq":3,"from":"Stopped","to":"Working","at":"2026-01-02T03:04:05Z"},
			{"seq":2,"from":"Working","to":"Stopped","at":"2026-01-02T03:04:00Z"}],"next":1}`),
	})
	out, err := execute(t, NewRoot(base), "processor", "history", "--limit", "2", "--start", "3")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Stopped -> Working") || !strings.Contains(out, "more: --start 1") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if q := reqs.all()[0].query; q != "limit=2&start=3" {
		t.Fatalf("unexpected query %q", q)
	}
}
