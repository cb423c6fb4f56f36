package runtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestDriver(rt roundTripFunc) *Driver {
	return &Driver{
		baseURL:         "http://docker",
		httpClient:      &http.Client{Transport: rt},
		targetContainer: "buggy-app-v2",
		maxReplicas:     3,
		network:         "aegis-network",
		lbContainer:     "aegis-lb",
		appPort:         8000,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRestartHitsRestartEndpoint(t *testing.T) {
	var gotPath string
	d := newTestDriver(func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		return jsonResponse(http.StatusNoContent, ""), nil
	})

	if err := d.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	want := "/" + apiVersion + "/containers/buggy-app-v2/restart"
	if gotPath != want {
		t.Fatalf("path = %q, want %q", gotPath, want)
	}
}

func TestScaleUpSpawnsCappedReplicas(t *testing.T) {
	var created []string
	var removed []string
	var started int
	d := newTestDriver(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/buggy-app-v2/json"):
			return jsonResponse(http.StatusOK,
				`{"Id":"abc","Config":{"Image":"buggy:2.1","Env":["MODE=prod"]},"State":{"Status":"running"}}`), nil
		case req.Method == http.MethodDelete:
			removed = append(removed, req.URL.Path)
			return jsonResponse(http.StatusNotFound, `{"message":"no such container"}`), nil
		case strings.HasSuffix(req.URL.Path, "/containers/create"):
			name := req.URL.Query().Get("name")
			var payload struct {
				Image string `json:"Image"`
				Env   []string
			}
			json.NewDecoder(req.Body).Decode(&payload)
			if payload.Image != "buggy:2.1" {
				t.Errorf("create image = %q", payload.Image)
			}
			created = append(created, name)
			return jsonResponse(http.StatusCreated, `{"Id":"id-`+name+`"}`), nil
		case strings.HasSuffix(req.URL.Path, "/start"):
			started++
			return jsonResponse(http.StatusNoContent, ""), nil
		}
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
		return jsonResponse(http.StatusInternalServerError, "{}"), nil
	})

	event, err := d.ScaleUp(context.Background(), 10)
	if err != nil {
		t.Fatalf("ScaleUp: %v", err)
	}
	if event.ReplicaCount != 3 {
		t.Fatalf("replica count = %d, want cap of 3", event.ReplicaCount)
	}
	wantNames := []string{"buggy-app-v2-replica-1", "buggy-app-v2-replica-2", "buggy-app-v2-replica-3"}
	for i, want := range wantNames {
		if created[i] != want || event.Replicas[i] != want {
			t.Fatalf("replica %d = %q/%q, want %q", i, created[i], event.Replicas[i], want)
		}
	}
	if len(removed) != 3 {
		t.Fatalf("stale removals = %d, want 3", len(removed))
	}
	if started != 3 {
		t.Fatalf("starts = %d, want 3", started)
	}
	if event.EventID == "" {
		t.Fatal("event id empty")
	}
}

func TestScaleUpFloorsAtOneReplica(t *testing.T) {
	var created int
	d := newTestDriver(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/buggy-app-v2/json"):
			return jsonResponse(http.StatusOK, `{"Id":"abc","Config":{"Image":"buggy:2.1"}}`), nil
		case strings.HasSuffix(req.URL.Path, "/containers/create"):
			created++
			return jsonResponse(http.StatusCreated, `{"Id":"xyz"}`), nil
		}
		return jsonResponse(http.StatusNoContent, ""), nil
	})

	event, err := d.ScaleUp(context.Background(), 0)
	if err != nil {
		t.Fatalf("ScaleUp: %v", err)
	}
	if created != 1 || event.ReplicaCount != 1 {
		t.Fatalf("created = %d, count = %d, want 1", created, event.ReplicaCount)
	}
}

func TestScaleDownRemovesOnlyReplicas(t *testing.T) {
	var removed []string
	d := newTestDriver(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/containers/json") {
			return jsonResponse(http.StatusOK, `[
				{"Id":"1","Names":["/buggy-app-v2-replica-2"],"State":"running"},
				{"Id":"2","Names":["/buggy-app-v2-replica-1"],"State":"running"},
				{"Id":"3","Names":["/other-buggy-app-v2-replica-9"],"State":"running"}
			]`), nil
		}
		if req.Method == http.MethodDelete {
			removed = append(removed, strings.TrimPrefix(req.URL.Path, "/"+apiVersion+"/containers/"))
			return jsonResponse(http.StatusNoContent, ""), nil
		}
		return jsonResponse(http.StatusInternalServerError, "{}"), nil
	})

	names, err := d.ScaleDown(context.Background())
	if err != nil {
		t.Fatalf("ScaleDown: %v", err)
	}
	if len(names) != 2 || names[0] != "buggy-app-v2-replica-1" || names[1] != "buggy-app-v2-replica-2" {
		t.Fatalf("removed = %v", names)
	}
	if len(removed) != 2 {
		t.Fatalf("delete calls = %v", removed)
	}
}

func TestLogsDemuxesStreamFrames(t *testing.T) {
	frame := func(stream byte, payload string) []byte {
		header := make([]byte, 8)
		header[0] = stream
		binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
		return append(header, payload...)
	}
	var body bytes.Buffer
	body.Write(frame(1, "out line\n"))
	body.Write(frame(2, "err line\n"))

	d := newTestDriver(func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("tail") != "50" {
			t.Errorf("tail = %q", req.URL.Query().Get("tail"))
		}
		return jsonResponse(http.StatusOK, body.String()), nil
	})

	logs, err := d.Logs(context.Background(), 50)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if logs != "out line\nerr line\n" {
		t.Fatalf("logs = %q", logs)
	}
}

func TestLogsPassesThroughTTYOutput(t *testing.T) {
	if got := demuxLogStream([]byte("plain tty output")); got != "plain tty output" {
		t.Fatalf("got %q", got)
	}
}

func TestTopologyClassifiesWorkloads(t *testing.T) {
	d := newTestDriver(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `[
			{"Id":"1","Names":["/aegis-lb"],"Image":"nginx:1.27","State":"running"},
			{"Id":"2","Names":["/buggy-app-v2"],"Image":"buggy:2.1","State":"running"},
			{"Id":"3","Names":["/buggy-app-v2-replica-1"],"Image":"buggy:2.1","State":"running"},
			{"Id":"4","Names":["/postgres"],"Image":"postgres:16","State":"running"}
		]`), nil
	})

	topo, err := d.Topology(context.Background())
	if err != nil {
		t.Fatalf("Topology: %v", err)
	}

	types := map[string]string{}
	for _, node := range topo.Nodes {
		types[node.ID] = node.Type
	}
	want := map[string]string{
		"aegis-lb":               "loadbalancer",
		"buggy-app-v2":           "app",
		"buggy-app-v2-replica-1": "replica",
		"postgres":               "unknown",
	}
	for id, wantType := range want {
		if types[id] != wantType {
			t.Fatalf("node %s type = %q, want %q", id, types[id], wantType)
		}
	}

	var spawned, routes bool
	for _, edge := range topo.Edges {
		if edge.Label == "spawned" && edge.To == "buggy-app-v2-replica-1" {
			spawned = true
		}
		if edge.Label == "routes" && edge.From == "aegis-lb" && edge.To == "buggy-app-v2" {
			routes = true
		}
	}
	if !spawned || !routes {
		t.Fatalf("edges = %+v", topo.Edges)
	}
}

func TestStatsComputesResourceUsage(t *testing.T) {
	d := newTestDriver(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/containers/json") {
			return jsonResponse(http.StatusOK,
				`[{"Id":"aaaabbbbccccdddd","Names":["/buggy-app-v2"],"Image":"buggy:2.1","State":"running"}]`), nil
		}
		return jsonResponse(http.StatusOK, `{
			"cpu_stats":{"cpu_usage":{"total_usage":400},"system_cpu_usage":2000,"online_cpus":2},
			"precpu_stats":{"cpu_usage":{"total_usage":200},"system_cpu_usage":1000},
			"memory_stats":{"usage":268435456,"limit":1073741824},
			"networks":{"eth0":{"rx_bytes":100,"tx_bytes":50},"eth1":{"rx_bytes":10,"tx_bytes":5}}
		}`), nil
	})

	stats, err := d.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("stats len = %d", len(stats))
	}
	s := stats[0]
	if s.CPUPercent != 40 {
		t.Fatalf("cpu = %v, want 40", s.CPUPercent)
	}
	if s.MemoryMB != 256 || s.MemoryLimitMB != 1024 || s.MemoryPercent != 25 {
		t.Fatalf("memory = %v/%v (%v%%)", s.MemoryMB, s.MemoryLimitMB, s.MemoryPercent)
	}
	if s.NetRxBytes != 110 || s.NetTxBytes != 55 {
		t.Fatalf("net = %d/%d", s.NetRxBytes, s.NetTxBytes)
	}
}

func TestReconfigureRoutingUploadsConfAndReloads(t *testing.T) {
	var archived bool
	var execCmd []string
	d := newTestDriver(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == http.MethodPut && strings.Contains(req.URL.Path, "/aegis-lb/archive"):
			archived = true
			body, _ := io.ReadAll(req.Body)
			if !bytes.Contains(body, []byte("buggy-app-v2-replica-1:8000")) {
				t.Error("archive missing replica upstream")
			}
			return jsonResponse(http.StatusOK, ""), nil
		case strings.HasSuffix(req.URL.Path, "/aegis-lb/exec"):
			var payload struct{ Cmd []string }
			json.NewDecoder(req.Body).Decode(&payload)
			execCmd = payload.Cmd
			return jsonResponse(http.StatusCreated, `{"Id":"exec-1"}`), nil
		case strings.HasSuffix(req.URL.Path, "/exec/exec-1/start"):
			return jsonResponse(http.StatusOK, ""), nil
		}
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
		return jsonResponse(http.StatusInternalServerError, "{}"), nil
	})

	err := d.ReconfigureRouting(context.Background(), []string{"buggy-app-v2-replica-1"})
	if err != nil {
		t.Fatalf("ReconfigureRouting: %v", err)
	}
	if !archived {
		t.Fatal("upstream config never uploaded")
	}
	if len(execCmd) != 3 || execCmd[0] != "nginx" || execCmd[2] != "reload" {
		t.Fatalf("exec cmd = %v", execCmd)
	}
}

func TestUpstreamConfIncludesBaseWorkloadFirst(t *testing.T) {
	d := newTestDriver(nil)
	conf := d.upstreamConf([]string{"buggy-app-v2-replica-1", "buggy-app-v2-replica-2"})
	lines := strings.Split(strings.TrimSpace(conf), "\n")
	if lines[0] != "upstream app_backend {" {
		t.Fatalf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "buggy-app-v2:8000") {
		t.Fatalf("base workload not first upstream: %q", lines[1])
	}
	if len(lines) != 5 {
		t.Fatalf("conf = %q", conf)
	}
}
