package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-remediate/internal/config"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

const apiVersion = "v1.43"

// Driver executes remediation actions against the container runtime via
// the Engine HTTP API. All mutating calls honour the configured replica cap
// and operate on the configured target workload.
type Driver struct {
	baseURL         string
	httpClient      *http.Client
	targetContainer string
	maxReplicas     int
	network         string
	lbContainer     string
	appPort         int
	logger          *slog.Logger
}

// NewDriver connects to the runtime at cfg.Host. Hosts of the form
// unix:///path dial the local socket; tcp://host:port uses plain HTTP.
func NewDriver(cfg config.RuntimeConfig, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := "http://docker"
	client := &http.Client{Timeout: timeout}
	switch {
	case strings.HasPrefix(cfg.Host, "unix://"):
		socketPath := strings.TrimPrefix(cfg.Host, "unix://")
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
	case strings.HasPrefix(cfg.Host, "tcp://"):
		baseURL = "http://" + strings.TrimPrefix(cfg.Host, "tcp://")
	case cfg.Host != "":
		baseURL = cfg.Host
	}

	return &Driver{
		baseURL:         baseURL,
		httpClient:      client,
		targetContainer: cfg.TargetContainer,
		maxReplicas:     cfg.MaxReplicas,
		network:         cfg.Network,
		lbContainer:     cfg.LBContainer,
		appPort:         cfg.AppPort,
		logger:          logger,
	}
}

// Target returns the workload name the driver operates on.
func (d *Driver) Target() string { return d.targetContainer }

// MaxReplicas returns the configured replica ceiling.
func (d *Driver) MaxReplicas() int { return d.maxReplicas }

// Restart restarts the target workload in place.
func (d *Driver) Restart(ctx context.Context) error {
	endpoint := fmt.Sprintf("/containers/%s/restart?t=10", url.PathEscape(d.targetContainer))
	if err := d.do(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		return utils.NewAppError("runtime.restart", "restart "+d.targetContainer, err)
	}
	d.logger.Info("workload restarted", slog.String("workload", d.targetContainer))
	return nil
}

// ScaleUp launches sibling replicas of the target workload named
// <target>-replica-<i>, reusing the source image and environment. The
// requested count is capped at MaxReplicas. Stale replicas from earlier
// scale events are replaced, not duplicated.
func (d *Driver) ScaleUp(ctx context.Context, replicas int) (models.ScaleEvent, error) {
	event := models.ScaleEvent{
		EventID:      uuid.NewString(),
		WorkloadBase: d.targetContainer,
		Timestamp:    time.Now().UTC(),
	}

	if replicas < 1 {
		replicas = 1
	}
	if replicas > d.maxReplicas {
		d.logger.Warn("replica request capped",
			slog.Int("requested", replicas), slog.Int("cap", d.maxReplicas))
		replicas = d.maxReplicas
	}

	source, err := d.inspect(ctx, d.targetContainer)
	if err != nil {
		return event, utils.NewAppError("runtime.scale_up", "inspect source workload", err)
	}

	for i := 1; i <= replicas; i++ {
		name := fmt.Sprintf("%s-replica-%d", d.targetContainer, i)
		d.removeIfExists(ctx, name)

		id, err := d.createContainer(ctx, name, source.Config.Image, source.Config.Env)
		if err != nil {
			return event, utils.NewAppError("runtime.scale_up", "create "+name, err)
		}
		if err := d.do(ctx, http.MethodPost, "/containers/"+id+"/start", nil, nil); err != nil {
			return event, utils.NewAppError("runtime.scale_up", "start "+name, err)
		}
		event.Replicas = append(event.Replicas, name)
		d.logger.Info("replica started", slog.String("replica", name))
	}

	event.ReplicaCount = len(event.Replicas)
	return event, nil
}

// ScaleDown removes every replica container previously spawned for the
// target workload. The base workload is never touched.
func (d *Driver) ScaleDown(ctx context.Context) ([]string, error) {
	replicas, err := d.listByPrefix(ctx, d.targetContainer+"-replica-")
	if err != nil {
		return nil, utils.NewAppError("runtime.scale_down", "list replicas", err)
	}

	removed := make([]string, 0, len(replicas))
	for _, name := range replicas {
		endpoint := fmt.Sprintf("/containers/%s?force=1", url.PathEscape(name))
		if err := d.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
			return removed, utils.NewAppError("runtime.scale_down", "remove "+name, err)
		}
		removed = append(removed, name)
		d.logger.Info("replica removed", slog.String("replica", name))
	}
	return removed, nil
}

// Logs fetches the last tail lines of the target workload's output.
func (d *Driver) Logs(ctx context.Context, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	endpoint := fmt.Sprintf("/containers/%s/logs?stdout=1&stderr=1&tail=%d",
		url.PathEscape(d.targetContainer), tail)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/"+apiVersion+endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", utils.NewAppError("runtime.logs", "fetch logs", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", utils.NewAppError("runtime.logs", "fetch logs", fmt.Errorf("runtime returned %s", resp.Status))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", utils.NewAppError("runtime.logs", "read log stream", err)
	}
	return demuxLogStream(raw), nil
}

// ListRunning lists currently running workloads.
func (d *Driver) ListRunning(ctx context.Context) ([]models.WorkloadInfo, error) {
	var listed []containerSummary
	if err := d.do(ctx, http.MethodGet, "/containers/json", nil, &listed); err != nil {
		return nil, utils.NewAppError("runtime.list", "list workloads", err)
	}

	infos := make([]models.WorkloadInfo, 0, len(listed))
	for _, c := range listed {
		infos = append(infos, models.WorkloadInfo{
			Name:   c.name(),
			Status: c.State,
			Image:  c.Image,
			ID:     shortID(c.ID),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Topology builds the service graph for the dashboard: one node per
// running workload classified by role, plus edges describing which
// workloads the engine watches and where the load balancer routes.
func (d *Driver) Topology(ctx context.Context) (models.Topology, error) {
	infos, err := d.ListRunning(ctx)
	if err != nil {
		return models.Topology{}, err
	}

	topo := models.Topology{
		Nodes: make([]models.TopologyNode, 0, len(infos)),
		Edges: []models.TopologyEdge{},
	}
	for _, info := range infos {
		topo.Nodes = append(topo.Nodes, models.TopologyNode{
			ID:     info.Name,
			Type:   d.classifyWorkload(info.Name),
			Status: info.Status,
			Image:  info.Image,
		})
	}

	const engine = "remediate-engine"
	for _, node := range topo.Nodes {
		switch node.Type {
		case "app":
			topo.Edges = append(topo.Edges, models.TopologyEdge{From: engine, To: node.ID, Label: "monitors"})
		case "replica":
			topo.Edges = append(topo.Edges, models.TopologyEdge{From: engine, To: node.ID, Label: "spawned"})
		case "loadbalancer":
			topo.Edges = append(topo.Edges, models.TopologyEdge{From: node.ID, To: d.targetContainer, Label: "routes"})
		}
	}
	return topo, nil
}

func (d *Driver) classifyWorkload(name string) string {
	switch {
	case strings.HasPrefix(name, d.targetContainer+"-replica-"):
		return "replica"
	case name == d.targetContainer:
		return "app"
	case name == d.lbContainer || strings.Contains(name, "nginx"):
		return "loadbalancer"
	default:
		return "unknown"
	}
}

// Stats returns a one-shot resource snapshot for every running workload.
func (d *Driver) Stats(ctx context.Context) ([]models.WorkloadStats, error) {
	var listed []containerSummary
	if err := d.do(ctx, http.MethodGet, "/containers/json", nil, &listed); err != nil {
		return nil, utils.NewAppError("runtime.stats", "list workloads", err)
	}

	stats := make([]models.WorkloadStats, 0, len(listed))
	for _, c := range listed {
		var raw statsResponse
		endpoint := fmt.Sprintf("/containers/%s/stats?stream=false", c.ID)
		if err := d.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
			d.logger.Warn("stats unavailable", slog.String("workload", c.name()), slog.Any("error", err))
			continue
		}
		stats = append(stats, buildWorkloadStats(c, raw))
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats, nil
}

// ReconfigureRouting rewrites the load balancer upstream pool to include
// the base workload plus the given replicas, then reloads the balancer.
func (d *Driver) ReconfigureRouting(ctx context.Context, replicas []string) error {
	if d.lbContainer == "" {
		return utils.NewAppError("runtime.routing", "no load balancer configured", nil)
	}

	conf := d.upstreamConf(replicas)
	archive, err := tarSingleFile("upstream.conf", []byte(conf))
	if err != nil {
		return utils.NewAppError("runtime.routing", "build config archive", err)
	}

	endpoint := fmt.Sprintf("/containers/%s/archive?path=%s",
		url.PathEscape(d.lbContainer), url.QueryEscape("/etc/nginx/conf.d"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, d.baseURL+"/"+apiVersion+endpoint, bytes.NewReader(archive))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-tar")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError("runtime.routing", "upload upstream config", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return utils.NewAppError("runtime.routing", "upload upstream config", fmt.Errorf("runtime returned %s", resp.Status))
	}

	if err := d.execInContainer(ctx, d.lbContainer, []string{"nginx", "-s", "reload"}); err != nil {
		return utils.NewAppError("runtime.routing", "reload load balancer", err)
	}
	d.logger.Info("load balancer reconfigured",
		slog.String("lb", d.lbContainer), slog.Int("upstreams", len(replicas)+1))
	return nil
}

func (d *Driver) upstreamConf(replicas []string) string {
	var b strings.Builder
	b.WriteString("upstream app_backend {\n")
	fmt.Fprintf(&b, "    server %s:%d;\n", d.targetContainer, d.appPort)
	for _, name := range replicas {
		fmt.Fprintf(&b, "    server %s:%d;\n", name, d.appPort)
	}
	b.WriteString("}\n")
	return b.String()
}

type containerSummary struct {
	ID    string   `json:"Id"`
	Names []string `json:"Names"`
	Image string   `json:"Image"`
	State string   `json:"State"`
}

func (c containerSummary) name() string {
	if len(c.Names) == 0 {
		return shortID(c.ID)
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

type inspectResponse struct {
	ID     string `json:"Id"`
	Config struct {
		Image string   `json:"Image"`
		Env   []string `json:"Env"`
	} `json:"Config"`
	State struct {
		Status string `json:"Status"`
	} `json:"State"`
}

type statsResponse struct {
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes int64 `json:"rx_bytes"`
		TxBytes int64 `json:"tx_bytes"`
	} `json:"networks"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage uint64 `json:"total_usage"`
	} `json:"cpu_usage"`
	SystemCPUUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs     int    `json:"online_cpus"`
}

func buildWorkloadStats(c containerSummary, raw statsResponse) models.WorkloadStats {
	ws := models.WorkloadStats{
		Name:   c.name(),
		Status: c.State,
		Image:  c.Image,
	}

	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemCPUUsage) - float64(raw.PreCPUStats.SystemCPUUsage)
	if cpuDelta > 0 && systemDelta > 0 {
		cpus := raw.CPUStats.OnlineCPUs
		if cpus == 0 {
			cpus = 1
		}
		ws.CPUPercent = round2(cpuDelta / systemDelta * float64(cpus) * 100)
	}

	ws.MemoryMB = round2(float64(raw.MemoryStats.Usage) / (1024 * 1024))
	ws.MemoryLimitMB = round2(float64(raw.MemoryStats.Limit) / (1024 * 1024))
	if raw.MemoryStats.Limit > 0 {
		ws.MemoryPercent = round2(float64(raw.MemoryStats.Usage) / float64(raw.MemoryStats.Limit) * 100)
	}

	for _, nw := range raw.Networks {
		ws.NetRxBytes += nw.RxBytes
		ws.NetTxBytes += nw.TxBytes
	}
	return ws
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (d *Driver) inspect(ctx context.Context, name string) (inspectResponse, error) {
	var out inspectResponse
	err := d.do(ctx, http.MethodGet, "/containers/"+url.PathEscape(name)+"/json", nil, &out)
	return out, err
}

func (d *Driver) listByPrefix(ctx context.Context, prefix string) ([]string, error) {
	filters := fmt.Sprintf(`{"name":[%q]}`, prefix)
	var listed []containerSummary
	endpoint := "/containers/json?all=1&filters=" + url.QueryEscape(filters)
	if err := d.do(ctx, http.MethodGet, endpoint, nil, &listed); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(listed))
	for _, c := range listed {
		// Name filters match substrings; keep exact prefix matches only.
		if strings.HasPrefix(c.name(), prefix) {
			names = append(names, c.name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) removeIfExists(ctx context.Context, name string) {
	endpoint := fmt.Sprintf("/containers/%s?force=1", url.PathEscape(name))
	if err := d.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		d.logger.Debug("no stale replica to remove", slog.String("replica", name))
	}
}

func (d *Driver) createContainer(ctx context.Context, name, image string, env []string) (string, error) {
	payload := map[string]any{
		"Image": image,
		"Env":   env,
		"HostConfig": map[string]any{
			"NetworkMode": d.network,
		},
	}
	var created struct {
		ID string `json:"Id"`
	}
	endpoint := "/containers/create?name=" + url.QueryEscape(name)
	if err := d.do(ctx, http.MethodPost, endpoint, payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (d *Driver) execInContainer(ctx context.Context, name string, cmd []string) error {
	payload := map[string]any{
		"Cmd":          cmd,
		"AttachStdout": true,
		"AttachStderr": true,
	}
	var created struct {
		ID string `json:"Id"`
	}
	endpoint := "/containers/" + url.PathEscape(name) + "/exec"
	if err := d.do(ctx, http.MethodPost, endpoint, payload, &created); err != nil {
		return err
	}
	return d.do(ctx, http.MethodPost, "/exec/"+created.ID+"/start", map[string]any{"Detach": true}, nil)
}

func (d *Driver) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+"/"+apiVersion+endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runtime returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func tarSingleFile(name string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// demuxLogStream strips the 8-byte stream headers the engine prepends to
// each log chunk. TTY output arrives unframed and is passed through.
func demuxLogStream(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] > 2 {
		return string(raw)
	}

	var b strings.Builder
	for len(raw) >= 8 {
		size := binary.BigEndian.Uint32(raw[4:8])
		raw = raw[8:]
		if uint32(len(raw)) < size {
			b.Write(raw)
			break
		}
		b.Write(raw[:size])
		raw = raw[size:]
	}
	return b.String()
}
