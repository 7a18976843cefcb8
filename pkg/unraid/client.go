package unraid

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is the port the Unraid Management Agent listens on.
	DefaultPort = 8043

	defaultHTTPTimeout = 10 * time.Second
	apiPrefix          = "/api/v1"
	websocketPath      = apiPrefix + "/ws"
)

const maxResponseBodyBytes int64 = 4 * 1024 * 1024

// DialContextFunc matches net.Dialer.DialContext.
type DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ClientConfig configures the UMA REST API client.
type ClientConfig struct {
	Host               string
	Port               int
	UseHTTPS           bool
	InsecureSkipVerify bool
	Fingerprint        string
	Timeout            time.Duration

	// DialContext overrides the transport dialer, typically with the cached resolver.
	DialContext DialContextFunc
}

// Client is a thin HTTP wrapper around the UMA REST API v1.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	baseURL    string
	wsURL      string
	tlsConfig  *tls.Config
}

// APIError represents an HTTP-level error from the UMA REST API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unraid request %s %s failed: status=%d body=%q", e.Method, e.Path, e.StatusCode, e.Body)
}

// NewClient creates a new UMA REST API client.
func NewClient(config ClientConfig) (*Client, error) {
	host := strings.TrimSpace(config.Host)
	if host == "" {
		return nil, fmt.Errorf("unraid host is required")
	}

	useHTTPS, hostPort, err := resolveEndpoint(host, config.UseHTTPS, config.Port)
	if err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.DialContext != nil {
		transport.DialContext = config.DialContext
	}
	var tlsConfig *tls.Config
	if useHTTPS {
		tlsConfig, err = buildTLSConfig(config.InsecureSkipVerify, config.Fingerprint)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	config.Host = host
	config.UseHTTPS = useHTTPS
	config.Timeout = timeout
	if _, portText, splitErr := net.SplitHostPort(hostPort); splitErr == nil {
		if parsedPort, parseErr := strconv.Atoi(portText); parseErr == nil {
			config.Port = parsedPort
		}
	}

	scheme, wsScheme := "http", "ws"
	if useHTTPS {
		scheme, wsScheme = "https", "wss"
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL:   fmt.Sprintf("%s://%s%s", scheme, hostPort, apiPrefix),
		wsURL:     fmt.Sprintf("%s://%s%s", wsScheme, hostPort, websocketPath),
		tlsConfig: tlsConfig,
	}, nil
}

// BaseURL returns the REST API root, e.g. http://tower:8043/api/v1.
func (c *Client) BaseURL() string { return c.baseURL }

// WebSocketURL returns the push event endpoint for this agent.
func (c *Client) WebSocketURL() string { return c.wsURL }

// Config returns the normalized client configuration.
func (c *Client) Config() ClientConfig { return c.config }

// TestConnection validates that the agent is reachable.
func (c *Client) TestConnection(ctx context.Context) error {
	if _, err := c.Health(ctx); err != nil {
		return fmt.Errorf("unraid connection test failed: %w", err)
	}
	return nil
}

// Close releases idle HTTP transport connections held by the client.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil || c.httpClient.Transport == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(interface{ CloseIdleConnections() }); ok {
		transport.CloseIdleConnections()
	}
}

// Health returns the agent health payload.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSystemInfo returns host level metrics and metadata.
func (c *Client) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var out SystemInfo
	if err := c.getJSON(ctx, "/system", &out); err != nil {
		return nil, err
	}
	out.Hostname = strings.TrimSpace(out.Hostname)
	return &out, nil
}

// GetArrayStatus returns the array state and parity summary.
func (c *Client) GetArrayStatus(ctx context.Context) (*ArrayStatus, error) {
	var out ArrayStatus
	if err := c.getJSON(ctx, "/array", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDisks returns the disk inventory.
func (c *Client) GetDisks(ctx context.Context) ([]Disk, error) {
	return getList[Disk](ctx, c, "/disks")
}

// GetContainers returns Docker containers.
func (c *Client) GetContainers(ctx context.Context) ([]Container, error) {
	return getList[Container](ctx, c, "/docker")
}

// GetVMs returns virtual machines.
func (c *Client) GetVMs(ctx context.Context) ([]VM, error) {
	return getList[VM](ctx, c, "/vm")
}

// GetUPS returns the UPS status.
func (c *Client) GetUPS(ctx context.Context) (*UPSInfo, error) {
	var out UPSInfo
	if err := c.getJSON(ctx, "/ups", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGPUs returns GPU metrics.
func (c *Client) GetGPUs(ctx context.Context) ([]GPU, error) {
	return getList[GPU](ctx, c, "/gpu")
}

// GetNetworkInterfaces returns NIC statistics.
func (c *Client) GetNetworkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	return getList[NetworkInterface](ctx, c, "/network")
}

// GetShares returns user shares.
func (c *Client) GetShares(ctx context.Context) ([]Share, error) {
	return getList[Share](ctx, c, "/shares")
}

// GetNotifications returns notifications and their overview counts.
func (c *Client) GetNotifications(ctx context.Context) (*Notifications, error) {
	var out Notifications
	if err := c.getJSON(ctx, "/notifications", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserScripts returns scripts from the User Scripts plugin.
func (c *Client) GetUserScripts(ctx context.Context) ([]UserScript, error) {
	return getList[UserScript](ctx, c, "/user-scripts")
}

// GetZFSPools returns ZFS pools.
func (c *Client) GetZFSPools(ctx context.Context) ([]ZFSPool, error) {
	return getList[ZFSPool](ctx, c, "/zfs/pools")
}

// GetZFSDatasets returns ZFS datasets.
func (c *Client) GetZFSDatasets(ctx context.Context) ([]ZFSDataset, error) {
	return getList[ZFSDataset](ctx, c, "/zfs/datasets")
}

// GetZFSSnapshots returns ZFS snapshots.
func (c *Client) GetZFSSnapshots(ctx context.Context) ([]ZFSSnapshot, error) {
	return getList[ZFSSnapshot](ctx, c, "/zfs/snapshots")
}

// GetZFSArcStats returns ARC statistics.
func (c *Client) GetZFSArcStats(ctx context.Context) (*ZFSArcStats, error) {
	var out ZFSArcStats
	if err := c.getJSON(ctx, "/zfs/arc", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetParityHistory returns past parity check runs.
func (c *Client) GetParityHistory(ctx context.Context) (*ParityHistory, error) {
	var out ParityHistory
	if err := c.getJSON(ctx, "/array/parity-check/history", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDiskSettings returns the global disk settings.
func (c *Client) GetDiskSettings(ctx context.Context) (*DiskSettings, error) {
	var out DiskSettings
	if err := c.getJSON(ctx, "/settings/disks", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMoverSettings returns mover settings and whether it is running.
func (c *Client) GetMoverSettings(ctx context.Context) (*MoverSettings, error) {
	var out MoverSettings
	if err := c.getJSON(ctx, "/settings/mover", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetParitySchedule returns the scheduled parity check settings.
func (c *Client) GetParitySchedule(ctx context.Context) (*ParitySchedule, error) {
	var out ParitySchedule
	if err := c.getJSON(ctx, "/array/parity-check/schedule", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFlashInfo returns the boot flash drive details.
func (c *Client) GetFlashInfo(ctx context.Context) (*FlashInfo, error) {
	var out FlashInfo
	if err := c.getJSON(ctx, "/system/flash", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPlugins returns installed plugins.
func (c *Client) GetPlugins(ctx context.Context) (*PluginList, error) {
	var out PluginList
	if err := c.getJSON(ctx, "/plugins", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUpdateStatus returns OS and plugin update availability.
func (c *Client) GetUpdateStatus(ctx context.Context) (*UpdateStatus, error) {
	var out UpdateStatus
	if err := c.getJSON(ctx, "/updates", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDockerSettings returns the Docker service settings.
func (c *Client) GetDockerSettings(ctx context.Context) (*DockerSettings, error) {
	var out DockerSettings
	if err := c.getJSON(ctx, "/settings/docker", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVMSettings returns the VM manager settings.
func (c *Client) GetVMSettings(ctx context.Context) (*VMSettings, error) {
	var out VMSettings
	if err := c.getJSON(ctx, "/settings/vm", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CollectorStatus returns which UMA collectors are enabled.
func (c *Client) CollectorStatus(ctx context.Context) (*CollectorStatus, error) {
	var out CollectorStatus
	if err := c.getJSON(ctx, "/collectors/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func getList[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, destination any) error {
	return c.do(ctx, http.MethodGet, path, destination)
}

func (c *Client) postJSON(ctx context.Context, path string, destination any) error {
	return c.do(ctx, http.MethodPost, path, destination)
}

func (c *Client) do(ctx context.Context, method string, path string, destination any) (err error) {
	request, err := c.newRequest(ctx, method, path)
	if err != nil {
		return err
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("unraid request %s %s failed: %w", method, path, err)
	}
	defer func() {
		if closeErr := response.Body.Close(); closeErr != nil {
			wrappedCloseErr := fmt.Errorf("close unraid response body for %s %s: %w", method, path, closeErr)
			if err != nil {
				err = errors.Join(err, wrappedCloseErr)
				return
			}
			err = wrappedCloseErr
		}
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("read unraid error response body for %s %s: %w", method, path, readErr)
		}
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(response.StatusCode)
		}
		return &APIError{
			StatusCode: response.StatusCode,
			Method:     method,
			Path:       path,
			Body:       message,
		}
	}

	if destination == nil {
		_, err = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBodyBytes))
		return err
	}
	return decodeJSONResponseWithLimit(response.Body, method, path, destination)
}

func (c *Client) newRequest(ctx context.Context, method string, path string) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), nil)
	if err != nil {
		return nil, fmt.Errorf("build unraid request %s %s: %w", method, path, err)
	}
	request.Header.Set("Accept", "application/json")
	return request, nil
}

func (c *Client) endpoint(path string) string {
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

func resolveEndpoint(host string, useHTTPS bool, port int) (bool, string, error) {
	rawHost := strings.TrimSpace(host)
	if rawHost == "" {
		return false, "", fmt.Errorf("unraid host is required")
	}

	if strings.Contains(rawHost, "://") {
		parsed, err := url.Parse(rawHost)
		if err != nil {
			return false, "", fmt.Errorf("parse unraid host %q: %w", host, err)
		}
		if parsed.Host == "" {
			return false, "", fmt.Errorf("parse unraid host %q: missing host", host)
		}
		if parsed.User != nil {
			return false, "", fmt.Errorf("parse unraid host %q: credentials are not supported", host)
		}
		if parsed.Path != "" && parsed.Path != "/" {
			return false, "", fmt.Errorf("parse unraid host %q: path is not supported", host)
		}
		switch strings.ToLower(parsed.Scheme) {
		case "https":
			useHTTPS = true
		case "http":
			useHTTPS = false
		default:
			return false, "", fmt.Errorf("unsupported unraid scheme %q", parsed.Scheme)
		}
		rawHost = parsed.Host
	}

	hostName, hostPort, err := splitHostPort(rawHost)
	if err != nil {
		return false, "", err
	}
	if hostName == "" {
		return false, "", fmt.Errorf("invalid unraid host %q", host)
	}

	resolvedPort := port
	if resolvedPort == 0 && hostPort != "" {
		parsedPort, parseErr := strconv.Atoi(hostPort)
		if parseErr != nil {
			return false, "", fmt.Errorf("invalid unraid port %q: %w", hostPort, parseErr)
		}
		resolvedPort = parsedPort
	}
	if resolvedPort == 0 {
		resolvedPort = DefaultPort
	}
	if resolvedPort < 1 || resolvedPort > 65535 {
		return false, "", fmt.Errorf("invalid unraid port %d", resolvedPort)
	}

	return useHTTPS, net.JoinHostPort(hostName, strconv.Itoa(resolvedPort)), nil
}

func splitHostPort(rawHost string) (string, string, error) {
	rawHost = strings.TrimSpace(rawHost)
	if rawHost == "" {
		return "", "", nil
	}

	host, port, err := net.SplitHostPort(rawHost)
	if err == nil {
		return strings.TrimSpace(host), strings.TrimSpace(port), nil
	}

	if strings.Contains(err.Error(), "missing port in address") {
		if strings.HasPrefix(rawHost, "[") && strings.HasSuffix(rawHost, "]") {
			return strings.Trim(rawHost, "[]"), "", nil
		}
		return rawHost, "", nil
	}

	return "", "", fmt.Errorf("invalid unraid host %q: %w", rawHost, err)
}

func decodeJSONResponseWithLimit(body io.Reader, method string, path string, destination any) error {
	responseBody, err := io.ReadAll(io.LimitReader(body, maxResponseBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read unraid response for %s %s: %w", method, path, err)
	}
	if int64(len(responseBody)) > maxResponseBodyBytes {
		return fmt.Errorf("decode unraid response for %s %s: response body exceeds %d bytes", method, path, maxResponseBodyBytes)
	}
	if len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(responseBody))
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("decode unraid response for %s %s: %w", method, path, err)
	}

	var trailing json.RawMessage
	if err := decoder.Decode(&trailing); err != io.EOF {
		return fmt.Errorf("decode unraid response for %s %s: unexpected trailing data", method, path)
	}

	return nil
}

func buildTLSConfig(insecureSkipVerify bool, fingerprint string) (*tls.Config, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(fingerprint), ":", ""))
	if normalized != "" {
		if _, err := hex.DecodeString(normalized); err != nil || len(normalized) != sha256.Size*2 {
			return nil, fmt.Errorf("invalid unraid tls fingerprint %q", fingerprint)
		}
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: insecureSkipVerify || normalized != "",
		MinVersion:         tls.VersionTLS12,
	}

	if normalized != "" {
		tlsConfig.VerifyConnection = func(state tls.ConnectionState) error {
			if len(state.PeerCertificates) == 0 {
				return fmt.Errorf("unraid tls pinning failed: missing peer certificate")
			}
			sum := sha256.Sum256(state.PeerCertificates[0].Raw)
			if hex.EncodeToString(sum[:]) != normalized {
				return fmt.Errorf("unraid tls pinning failed: fingerprint mismatch")
			}
			return nil
		}
	}

	return tlsConfig, nil
}
