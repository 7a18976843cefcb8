package unraid

// SystemInfo mirrors the UMA /system payload.
type SystemInfo struct {
	Hostname        string   `json:"hostname"`
	Version         string   `json:"version"`
	AgentVersion    string   `json:"agent_version,omitempty"`
	CPUModel        string   `json:"cpu_model,omitempty"`
	CPUCores        int      `json:"cpu_cores,omitempty"`
	CPUThreads      int      `json:"cpu_threads,omitempty"`
	CPUUsagePercent float64  `json:"cpu_usage_percent"`
	CPUTempCelsius  *float64 `json:"cpu_temp_celsius,omitempty"`
	RAMTotalBytes   int64    `json:"ram_total_bytes"`
	RAMUsedBytes    int64    `json:"ram_used_bytes"`
	RAMUsagePercent float64  `json:"ram_usage_percent"`
	UptimeSeconds   int64    `json:"uptime_seconds"`
	ServerModel     string   `json:"server_model,omitempty"`
	BIOSVersion     string   `json:"bios_version,omitempty"`
}

// ArrayStatus mirrors the UMA /array payload.
type ArrayStatus struct {
	State               string  `json:"state"`
	NumDisks            int     `json:"num_disks"`
	NumDataDisks        int     `json:"num_data_disks"`
	NumParityDisks      int     `json:"num_parity_disks"`
	ParityValid         *bool   `json:"parity_valid,omitempty"`
	ParityCheckStatus   string  `json:"parity_check_status"`
	ParityCheckProgress float64 `json:"parity_check_progress"`
	TotalBytes          int64   `json:"total_bytes"`
	UsedBytes           int64   `json:"used_bytes"`
	FreeBytes           int64   `json:"free_bytes"`
	UsedPercent         float64 `json:"used_percent"`
}

// Disk is one entry of the UMA disk inventory.
type Disk struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Device             string   `json:"device"`
	Role               string   `json:"role,omitempty"`
	Status             string   `json:"status"`
	Filesystem         string   `json:"filesystem"`
	SizeBytes          int64    `json:"size_bytes"`
	UsedBytes          int64    `json:"used_bytes"`
	FreeBytes          int64    `json:"free_bytes"`
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`
	SMARTStatus        string   `json:"smart_status,omitempty"`
	SMARTErrors        int      `json:"smart_errors,omitempty"`
	SpinState          string   `json:"spin_state,omitempty"`
	Transport          string   `json:"transport,omitempty"`
	DiskType           string   `json:"disk_type,omitempty"`
	Rotational         *bool    `json:"rotational,omitempty"`
	Serial             string   `json:"serial_number,omitempty"`
}

// PortMapping is a published container port.
type PortMapping struct {
	PrivatePort int    `json:"private_port"`
	PublicPort  int    `json:"public_port,omitempty"`
	Type        string `json:"type"`
}

// Container is one Docker container as reported by UMA.
type Container struct {
	ID               string        `json:"id"`
	ContainerID      string        `json:"container_id,omitempty"`
	Name             string        `json:"name"`
	Image            string        `json:"image"`
	State            string        `json:"state"`
	Status           string        `json:"status,omitempty"`
	Ports            []PortMapping `json:"ports"`
	CPUPercent       float64       `json:"cpu_percent,omitempty"`
	MemoryUsageBytes int64         `json:"memory_usage_bytes,omitempty"`
}

// VM is one libvirt domain as reported by UMA.
type VM struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	CPUCount    int     `json:"cpu_count"`
	MemoryBytes int64   `json:"memory_bytes,omitempty"`
	CPUPercent  float64 `json:"guest_cpu_percent,omitempty"`
	Autostart   bool    `json:"autostart,omitempty"`
}

// UPSInfo mirrors the UMA /ups payload.
type UPSInfo struct {
	Connected            bool    `json:"connected"`
	Status               string  `json:"status"`
	Model                string  `json:"model,omitempty"`
	BatteryChargePercent float64 `json:"battery_charge_percent"`
	LoadPercent          float64 `json:"load_percent"`
	RuntimeLeftSeconds   int64   `json:"runtime_left_seconds"`
	PowerWatts           float64 `json:"power_watts,omitempty"`
}

// GPU is one GPU entry from the UMA /gpu listing.
type GPU struct {
	Index                 int      `json:"index"`
	PCIID                 string   `json:"pci_id,omitempty"`
	Name                  string   `json:"name"`
	Vendor                string   `json:"vendor,omitempty"`
	Available             bool     `json:"available"`
	DriverVersion         string   `json:"driver_version"`
	UtilizationGPUPercent float64  `json:"utilization_gpu_percent"`
	TemperatureCelsius    *float64 `json:"temperature_celsius,omitempty"`
	PowerDrawWatts        *float64 `json:"power_draw_watts,omitempty"`
}

// NetworkInterface is one NIC from the UMA /network listing.
type NetworkInterface struct {
	Name          string `json:"name"`
	MACAddress    string `json:"mac_address"`
	IPAddress     string `json:"ip_address,omitempty"`
	State         string `json:"state"`
	SpeedMbps     int    `json:"speed_mbps,omitempty"`
	BytesReceived int64  `json:"bytes_received"`
	BytesSent     int64  `json:"bytes_sent"`
}

// Share is one user share.
type Share struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	TotalBytes  int64   `json:"total_bytes"`
	UsedBytes   int64   `json:"used_bytes"`
	FreeBytes   int64   `json:"free_bytes"`
	UsedPercent float64 `json:"usage_percent,omitempty"`
}

// Notification is a single Unraid notification.
type Notification struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Importance  string `json:"importance"`
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
}

// NotificationCounts groups notification totals by importance.
type NotificationCounts struct {
	Info    int `json:"info"`
	Warning int `json:"warning"`
	Alert   int `json:"alert"`
	Total   int `json:"total"`
}

// NotificationOverview summarises unread and archived notifications.
type NotificationOverview struct {
	Unread  NotificationCounts `json:"unread"`
	Archive NotificationCounts `json:"archive"`
}

// Notifications mirrors the UMA /notifications payload.
type Notifications struct {
	Notifications []Notification       `json:"notifications"`
	Overview      NotificationOverview `json:"overview"`
}

// UserScript is an entry from the User Scripts plugin.
type UserScript struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path,omitempty"`
}

// ZFSPool mirrors a UMA ZFS pool entry.
type ZFSPool struct {
	Name            string  `json:"name"`
	Health          string  `json:"health"`
	State           string  `json:"state,omitempty"`
	SizeBytes       int64   `json:"size_bytes"`
	AllocatedBytes  int64   `json:"allocated_bytes"`
	FreeBytes       int64   `json:"free_bytes"`
	CapacityPercent float64 `json:"capacity_percent"`
	Fragmentation   float64 `json:"fragmentation_percent,omitempty"`
}

// ZFSDataset mirrors a UMA ZFS dataset entry.
type ZFSDataset struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Mountpoint      string `json:"mountpoint"`
	UsedBytes       int64  `json:"used_bytes"`
	AvailableBytes  int64  `json:"available_bytes"`
	ReferencedBytes int64  `json:"referenced_bytes,omitempty"`
	Compression     string `json:"compression,omitempty"`
	ReadOnly        bool   `json:"readonly,omitempty"`
}

// ZFSSnapshot mirrors a UMA ZFS snapshot entry.
type ZFSSnapshot struct {
	Name            string `json:"name"`
	Dataset         string `json:"dataset"`
	CreationTime    string `json:"creation_time"`
	UsedBytes       int64  `json:"used_bytes"`
	ReferencedBytes int64  `json:"referenced_bytes,omitempty"`
}

// ZFSArcStats mirrors the UMA ZFS ARC statistics payload.
type ZFSArcStats struct {
	SizeBytes       int64   `json:"size_bytes"`
	TargetSizeBytes int64   `json:"target_size_bytes"`
	MaxSizeBytes    int64   `json:"max_size_bytes,omitempty"`
	HitRatioPercent float64 `json:"hit_ratio_percent"`
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
}

// ParityCheckRecord is one historical parity check run.
type ParityCheckRecord struct {
	Date            string  `json:"date"`
	DurationSeconds int64   `json:"duration_seconds"`
	SpeedMBps       float64 `json:"speed_mbps,omitempty"`
	Status          string  `json:"status"`
	Errors          int     `json:"errors"`
}

// ParityHistory mirrors the UMA parity history payload.
type ParityHistory struct {
	Records []ParityCheckRecord `json:"records"`
}

// DiskSettings mirrors the UMA disk settings payload. Temperatures are the
// global warning and critical thresholds in Celsius.
type DiskSettings struct {
	SpindownDelayMinutes int    `json:"spindown_delay_minutes"`
	StartArray           bool   `json:"start_array"`
	SpinupGroups         bool   `json:"spinup_groups,omitempty"`
	DefaultFilesystem    string `json:"default_filesystem,omitempty"`
	WarningTempCelsius   int    `json:"hot_temp_celsius,omitempty"`
	CriticalTempCelsius  int    `json:"max_temp_celsius,omitempty"`
}

// MoverSettings mirrors the UMA mover settings payload.
type MoverSettings struct {
	Active   bool   `json:"active"`
	Schedule string `json:"schedule,omitempty"`
	Logging  bool   `json:"logging"`
}

// ParitySchedule mirrors the UMA scheduled parity check payload. Mode is
// "disabled" when no check is scheduled.
type ParitySchedule struct {
	Mode       string `json:"mode"`
	Day        int    `json:"day,omitempty"`
	Hour       int    `json:"hour,omitempty"`
	Frequency  int    `json:"frequency,omitempty"`
	Correcting bool   `json:"correcting"`
	NextCheck  string `json:"next_check,omitempty"`
}

// Scheduled reports whether a parity check is scheduled.
func (p ParitySchedule) Scheduled() bool {
	return p.Mode != "" && p.Mode != "disabled"
}

// FlashInfo mirrors the UMA boot flash drive payload.
type FlashInfo struct {
	Device         string  `json:"device,omitempty"`
	Model          string  `json:"model,omitempty"`
	Vendor         string  `json:"vendor,omitempty"`
	Product        string  `json:"product,omitempty"`
	GUID           string  `json:"guid,omitempty"`
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	FreeBytes      int64   `json:"free_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
	SMARTAvailable *bool   `json:"smart_available,omitempty"`
}

// Plugin is one installed Unraid plugin.
type Plugin struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	Author          string `json:"author,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
}

// PluginList mirrors the UMA plugins payload.
type PluginList struct {
	Plugins            []Plugin `json:"plugins"`
	TotalPlugins       int      `json:"total_plugins"`
	PluginsWithUpdates int      `json:"plugins_with_updates"`
}

// UpdateStatus mirrors the UMA OS and plugin update payload.
type UpdateStatus struct {
	CurrentVersion     string   `json:"current_version"`
	LatestVersion      string   `json:"latest_version,omitempty"`
	OSUpdateAvailable  bool     `json:"os_update_available"`
	PluginUpdatesCount int      `json:"plugin_updates_count"`
	PluginsWithUpdates []string `json:"plugins_with_updates,omitempty"`
}

// ServiceToggle is implemented by settings payloads that switch a whole
// Unraid service on or off.
type ServiceToggle interface {
	ServiceEnabled() bool
}

// DockerSettings mirrors the UMA Docker service settings payload.
type DockerSettings struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	ImagePath   string `json:"image_path,omitempty"`
	DefaultNet  string `json:"default_network,omitempty"`
	AppdataPath string `json:"appdata_path,omitempty"`
}

// ServiceEnabled reports whether the Docker service runs. A missing flag
// counts as enabled.
func (d DockerSettings) ServiceEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// VMSettings mirrors the UMA VM manager settings payload.
type VMSettings struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	LibvirtPath string `json:"libvirt_path,omitempty"`
	ISOPath     string `json:"iso_path,omitempty"`
}

// ServiceEnabled reports whether the VM manager runs. A missing flag counts
// as enabled.
func (v VMSettings) ServiceEnabled() bool {
	return v.Enabled == nil || *v.Enabled
}

// CollectorInfo describes one UMA collector and whether it runs.
type CollectorInfo struct {
	Name            string `json:"name"`
	Enabled         bool   `json:"enabled"`
	IntervalSeconds int    `json:"interval"`
	Status          string `json:"status,omitempty"`
}

// CollectorStatus mirrors the UMA /collectors/status payload.
type CollectorStatus struct {
	Collectors   []CollectorInfo `json:"collectors"`
	Total        int             `json:"total"`
	EnabledCount int             `json:"enabled_count"`
}

// Enablement flattens the collector list into a name -> enabled map.
func (s CollectorStatus) Enablement() map[string]bool {
	out := make(map[string]bool, len(s.Collectors))
	for _, c := range s.Collectors {
		if c.Name == "" {
			continue
		}
		out[c.Name] = c.Enabled
	}
	return out
}

// HealthStatus mirrors the UMA /health payload.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
