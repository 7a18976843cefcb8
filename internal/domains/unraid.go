package domains

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

// API is the subset of the agent REST client the domain table polls.
type API interface {
	GetSystemInfo(ctx context.Context) (*unraid.SystemInfo, error)
	GetArrayStatus(ctx context.Context) (*unraid.ArrayStatus, error)
	GetDisks(ctx context.Context) ([]unraid.Disk, error)
	GetContainers(ctx context.Context) ([]unraid.Container, error)
	GetVMs(ctx context.Context) ([]unraid.VM, error)
	GetUPS(ctx context.Context) (*unraid.UPSInfo, error)
	GetGPUs(ctx context.Context) ([]unraid.GPU, error)
	GetNetworkInterfaces(ctx context.Context) ([]unraid.NetworkInterface, error)
	GetShares(ctx context.Context) ([]unraid.Share, error)
	GetNotifications(ctx context.Context) (*unraid.Notifications, error)
	GetUserScripts(ctx context.Context) ([]unraid.UserScript, error)
	GetZFSPools(ctx context.Context) ([]unraid.ZFSPool, error)
	GetZFSDatasets(ctx context.Context) ([]unraid.ZFSDataset, error)
	GetZFSSnapshots(ctx context.Context) ([]unraid.ZFSSnapshot, error)
	GetZFSArcStats(ctx context.Context) (*unraid.ZFSArcStats, error)
	GetParityHistory(ctx context.Context) (*unraid.ParityHistory, error)
	GetParitySchedule(ctx context.Context) (*unraid.ParitySchedule, error)
	GetDiskSettings(ctx context.Context) (*unraid.DiskSettings, error)
	GetMoverSettings(ctx context.Context) (*unraid.MoverSettings, error)
	GetFlashInfo(ctx context.Context) (*unraid.FlashInfo, error)
	GetPlugins(ctx context.Context) (*unraid.PluginList, error)
	GetUpdateStatus(ctx context.Context) (*unraid.UpdateStatus, error)
	GetDockerSettings(ctx context.Context) (*unraid.DockerSettings, error)
	GetVMSettings(ctx context.Context) (*unraid.VMSettings, error)
}

// Domain names.
const (
	System         = "system"
	Array          = "array"
	ParityHistory  = "parity_history"
	ParitySchedule = "parity_schedule"
	Disks          = "disks"
	DiskSettings   = "disk_settings"
	MoverSettings  = "mover_settings"
	Containers     = "containers"
	DockerSettings = "docker_settings"
	VMs            = "vms"
	VMSettings     = "vm_settings"
	UPS            = "ups"
	GPU            = "gpu"
	Network        = "network"
	Shares         = "shares"
	Notifications  = "notifications"
	UserScripts    = "user_scripts"
	ZFSPools       = "zfs_pools"
	ZFSDatasets    = "zfs_datasets"
	ZFSSnapshots   = "zfs_snapshots"
	ZFSArc         = "zfs_arc"
	FlashInfo      = "flash_info"
	Plugins        = "plugins"
	UpdateStatus   = "update_status"
)

// Unraid returns the domain table for the Unraid Management Agent.
func Unraid() *Registry {
	r, err := NewRegistry(UnraidDomains()...)
	if err != nil {
		panic(fmt.Sprintf("invalid unraid domain table: %v", err))
	}
	return r
}

// UnraidDomains lists every domain, system first. Containers and VMs are
// also gated by their service settings.
func UnraidDomains() []Domain {
	return []Domain{
		Record(System, "system", API.GetSystemInfo, unraid.EventSystemUpdate).AsRequired(),
		Record(Array, "array", API.GetArrayStatus, unraid.EventArrayStatusUpdate),
		Record(ParityHistory, "array", API.GetParityHistory),
		Record(ParitySchedule, "array", API.GetParitySchedule),
		Record(MoverSettings, "array", API.GetMoverSettings),
		List(Disks, "disk", diskKey, API.GetDisks, unraid.EventDiskListUpdate),
		Record(DiskSettings, "disk", API.GetDiskSettings),
		Record(DockerSettings, "docker", API.GetDockerSettings),
		List(Containers, "docker", containerKey, API.GetContainers, unraid.EventContainerListUpdate).GatedBy(DockerSettings),
		Record(VMSettings, "vm", API.GetVMSettings),
		List(VMs, "vm", vmKey, API.GetVMs, unraid.EventVMListUpdate).GatedBy(VMSettings),
		Record(UPS, "ups", API.GetUPS, unraid.EventUPSStatusUpdate),
		List(GPU, "gpu", gpuKey, API.GetGPUs, unraid.EventGPUUpdate),
		List(Network, "network", func(n unraid.NetworkInterface) string { return n.Name }, API.GetNetworkInterfaces, unraid.EventNetworkListUpdate),
		List(Shares, "shares", func(s unraid.Share) string { return s.Name }, API.GetShares, unraid.EventShareListUpdate),
		Record(Notifications, "notification", API.GetNotifications, unraid.EventNotificationsUpdate),
		List(UserScripts, "system", func(s unraid.UserScript) string { return s.Name }, API.GetUserScripts),
		List(ZFSPools, "zfs", func(p unraid.ZFSPool) string { return p.Name }, API.GetZFSPools, unraid.EventZFSPoolListUpdate),
		List(ZFSDatasets, "zfs", func(d unraid.ZFSDataset) string { return d.Name }, API.GetZFSDatasets, unraid.EventZFSDatasetListUpdate),
		List(ZFSSnapshots, "zfs", func(s unraid.ZFSSnapshot) string { return s.Name }, API.GetZFSSnapshots, unraid.EventZFSSnapshotListUpdate),
		Record(ZFSArc, "zfs", API.GetZFSArcStats, unraid.EventZFSArcUpdate),
		Record(FlashInfo, "system", API.GetFlashInfo),
		Record(Plugins, "system", API.GetPlugins),
		Record(UpdateStatus, "system", API.GetUpdateStatus),
	}
}

func diskKey(d unraid.Disk) string {
	return firstNonEmpty(d.ID, d.Name, d.Device)
}

func containerKey(c unraid.Container) string {
	return firstNonEmpty(c.ID, c.ContainerID, c.Name)
}

func vmKey(v unraid.VM) string {
	return firstNonEmpty(v.ID, v.Name)
}

func gpuKey(g unraid.GPU) string {
	if key := firstNonEmpty(g.PCIID); key != "" {
		return key
	}
	return fmt.Sprintf("gpu%d", g.Index)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
