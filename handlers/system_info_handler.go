package handlers

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/memorial36b/aaravosbot/config"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

func (r *Router) cmdSysInfo(ctx context.Context, c *invocation) error {
	_, err := r.Chat.SendEmbed(ctx, c.msg.ChannelID, r.systemInfoEmbed(ctx))
	return err
}

func (r *Router) systemInfoEmbed(ctx context.Context) *transport.Embed {
	cpuCount, _ := cpu.CountsWithContext(ctx, true)
	cpuUsage := "unknown"
	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		cpuUsage = fmt.Sprintf("%.1f%%", percent[0])
	}

	memory := "unknown"
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memory = fmt.Sprintf("%.1f%% (%d MB / %d MB)", vm.UsedPercent, vm.Used/1024/1024, vm.Total/1024/1024)
	}

	osVersion, kernel := "unknown", "unknown"
	if info, err := host.InfoWithContext(ctx); err == nil {
		osVersion = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		kernel = info.KernelVersion
	}

	dbSize := "unknown"
	if st, err := os.Stat(config.DatabasePath(r.Config.GetConfig())); err == nil {
		dbSize = fmt.Sprintf("%.2f MB", float64(st.Size())/1024/1024)
	}

	latency := "unknown"
	if r.Latency != nil {
		latency = r.Latency().String()
	}

	var mutes, pending int
	if r.Mutes != nil {
		mutes = r.Mutes.Scheduled()
	}
	if r.Timers != nil {
		pending = r.Timers.Pending()
	}

	return &transport.Embed{
		Title: "System Information",
		Color: 0x5865F2,
		Fields: []transport.EmbedField{
			{Name: "💻 OS", Value: osVersion, Inline: true},
			{Name: "🔧 Kernel", Value: kernel, Inline: true},
			{Name: "🐹 Go", Value: runtime.Version(), Inline: true},
			{Name: "🔼 CPUs", Value: fmt.Sprintf("%d", cpuCount), Inline: true},
			{Name: "🔥 CPU usage", Value: cpuUsage, Inline: true},
			{Name: "🧠 Memory", Value: memory, Inline: true},
			{Name: "🗃️ Database", Value: dbSize, Inline: true},
			{Name: "⏱️ Gateway latency", Value: latency, Inline: true},
			{Name: "🚀 Goroutines", Value: fmt.Sprintf("%d", runtime.NumGoroutine()), Inline: true},
			{Name: "🔇 Scheduled mutes", Value: fmt.Sprintf("%d", mutes), Inline: true},
			{Name: "⏰ Pending timers", Value: fmt.Sprintf("%d", pending), Inline: true},
			{Name: "🚨 Raid mode", Value: raidState(r.Raid != nil && r.Raid.Active()), Inline: true},
		},
		Footer:    fmt.Sprintf("System monitor・%s", time.Now().Format("15:04")),
		Timestamp: time.Now(),
	}
}

func raidState(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}
