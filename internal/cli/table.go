package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/relaybench/relaybench/internal/events"
)

// RenderStatus writes one row per relay port.
func RenderStatus(w io.Writer, ports []events.PortSnapshot) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Port", "State", "Version", "On", "Off", "Get", "No-op", "Last Change", "Last Client"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range ports {
		lastRemote := p.LastRemote
		if lastRemote == "" {
			lastRemote = "-"
		}
		tw.Append([]string{
			fmt.Sprintf("%d", p.Port),
			stateLabel(p),
			fmt.Sprintf("%d", p.Version),
			fmt.Sprintf("%d", p.OnCount),
			fmt.Sprintf("%d", p.OffCount),
			fmt.Sprintf("%d", p.GetCount),
			fmt.Sprintf("%d", p.NoopCount),
			p.ChangedAt.Format(time.TimeOnly),
			lastRemote,
		})
	}

	tw.Render()
}

func stateLabel(p events.PortSnapshot) string {
	if p.State {
		return "ON"
	}
	return "OFF"
}
