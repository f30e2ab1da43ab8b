package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/tendant/simple-convert-tracker/internal/aggregate"
	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/stream"
)

func statusLabel(d job.Descriptor) string {
	label := string(d.Status)
	switch d.Status {
	case job.StatusCompleted:
		return color.GreenString(label)
	case job.StatusFailed:
		return color.RedString(label)
	case job.StatusCancelled:
		return color.YellowString(label)
	}
	if d.Stalled {
		return color.MagentaString(label + " (stalled)")
	}
	return color.CyanString(label)
}

func outcome(d job.Descriptor) string {
	switch d.Status {
	case job.StatusCompleted:
		return d.ResultRef
	case job.StatusFailed:
		return d.ErrorMessage
	}
	return d.CurrentStep
}

func duration(d job.Descriptor) string {
	if d.ProcessingTimeMs == 0 {
		return "-"
	}
	return (time.Duration(d.ProcessingTimeMs) * time.Millisecond).String()
}

func renderJobs(w io.Writer, jobs []job.Descriptor) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs tracked.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Job ID", "Input", "Status", "Progress", "Result", "Time"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetAutoWrapText(false)

	for _, d := range jobs {
		table.Append([]string{
			d.ID,
			d.InputRef,
			statusLabel(d),
			strconv.Itoa(d.ProgressPercent) + "%",
			outcome(d),
			duration(d),
		})
	}
	table.Render()
}

func renderSummary(w io.Writer, s aggregate.Summary, st stream.Status) {
	fmt.Fprintf(w, "%d jobs: %s, %s, %s, %d in flight\n",
		s.Total,
		color.GreenString("%d completed", s.Completed),
		color.RedString("%d failed", s.Failed),
		color.YellowString("%d cancelled", s.Cancelled),
		s.InFlight,
	)
	if st.ProgressUnavailable && s.InFlight > 0 {
		fmt.Fprintln(w, color.YellowString("progress unavailable: in-flight jobs will not update until the stream reconnects"))
	}
}
