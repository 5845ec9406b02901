package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	config "github.com/cochaviz/decant/config"
	"github.com/cochaviz/decant/internal/build"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTag(w io.Writer, info *config.TagInfo) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(info.Title + " (" + info.Tag.Tag + ")")
	tw.AppendHeader(table.Row{"Package", "Version", "Prerelease"})
	for _, pkg := range info.Packages {
		version := ""
		if pkg.Version != nil {
			version = pkg.Version.String()
		}
		tw.AppendRow(table.Row{pkg.Name, version, info.Tag.Prerelease})
	}
	tw.Render()
}

func renderPlan(w io.Writer, result *config.PlanResult) {
	m := result.Manifest

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(m.AnnouncementTitle)
	tw.AppendHeader(table.Row{"Release", "Artifact", "Kind", "Targets"})
	for _, release := range m.Releases {
		for _, id := range release.Artifacts {
			artifact := m.Artifacts[id]
			tw.AppendRow(table.Row{
				release.AppName + " " + release.AppVersion,
				id,
				artifact.Kind,
				strings.Join(artifact.TargetTriples, ", "),
			})
		}
	}
	tw.Render()

	steps := table.NewWriter()
	steps.SetOutputMirror(w)
	steps.SetTitle("build steps")
	steps.AppendHeader(table.Row{"#", "Step"})
	for i, step := range result.Steps {
		steps.AppendRow(table.Row{i + 1, step.Name()})
	}
	steps.Render()

	fmt.Fprintln(w, result.ManifestPath)
}

func renderSteps(w io.Writer, results []build.StepResult) {
	if len(results) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Step", "Status", "Error"})
	for _, result := range results {
		msg := ""
		if result.Err != nil {
			msg = result.Err.Error()
		}
		tw.AppendRow(table.Row{result.Step, result.Status, msg})
	}
	tw.Render()
}
