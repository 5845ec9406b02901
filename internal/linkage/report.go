package linkage

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Report writes a table of l for the binary called name.
func Report(w io.Writer, name string, l Linkage) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(name)
	tw.AppendHeader(table.Row{"Category", "Library", "Source"})
	for _, bucket := range []struct {
		name string
		libs []Library
	}{
		{"system", l.System},
		{"frameworks", l.Frameworks},
		{"vendored", l.Vendored},
		{"public_unmanaged", l.PublicUnmanaged},
		{"other", l.Other},
	} {
		for _, lib := range bucket.libs {
			source := lib.Source
			if lib.PackageManager != "" && source != "" {
				source = lib.PackageManager + ":" + source
			}
			tw.AppendRow(table.Row{bucket.name, lib.Path, source})
		}
	}
	if l.IsEmpty() {
		tw.AppendRow(table.Row{"-", "statically linked", ""})
	}
	tw.Render()
}
