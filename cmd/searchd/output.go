package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/savedsearch/internal/client"
	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printSearch(w io.Writer, s *model.SavedSearch) {
	fmt.Fprintf(w, "Key:          %s\n", ui.Render(ui.Key, s.Key))
	fmt.Fprintf(w, "Name:         %s\n", s.Name)
	fmt.Fprintf(w, "Library:      %d\n", s.LibraryID)
	fmt.Fprintf(w, "Version:      %d\n", s.Version)
	if !s.DateAdded.IsZero() {
		fmt.Fprintf(w, "Added:        %s\n", s.DateAdded.Local().Format(timeLayout))
	}
	if !s.DateModified.IsZero() {
		fmt.Fprintf(w, "Modified:     %s\n", s.DateModified.Local().Format(timeLayout))
	}
	if len(s.Conditions) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.RenderAccent("Conditions:"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range s.Conditions {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Condition, c.Operator, c.Value)
	}
	tw.Flush()
}

func printSearchTable(w io.Writer, searches []*model.SavedSearch) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVERSION\tCONDITIONS\tMODIFIED\tNAME")
	for _, s := range searches {
		name := s.Name
		if len([]rune(name)) > 50 {
			name = string([]rune(name)[:47]) + "..."
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			s.Key,
			s.Version,
			len(s.Conditions),
			s.DateModified.Local().Format(timeLayout),
			name,
		)
	}
	tw.Flush()
}

// printListResult prints a listing in whichever format the server returned.
func printListResult(w io.Writer, resp *client.ListSearchesResponse) error {
	switch {
	case resp.Versions != nil:
		if jsonOutput {
			return printJSON(w, resp.Versions)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tVERSION")
		for _, k := range resp.Versions.Keys() {
			v, _ := resp.Versions.Get(k)
			fmt.Fprintf(tw, "%s\t%d\n", k, v)
		}
		tw.Flush()
	case resp.Keys != nil:
		if jsonOutput {
			return printJSON(w, resp.Keys)
		}
		fmt.Fprintln(w, strings.Join(resp.Keys, "\n"))
	default:
		if jsonOutput {
			return printJSON(w, resp.Searches)
		}
		printSearchTable(w, resp.Searches)
	}
	if !jsonOutput {
		fmt.Fprintln(w, ui.RenderMuted(fmt.Sprintf("\n%d of %d searches (library version %d)",
			listedCount(resp), resp.Total, resp.LibraryVersion)))
	}
	return nil
}

func listedCount(resp *client.ListSearchesResponse) int {
	switch {
	case resp.Versions != nil:
		return resp.Versions.Len()
	case resp.Keys != nil:
		return len(resp.Keys)
	}
	return len(resp.Searches)
}
