package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/alfredjeanlab/savedsearch/internal/client"
	"github.com/alfredjeanlab/savedsearch/internal/export"
	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export saved searches as JSONL",
	Long: `Export every saved search of the given libraries as JSONL. The output
file is zstd-compressed when its name ends in .zst; "-" writes plain JSONL to
stdout.`,
	GroupID: "searches",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		libraries, _ := cmd.Flags().GetInt64Slice("libraries")
		if len(libraries) == 0 {
			lib, err := requireLibrary()
			if err != nil {
				return err
			}
			libraries = []int64{lib}
		}
		out, _ := cmd.Flags().GetString("out")

		var buf bytes.Buffer
		n, err := export.ExportJSONL(cmd.Context(), clientSource{searchClient}, libraries, &buf)
		if err != nil {
			return fmt.Errorf("exporting: %w", err)
		}

		if out == "-" {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}
		dest, err := export.NewDirDestination(filepath.Dir(out), filepath.Base(out))
		if err != nil {
			return err
		}
		if err := dest.Write(cmd.Context(), buf.Bytes()); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d searches to %s\n", n, dest.Path())
		return nil
	},
}

// clientSource reads searches for an export over the API.
type clientSource struct {
	c client.SearchClient
}

func (s clientSource) Search(ctx context.Context, libraryID int64, p model.SearchParams) (*model.SearchResults, error) {
	resp, err := s.c.ListSearches(ctx, libraryID, &client.ListSearchesRequest{
		Format:     p.Format,
		SearchKeys: p.SearchKeys,
		Since:      p.Since,
		SinceTime:  p.SinceTime,
		Sort:       p.Sort,
		Direction:  p.Direction,
		Limit:      p.Limit,
		Start:      p.Start,
	})
	if err != nil {
		return nil, err
	}
	return &model.SearchResults{
		Format:   p.ResultFormat(),
		Keys:     resp.Keys,
		Versions: resp.Versions,
		Searches: resp.Searches,
		Total:    resp.Total,
	}, nil
}

func (s clientSource) LibraryVersion(ctx context.Context, libraryID int64) (int64, error) {
	resp, err := s.c.ListSearches(ctx, libraryID, &client.ListSearchesRequest{Format: model.FormatKeys, Limit: 1})
	if err != nil {
		return 0, err
	}
	return resp.LibraryVersion, nil
}

func init() {
	exportCmd.Flags().Int64Slice("libraries", nil, "libraries to export (default: --library)")
	exportCmd.Flags().StringP("out", "o", "searches.jsonl.zst", `output file ("-" for stdout)`)
}
