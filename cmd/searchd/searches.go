package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alfredjeanlab/savedsearch/internal/client"
	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List saved searches in a library",
	GroupID: "searches",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := requireLibrary()
		if err != nil {
			return err
		}
		req := &client.ListSearchesRequest{}
		req.Format, _ = cmd.Flags().GetString("format")
		req.SearchKeys, _ = cmd.Flags().GetStringSlice("key")
		req.Since, _ = cmd.Flags().GetInt64("since")
		req.SinceTime, _ = cmd.Flags().GetInt64("since-time")
		req.Sort, _ = cmd.Flags().GetString("sort")
		req.Direction, _ = cmd.Flags().GetString("direction")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		req.Start, _ = cmd.Flags().GetInt("start")

		resp, err := searchClient.ListSearches(cmd.Context(), lib, req)
		if err != nil {
			return fmt.Errorf("listing searches: %w", err)
		}
		return printListResult(cmd.OutOrStdout(), resp)
	},
}

var showCmd = &cobra.Command{
	Use:     "show <key>",
	Short:   "Show a saved search",
	GroupID: "searches",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := requireLibrary()
		if err != nil {
			return err
		}
		s, err := searchClient.GetSearch(cmd.Context(), lib, args[0])
		if err != nil {
			return fmt.Errorf("getting search %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), s)
		}
		printSearch(cmd.OutOrStdout(), s)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a saved search",
	Long: `Create a saved search from --name and --condition flags, or from a JSON
document given with --file ("-" reads stdin).

Conditions are written condition:operator:value, e.g. --condition tag:is:unread.`,
	GroupID: "searches",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := requireLibrary()
		if err != nil {
			return err
		}
		doc, err := documentFromFlags(cmd, false)
		if err != nil {
			return err
		}
		s, err := searchClient.CreateSearch(cmd.Context(), lib, doc)
		if err != nil {
			return fmt.Errorf("creating search: %w", err)
		}
		return printWritten(cmd, s, "Created")
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Replace or patch a saved search",
	Long: `Replace a saved search with the given document. With --patch only the
given properties change. --version guards against concurrent edits; without
it the document itself must carry a version.`,
	GroupID: "searches",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := requireLibrary()
		if err != nil {
			return err
		}
		patch, _ := cmd.Flags().GetBool("patch")
		doc, err := documentFromFlags(cmd, patch)
		if err != nil {
			return err
		}
		req := &client.UpdateSearchRequest{Doc: doc, Patch: patch}
		if cmd.Flags().Changed("version") {
			v, _ := cmd.Flags().GetInt64("version")
			req.Version = &v
		}
		s, err := searchClient.UpdateSearch(cmd.Context(), lib, args[0], req)
		if err != nil {
			return fmt.Errorf("updating search %s: %w", args[0], err)
		}
		return printWritten(cmd, s, "Updated")
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Short:   "Delete a saved search",
	GroupID: "searches",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := requireLibrary()
		if err != nil {
			return err
		}
		key := args[0]
		version, _ := cmd.Flags().GetInt64("version")
		if !cmd.Flags().Changed("version") {
			// Delete whatever is current.
			s, err := searchClient.GetSearch(cmd.Context(), lib, key)
			if err != nil {
				return fmt.Errorf("getting search %s: %w", key, err)
			}
			version = s.Version
		}
		libVersion, err := searchClient.DeleteSearch(cmd.Context(), lib, key, version)
		if err != nil {
			return fmt.Errorf("deleting search %s: %w", key, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"key": key, "library_version": libVersion})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (library version %d)\n", key, libVersion)
		return nil
	},
}

func printWritten(cmd *cobra.Command, s *model.SavedSearch, verb string) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), s)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (version %d)\n", verb, s.Key, s.Version)
	return nil
}

// searchDocument is the editable part of a saved search as sent by the CLI.
// Conditions keep their mode suffix in the condition name, as the server
// expects on input.
type searchDocument struct {
	Name       string              `json:"name,omitempty"`
	Conditions []conditionDocument `json:"conditions,omitempty"`
}

type conditionDocument struct {
	Condition string `json:"condition"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
}

// documentFromFlags builds the request body from --file, or from --name and
// --condition. Partial documents may omit either property.
func documentFromFlags(cmd *cobra.Command, partial bool) (json.RawMessage, error) {
	file, _ := cmd.Flags().GetString("file")
	name, _ := cmd.Flags().GetString("name")
	conds, _ := cmd.Flags().GetStringArray("condition")

	if file != "" {
		if name != "" || len(conds) > 0 {
			return nil, fmt.Errorf("--file cannot be combined with --name or --condition")
		}
		return readDocument(cmd.InOrStdin(), file)
	}

	doc := searchDocument{Name: name}
	for _, c := range conds {
		parsed, err := parseConditionFlag(c)
		if err != nil {
			return nil, err
		}
		doc.Conditions = append(doc.Conditions, parsed)
	}
	if !partial && (doc.Name == "" || len(doc.Conditions) == 0) {
		return nil, fmt.Errorf("--name and at least one --condition are required (or use --file)")
	}
	if partial && doc.Name == "" && len(doc.Conditions) == 0 {
		return nil, fmt.Errorf("nothing to update: give --name, --condition or --file")
	}
	return json.Marshal(doc)
}

func readDocument(stdin io.Reader, file string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s does not contain valid JSON", file)
	}
	return data, nil
}

// parseConditionFlag splits "condition:operator:value". The value may itself
// contain colons.
func parseConditionFlag(s string) (conditionDocument, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return conditionDocument{}, fmt.Errorf("invalid --condition %q (want condition:operator:value)", s)
	}
	return conditionDocument{Condition: parts[0], Operator: parts[1], Value: parts[2]}, nil
}

func addDocumentFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "search name")
	cmd.Flags().StringArray("condition", nil, "condition as condition:operator:value (repeatable)")
	cmd.Flags().StringP("file", "f", "", `JSON document to send ("-" for stdin)`)
}

func init() {
	listCmd.Flags().String("format", "", "result format: json, keys or versions")
	listCmd.Flags().StringSlice("key", nil, "only these search keys")
	listCmd.Flags().Int64("since", 0, "only searches modified after this library version")
	listCmd.Flags().Int64("since-time", 0, "only searches modified after this unix time")
	listCmd.Flags().String("sort", "", "sort field: dateAdded, dateModified or title")
	listCmd.Flags().String("direction", "", "sort direction: asc or desc")
	listCmd.Flags().Int("limit", 0, "maximum number of results")
	listCmd.Flags().Int("start", 0, "offset of the first result")

	addDocumentFlags(createCmd)
	addDocumentFlags(updateCmd)
	updateCmd.Flags().Bool("patch", false, "change only the given properties")
	updateCmd.Flags().Int64("version", 0, "expected current version of the search")

	deleteCmd.Flags().Int64("version", 0, "expected current version (default: the current one)")
}
