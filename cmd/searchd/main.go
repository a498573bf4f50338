package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alfredjeanlab/savedsearch/internal/client"
	"github.com/alfredjeanlab/savedsearch/internal/ui"
	"github.com/spf13/cobra"
)

var (
	httpURL    string
	token      string
	userID     int64
	libraryID  int64
	jsonOutput bool

	searchClient client.SearchClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("SEARCHD_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("SEARCHD_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

func defaultLibrary() int64 {
	if id, err := strconv.ParseInt(os.Getenv("SEARCHD_LIBRARY"), 10, 64); err == nil {
		return id
	}
	return activeRemoteLibrary()
}

var rootCmd = &cobra.Command{
	Use:           "searchd <command>",
	Short:         "Saved-search server and client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init()
		searchClient = client.NewHTTPClient(httpURL, client.WithToken(token), client.WithUserID(userID))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if searchClient != nil {
			searchClient.Close()
		}
	},
}

// requireLibrary returns the --library flag or an error when it is unset.
func requireLibrary() (int64, error) {
	if libraryID <= 0 {
		return 0, fmt.Errorf("--library is required (or set SEARCHD_LIBRARY)")
	}
	return libraryID, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "url", defaultHTTPURL(), "server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().Int64Var(&userID, "user", 0, "acting user id sent with writes")
	rootCmd.PersistentFlags().Int64VarP(&libraryID, "library", "l", defaultLibrary(), "library id")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "searches", Title: "Searches:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Searches
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
