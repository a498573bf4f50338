package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/client"
	"github.com/alfredjeanlab/savedsearch/internal/events"
	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// watchBatch caps the keys fetched per listing call.
const watchBatch = 50

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Watch a library for saved-search changes",
	GroupID: "searches",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := requireLibrary()
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		once, _ := cmd.Flags().GetBool("once")

		ctx := cmd.Context()
		w := &watcher{client: searchClient, libraryID: lib, out: cmd.OutOrStdout()}

		if err := w.refresh(ctx); err != nil {
			return err
		}
		if once {
			return nil
		}

		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL != "" {
			return w.watchNATS(ctx, natsURL)
		}
		return w.watchPoll(ctx, interval)
	},
}

// watcher tracks the versions last seen in one library and prints what
// changed on every refresh.
type watcher struct {
	client    client.SearchClient
	libraryID int64
	out       io.Writer
	seen      *model.KeyVersions
}

// watchNATS re-queries after change events on the library subject,
// debounced so a burst of writes triggers one refresh.
func (w *watcher) watchNATS(ctx context.Context, natsURL string) error {
	// A reconnect forces an immediate refresh to pick up missed events.
	reconnectCh := make(chan struct{}, 1)

	conn, err := events.Connect(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
			select {
			case reconnectCh <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := conn.Subscribe(subCtx, events.LibrarySubject(w.libraryID))
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}

	debounce := time.NewTimer(0)
	debounce.Stop()
	select {
	case <-debounce.C:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if lib, ok := msg.Library(); !ok || lib != w.libraryID {
				continue
			}
			debounce.Reset(200 * time.Millisecond)
		case <-reconnectCh:
			debounce.Reset(0)
		case <-debounce.C:
			if err := w.refresh(ctx); err != nil {
				return err
			}
		}
	}
}

// watchPoll refreshes at the given interval.
func (w *watcher) watchPoll(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := w.refresh(ctx); err != nil {
			return err
		}
	}
}

// refresh lists current versions, prints searches that are new or changed
// and keys that disappeared, then remembers the new versions.
func (w *watcher) refresh(ctx context.Context) error {
	resp, err := w.client.ListSearches(ctx, w.libraryID, &client.ListSearchesRequest{Format: model.FormatVersions})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("listing versions: %w", err)
	}
	changed, deleted := diffVersions(w.seen, resp.Versions)
	w.seen = resp.Versions

	var searches []*model.SavedSearch
	for start := 0; start < len(changed); start += watchBatch {
		batch := changed[start:min(start+watchBatch, len(changed))]
		page, err := w.client.ListSearches(ctx, w.libraryID, &client.ListSearchesRequest{SearchKeys: batch})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetching changed searches: %w", err)
		}
		searches = append(searches, page.Searches...)
	}

	if jsonOutput {
		for _, s := range searches {
			if err := printJSON(w.out, map[string]any{"event": "changed", "search": s}); err != nil {
				return err
			}
		}
		for _, k := range deleted {
			if err := printJSON(w.out, map[string]any{"event": "deleted", "key": k}); err != nil {
				return err
			}
		}
		return nil
	}
	if len(searches) > 0 {
		printSearchTable(w.out, searches)
	}
	for _, k := range deleted {
		fmt.Fprintln(w.out, ui.Render(ui.Removed, "deleted "+k))
	}
	return nil
}

// diffVersions returns the keys in cur that are absent from or newer than
// prev, and the keys of prev missing from cur. A nil prev treats every key
// as new.
func diffVersions(prev, cur *model.KeyVersions) (changed, deleted []string) {
	if cur == nil {
		cur = model.NewKeyVersions()
	}
	for _, k := range cur.Keys() {
		v, _ := cur.Get(k)
		if prev == nil {
			changed = append(changed, k)
			continue
		}
		if pv, ok := prev.Get(k); !ok || pv != v {
			changed = append(changed, k)
		}
	}
	if prev != nil {
		for _, k := range prev.Keys() {
			if _, ok := cur.Get(k); !ok {
				deleted = append(deleted, k)
			}
		}
	}
	return changed, deleted
}

func init() {
	watchCmd.Flags().Duration("interval", 5*time.Second, "polling interval when NATS is not configured")
	watchCmd.Flags().Bool("once", false, "print current searches and exit")
	watchCmd.Flags().String("nats", os.Getenv("SEARCHD_NATS_URL"), "NATS URL for event-driven updates")
}
