package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/config"
	"github.com/alfredjeanlab/savedsearch/internal/export"
	"github.com/alfredjeanlab/savedsearch/internal/metrics"
	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/searches"
	"github.com/alfredjeanlab/savedsearch/internal/server"
	"github.com/alfredjeanlab/savedsearch/internal/shard"
	"github.com/alfredjeanlab/savedsearch/internal/store/memory"
	"github.com/alfredjeanlab/savedsearch/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer serves the API over an in-memory store.
func startServer(t *testing.T) string {
	t.Helper()
	loc := shard.Single{Store: memory.New()}
	m := metrics.New()
	s := server.NewSearchServer(searches.NewService(loc, nil, m, quietLogger()), loc, m, quietLogger())
	srv := httptest.NewServer(s.NewHTTPHandler(""))
	t.Cleanup(srv.Close)
	return srv.URL
}

// resetFlags restores every flag of cmd and its children to its default so
// runs do not leak state into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command against url and returns stdout.
func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--url", url, "--token", ""}, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeSearch(t *testing.T, out string) *model.SavedSearch {
	t.Helper()
	var s model.SavedSearch
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return &s
}

func TestCLI_SearchLifecycle(t *testing.T) {
	url := startServer(t)

	out, err := runCLI(t, url, "create", "-l", "3", "--json", "--user", "8",
		"--name", "Unread", "--condition", "tag:is:unread", "--condition", "title/regexp:contains:a:b")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created := decodeSearch(t, out)
	if created.Key == "" || created.Name != "Unread" {
		t.Fatalf("created = %+v", created)
	}
	if len(created.Conditions) != 2 || created.Conditions[1].Mode != "regexp" || created.Conditions[1].Value != "a:b" {
		t.Fatalf("conditions = %+v", created.Conditions)
	}
	if created.CreatedByUserID != 8 {
		t.Errorf("CreatedByUserID = %d, want 8", created.CreatedByUserID)
	}

	out, err = runCLI(t, url, "show", created.Key, "-l", "3")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, created.Key) || !strings.Contains(out, "Unread") {
		t.Errorf("show output:\n%s", out)
	}

	out, err = runCLI(t, url, "update", created.Key, "-l", "3", "--json", "--patch",
		"--name", "Renamed", "--version", itoa(created.Version))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	updated := decodeSearch(t, out)
	if updated.Name != "Renamed" || len(updated.Conditions) != 2 {
		t.Errorf("updated = %+v", updated)
	}

	// The old version no longer matches.
	if _, err := runCLI(t, url, "update", created.Key, "-l", "3", "--patch",
		"--name", "Again", "--version", itoa(created.Version)); err == nil || !strings.Contains(err.Error(), "412") {
		t.Errorf("stale update err = %v, want 412", err)
	}

	out, err = runCLI(t, url, "list", "-l", "3", "--json", "--format", "keys")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(out), &keys); err != nil || len(keys) != 1 || keys[0] != created.Key {
		t.Errorf("list keys = %q (%v)", out, err)
	}

	out, err = runCLI(t, url, "list", "-l", "3")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Renamed") || !strings.Contains(out, "1 of 1 searches") {
		t.Errorf("list table:\n%s", out)
	}

	if _, err := runCLI(t, url, "delete", created.Key, "-l", "3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := runCLI(t, url, "show", created.Key, "-l", "3"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("show after delete err = %v, want 404", err)
	}
}

func TestCLI_CreateFromFile(t *testing.T) {
	url := startServer(t)
	path := filepath.Join(t.TempDir(), "search.json")
	doc := `{"name":"From file","conditions":[{"condition":"itemType","operator":"is","value":"book"}]}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, url, "create", "-l", "1", "--json", "-f", path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s := decodeSearch(t, out); s.Name != "From file" {
		t.Errorf("Name = %q", s.Name)
	}
}

func TestCLI_ValidationErrorSurfaces(t *testing.T) {
	url := startServer(t)
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"name":"x","conditions":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, url, "create", "-l", "1", "-f", path)
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "conditions") {
		t.Fatalf("err = %v, want 400 on conditions", err)
	}
}

func TestCLI_Errors(t *testing.T) {
	url := startServer(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"NoLibrary", []string{"list", "-l", "0"}, "--library is required"},
		{"CreateMissingName", []string{"create", "-l", "1", "--condition", "tag:is:x"}, "--name and at least one --condition"},
		{"PatchNothing", []string{"update", "ABCD2345", "-l", "1", "--patch"}, "nothing to update"},
		{"BadCondition", []string{"create", "-l", "1", "--name", "x", "--condition", "tag"}, "invalid --condition"},
		{"FileAndFlags", []string{"create", "-l", "1", "-f", "x.json", "--name", "x"}, "cannot be combined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, url, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestCLI_Health(t *testing.T) {
	url := startServer(t)
	out, err := runCLI(t, url, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "Health: ok") {
		t.Errorf("output = %q", out)
	}
}

func TestCLI_Export(t *testing.T) {
	url := startServer(t)
	for _, name := range []string{"One", "Two"} {
		if _, err := runCLI(t, url, "create", "-l", "4", "--name", name, "--condition", "tag:is:x"); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "out", "searches.jsonl.zst")
	if _, err := runCLI(t, url, "export", "--libraries", "4", "-o", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data, err := export.Decode(path, raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 searches", len(lines))
	}
	if lines[0]["type"] != "header" || lines[0]["search_count"] != float64(2) {
		t.Errorf("header = %v", lines[0])
	}
	if lines[1]["type"] != "search" {
		t.Errorf("record = %v", lines[1])
	}
}

func TestCLI_ExportStdout(t *testing.T) {
	url := startServer(t)
	out, err := runCLI(t, url, "export", "-l", "9", "-o", "-")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(out, `{"version":"1","type":"header"`) {
		t.Errorf("output = %q", out)
	}
}

func TestWatchOnce(t *testing.T) {
	url := startServer(t)
	if _, err := runCLI(t, url, "create", "-l", "2", "--name", "Watched", "--condition", "tag:is:x"); err != nil {
		t.Fatalf("create: %v", err)
	}
	out, err := runCLI(t, url, "watch", "-l", "2", "--once")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, "Watched") {
		t.Errorf("watch output:\n%s", out)
	}
}

func TestDiffVersions(t *testing.T) {
	kv := func(pairs ...any) *model.KeyVersions {
		v := model.NewKeyVersions()
		for i := 0; i < len(pairs); i += 2 {
			v.Set(pairs[i].(string), int64(pairs[i+1].(int)))
		}
		return v
	}
	tests := []struct {
		name        string
		prev, cur   *model.KeyVersions
		wantChanged []string
		wantDeleted []string
	}{
		{"Initial", nil, kv("AAAA2222", 1, "BBBB2222", 2), []string{"AAAA2222", "BBBB2222"}, nil},
		{"Unchanged", kv("AAAA2222", 1), kv("AAAA2222", 1), nil, nil},
		{"Bumped", kv("AAAA2222", 1, "BBBB2222", 2), kv("AAAA2222", 3, "BBBB2222", 2), []string{"AAAA2222"}, nil},
		{"Added", kv("AAAA2222", 1), kv("AAAA2222", 1, "CCCC2222", 4), []string{"CCCC2222"}, nil},
		{"Deleted", kv("AAAA2222", 1, "BBBB2222", 2), kv("BBBB2222", 2), nil, []string{"AAAA2222"}},
		{"NilCurrent", kv("AAAA2222", 1), nil, nil, []string{"AAAA2222"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, deleted := diffVersions(tt.prev, tt.cur)
			if strings.Join(changed, ",") != strings.Join(tt.wantChanged, ",") {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if strings.Join(deleted, ",") != strings.Join(tt.wantDeleted, ",") {
				t.Errorf("deleted = %v, want %v", deleted, tt.wantDeleted)
			}
		})
	}
}

func TestParseConditionFlag(t *testing.T) {
	c, err := parseConditionFlag("note:contains:http://x")
	if err != nil {
		t.Fatal(err)
	}
	if c.Condition != "note" || c.Operator != "contains" || c.Value != "http://x" {
		t.Errorf("condition = %+v", c)
	}
	c, err = parseConditionFlag("tag:is:")
	if err != nil || c.Value != "" {
		t.Errorf("empty value: %+v, %v", c, err)
	}
	for _, bad := range []string{"", "tag", "tag:is", ":is:x", "tag::x"} {
		if _, err := parseConditionFlag(bad); err == nil {
			t.Errorf("parseConditionFlag(%q) should fail", bad)
		}
	}
}

func TestNewExportScheduler(t *testing.T) {
	src := searches.NewService(shard.Single{Store: memory.New()}, nil, nil, quietLogger())

	s, err := newExportScheduler(context.Background(), &config.Config{}, src, nil, quietLogger())
	if err != nil || s != nil {
		t.Fatalf("disabled: %v, %v", s, err)
	}

	cfg := &config.Config{ExportInterval: time.Minute, ExportLibraries: []int64{1}, ExportS3Key: "a/b/searches.jsonl"}
	s, err = newExportScheduler(context.Background(), cfg, src, nil, quietLogger())
	if err != nil || s != nil {
		t.Fatalf("no destinations: %v, %v", s, err)
	}

	cfg.ExportDir = t.TempDir()
	s, err = newExportScheduler(context.Background(), cfg, src, nil, quietLogger())
	if err != nil || s == nil {
		t.Fatalf("dir destination: %v, %v", s, err)
	}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.ExportDir, "searches.jsonl")); err != nil {
		t.Errorf("export file: %v", err)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	cfg := &config.Config{GRPCAddr: "127.0.0.1:0", HTTPAddr: "127.0.0.1:0", HealthInterval: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, quietLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()
	return addr
}

func TestServe_BadExportConfigStartsNothing(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(notADir, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		GRPCAddr:        freeAddr(t),
		HTTPAddr:        freeAddr(t),
		HealthInterval:  time.Hour,
		ExportInterval:  time.Minute,
		ExportLibraries: []int64{1},
		ExportDir:       filepath.Join(notADir, "exports"),
		ExportS3Key:     "searches.jsonl",
	}

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), cfg, quietLogger()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected serve to fail on an unusable export dir")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}

	for _, addr := range []string{cfg.HTTPAddr, cfg.GRPCAddr} {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			t.Fatalf("%s still bound after failed start: %v", addr, err)
		}
		_ = lis.Close()
	}
}

func TestColorizeHelp_NoColor(t *testing.T) {
	in := "Searches:\n  list        List saved searches\n\nFlags:\n      --url string   server URL (default \"x\")\n"
	ui.ForceNoColor()
	if got := colorizeHelp(in); got != in {
		t.Errorf("colorizeHelp changed text without color:\n%s", got)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
