package cmd

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/plexsphere/appguard/internal/agent"
	"github.com/plexsphere/appguard/internal/nodeapi"
	"github.com/plexsphere/appguard/internal/store"
	"github.com/plexsphere/appguard/internal/whitelist"
)

// fakeDaemon serves a canned local API on a Unix socket and records the
// requests it receives.
type fakeDaemon struct {
	socketPath string

	mu       sync.Mutex
	requests []string
	bodies   []string
}

func (d *fakeDaemon) record(r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, r.Method+" "+r.URL.RequestURI())
	body, _ := io.ReadAll(r.Body)
	d.bodies = append(d.bodies, string(body))
}

func (d *fakeDaemon) last() (string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return "", ""
	}
	return d.requests[len(d.requests)-1], d.bodies[len(d.bodies)-1]
}

func startFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{socketPath: filepath.Join(t.TempDir(), "api.sock")}

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, nodeapi.StatusResponse{
			Generation: "gen-42",
			Filtering:  true,
			Whitelist:  nodeapi.WhitelistStatus{Global: 3, App: 2},
		})
	})
	mux.HandleFunc("GET /v1/rules", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, nodeapi.RulesResponse{
			Generation: "gen-42",
			Entries: []whitelist.Entry{
				{Scope: 0, Kind: "host", Pattern: "*.example.com", Priority: 1},
				{Scope: 10042, Kind: "ipv4", Pattern: "10.0.0.0/8", Priority: 1},
			},
		})
	})
	mux.HandleFunc("GET /v1/rules/stored", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, []store.Rule{{ID: 7, RuleText: "allow host:a.com", Enacted: true}})
	})
	mux.HandleFunc("POST /v1/rules", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusCreated, map[string]int64{"id": 8})
	})
	mux.HandleFunc("PUT /v1/rules", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		_, body := d.last()
		var req nodeapi.ReplaceRulesRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"replaced": len(req.Rules)})
	})
	mux.HandleFunc("PUT /v1/rules/{id}/enacted", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /v1/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		if r.PathValue("id") != "7" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/rules/reload", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
	})
	mux.HandleFunc("GET /v1/apps/{name}/{context}", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, nodeapi.AppResponse{
			Package: r.PathValue("name"),
			Context: r.PathValue("context"),
			Enabled: r.PathValue("name") == "com.example",
		})
	})
	mux.HandleFunc("GET /v1/match", func(w http.ResponseWriter, r *http.Request) {
		d.record(r)
		writeJSON(w, http.StatusOK, nodeapi.MatchResponse{
			UID: 10042, Host: r.URL.Query().Get("host"), Matched: true, Filtering: true, Allowed: true,
		})
	})

	ln, err := net.Listen("unix", d.socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := httptest.NewUnstartedServer(mux)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return d
}

func TestStatusCommand_DaemonNotRunning(t *testing.T) {
	_, err := execute(t, "status", "--socket", filepath.Join(t.TempDir(), "missing.sock"))
	if err == nil {
		t.Fatal("expected error when daemon is not running")
	}
	if !strings.Contains(err.Error(), "appguard status") {
		t.Errorf("error should mention 'appguard status', got: %v", err)
	}
}

func TestStatusCommand_Success(t *testing.T) {
	d := startFakeDaemon(t)

	output, err := execute(t, "status", "--socket", d.socketPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"gen-42", "Filtering:      true", "Global rules:   3"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q, got:\n%s", want, output)
		}
	}
}

func TestRulesCommands(t *testing.T) {
	d := startFakeDaemon(t)

	output, err := execute(t, "rules", "list", "--socket", d.socketPath)
	if err != nil {
		t.Fatalf("rules list: %v", err)
	}
	if !strings.Contains(output, "allow host:a.com") {
		t.Errorf("list output missing rule text:\n%s", output)
	}

	output, err = execute(t, "rules", "active", "--socket", d.socketPath)
	if err != nil {
		t.Fatalf("rules active: %v", err)
	}
	if !strings.Contains(output, "uid 10042") || !strings.Contains(output, "*.example.com") {
		t.Errorf("active output:\n%s", output)
	}

	output, err = execute(t, "rules", "add", "--disabled", "--socket", d.socketPath, "allow host:b.com")
	if err != nil {
		t.Fatalf("rules add: %v", err)
	}
	if !strings.Contains(output, "added rule 8") {
		t.Errorf("add output: %s", output)
	}
	req, body := d.last()
	if req != "POST /v1/rules" || !strings.Contains(body, `"enacted":false`) || !strings.Contains(body, "allow host:b.com") {
		t.Errorf("add sent %s %s", req, body)
	}

	if _, err := execute(t, "rules", "disable", "7", "--socket", d.socketPath); err != nil {
		t.Fatalf("rules disable: %v", err)
	}
	req, body = d.last()
	if req != "PUT /v1/rules/7/enacted" || !strings.Contains(body, `"enacted":false`) {
		t.Errorf("disable sent %s %s", req, body)
	}

	if _, err := execute(t, "rules", "remove", "7", "--socket", d.socketPath); err != nil {
		t.Fatalf("rules remove: %v", err)
	}
	_, err = execute(t, "rules", "remove", "9", "--socket", d.socketPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("remove of unknown rule: err = %v, want not found", err)
	}

	if _, err := execute(t, "rules", "enact", "zero", "--socket", d.socketPath); err == nil {
		t.Error("enact with a non-numeric id should fail")
	}
}

func TestQueryAndMatchCommands(t *testing.T) {
	d := startFakeDaemon(t)

	output, err := execute(t, "query", "com.example", "--context", "screen_wifi", "--default", "--socket", d.socketPath)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(output, "com.example on screen_wifi: allowed") {
		t.Errorf("query output: %s", output)
	}
	if req, _ := d.last(); req != "GET /v1/apps/com.example/screen_wifi?default=true" {
		t.Errorf("query sent %s", req)
	}

	output, err = execute(t, "match", "--uid", "10042", "--host", "a.example.com", "--socket", d.socketPath)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !strings.Contains(output, "allowed=true") {
		t.Errorf("match output: %s", output)
	}

	if _, err := execute(t, "match", "--socket", d.socketPath); err == nil {
		t.Error("match without a destination should fail")
	}
}

func TestReloadCommand(t *testing.T) {
	d := startFakeDaemon(t)

	output, err := execute(t, "reload", "--socket", d.socketPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !strings.Contains(output, "reload requested") {
		t.Errorf("reload output: %s", output)
	}
}

// writeConfig writes a config whose registry knows com.example.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	registry := filepath.Join(dir, "packages.yaml")
	if err := os.WriteFile(registry, []byte("packages:\n  com.example: 10042\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	cfg := "data_dir: " + dir + "\nidentity:\n  registry_file: " + registry + "\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckCommand(t *testing.T) {
	cfg := writeConfig(t)

	output, err := execute(t, "check", "--config", cfg,
		"allow packagename:com.example host:*.example.com",
		"allow packagename:com.example",
		"# a comment",
	)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, output)
	}
	for _, want := range []string{"uid 10042 host:*.example.com", "enables app com.example", "skipped"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q, got:\n%s", want, output)
		}
	}

	output, err = execute(t, "check", "--config", cfg, "allow host:a.com ipv4:1.2.3.4")
	if err == nil {
		t.Fatal("check should fail for a conflicting rule")
	}
	if !strings.Contains(output, "rejected") {
		t.Errorf("output should report the rejection, got:\n%s", output)
	}
}

func TestRulesReplaceCommand(t *testing.T) {
	d := startFakeDaemon(t)
	rulesFile := filepath.Join(t.TempDir(), "rules.txt")
	content := "# corporate defaults\nallow host:*.example.com\n\nallow packagename:com.example ipv4:10.0.0.0/8\n"
	if err := os.WriteFile(rulesFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := execute(t, "rules", "replace", "--file", rulesFile, "--socket", d.socketPath)
	if err != nil {
		t.Fatalf("rules replace: %v", err)
	}
	if !strings.Contains(output, "enacted 2 rules") {
		t.Errorf("replace output: %s", output)
	}
	req, body := d.last()
	if req != "PUT /v1/rules" {
		t.Fatalf("replace sent %s", req)
	}
	var sent nodeapi.ReplaceRulesRequest
	if err := json.Unmarshal([]byte(body), &sent); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := []string{"allow host:*.example.com", "allow packagename:com.example ipv4:10.0.0.0/8"}
	if strings.Join(sent.Rules, "|") != strings.Join(want, "|") {
		t.Errorf("sent rules = %q, want %q", sent.Rules, want)
	}
}

func TestCheckCommand_File(t *testing.T) {
	cfg := writeConfig(t)
	rulesFile := filepath.Join(t.TempDir(), "rules.txt")
	if err := os.WriteFile(rulesFile, []byte("allow ipv4:10.0.0.0/8\n\nallow packagename:com.missing host:x.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := execute(t, "check", "--config", cfg, "--file", rulesFile)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 lines rejected") {
		t.Fatalf("check --file: err = %v, want one rejected line\n%s", err, output)
	}
	if !strings.Contains(output, "global ipv4:10.0.0.0/8") {
		t.Errorf("output should contain the global rule, got:\n%s", output)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etc", "config.yaml")

	output, err := execute(t, "init", "--config", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(output, "packages.yaml") {
		t.Errorf("init should write the registry, got: %s", output)
	}

	cfg, err := agent.ParseConfig(path)
	if err != nil {
		t.Fatalf("written config does not parse: %v", err)
	}
	if cfg.Identity.RegistryFile != filepath.Join(dir, "etc", "packages.yaml") {
		t.Errorf("RegistryFile = %q", cfg.Identity.RegistryFile)
	}

	if _, err := execute(t, "init", "--config", path); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := execute(t, "init", "--config", path, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}
