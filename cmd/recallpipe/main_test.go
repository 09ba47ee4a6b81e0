package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stellarlinkco/recallpipe/internal/history"
	"github.com/stellarlinkco/recallpipe/internal/recall"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("RECALLPIPE_CONFIG", "")
	t.Setenv("RECALLPIPE_DB", filepath.Join(tmpDir, "history.db"))
	t.Setenv("RECALLPIPE_ENCODING", "")
	t.Setenv("RECALLPIPE_TOKEN_LIMIT", "")
	t.Cleanup(resetFlags)
	resetFlags()
	return tmpDir
}

func resetFlags() {
	sessionFlag = ""
	roleFlag = "user"
	textFlag = ""
	partsFlag = ""
	channelFlag = ""
	peerFlag = ""
	jsonFlag = false
	statsFlag = false
	limitFlag = 10
	optimizeFlag = false
}

func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String(), err
}

func createdSession(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "Created session: "); ok {
			return rest
		}
	}
	t.Fatalf("no session id in output: %s", out)
	return ""
}

func appendText(t *testing.T, sessionID, role, text string) string {
	t.Helper()
	sessionFlag = sessionID
	roleFlag = role
	textFlag = text
	partsFlag = ""
	out, err := captureOutput(t, func() error { return runAppend(appendCmd, nil) })
	if err != nil {
		t.Fatalf("runAppend error: %v", err)
	}
	if sessionID == "" {
		return createdSession(t, out)
	}
	return sessionID
}

func TestCommandsRegistered(t *testing.T) {
	wantCmds := []string{"init", "append", "recall", "export", "sessions", "show", "search", "prune", "stats", "maintain"}
	for _, name := range wantCmds {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
	if appendCmd.Flags().Lookup("session") == nil {
		t.Error("append --session flag should exist")
	}
	if recallCmd.Flags().Lookup("json") == nil {
		t.Error("recall --json flag should exist")
	}
}

func TestRunInit(t *testing.T) {
	tmpDir := setupEnv(t)

	out, err := captureOutput(t, func() error { return runInit(initCmd, nil) })
	if err != nil {
		t.Fatalf("runInit error: %v", err)
	}

	if !strings.Contains(out, "Created config") {
		t.Errorf("unexpected output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".recallpipe", "config.json")); err != nil {
		t.Error("config file was not created")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "history.db")); err != nil {
		t.Error("database was not created")
	}

	out, err = captureOutput(t, func() error { return runInit(initCmd, nil) })
	if err != nil {
		t.Fatalf("second runInit error: %v", err)
	}
	if !strings.Contains(out, "Config already exists") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestAppendAndShow(t *testing.T) {
	setupEnv(t)

	sessionID := appendText(t, "", "user", "hello from the cli")
	appendText(t, sessionID, "assistant", "hello back")

	sessionFlag = sessionID
	out, err := captureOutput(t, func() error { return runShow(showCmd, nil) })
	if err != nil {
		t.Fatalf("runShow error: %v", err)
	}
	want := "user: hello from the cli\nassistant: hello back\n"
	if out != want {
		t.Errorf("show output = %q, want %q", out, want)
	}
}

func TestAppendParts(t *testing.T) {
	setupEnv(t)

	sessionFlag = ""
	roleFlag = "assistant"
	partsFlag = `[{"kind":"tool_call","tool_name":"search","call_id":"c1","args":{"q":"tides"}},{"kind":"text","text":"looking"}]`
	out, err := captureOutput(t, func() error { return runAppend(appendCmd, nil) })
	if err != nil {
		t.Fatalf("runAppend error: %v", err)
	}
	sessionID := createdSession(t, out)

	sessionFlag = sessionID
	jsonFlag = true
	out, err = captureOutput(t, func() error { return runShow(showCmd, nil) })
	if err != nil {
		t.Fatalf("runShow error: %v", err)
	}

	var msgs []history.Message
	if err := json.Unmarshal([]byte(out), &msgs); err != nil {
		t.Fatalf("unmarshal show output: %v\n%s", err, out)
	}
	if len(msgs) != 1 || len(msgs[0].Parts) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Parts[0].Kind != history.PartToolCall || msgs[0].Parts[0].ToolName != "search" {
		t.Errorf("part 0 = %+v", msgs[0].Parts[0])
	}
}

func TestAppendRejectsBadRole(t *testing.T) {
	setupEnv(t)
	roleFlag = "narrator"
	textFlag = "hello"
	if _, err := captureOutput(t, func() error { return runAppend(appendCmd, nil) }); err == nil {
		t.Fatal("runAppend accepted an unknown role")
	}
}

func TestAppendRequiresContent(t *testing.T) {
	setupEnv(t)
	if _, err := captureOutput(t, func() error { return runAppend(appendCmd, nil) }); err == nil {
		t.Fatal("runAppend accepted an empty message")
	}
}

func TestRecallTranscript(t *testing.T) {
	setupEnv(t)

	sessionID := appendText(t, "", "user", "what time is it")
	appendText(t, sessionID, "assistant", "half past three")

	sessionFlag = sessionID
	statsFlag = true
	out, err := captureOutput(t, func() error { return runRecall(recallCmd, nil) })
	if err != nil {
		t.Fatalf("runRecall error: %v", err)
	}
	if !strings.Contains(out, "user: what time is it") || !strings.Contains(out, "assistant: half past three") {
		t.Errorf("transcript missing lines: %s", out)
	}
	if !strings.Contains(out, "2 -> 2 messages") {
		t.Errorf("stats line missing: %s", out)
	}
}

func TestRecallJSON(t *testing.T) {
	setupEnv(t)

	sessionID := appendText(t, "", "user", "first")
	appendText(t, sessionID, "assistant", "second")

	sessionFlag = sessionID
	jsonFlag = true
	out, err := captureOutput(t, func() error { return runRecall(recallCmd, nil) })
	if err != nil {
		t.Fatalf("runRecall error: %v", err)
	}

	var decoded struct {
		SessionID string            `json:"session_id"`
		Stats     recall.Stats      `json:"stats"`
		Messages  []history.Message `json:"messages"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("unmarshal recall output: %v\n%s", err, out)
	}
	if decoded.SessionID != sessionID {
		t.Errorf("session_id = %q, want %q", decoded.SessionID, sessionID)
	}
	if decoded.Stats.MessagesIn != 2 || decoded.Stats.MessagesOut != 2 {
		t.Errorf("stats = %+v", decoded.Stats)
	}
	if len(decoded.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(decoded.Messages))
	}
}

func TestRecallRequiresSession(t *testing.T) {
	setupEnv(t)
	if _, err := captureOutput(t, func() error { return runRecall(recallCmd, nil) }); err == nil {
		t.Fatal("runRecall accepted an empty session flag")
	}
}

func TestExportEmitsRequestJSON(t *testing.T) {
	setupEnv(t)

	sessionID := appendText(t, "", "user", "plan my week")

	sessionFlag = sessionID
	out, err := captureOutput(t, func() error { return runExport(exportCmd, nil) })
	if err != nil {
		t.Fatalf("runExport error: %v", err)
	}

	var decoded struct {
		SessionID string `json:"session_id"`
		Prompt    string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("unmarshal export output: %v\n%s", err, out)
	}
	if decoded.SessionID != sessionID {
		t.Errorf("session_id = %q, want %q", decoded.SessionID, sessionID)
	}
	if decoded.Prompt != "user: plan my week" {
		t.Errorf("prompt = %q", decoded.Prompt)
	}
}

func TestSearchFindsStoredText(t *testing.T) {
	setupEnv(t)

	appendText(t, "", "user", "the heron nests by the river")

	out, err := captureOutput(t, func() error { return runSearch(searchCmd, []string{"heron"}) })
	if err != nil {
		t.Fatalf("runSearch error: %v", err)
	}
	if !strings.Contains(out, "heron nests") {
		t.Errorf("search output = %s", out)
	}

	out, err = captureOutput(t, func() error { return runSearch(searchCmd, []string{"walrus"}) })
	if err != nil {
		t.Fatalf("runSearch error: %v", err)
	}
	if !strings.Contains(out, "No matches") {
		t.Errorf("search output = %s", out)
	}
}

func TestPrune(t *testing.T) {
	setupEnv(t)

	appendText(t, "", "user", "still fresh")

	optimizeFlag = true
	out, err := captureOutput(t, func() error { return runPrune(pruneCmd, nil) })
	if err != nil {
		t.Fatalf("runPrune error: %v", err)
	}
	if !strings.Contains(out, "Pruned 0 idle sessions") {
		t.Errorf("prune output = %s", out)
	}
	if !strings.Contains(out, "Search index optimized") {
		t.Errorf("optimize line missing: %s", out)
	}
}

func TestStatsOutput(t *testing.T) {
	setupEnv(t)

	sessionID := appendText(t, "", "user", "one")
	appendText(t, sessionID, "assistant", "two")

	out, err := captureOutput(t, func() error { return runStats(statsCmd, nil) })
	if err != nil {
		t.Fatalf("runStats error: %v", err)
	}
	for _, want := range []string{"Config:", "Database:", "Encoding: heuristic", "Chain: token_limit", "Sessions: 1", "Messages: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q: %s", want, out)
		}
	}
}

func TestSessionsListing(t *testing.T) {
	setupEnv(t)

	out, err := captureOutput(t, func() error { return runSessions(sessionsCmd, nil) })
	if err != nil {
		t.Fatalf("runSessions error: %v", err)
	}
	if !strings.Contains(out, "No sessions") {
		t.Errorf("sessions output = %s", out)
	}

	appendText(t, "", "user", "hello")
	out, err = captureOutput(t, func() error { return runSessions(sessionsCmd, nil) })
	if err != nil {
		t.Fatalf("runSessions error: %v", err)
	}
	if !strings.Contains(out, "1 messages") {
		t.Errorf("sessions output = %s", out)
	}
}

func TestServiceErrorSurfaces(t *testing.T) {
	setupEnv(t)

	origOpen := openServices
	openServices = func() (*Services, error) { return nil, errors.New("no services") }
	defer func() { openServices = origOpen }()

	if _, err := captureOutput(t, func() error { return runSessions(sessionsCmd, nil) }); err == nil {
		t.Fatal("runSessions ignored a failing services factory")
	}
}

func TestParseRole(t *testing.T) {
	for _, ok := range []string{"user", "assistant", "system", "tool"} {
		if _, err := parseRole(ok); err != nil {
			t.Errorf("parseRole(%q) error: %v", ok, err)
		}
	}
	if _, err := parseRole("narrator"); err == nil {
		t.Error("parseRole accepted an unknown role")
	}
}

func TestChainDisplay(t *testing.T) {
	if got := chainDisplay(nil); got != "none" {
		t.Errorf("chainDisplay(nil) = %q", got)
	}
	if got := chainDisplay([]string{"a", "b"}); got != "a -> b" {
		t.Errorf("chainDisplay = %q", got)
	}
}
