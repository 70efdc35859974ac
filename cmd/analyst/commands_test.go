package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"

	"github.com/sia-project/analyst/internal/chat"
	"github.com/sia-project/analyst/internal/config"
	"github.com/sia-project/analyst/internal/stubserver"
)

var ctx = context.Background()

type harness struct {
	stub   *stubserver.Server
	server *httptest.Server
	cfg    config.Config
}

// newHarness points every command at a fresh stub backend and clears
// credentials from the environment.
func newHarness(t *testing.T) *harness {
	t.Helper()
	stub, err := stubserver.New(stubserver.Config{DataDir: ":memory:", BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("starting stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })
	h := &harness{stub: stub, server: httptest.NewServer(stub.Handler())}
	t.Cleanup(h.server.Close)

	h.cfg = config.Config{
		Backend: config.BackendConfig{URL: h.server.URL},
		Identity: config.IdentityConfig{
			AuthURL:  h.server.URL + "/v1",
			TokenURL: h.server.URL + "/v1",
			APIKey:   "test-key",
		},
	}
	old := newClient
	newClient = func(*cobra.Command) (*client, error) { return buildClient(h.cfg) }
	t.Cleanup(func() { newClient = old })

	t.Setenv("ANALYST_EMAIL", "")
	t.Setenv("ANALYST_PASSWORD", "")

	oldNoColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = oldNoColor })
	return h
}

// signUp creates an account directly on the stub and returns its uid.
func (h *harness) signUp(t *testing.T, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"email": email, "password": password, "returnSecureToken": true})
	resp, err := http.Post(h.server.URL+"/v1/accounts:signUp?key=test-key", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign up status = %d", resp.StatusCode)
	}
	var out struct {
		LocalID string `json:"localId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding sign up: %v", err)
	}
	return out.LocalID
}

func (h *harness) signedIn(t *testing.T) string {
	t.Helper()
	uid := h.signUp(t, "ana@example.com", "secret1")
	t.Setenv("ANALYST_EMAIL", "ana@example.com")
	t.Setenv("ANALYST_PASSWORD", "secret1")
	return uid
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command and returns what went to stdout and to the
// status stream.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, status bytes.Buffer
	oldErrOut := errOut
	errOut = &status
	defer func() {
		errOut = oldErrOut
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		resetFlags(rootCmd)
	}()

	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&status)
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), status.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestDocsList_NotSignedIn(t *testing.T) {
	newHarness(t)

	_, _, err := execute(t, "", "docs", "list")
	if err == nil {
		t.Fatal("expected error when nobody is signed in")
	}
	if err.Error() != "not signed in: run 'analyst login'" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestDocsList_Empty(t *testing.T) {
	h := newHarness(t)
	h.signedIn(t)

	out, _, err := execute(t, "", "docs", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "You haven't uploaded any documents yet.") {
		t.Errorf("output = %q", out)
	}
}

func TestDocsList_WrongPassword(t *testing.T) {
	h := newHarness(t)
	h.signedIn(t)
	t.Setenv("ANALYST_PASSWORD", "not-the-password")

	_, _, err := execute(t, "", "docs", "list")
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("error = %v, want authentication failure", err)
	}
}

func TestDocsUpload(t *testing.T) {
	h := newHarness(t)
	uid := h.signedIn(t)
	path := writeFile(t, "notes.txt", "The budget was approved in March.")

	out, status, err := execute(t, "", "docs", "upload", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, status)
	}
	if !strings.Contains(out, "notes.txt") {
		t.Errorf("listing after upload = %q", out)
	}
	for _, want := range []string{"Uploading...", "Upload successful!", "Uploaded notes.txt"} {
		if !strings.Contains(status, want) {
			t.Errorf("status output missing %q:\n%s", want, status)
		}
	}

	docs, err := h.stub.Store().ListDocuments(ctx, uid)
	if err != nil || len(docs) != 1 {
		t.Fatalf("stored documents = %v, %v", docs, err)
	}
}

func TestDocsUpload_RejectsUnsupportedBeforeSignIn(t *testing.T) {
	newHarness(t)
	path := writeFile(t, "slides.pptx", "x")

	_, _, err := execute(t, "", "docs", "upload", path)
	if err == nil || !strings.Contains(err.Error(), "only .pdf and .txt files are supported") {
		t.Errorf("error = %v", err)
	}
}

func TestDocsDelete_RequiresYes(t *testing.T) {
	newHarness(t)

	_, status, err := execute(t, "", "docs", "delete", "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(status, "Use --yes to proceed.") {
		t.Errorf("status = %q", status)
	}
}

func TestDocsDelete(t *testing.T) {
	h := newHarness(t)
	uid := h.signedIn(t)
	if _, _, err := execute(t, "", "docs", "upload", writeFile(t, "a.txt", "alpha")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	docs, _ := h.stub.Store().ListDocuments(ctx, uid)
	if len(docs) != 1 {
		t.Fatalf("expected one stored document, got %d", len(docs))
	}

	_, status, err := execute(t, "", "docs", "delete", "--yes", docs[0].ID, "missing")
	if err == nil || err.Error() != "failed to delete missing" {
		t.Errorf("error = %v, want failure for missing only", err)
	}
	if !strings.Contains(status, "Deleted "+docs[0].ID) {
		t.Errorf("status missing success line:\n%s", status)
	}
	if !strings.Contains(status, "missing: Document not found or you do not have permission to delete it.") {
		t.Errorf("status missing failure line:\n%s", status)
	}
	if left, _ := h.stub.Store().ListDocuments(ctx, uid); len(left) != 0 {
		t.Errorf("documents left = %v", left)
	}
}

func TestChat_OneShot(t *testing.T) {
	h := newHarness(t)
	uid := h.signedIn(t)
	if _, _, err := execute(t, "", "docs", "upload", writeFile(t, "plan.txt", "Expansion into Brazil next year.")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	docs, _ := h.stub.Store().ListDocuments(ctx, uid)

	out, _, err := execute(t, "", "chat", docs[0].ID, "Where", "is", "the", "expansion?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "plan.txt contains") || !strings.Contains(out, "Expansion into Brazil") {
		t.Errorf("answer = %q", out)
	}
}

func TestChat_FallbackIsAnError(t *testing.T) {
	h := newHarness(t)
	h.signedIn(t)

	out, _, err := execute(t, "", "chat", "no-such-doc", "hi")
	if err == nil {
		t.Fatal("expected error when the backend cannot answer")
	}
	if strings.TrimSpace(out) != chat.Fallback {
		t.Errorf("output = %q, want fallback", out)
	}
}

func TestChat_Interactive(t *testing.T) {
	h := newHarness(t)
	h.signedIn(t)

	out, status, err := execute(t, "first\n\nsecond\n/back\n", "chat", "no-such-doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(out, chat.Fallback); n != 2 {
		t.Errorf("fallback replies = %d, want 2:\n%s", n, out)
	}
	if n := strings.Count(status, "Thinking..."); n != 2 {
		t.Errorf("thinking lines = %d, want 2:\n%s", n, status)
	}
}

func TestSignup_OpensShell(t *testing.T) {
	newHarness(t)

	out, status, err := execute(t, "secret1\nlist\nwhoami\nquit\n", "signup", "--email", "new@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, status)
	}
	for _, want := range []string{"Password: ", "signed in as new@example.com", "You haven't uploaded any documents yet."} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}
	for _, want := range []string{"Account created for new@example.com", "new@example.com"} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}
}

func TestLogin_PromptsForEverything(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ana@example.com", "secret1")

	out, _, err := execute(t, "ana@example.com\nsecret1\nquit\n", "login")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Email: ") || !strings.Contains(out, "signed in as ana@example.com") {
		t.Errorf("stdout = %q", out)
	}
}

func TestLogin_InvalidInputIsLocal(t *testing.T) {
	newHarness(t)

	_, _, err := execute(t, "not-an-email\n123\n", "login")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "Invalid email address.") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestShell_UploadAskLogout(t *testing.T) {
	h := newHarness(t)
	h.signedIn(t)
	path := writeFile(t, "memo.txt", "Hiring freeze until June.")

	script := strings.Join([]string{
		"upload " + path,
		"open no-such-doc",
		"anything?",
		"/back",
		"delete no-such-doc",
		"n",
		"bogus",
		"logout",
		"list",
	}, "\n") + "\n"
	out, status, err := execute(t, script, "shell")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "memo.txt") {
		t.Errorf("stdout missing upload listing:\n%s", out)
	}
	if !strings.Contains(out, "ai: "+chat.Fallback) {
		t.Errorf("stdout missing chat reply:\n%s", out)
	}
	if !strings.Contains(status, `unknown command "bogus"`) {
		t.Errorf("status missing unknown command warning:\n%s", status)
	}
	if !strings.Contains(status, "Signed out") {
		t.Errorf("status missing sign-out:\n%s", status)
	}
	// list after logout is never read
	if strings.Count(out, "memo.txt") != 1 {
		t.Errorf("expected a single listing of memo.txt:\n%s", out)
	}
}

func TestTracingExportsBackendCalls(t *testing.T) {
	h := newHarness(t)
	h.signedIn(t)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var (
		mu      sync.Mutex
		exports int
	)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			mu.Lock()
			exports++
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()
	h.cfg.Tracing = config.TracingConfig{Enabled: true, Endpoint: strings.TrimPrefix(collector.URL, "http://")}

	if _, _, err := execute(t, "", "docs", "list"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if exports == 0 {
		t.Error("no spans reached the collector after the command finished")
	}
}

func TestConfigSet_UnknownKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, _, err := execute(t, "", "config", "set", "no.such.key", "v")
	if err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("error = %v", err)
	}
}

func TestNoColorFlag(t *testing.T) {
	oldFlag, oldGlobal := noColor, color.NoColor
	defer func() { noColor, color.NoColor = oldFlag, oldGlobal }()

	noColor = true
	result := colorize(green, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	color.NoColor = false
	result = colorize(green, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestReadLine(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("  first  \nlast"))
	var prompt bytes.Buffer

	got, err := readLine(in, &prompt, "> ")
	if err != nil || got != "first" {
		t.Errorf("readLine = %q, %v; want first", got, err)
	}
	got, err = readLine(in, &prompt, "> ")
	if err != nil || got != "last" {
		t.Errorf("readLine = %q, %v; want last", got, err)
	}
	if _, err = readLine(in, &prompt, "> "); !errors.Is(err, io.EOF) {
		t.Errorf("readLine at end = %v, want io.EOF", err)
	}
	if prompt.String() != "> > > " {
		t.Errorf("prompts = %q", prompt.String())
	}
}
