package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elagerway/magpipe/internal/api"
	"github.com/elagerway/magpipe/internal/config"
	"github.com/elagerway/magpipe/internal/record"
	"github.com/elagerway/magpipe/internal/store"
)

// testEnv points the CLI at a fresh miniredis via env-configured credentials
// and isolates all file paths under a temp dir.
func testEnv(t *testing.T) *store.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, ".config"))
	t.Setenv("MAGPIPE_STORE_URL", "redis://"+mr.Addr())
	t.Setenv("MAGPIPE_ACCOUNT_ID", "acct1")
	t.Setenv("MAGPIPE_SYNC_URL", "")
	t.Setenv("MAGPIPE_CABLE_URL", "")
	t.Setenv("MAGPIPE_SYNC_TOKEN", "")
	t.Setenv("MAGPIPE_OUTPUT", "")

	s := store.NewRedis(mr.Addr(), "", 0, "acct1")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := execute(context.Background(), args, &out, &errOut)
	return out.String(), err
}

func ft(t time.Time) record.FlexTime { return record.FlexTime{Time: t} }

func seedInbox(t *testing.T, s *store.Redis, now time.Time) {
	t.Helper()
	ctx := context.Background()

	for i, body := range []string{"hey", "are you there?"} {
		err := s.PutSms(ctx, record.SmsMessage{
			ID: fmt.Sprintf("s%d", i+1), Direction: record.DirectionInbound,
			FromNumber: "+15550001111", ToNumber: "+15559990000",
			Body: body, CreatedAt: ft(now.Add(time.Duration(i) * time.Minute)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	err := s.UpdateCallRecord(ctx, record.CallRecord{
		ID: "c1", Direction: record.DirectionInbound,
		CallerNumber: "+15552223333", Status: "missed",
		StartedAt: ft(now.Add(-time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.PutEmail(ctx, record.EmailMessage{
		ID: "e1", ThreadID: "t1", Direction: record.DirectionInbound,
		FromEmail: "ada@example.com", ToEmail: "me@example.com",
		FromName: "Ada", Subject: "invoice", Body: "see attached",
		CreatedAt: ft(now.Add(-2 * time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutContact(ctx, record.Contact{ID: "ct1", Name: "Jane Doe", Phone: "+15550001111"}); err != nil {
		t.Fatal(err)
	}
}

type listResponse struct {
	Conversations []listItem `json:"conversations"`
	Total         int        `json:"total"`
}

func listJSON(t *testing.T, args ...string) listResponse {
	t.Helper()
	out, err := runCmd(t, append([]string{"list", "--json"}, args...)...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp listResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("parsing list output %q: %v", out, err)
	}
	return resp
}

func TestListShowsAllChannels(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())

	resp := listJSON(t)
	if resp.Total != 3 {
		t.Fatalf("total = %d, want 3", resp.Total)
	}
	// Newest first: the SMS thread leads.
	first := resp.Conversations[0]
	if first.Key != "sms_+15550001111_+15559990000" {
		t.Errorf("first key = %q", first.Key)
	}
	if first.DisplayName != "Jane Doe" {
		t.Errorf("display name = %q", first.DisplayName)
	}
	if first.Unread != 2 {
		t.Errorf("unread = %d, want 2", first.Unread)
	}
}

func TestListTypeAndMissedFilters(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())

	resp := listJSON(t, "--type", "call", "--missed")
	if resp.Total != 1 || resp.Conversations[0].Key != "call_c1" {
		t.Fatalf("missed calls = %+v", resp.Conversations)
	}
	if !resp.Conversations[0].Missed {
		t.Error("missed flag not set")
	}

	_, err := runCmd(t, "list", "--type", "fax")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --type")
}

func TestListContactResolution(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())

	resp := listJSON(t, "--contact", "jane doe")
	if resp.Total != 1 || resp.Conversations[0].Key != "sms_+15550001111_+15559990000" {
		t.Fatalf("contact filter = %+v", resp.Conversations)
	}

	if _, err := runCmd(t, "list", "--contact", "nobody-here"); err == nil {
		t.Error("expected error for unresolvable contact")
	}
}

func TestListCounts(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())

	out, err := runCmd(t, "list", "--counts", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("parsing counts %q: %v", out, err)
	}
	if counts["total"] != 3 || counts["sms"] != 1 || counts["call"] != 1 || counts["email"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestReadCommandPersistsAcrossRuns(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())
	key := "sms_+15550001111_+15559990000"

	if _, err := runCmd(t, "read", key); err != nil {
		t.Fatalf("read: %v", err)
	}

	states, err := s.ReadStates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := states[key]; !ok {
		t.Error("read state not written to store")
	}

	resp := listJSON(t, "--unread")
	for _, conv := range resp.Conversations {
		if conv.Key == key {
			t.Errorf("%s still unread after read", key)
		}
	}
}

func TestShowPrintsHistoryAndMarksRead(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())
	key := "sms_+15550001111_+15559990000"

	out, err := runCmd(t, "show", key)
	require.NoError(t, err)
	assert.Contains(t, out, "Jane Doe")
	assert.Contains(t, out, "are you there?")

	states, err := s.ReadStates(context.Background())
	require.NoError(t, err)
	if _, ok := states[key]; !ok {
		t.Error("read state not written to store")
	}

	_, err = runCmd(t, "show", "call_nope")
	require.Error(t, err)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestShowKeepUnread(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())
	key := "sms_+15550001111_+15559990000"

	_, err := runCmd(t, "show", key, "--keep-unread")
	require.NoError(t, err)

	resp := listJSON(t, "--unread")
	found := false
	for _, conv := range resp.Conversations {
		if conv.Key == key {
			found = true
		}
	}
	if !found {
		t.Error("--keep-unread still cleared unread state")
	}
}

func TestReadRequiresKeyOrAll(t *testing.T) {
	testEnv(t)
	if _, err := runCmd(t, "read"); err == nil {
		t.Error("expected usage error without key or --all")
	}
}

func TestHideExcludesFromList(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())

	if _, err := runCmd(t, "hide", "call_c1"); err != nil {
		t.Fatalf("hide: %v", err)
	}
	resp := listJSON(t)
	if resp.Total != 2 {
		t.Errorf("total after hide = %d, want 2", resp.Total)
	}

	if _, err := runCmd(t, "unhide", "call_c1"); err != nil {
		t.Fatalf("unhide: %v", err)
	}
	if resp := listJSON(t); resp.Total != 3 {
		t.Errorf("total after unhide = %d, want 3", resp.Total)
	}
}

func TestDeleteRemovesStoreRows(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())
	key := "sms_+15550001111_+15559990000"

	if _, err := runCmd(t, "delete", key); err == nil {
		t.Fatal("delete without --yes should refuse")
	}
	if _, err := runCmd(t, "delete", key, "--yes"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rows, err := s.SmsMessages(context.Background(), store.SmsLimit)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("sms rows remain: %+v", rows)
	}
	if resp := listJSON(t); resp.Total != 2 {
		t.Errorf("total after delete = %d", resp.Total)
	}
}

func TestSyncCommand(t *testing.T) {
	s := testEnv(t)
	now := time.Now()

	tr := "hello world"
	err := s.UpdateCallRecord(context.Background(), record.CallRecord{
		ID: "c9", Direction: record.DirectionInbound, CallerNumber: "+15550001111",
		Status: "completed", StartedAt: ft(now),
		Recordings: []record.RecordingSegment{
			{ID: "r1", Status: "synced", URL: "https://cdn/storage/r1.mp3", DurationSeconds: 10, Transcript: &tr},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recordings/sync" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"synced": 1}`))
	}))
	defer srv.Close()
	t.Setenv("MAGPIPE_SYNC_URL", srv.URL)

	out, err := runCmd(t, "sync", "c9", "--json")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	var resp struct {
		Results []syncOutcome `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("parsing %q: %v", out, err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Synced != 1 || resp.Results[0].Pending {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSyncRequiresService(t *testing.T) {
	testEnv(t)
	_, err := runCmd(t, "sync", "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sync service configured")
}

func TestAuthStatusFromEnv(t *testing.T) {
	testEnv(t)
	out, err := runCmd(t, "auth", "status")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Configured") || !strings.Contains(out, "Source: env") {
		t.Errorf("output = %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	testEnv(t)
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "magpipe version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestJSONFlagConflict(t *testing.T) {
	testEnv(t)
	_, err := runCmd(t, "version", "--json", "--output", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--json conflicts with --output")
}

func TestListJQFilter(t *testing.T) {
	s := testEnv(t)
	seedInbox(t, s, time.Now())

	out, err := runCmd(t, "list", "--jq", ".total")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "3" {
		t.Errorf("jq output = %q", out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{pflag.ErrHelp, exitOK},
		{config.ErrNotConfigured, exitAuth},
		{fmt.Errorf("call x: %w", store.ErrNotFound), exitNotFound},
		{fmt.Errorf("%w: 500", api.ErrSyncRejected), exitServer},
		{errors.New("unknown flag: --bogus"), exitUsage},
		{errors.New("dial tcp: connection refused"), exitNetwork},
		{errors.New("something else broke"), exitGeneric},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken("short"); got != "*****" {
		t.Errorf("maskToken(short) = %q", got)
	}
	if got := maskToken("abcd1234efgh"); got != "abcd****efgh" {
		t.Errorf("maskToken = %q", got)
	}
}
