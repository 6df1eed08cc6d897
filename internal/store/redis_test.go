package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/elagerway/magpipe/internal/record"
)

func testStore(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedis(mr.Addr(), "", 0, "acct1")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ft(t time.Time) record.FlexTime { return record.FlexTime{Time: t} }

func TestSmsRoundTripNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3"} {
		err := s.PutSms(ctx, record.SmsMessage{
			ID: id, Direction: record.DirectionInbound,
			FromNumber: "+15550001111", ToNumber: "+15559990000",
			Body: id, CreatedAt: ft(base.Add(time.Duration(i) * time.Minute)),
		})
		if err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	got, err := s.SmsMessages(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "s3" || got[1].ID != "s2" {
		t.Fatalf("got %+v, want newest two", got)
	}
}

func TestCallRecordUpdateAndFetch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rec := record.CallRecord{
		ID: "c1", Direction: record.DirectionInbound, CallerNumber: "+15550001111",
		Status:    "completed",
		StartedAt: ft(time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC)),
		Recordings: []record.RecordingSegment{
			{ID: "r1", Status: "pending_sync", DurationSeconds: 30},
		},
	}
	if err := s.UpdateCallRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	tr := "transcript text"
	rec.Recordings[0].Status = "synced"
	rec.Recordings[0].URL = "https://x/storage/r1.mp3"
	rec.Recordings[0].Transcript = &tr
	if err := s.UpdateCallRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.CallRecord(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Recordings[0].Status != "synced" || got.Recordings[0].Transcript == nil {
		t.Errorf("update not applied: %+v", got.Recordings[0])
	}

	list, err := s.CallRecords(ctx, CallLimit)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("update duplicated the row: %d", len(list))
	}

	if _, err := s.CallRecord(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing call error = %v", err)
	}
}

func TestChatSessionIndexedByLastMessage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	err := s.PutChatSession(ctx, record.ChatSession{
		ID: "old", VisitorName: "Ada", CreatedAt: ft(base),
		Messages: []record.ChatMessage{
			{ID: "m1", SessionID: "old", Role: "visitor", Body: "hi", CreatedAt: ft(base.Add(3 * time.Hour))},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.PutChatSession(ctx, record.ChatSession{
		ID: "new", VisitorName: "Bob", CreatedAt: ft(base.Add(time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.ChatSessions(ctx, ChatLimit)
	if err != nil {
		t.Fatal(err)
	}
	// "old" has the newer last message, so it sorts first.
	if len(got) != 2 || got[0].ID != "old" {
		t.Fatalf("order = %+v", got)
	}
}

func TestReadStateRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	if err := s.UpdateReadState(ctx, "sms_a_b", at); err != nil {
		t.Fatal(err)
	}
	states, err := s.ReadStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := states["sms_a_b"]; !ok || !got.Equal(at) {
		t.Errorf("read state = %v (%v)", got, ok)
	}
}

func TestDeleteRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"e1", "e2", "e3"} {
		err := s.PutEmail(ctx, record.EmailMessage{
			ID: id, ThreadID: "t1", Direction: record.DirectionInbound,
			FromEmail: "a@x", ToEmail: "b@x", CreatedAt: ft(at),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteRows(ctx, record.SourceEmail, []string{"e1", "e3"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.EmailMessages(ctx, EmailLimit)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "e2" {
		t.Fatalf("remaining = %+v", got)
	}

	if err := s.DeleteRows(ctx, record.SourceEmail, nil); err != nil {
		t.Errorf("empty delete should be a no-op: %v", err)
	}
	if err := s.DeleteRows(ctx, "bogus", []string{"x"}); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestContacts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	err := s.PutContact(ctx, record.Contact{ID: "ct1", Name: "Ada", Phone: "+15550001111"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Contacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Ada" {
		t.Fatalf("contacts = %+v", got)
	}
}

func TestBulkLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	if err := s.PutSms(ctx, record.SmsMessage{ID: "s1", Direction: record.DirectionInbound, FromNumber: "a", ToNumber: "b", CreatedAt: ft(at)}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateCallRecord(ctx, record.CallRecord{ID: "c1", Direction: record.DirectionInbound, CallerNumber: "a", StartedAt: ft(at)}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutEmail(ctx, record.EmailMessage{ID: "e1", ThreadID: "t1", Direction: record.DirectionInbound, FromEmail: "a@x", ToEmail: "b@x", CreatedAt: ft(at)}); err != nil {
		t.Fatal(err)
	}

	loaded, err := BulkLoad(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Sms) != 1 || len(loaded.Calls) != 1 || len(loaded.Emails) != 1 {
		t.Errorf("loaded = %d sms, %d calls, %d emails", len(loaded.Sms), len(loaded.Calls), len(loaded.Emails))
	}
	if loaded.Chats != nil {
		t.Errorf("chats = %+v, want empty", loaded.Chats)
	}
}
