package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/cookshelf/internal/apperr"
)

func TestWriteLog_MatchesRecordedContent(t *testing.T) {
	l := NewWriteLog(time.Minute)
	l.Wrote("soup.cook", []byte("a"))

	if !l.matchWrite("soup.cook", []byte("a")) {
		t.Error("recorded content should match")
	}
	if !l.matchWrite("soup.cook", []byte("a")) {
		t.Error("a match should not consume the record")
	}
	if l.matchRemove("soup.cook") {
		t.Error("a write is not a removal")
	}
	if l.matchWrite("soup.cook", []byte("a")) {
		t.Error("a mismatch should discard the key's records")
	}
	if l.matchWrite("stew.cook", []byte("a")) {
		t.Error("unrecorded key should not match")
	}
}

func TestWriteLog_DifferentContentNotMatched(t *testing.T) {
	l := NewWriteLog(time.Minute)
	l.Wrote("soup.cook", []byte("a"))
	if l.matchWrite("soup.cook", []byte("edited elsewhere")) {
		t.Error("different content should not match")
	}
}

func TestWriteLog_Removed(t *testing.T) {
	l := NewWriteLog(time.Minute)
	l.Removed("soup.cook")
	if !l.matchRemove("soup.cook") {
		t.Error("recorded removal should match")
	}
	if l.matchWrite("soup.cook", []byte("recreated")) {
		t.Error("recreating a removed key should not match")
	}
}

func TestWriteLog_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWriteLog(time.Second)
	l.now = func() time.Time { return now }

	l.Wrote("soup.cook", []byte("a"))
	now = now.Add(2 * time.Second)
	if l.matchWrite("soup.cook", []byte("a")) {
		t.Error("expired record should not match")
	}

	l.Wrote("stew.cook", []byte("b"))
	now = now.Add(2 * time.Second)
	l.Wrote("pie.cook", []byte("c"))
	if _, ok := l.pending["stew.cook"]; ok {
		t.Error("expired records should be pruned on record")
	}
}

func TestWriteLog_ForgetKeepsOtherWriters(t *testing.T) {
	l := NewWriteLog(time.Minute)
	winner := l.Wrote("soup.cook", []byte("a"))
	loser := l.Wrote("soup.cook", []byte("b"))
	l.Forget("soup.cook", loser)

	if !l.matchWrite("soup.cook", []byte("a")) {
		t.Error("winner's record was dropped")
	}
	l.Forget("soup.cook", winner)
	if _, ok := l.pending["soup.cook"]; ok {
		t.Error("forgetting the last record should drop the key")
	}
}

func TestWriteLog_NilMatchesNothing(t *testing.T) {
	var l *WriteLog
	if l.matchWrite("soup.cook", []byte("a")) || l.matchRemove("soup.cook") {
		t.Error("nil log should match nothing")
	}
}

func TestRecordWrites_FailedCreateForgotten(t *testing.T) {
	store := testStore(t)
	put(t, store, "soup.cook", "first")

	l := NewWriteLog(time.Minute)
	own := RecordWrites(store, l)
	err := own.Create(context.Background(), "soup.cook", []byte("second"))
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if _, ok := l.pending["soup.cook"]; ok {
		t.Error("failed create should not stay recorded")
	}

	if err := own.Set(context.Background(), "stew.cook", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if !l.matchWrite("stew.cook", []byte("x")) {
		t.Error("successful set should be recorded")
	}
}
