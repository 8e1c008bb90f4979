package token

import "testing"

func TestEditLogRecordTrimsRedoAndHistory(t *testing.T) {
	l := newEditLog()
	l.limit = 3

	for i := 0; i < 5; i++ {
		l.record(EditOp{Kind: OpInsert, Source: Range{Start: Position(i), End: Position(i + 1)}})
	}
	if len(l.history) != 3 {
		t.Fatalf("history len = %d, want 3", len(l.history))
	}
	// retained entries are the most recent `limit`.
	for i, op := range l.history {
		want := Position(2 + i)
		if op.Source.Start != want {
			t.Fatalf("history[%d].Source.Start = %v, want %v", i, op.Source.Start, want)
		}
	}
}

func TestEditLogRecordEmptiesRedoStack(t *testing.T) {
	l := newEditLog()
	l.record(EditOp{Kind: OpInsert})
	op, ok := l.popUndo()
	if !ok {
		t.Fatal("expected an undoable op")
	}
	l.pushRedo(op)
	if !l.canRedo() {
		t.Fatal("expected redo stack to be non-empty")
	}
	l.record(EditOp{Kind: OpInsert})
	if l.canRedo() {
		t.Fatal("a new record should empty the redo stack")
	}
}

func TestEditLogSuppressSkipsRecording(t *testing.T) {
	l := newEditLog()
	l.suppress = true
	l.record(EditOp{Kind: OpInsert})
	if len(l.history) != 0 {
		t.Fatalf("history len = %d, want 0 while suppressed", len(l.history))
	}
}

func TestEditLogUnboundedWhenLimitZero(t *testing.T) {
	l := newEditLog()
	l.limit = 0
	for i := 0; i < defaultHistoryLimit*3; i++ {
		l.record(EditOp{Kind: OpInsert})
	}
	if len(l.history) != defaultHistoryLimit*3 {
		t.Fatalf("history len = %d, want %d", len(l.history), defaultHistoryLimit*3)
	}
}
