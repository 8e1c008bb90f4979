package token

import "testing"

func TestBufferCapacityDoubling(t *testing.T) {
	tests := []struct {
		name      string
		inserts   int
		wantFloor int
	}{
		{"single token", 1, initialCapacityFloor},
		{"exactly the floor", initialCapacityFloor, initialCapacityFloor},
		{"one past the floor", initialCapacityFloor + 1, initialCapacityFloor * 2},
		{"several doublings", initialCapacityFloor*4 + 1, initialCapacityFloor * 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuffer()
			toks := make([]Token, tt.inserts)
			b.insertAt(0, toks, 0)
			if cap(b.tokens) != tt.wantFloor {
				t.Fatalf("cap = %d, want %d", cap(b.tokens), tt.wantFloor)
			}
			if cap(b.tokens) < tt.inserts || cap(b.tokens) >= 2*tt.inserts && tt.inserts > initialCapacityFloor {
				// property 6: capacity in [N, 2N) once N exceeds the floor.
				t.Fatalf("cap %d not in [%d, %d)", cap(b.tokens), tt.inserts, 2*tt.inserts)
			}
		})
	}
}

func TestBufferInsertDeleteIdentity(t *testing.T) {
	b := newBuffer()
	b.insertAt(0, []Token{1, 2, 3, 4, 5}, FlagUserInjected)
	before := append([]Token(nil), b.tokens...)

	b.insertAt(2, []Token{9, 9}, FlagUserInjected)
	b.deleteRange(2, 4)

	if len(b.tokens) != len(before) {
		t.Fatalf("length mismatch: got %d want %d", len(b.tokens), len(before))
	}
	for i := range before {
		if b.tokens[i] != before[i] {
			t.Fatalf("token %d: got %v want %v", i, b.tokens[i], before[i])
		}
		if b.info[i].Pos != Position(i) || b.info[i].ID != b.tokens[i] {
			t.Fatalf("info[%d] desynced from tokens: %+v", i, b.info[i])
		}
	}
}

func TestBufferReplaceRangeGrowsAndShrinks(t *testing.T) {
	b := newBuffer()
	b.insertAt(0, []Token{1, 2, 3}, 0)

	old, _ := b.replaceRange(1, 2, []Token{7, 8, 9}, FlagModelGenerated)
	if len(old) != 1 || old[0] != 2 {
		t.Fatalf("old tokens = %v, want [2]", old)
	}
	want := []Token{1, 7, 8, 9, 3}
	if len(b.tokens) != len(want) {
		t.Fatalf("len = %d, want %d", len(b.tokens), len(want))
	}
	for i, w := range want {
		if b.tokens[i] != w {
			t.Fatalf("tokens[%d] = %v, want %v", i, b.tokens[i], w)
		}
	}

	old, _ = b.replaceRange(1, 4, []Token{0}, 0)
	if len(old) != 3 {
		t.Fatalf("old tokens = %v, want 3 elements", old)
	}
	want = []Token{1, 0, 3}
	if len(b.tokens) != len(want) {
		t.Fatalf("len = %d, want %d", len(b.tokens), len(want))
	}
}

func TestBufferClear(t *testing.T) {
	b := newBuffer()
	b.insertAt(0, []Token{1, 2, 3}, 0)
	removed := b.clear()
	if len(removed) != 3 {
		t.Fatalf("removed = %v, want 3 elements", removed)
	}
	if b.count() != 0 {
		t.Fatalf("count = %d, want 0", b.count())
	}
}
