package merge

import (
	"bytes"
	"testing"
)

func TestMergeNonOverlapping(t *testing.T) {
	base := []byte("123\n456\n789")
	theirs := []byte("123\nAAA\n789")
	mine := []byte("123\n456\nBBB")

	res := Merge(base, theirs, mine)
	if res.Outcome != OutcomeClean {
		t.Fatalf("expected clean merge, got outcome %v with %q", res.Outcome, res.Data)
	}
	want := "123\nAAA\nBBB"
	if string(res.Data) != want {
		t.Errorf("merged = %q, want %q", res.Data, want)
	}
}

func TestMergeOverlappingConflict(t *testing.T) {
	base := []byte("123\n456\n789")
	theirs := []byte("123\n000\n789")
	mine := []byte("123\n111\n789")

	res := Merge(base, theirs, mine)
	if res.Outcome != OutcomeConflict {
		t.Fatalf("expected conflict, got outcome %v with %q", res.Outcome, res.Data)
	}
	want := "123\n<<<<<<< local\n111\n=======\n000\n>>>>>>> other\n789"
	if string(res.Data) != want {
		t.Errorf("merged = %q, want %q", res.Data, want)
	}
}

func TestMergeIdenticalChanges(t *testing.T) {
	base := []byte("one\ntwo\nthree\n")
	changed := []byte("one\nTWO\nthree\n")

	res := Merge(base, changed, changed)
	if res.Outcome != OutcomeClean {
		t.Fatalf("expected clean merge, got outcome %v with %q", res.Outcome, res.Data)
	}
	if !bytes.Equal(res.Data, changed) {
		t.Errorf("merged = %q, want %q", res.Data, changed)
	}
}

func TestMergeBothCreateSameContent(t *testing.T) {
	text := []byte("test\ntext")

	res := Merge(nil, text, text)
	if res.Outcome != OutcomeClean {
		t.Fatalf("expected clean merge, got outcome %v with %q", res.Outcome, res.Data)
	}
	if !bytes.Equal(res.Data, text) {
		t.Errorf("merged = %q, want %q", res.Data, text)
	}
}

func TestMergeOneSideUnchanged(t *testing.T) {
	base := []byte("a\nb\nc\n")
	mine := []byte("a\nb\nc\nd\n")

	res := Merge(base, base, mine)
	if res.Outcome != OutcomeClean {
		t.Fatalf("expected clean merge, got outcome %v with %q", res.Outcome, res.Data)
	}
	if !bytes.Equal(res.Data, mine) {
		t.Errorf("merged = %q, want %q", res.Data, mine)
	}
}

func TestMergeBinary(t *testing.T) {
	base := []byte("text\n")
	binary := []byte("PNG\x00\x01\x02")

	res := Merge(base, binary, []byte("other text\n"))
	if res.Outcome != OutcomeBinary {
		t.Fatalf("expected binary outcome, got %v", res.Outcome)
	}
	if res.Data != nil {
		t.Errorf("binary merge should carry no data, got %q", res.Data)
	}
}

func TestMergeDeterminism(t *testing.T) {
	base := []byte("alpha\nbeta\ngamma\ndelta\n")
	theirs := []byte("alpha\nBETA\ngamma\ndelta\nepsilon\n")
	mine := []byte("alpha\nbeta\nGAMMA\ndelta\n")

	first := Merge(base, theirs, mine)
	for i := 0; i < 10; i++ {
		again := Merge(base, theirs, mine)
		if again.Outcome != first.Outcome || !bytes.Equal(again.Data, first.Data) {
			t.Fatalf("merge not deterministic: run %d gave %q, first gave %q", i, again.Data, first.Data)
		}
	}
}

func TestIsBinary(t *testing.T) {
	if IsBinary([]byte("plain text\nwith lines\n")) {
		t.Error("text detected as binary")
	}
	if !IsBinary([]byte("has\x00nul")) {
		t.Error("NUL byte not detected as binary")
	}
	if IsBinary(nil) {
		t.Error("empty content detected as binary")
	}
}
