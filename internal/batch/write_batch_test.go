package batch

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type recordingHandler struct {
	ops  []string
	xids []string
}

func (h *recordingHandler) PutCF(cf uint32, key, value []byte) error {
	h.ops = append(h.ops, fmt.Sprintf("put:%d:%s=%s", cf, key, value))
	return nil
}

func (h *recordingHandler) DeleteCF(cf uint32, key []byte) error {
	h.ops = append(h.ops, fmt.Sprintf("del:%d:%s", cf, key))
	return nil
}

func (h *recordingHandler) SingleDeleteCF(cf uint32, key []byte) error {
	h.ops = append(h.ops, fmt.Sprintf("sdel:%d:%s", cf, key))
	return nil
}

func (h *recordingHandler) MergeCF(cf uint32, key, value []byte) error {
	h.ops = append(h.ops, fmt.Sprintf("merge:%d:%s=%s", cf, key, value))
	return nil
}

func (h *recordingHandler) DeleteRangeCF(cf uint32, start, end []byte) error {
	h.ops = append(h.ops, fmt.Sprintf("rdel:%d:%s-%s", cf, start, end))
	return nil
}

func (h *recordingHandler) LogData(blob []byte) {
	h.ops = append(h.ops, fmt.Sprintf("log:%s", blob))
}

func (h *recordingHandler) MarkBeginPrepare() error { h.ops = append(h.ops, "begin"); return nil }

func (h *recordingHandler) MarkEndPrepare(xid []byte) error {
	h.xids = append(h.xids, string(xid))
	h.ops = append(h.ops, "end")
	return nil
}

func (h *recordingHandler) MarkCommit(xid []byte) error {
	h.xids = append(h.xids, string(xid))
	h.ops = append(h.ops, "commit")
	return nil
}

func (h *recordingHandler) MarkRollback(xid []byte) error {
	h.xids = append(h.xids, string(xid))
	h.ops = append(h.ops, "rollback")
	return nil
}

func TestBatchBuildAndIterate(t *testing.T) {
	wb := New()
	wb.Put([]byte("a"), []byte("1"))
	wb.PutCF(3, []byte("b"), []byte("2"))
	wb.Delete([]byte("c"))
	wb.SingleDeleteCF(3, []byte("d"))
	wb.Merge([]byte("e"), []byte("3"))
	wb.DeleteRange([]byte("f"), []byte("g"))
	wb.PutLogData([]byte("blob"))

	if wb.Count() != 6 {
		t.Fatalf("Count = %d, want 6 (log data does not count)", wb.Count())
	}

	wb.SetSequence(42)
	if wb.Sequence() != 42 {
		t.Fatalf("Sequence = %d", wb.Sequence())
	}

	h := &recordingHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	want := []string{
		"put:0:a=1", "put:3:b=2", "del:0:c", "sdel:3:d",
		"merge:0:e=3", "rdel:0:f-g", "log:blob",
	}
	if len(h.ops) != len(want) {
		t.Fatalf("ops = %v", h.ops)
	}
	for i := range want {
		if h.ops[i] != want[i] {
			t.Errorf("op %d = %q, want %q", i, h.ops[i], want[i])
		}
	}
}

func TestBatchRoundTripThroughData(t *testing.T) {
	wb := New()
	wb.Put([]byte("key"), []byte("value"))
	wb.SetSequence(7)

	decoded, err := NewFromData(bytes.Clone(wb.Data()))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Sequence() != 7 || decoded.Count() != 1 {
		t.Fatalf("seq=%d count=%d", decoded.Sequence(), decoded.Count())
	}
}

func TestBatchTwoPhaseMarkers(t *testing.T) {
	wb := New()
	wb.MarkBeginPrepare()
	wb.Put([]byte("k"), []byte("v"))
	wb.MarkEndPrepare([]byte("txn-1"))
	wb.MarkCommit([]byte("txn-1"))

	h := &recordingHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatal(err)
	}
	want := []string{"begin", "put:0:k=v", "end", "commit"}
	if len(h.ops) != len(want) {
		t.Fatalf("ops = %v", h.ops)
	}
	for i := range want {
		if h.ops[i] != want[i] {
			t.Errorf("op %d = %q, want %q", i, h.ops[i], want[i])
		}
	}
	if len(h.xids) != 2 || h.xids[0] != "txn-1" || h.xids[1] != "txn-1" {
		t.Errorf("xids = %v", h.xids)
	}
}

func TestBatchTooSmall(t *testing.T) {
	if _, err := NewFromData([]byte("short")); !errors.Is(err, ErrTooSmall) {
		t.Fatalf("want ErrTooSmall, got %v", err)
	}
}

func TestBatchCorruptedTag(t *testing.T) {
	wb := New()
	wb.Put([]byte("a"), []byte("b"))
	data := bytes.Clone(wb.Data())
	data[HeaderSize] = 0x7E // unknown tag

	decoded, err := NewFromData(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := decoded.Iterate(&recordingHandler{}); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("want ErrCorrupted, got %v", err)
	}
}
