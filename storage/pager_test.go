package storage

import (
	"path/filepath"
	"testing"
)

func tempPager(t *testing.T) (*Pager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := OpenPager(path)
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, path
}

func TestPagerInsertReadRecordRoundTrip(t *testing.T) {
	p, _ := tempPager(t)
	coll, err := p.GetOrCreateCollection("widgets")
	if err != nil {
		t.Fatalf("GetOrCreateCollection: %v", err)
	}

	txn, err := p.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}

	doc := NewDocument()
	doc.Set("name", "bolt")
	addr, err := p.InsertRecord(coll.ID, doc, txn)
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := p.CommitTx(); err != nil {
		t.Fatalf("CommitTx: %v", err)
	}

	got, err := p.ReadRecord(addr, 0)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	name, _ := got.Get("name")
	if name != "bolt" {
		t.Fatalf("expected name=bolt, got %v", name)
	}
}

func TestPagerRollbackRestoresBeforeImage(t *testing.T) {
	p, _ := tempPager(t)
	coll, _ := p.GetOrCreateCollection("widgets")

	txn1, _ := p.BeginTx()
	doc := NewDocument()
	doc.Set("name", "v1")
	addr, err := p.InsertRecord(coll.ID, doc, txn1)
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := p.CommitTx(); err != nil {
		t.Fatalf("commit v1: %v", err)
	}

	txn2, _ := p.BeginTx()
	doc2 := NewDocument()
	doc2.Set("name", "v2")
	if _, err := p.UpdateRecord(coll.ID, addr, doc2, txn2); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if err := p.RollbackTx(); err != nil {
		t.Fatalf("RollbackTx: %v", err)
	}

	got, err := p.ReadRecord(addr, 0)
	if err != nil {
		t.Fatalf("ReadRecord after rollback: %v", err)
	}
	name, _ := got.Get("name")
	if name != "v1" {
		t.Fatalf("expected rollback to restore v1, got %v", name)
	}
}

func TestPagerCheckpointTruncatesLog(t *testing.T) {
	p, _ := tempPager(t)
	coll, _ := p.GetOrCreateCollection("widgets")

	txn, _ := p.BeginTx()
	doc := NewDocument()
	doc.Set("k", int64(1))
	if _, err := p.InsertRecord(coll.ID, doc, txn); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := p.CommitTx(); err != nil {
		t.Fatalf("CommitTx: %v", err)
	}

	if err := p.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if n := p.wal.RecordCount(); n != 0 {
		t.Fatalf("expected empty WAL after checkpoint, got %d records", n)
	}
}

func TestPagerCrashRecoveryReplaysOnlyConfirmedTxn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := OpenPager(path)
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	coll, _ := p.GetOrCreateCollection("widgets")

	txn, _ := p.BeginTx()
	doc := NewDocument()
	doc.Set("k", int64(1))
	addr, err := p.InsertRecord(coll.ID, doc, txn)
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := p.CommitTx(); err != nil {
		t.Fatalf("CommitTx: %v", err)
	}
	if err := p.flushMeta(); err != nil {
		t.Fatalf("flushMeta: %v", err)
	}

	// Simulate a crash: close the file handle without a clean Close() call
	// that would truncate the WAL, then reopen.
	p.file.Close()
	p.lock.unlock()

	p2, err := OpenPager(path)
	if err != nil {
		t.Fatalf("reopen OpenPager: %v", err)
	}
	defer p2.Close()

	got, err := p2.ReadRecord(addr, 0)
	if err != nil {
		t.Fatalf("ReadRecord after recovery: %v", err)
	}
	k, _ := got.Get("k")
	if k != int64(1) {
		t.Fatalf("expected k=1 after recovery, got %v", k)
	}
}

func TestPagerDropCollectionFreesChain(t *testing.T) {
	p, _ := tempPager(t)
	coll, _ := p.GetOrCreateCollection("temp")

	txn, _ := p.BeginTx()
	doc := NewDocument()
	doc.Set("x", int64(1))
	if _, err := p.InsertRecord(coll.ID, doc, txn); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := p.CommitTx(); err != nil {
		t.Fatalf("CommitTx: %v", err)
	}

	if err := p.DropCollection("temp"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	for _, name := range p.Collections() {
		if name == "temp" {
			t.Fatal("collection should be gone after DropCollection")
		}
	}
}
