package storage

import (
	"path/filepath"
	"testing"
)

func TestEncryptedPagerRoundTripsAcrossClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.db")

	p, err := OpenPagerEncrypted(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("OpenPagerEncrypted: %v", err)
	}
	coll, err := p.GetOrCreateCollection("widgets")
	if err != nil {
		t.Fatalf("GetOrCreateCollection: %v", err)
	}
	txn, _ := p.BeginTx()
	doc := NewDocument()
	doc.Set("name", "bolt")
	addr, err := p.InsertRecord(coll.ID, doc, txn)
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := p.CommitTx(); err != nil {
		t.Fatalf("CommitTx: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := OpenPagerEncrypted(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("reopen OpenPagerEncrypted: %v", err)
	}
	defer p2.Close()

	got, err := p2.ReadRecord(addr, 0)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	name, _ := got.Get("name")
	if name != "bolt" {
		t.Fatalf("expected name=bolt, got %v", name)
	}
}

func TestEncryptedPagerRejectsWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.db")

	p, err := OpenPagerEncrypted(path, "right-password")
	if err != nil {
		t.Fatalf("OpenPagerEncrypted: %v", err)
	}
	coll, _ := p.GetOrCreateCollection("widgets")
	txn, _ := p.BeginTx()
	doc := NewDocument()
	doc.Set("name", "bolt")
	if _, err := p.InsertRecord(coll.ID, doc, txn); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := p.CommitTx(); err != nil {
		t.Fatalf("CommitTx: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := OpenPagerEncrypted(path, "wrong-password"); err == nil {
		t.Fatalf("expected opening an encrypted file under the wrong password to fail decoding the catalog")
	}
}

func TestUnencryptedFileReservesSaltBytes(t *testing.T) {
	p, path := tempPager(t)
	if _, err := p.GetOrCreateCollection("widgets"); err != nil {
		t.Fatalf("GetOrCreateCollection: %v", err)
	}
	if err := p.flushMeta(); err != nil {
		t.Fatalf("flushMeta: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := OpenPager(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	if len(p2.Collections()) != 1 {
		t.Fatalf("expected catalog to survive the reserved-salt offset shift, got %v", p2.Collections())
	}
}
