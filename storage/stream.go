package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/duskdb/duskdb/dberr"
)

// saltSize is the length, in bytes, of the random salt stored in the header
// page when a database is encrypted (spec §6).
const saltSize = 16

// pbkdf2Iterations is the default RFC 2898 iteration count.
const pbkdf2Iterations = 100_000

const aesKeySize = 32 // AES-256

// NewStreamFile opens (or creates) the on-disk stream for path. When
// password is non-empty the returned StorageFile transparently wraps every
// page-aligned read/write in AES-CBC keyed by a PBKDF2-derived key; the
// header page itself stays partially plaintext (magic + salt), matching
// spec §6's "header page is partially plaintext" rule.
func NewStreamFile(path string, password string, readOnly bool) (StorageFile, []byte, error) {
	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stream: open %q: %v", dberr.ErrIO, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: stream: stat: %v", dberr.ErrIO, err)
	}

	var salt []byte
	if password == "" {
		return &osFile{f}, nil, nil
	}

	if info.Size() == 0 {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("%w: stream: salt: %v", dberr.ErrIO, err)
		}
	}

	es, err := newEncryptedFile(f, password, salt)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return es, es.salt, nil
}

// osFile adapts *os.File to StorageFile (plaintext path, no encryption).
type osFile struct{ *os.File }

// encryptedFile wraps an *os.File, transparently encrypting every
// PageSize-aligned block with AES-CBC under a PBKDF2-derived key. The IV for
// block N is derived deterministically from the salt and N so the cipher
// stream never needs external IV storage per page.
type encryptedFile struct {
	f     *os.File
	block cipher.Block
	salt  []byte
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeySize, sha1.New)
}

func newEncryptedFile(f *os.File, password string, salt []byte) (*encryptedFile, error) {
	if salt == nil {
		// Existing file: salt lives at a fixed offset in the header page,
		// written in plaintext by the caller before this is invoked.
		salt = make([]byte, saltSize)
		if _, err := f.ReadAt(salt, headerSaltOffset); err != nil {
			return nil, fmt.Errorf("%w: stream: read salt: %v", dberr.ErrCrypto, err)
		}
	}
	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: stream: cipher: %v", dberr.ErrCrypto, err)
	}
	return &encryptedFile{f: f, block: block, salt: salt}, nil
}

// headerSaltOffset is where the random salt lives inside the header page
// (spec §6: "32 bytes magic ... encryption salt (16 bytes)"), right after
// the common page header.
const headerSaltOffset = PageHeaderSize

// headerPlaintextSize is the span of page 0 that ReadAt/WriteAt leave
// untouched: the common page header plus the salt. It has to stay readable
// before the key can even be derived, so it is never run through the
// cipher. 48 is a multiple of aes.BlockSize, so the ciphertext region that
// follows still starts on a block boundary.
const headerPlaintextSize = PageHeaderSize + saltSize

func (e *encryptedFile) pageIV(pageID int64) []byte {
	iv := make([]byte, aes.BlockSize)
	for i := 0; i < 8 && i < aes.BlockSize; i++ {
		iv[i] = e.salt[i] ^ byte(pageID>>(8*i))
	}
	return iv
}

// ReadAt decrypts one page-aligned block. duskdb always reads/writes whole
// pages, so off is always a multiple of PageSize. Page 0's leading
// headerPlaintextSize bytes (common header + salt) pass through untouched;
// the rest of that page, and every other page in full, is AES-CBC
// ciphertext.
func (e *encryptedFile) ReadAt(p []byte, off int64) (int, error) {
	raw := make([]byte, len(p))
	n, err := e.f.ReadAt(raw, off)
	if err != nil && err != io.EOF {
		return n, err
	}
	if n == 0 {
		return n, err
	}
	pageID := off / PageSize
	start := 0
	if pageID == 0 {
		start = headerPlaintextSize
	}
	if start < n {
		region := raw[start:n]
		mode := cipher.NewCBCDecrypter(e.block, e.pageIV(pageID))
		aligned := len(region) - (len(region) % aes.BlockSize)
		if aligned > 0 {
			mode.CryptBlocks(region[:aligned], region[:aligned])
		}
	}
	copy(p, raw)
	return n, err
}

func (e *encryptedFile) WriteAt(p []byte, off int64) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	pageID := off / PageSize
	start := 0
	if pageID == 0 {
		start = headerPlaintextSize
	}
	if start < len(buf) {
		region := buf[start:]
		mode := cipher.NewCBCEncrypter(e.block, e.pageIV(pageID))
		aligned := len(region) - (len(region) % aes.BlockSize)
		if aligned > 0 {
			mode.CryptBlocks(region[:aligned], region[:aligned])
		}
	}
	return e.f.WriteAt(buf, off)
}

func (e *encryptedFile) Sync() error                { return e.f.Sync() }
func (e *encryptedFile) Close() error                { return e.f.Close() }
func (e *encryptedFile) Stat() (os.FileInfo, error)  { return e.f.Stat() }
