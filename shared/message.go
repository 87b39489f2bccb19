// Package shared holds the file-transfer exchange used by the demo client and server.
//
// Protocol, one object per step:
//
//	C -> send
//	S -> num (number of files)
//	C -> get
//	S -> one FileObject per file
//	C -> ok
//	S -> close
//	C -> closes the transport
package shared

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	TokenSend  = "send"
	TokenNum   = "num"
	TokenGet   = "get"
	TokenOK    = "ok"
	TokenClose = "close"
)

// ErrCorruptFile means a received file does not match its announced size or checksum.
var ErrCorruptFile = errors.New("file checksum mismatch")

// Control is a protocol token. Num is only set on TokenNum.
type Control struct {
	Token string `cbor:"1,keyasint"`
	Num   int    `cbor:"2,keyasint,omitempty"`
}

// FileObject is one file together with the size and MD5 the server computed.
type FileObject struct {
	Name     string `cbor:"1,keyasint"`
	Size     int    `cbor:"2,keyasint"`
	Checksum string `cbor:"3,keyasint"`
	Data     []byte `cbor:"4,keyasint"`
}

func NewFileObject(name string, data []byte) FileObject {
	return FileObject{
		Name:     name,
		Size:     len(data),
		Checksum: md5Hex(data),
		Data:     data,
	}
}

// Verify recomputes size and checksum.
func (f *FileObject) Verify() error {
	if len(f.Data) != f.Size {
		return fmt.Errorf("%w: %s is %d bytes, expected %d", ErrCorruptFile, f.Name, len(f.Data), f.Size)
	}
	if sum := md5Hex(f.Data); sum != f.Checksum {
		return fmt.Errorf("%w: %s has md5 %s, expected %s", ErrCorruptFile, f.Name, sum, f.Checksum)
	}
	return nil
}

// LoadObjects reads every regular file in dir, sorted by name. A "<name>.md5"
// sidecar is not served itself; when present it must match the file's digest.
func LoadObjects(dir string) ([]FileObject, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading object directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasSuffix(e.Name(), ".md5") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	objects := make([]FileObject, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading object %s: %w", name, err)
		}
		obj := NewFileObject(name, data)

		sidecar, err := os.ReadFile(filepath.Join(dir, name+".md5"))
		switch {
		case err == nil:
			if want := strings.TrimSpace(string(sidecar)); want != obj.Checksum {
				return nil, fmt.Errorf("%w: %s has md5 %s, sidecar says %s", ErrCorruptFile, name, obj.Checksum, want)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("reading checksum of %s: %w", name, err)
		}

		objects = append(objects, obj)
	}
	return objects, nil
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
