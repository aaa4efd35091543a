package registry

import (
	"archive/tar"
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/mentalsmash/uno/internal/keymaterial"
)

func readArchive(t *testing.T, archive []byte) map[string][]byte {
	t.Helper()
	zr, err := zstd.NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	out := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading tar entry %s: %v", hdr.Name, err)
		}
		out[hdr.Name] = data
	}
	return out
}

func TestBundleRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	var aID int
	for cid, c := range r.doc.Cells {
		if c.Name == "a" {
			aID = cid
		}
	}
	bundle, ok := r.Artifacts().Bundles[aID]
	if !ok {
		t.Fatal("no bundle for cell a")
	}

	files := readArchive(t, bundle.Archive)
	for _, name := range []string{bundleConfigEntry, bundleCertEntry, bundleKeyEntry, bundlePermsEntry} {
		if _, ok := files[name]; !ok {
			t.Fatalf("bundle missing entry %q", name)
		}
	}

	block, _ := pem.Decode(files[bundleCertEntry])
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatal("cert.pem did not decode to a CERTIFICATE block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parsing identity cert: %v", err)
	}

	keyBlock, _ := pem.Decode(files[bundleKeyEntry])
	if keyBlock == nil || keyBlock.Type != "EC PRIVATE KEY" {
		t.Fatal("key.pem did not decode to an EC PRIVATE KEY block")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		t.Fatalf("parsing identity key: %v", err)
	}

	var env keymaterial.Envelope
	if err := yaml.Unmarshal(files[bundleConfigEntry], &env); err != nil {
		t.Fatalf("unmarshaling envelope: %v", err)
	}
	plaintext, err := keymaterial.DecryptFile(key, &env)
	if err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(plaintext, &cfg); err != nil {
		t.Fatalf("unmarshaling agent config: %v", err)
	}
	if cfg.RegistryID != id.String() {
		t.Fatalf("cfg.RegistryID = %q, want %q", cfg.RegistryID, id.String())
	}
	if cfg.CellID != aID {
		t.Fatalf("cfg.CellID = %d, want %d", cfg.CellID, aID)
	}
	if len(cfg.Links) != 1 {
		t.Fatalf("len(cfg.Links) = %d, want 1 (cell a peers only with cell b)", len(cfg.Links))
	}
	if cert.Subject.CommonName != "a" {
		t.Fatalf("cert common name = %q, want %q", cert.Subject.CommonName, "a")
	}
}

func TestTarZstdIsDeterministicInEntryOrder(t *testing.T) {
	files := map[string][]byte{
		"b": []byte("2"),
		"a": []byte("1"),
		"c": []byte("3"),
	}
	archive1, err := tarZstd(files)
	if err != nil {
		t.Fatalf("tarZstd: %v", err)
	}
	archive2, err := tarZstd(files)
	if err != nil {
		t.Fatalf("tarZstd: %v", err)
	}
	got1 := readArchive(t, archive1)
	got2 := readArchive(t, archive2)
	if len(got1) != 3 || len(got2) != 3 {
		t.Fatalf("expected 3 entries, got %d and %d", len(got1), len(got2))
	}
	for name, data := range files {
		if string(got1[name]) != string(data) {
			t.Fatalf("entry %q = %q, want %q", name, got1[name], data)
		}
	}

	zr, err := zstd.NewReader(bytes.NewReader(archive1))
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	want := []string{"a", "b", "c"}
	for i := 0; ; i++ {
		hdr, err := tr.Next()
		if err == io.EOF {
			if i != len(want) {
				t.Fatalf("archive has %d entries, want %d", i, len(want))
			}
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		if i >= len(want) || hdr.Name != want[i] {
			t.Fatalf("entry %d = %q, want lexical order %v", i, hdr.Name, want)
		}
	}
}
