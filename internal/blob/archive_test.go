package blob

import (
	"archive/tar"
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/localnerve/jam-build-sitehost/internal/types"
)

// makeTar builds an in-memory tar archive, optionally gzip-compressed.
func makeTar(t *testing.T, files map[string]string, gz bool) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}); err != nil {
			t.Fatalf("Failed to write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write tar entry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close tar writer: %v", err)
	}

	if !gz {
		return buf.Bytes()
	}

	var gzBuf bytes.Buffer
	gzw := gzip.NewWriter(&gzBuf)
	if _, err := gzw.Write(buf.Bytes()); err != nil {
		t.Fatalf("Failed to gzip archive: %v", err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatalf("Failed to close gzip writer: %v", err)
	}
	return gzBuf.Bytes()
}

func TestExtractArchivePlainTar(t *testing.T) {
	archive := makeTar(t, map[string]string{
		"index.html":  "<html>home</html>",
		"css/app.css": "body{}",
	}, false)

	tree, err := ExtractArchive(archive, 0, "index.html")
	if err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}
	if len(tree) != 2 {
		t.Errorf("Expected 2 files, got %d", len(tree))
	}
	if string(tree["css/app.css"]) != "body{}" {
		t.Errorf("Unexpected css content: %q", tree["css/app.css"])
	}
}

func TestExtractArchiveStripsTopLevel(t *testing.T) {
	archive := makeTar(t, map[string]string{
		"site/index.html":  "<html></html>",
		"site/css/app.css": "body{}",
	}, true)

	tree, err := ExtractArchive(archive, 0, "index.html")
	if err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}
	if _, ok := tree["index.html"]; !ok {
		t.Error("Expected top-level directory to be stripped")
	}
	if _, ok := tree["css/app.css"]; !ok {
		t.Error("Expected css/app.css after stripping")
	}
}

func TestExtractArchiveMixedTopLevelKept(t *testing.T) {
	archive := makeTar(t, map[string]string{
		"index.html":      "<html></html>",
		"assets/app.js":   "console.log(1)",
		"assets/app.css":  "body{}",
	}, false)

	tree, err := ExtractArchive(archive, 0, "index.html")
	if err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}
	if _, ok := tree["assets/app.js"]; !ok {
		t.Error("Paths must be unchanged when there is no single top-level directory")
	}
}

func TestExtractArchiveRawDocument(t *testing.T) {
	tree, err := ExtractArchive([]byte("<html>raw</html>"), 0, "index.html")
	if err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}
	if string(tree["index.html"]) != "<html>raw</html>" {
		t.Errorf("Raw payload should be stored as the index document")
	}
}

func TestExtractArchiveEmpty(t *testing.T) {
	_, err := ExtractArchive(nil, 0, "index.html")
	if !types.IsCode(err, types.CodeInvalidArchive) {
		t.Errorf("Expected %s, got %v", types.CodeInvalidArchive, err)
	}
}

func TestExtractArchiveTraversalEntry(t *testing.T) {
	archive := makeTar(t, map[string]string{
		"index.html":   "<html></html>",
		"../evil.html": "pwned",
	}, false)

	_, err := ExtractArchive(archive, 0, "index.html")
	if !types.IsCode(err, types.CodeInvalidArchive) {
		t.Errorf("Expected %s for traversal entry, got %v", types.CodeInvalidArchive, err)
	}
}

func TestExtractArchiveSymlinkRejected(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "index.html",
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
	}); err != nil {
		t.Fatalf("Failed to write symlink header: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close tar writer: %v", err)
	}

	_, err := ExtractArchive(buf.Bytes(), 0, "index.html")
	if !types.IsCode(err, types.CodeInvalidArchive) {
		t.Errorf("Expected %s for symlink entry, got %v", types.CodeInvalidArchive, err)
	}
}

func TestExtractArchiveMissingIndex(t *testing.T) {
	archive := makeTar(t, map[string]string{"about.html": "<html></html>"}, false)

	_, err := ExtractArchive(archive, 0, "index.html")
	if !types.IsCode(err, types.CodeInvalidArchive) {
		t.Errorf("Expected %s for missing index, got %v", types.CodeInvalidArchive, err)
	}
}

func TestExtractArchiveSizeLimit(t *testing.T) {
	archive := makeTar(t, map[string]string{
		"index.html": string(bytes.Repeat([]byte("x"), 2048)),
	}, false)

	_, err := ExtractArchive(archive, 128, "index.html")
	if !types.IsCode(err, types.CodeInvalidArchive) {
		t.Errorf("Expected %s for oversize archive, got %v", types.CodeInvalidArchive, err)
	}
}
