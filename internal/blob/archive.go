package blob

import (
	"archive/tar"
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/localnerve/jam-build-sitehost/internal/types"
)

// Tree is an extracted asset tree: clean relative path -> file bytes.
type Tree map[string][]byte

// Archive payloads are either gzip-compressed tar, plain tar, or a raw
// single document. Detection is by content, not filename: publishers
// upload bytes, never paths.
func isGzip(content []byte) bool {
	return len(content) >= 2 && content[0] == 0x1f && content[1] == 0x8b
}

func isTar(content []byte) bool {
	// "ustar" magic at offset 257 per the tar header layout.
	return len(content) >= 263 && string(content[257:262]) == "ustar"
}

// ExtractArchive validates an uploaded payload and returns its asset tree.
// All validation happens here, before any persistence: an invalid payload
// is rejected without side effects.
//
// Rules:
//   - payload must be non-empty and, when maxBytes > 0, the extracted size
//     must stay within maxBytes
//   - tar entries must be regular files or directories with safe relative
//     paths (no absolute paths, no "..", no links)
//   - a single shared top-level directory is stripped, matching how site
//     build tools archive their output directory
//   - the index document must be present at the tree root
//
// A payload that is neither gzip nor tar is treated as a raw single
// document stored under indexDoc.
func ExtractArchive(content []byte, maxBytes int64, indexDoc string) (Tree, error) {
	if len(content) == 0 {
		return nil, types.InvalidArchive("content is empty")
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return nil, types.InvalidArchive("payload exceeds size limit")
	}

	var reader io.Reader = bytes.NewReader(content)
	if isGzip(content) {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, types.InvalidArchive("malformed gzip stream")
		}
		defer gz.Close()
		reader = gz
	} else if !isTar(content) {
		// Raw single document publish.
		return Tree{indexDoc: content}, nil
	}

	tree, err := extractTar(reader, maxBytes)
	if err != nil {
		return nil, err
	}

	tree = stripTopLevel(tree)

	if _, ok := tree[indexDoc]; !ok {
		return nil, types.InvalidArchive("no " + indexDoc + " found in archive")
	}

	return tree, nil
}

func extractTar(r io.Reader, maxBytes int64) (Tree, error) {
	tree := make(Tree)
	tr := tar.NewReader(r)
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, types.InvalidArchive("malformed tar archive")
		}

		name, err := safeEntryName(hdr.Name)
		if err != nil {
			return nil, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
			// fall through to read
		default:
			// Links and special files can escape the tree root on
			// extraction, reject the whole archive.
			return nil, types.InvalidArchive("unsupported entry type for " + hdr.Name)
		}
		if name == "" {
			continue
		}

		total += hdr.Size
		if maxBytes > 0 && total > maxBytes {
			return nil, types.InvalidArchive("extracted content exceeds size limit")
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, types.InvalidArchive("truncated tar entry " + hdr.Name)
		}
		tree[name] = data
	}

	if len(tree) == 0 {
		return nil, types.InvalidArchive("archive contains no files")
	}

	return tree, nil
}

// safeEntryName normalizes a tar entry name and rejects anything that could
// resolve outside the tree root.
func safeEntryName(name string) (string, error) {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return "", types.InvalidArchive("absolute entry path " + name)
	}
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", types.InvalidArchive("traversal-unsafe entry " + name)
	}
	clean = strings.TrimPrefix(clean, "./")
	return clean, nil
}

// stripTopLevel removes a single shared top-level directory, so archives of
// the form site/index.html, site/css/app.css serve from the root.
func stripTopLevel(tree Tree) Tree {
	var top string
	for name := range tree {
		i := strings.IndexByte(name, '/')
		if i < 0 {
			return tree
		}
		dir := name[:i]
		if top == "" {
			top = dir
		} else if dir != top {
			return tree
		}
	}
	if top == "" {
		return tree
	}

	stripped := make(Tree, len(tree))
	for name, data := range tree {
		stripped[name[len(top)+1:]] = data
	}
	return stripped
}
