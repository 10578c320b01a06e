package waterfall

import (
	"io/fs"
	"path/filepath"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/pkg/xattr"
)

// TreeNode is one entry of a directory-tree upload: a relative path, a
// flag for whether it's a directory, its mode bits, and — for files — the
// byte range it occupies within the single concatenated plaintext stream
// every file in the tree shares.
type TreeNode struct {
	RelPath string            `json:"rel_path"`
	IsDir   bool              `json:"is_dir"`
	Mode    uint32            `json:"mode"`
	Range   chunked.ByteRange `json:"range"`
	Xattrs  map[string][]byte `json:"xattrs,omitempty"`
}

// BuildTree walks root and returns a TreeNode for every entry beneath it
// in directory order, with Range left zeroed — call ApplyFileRanges once
// every file's size is known to assign the shared plaintext offsets.
func BuildTree(root string, captureXattrs bool) ([]TreeNode, error) {
	var nodes []TreeNode

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.Wrap(err, "relative path")
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		node := TreeNode{
			RelPath: filepath.ToSlash(rel),
			IsDir:   d.IsDir(),
			Mode:    uint32(info.Mode().Perm()),
		}

		if captureXattrs && !d.IsDir() {
			node.Xattrs = readXattrs(path)
		}

		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk tree")
	}

	return nodes, nil
}

// readXattrs best-effort reads every extended attribute on path. A
// filesystem with no xattr support, or a file with none set, yields nil
// rather than an error — xattr capture is an enrichment, not a
// requirement of tree mode.
func readXattrs(path string) map[string][]byte {
	names, err := xattr.List(path)
	if err != nil || len(names) == 0 {
		return nil
	}

	out := make(map[string][]byte, len(names))
	for _, name := range names {
		val, err := xattr.Get(path, name)
		if err != nil {
			continue
		}
		out[name] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ApplyFileRanges assigns contiguous byte ranges to every non-directory
// node, in node order, given each file's plaintext size from sizeOf. It
// returns the total size of the concatenated stream.
func ApplyFileRanges(nodes []TreeNode, sizeOf func(relPath string) (int64, error)) (int64, error) {
	var offset int64
	for i := range nodes {
		if nodes[i].IsDir {
			continue
		}
		size, err := sizeOf(nodes[i].RelPath)
		if err != nil {
			return 0, err
		}
		nodes[i].Range = chunked.ByteRange{Lo: offset, Hi: offset + size}
		offset += size
	}
	return offset, nil
}
