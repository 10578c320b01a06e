// Package waterfallfs exposes a single waterfall manifest as a read-only
// FUSE filesystem: a single-file manifest mounts as a directory holding
// that one file, a
// directory-tree manifest mounts as the tree it was packed from. Every
// read is served by opening a fresh ranged window over the manifest's
// containers (internal/download), so browsing a mount never materializes
// the whole plaintext on disk or in memory.
package waterfallfs

import (
	"context"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/anacrolix/fuse"
	"github.com/anacrolix/fuse/fs"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/download"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/waterfall"
)

// FS is the mounted filesystem's root factory.
type FS struct {
	manifest *waterfall.Manifest
	opener   *download.ContainerOpener
}

// New builds a FS serving manifest's contents through opener.
func New(manifest *waterfall.Manifest, opener *download.ContainerOpener) *FS {
	return &FS{manifest: manifest, opener: opener}
}

// Root returns the mount's root node: a directory in tree mode, or a
// directory containing the single uploaded file otherwise.
func (f *FS) Root() (fs.Node, error) {
	if f.manifest.Tree != nil {
		return newTreeDir(f, "")[""], nil
	}

	root := &dirNode{fs: f, children: map[string]fs.Node{}}
	root.children[f.manifest.Filename] = &fileNode{fs: f, rng: chunked.ByteRange{Lo: 0, Hi: f.manifest.Size}}
	return root, nil
}

// dirNode is one directory in a mounted tree.
type dirNode struct {
	fs       *FS
	children map[string]fs.Node
}

func (d *dirNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0o555
	return nil
}

func (d *dirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	n, ok := d.children[name]
	if !ok {
		return nil, fuse.ENOENT
	}
	return n, nil
}

func (d *dirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	entries := make([]fuse.Dirent, 0, len(d.children))
	for name, n := range d.children {
		typ := fuse.DT_File
		if _, ok := n.(*dirNode); ok {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: name, Type: typ})
	}
	return entries, nil
}

// fileNode serves one file's plaintext range, read through the
// manifest's containers on demand.
type fileNode struct {
	fs  *FS
	rng chunked.ByteRange

	mu sync.Mutex
}

func (n *fileNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = 0o444
	a.Size = uint64(n.rng.Len())
	return nil
}

func (n *fileNode) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	lo := n.rng.Lo + req.Offset
	hi := lo + int64(req.Size)
	if hi > n.rng.Hi {
		hi = n.rng.Hi
	}
	if lo >= hi {
		resp.Data = nil
		return nil
	}

	r := n.fs.opener.OpenManifestRange(n.fs.manifest.Containers, chunked.ByteRange{Lo: lo, Hi: hi})
	buf := make([]byte, hi-lo)
	total := 0
	for total < len(buf) {
		read, err := r.Read(buf[total:])
		total += read
		if err != nil {
			if total == len(buf) {
				break
			}
			return errors.Wrap(err, "fuse read")
		}
	}
	resp.Data = buf[:total]
	return nil
}

// newTreeDir builds the directory node tree for manifest.Tree rooted at the
// mount root (its string argument is ignored), returning a map with a
// single "" key holding the root node —
// the one callers need, built bottom-up from TreeNode's flat, walk-order
// list.
func newTreeDir(f *FS, _ string) map[string]fs.Node {
	root := &dirNode{fs: f, children: map[string]fs.Node{}}
	dirs := map[string]*dirNode{"": root}

	// normalizeDir maps path.Dir's "." (no parent component) to the root
	// key "", so every directory below root resolves through the same
	// dirs table.
	normalizeDir := func(p string) string {
		d := path.Dir(p)
		if d == "." {
			return ""
		}
		return d
	}

	var dirFor func(relDir string) *dirNode
	dirFor = func(relDir string) *dirNode {
		if d, ok := dirs[relDir]; ok {
			return d
		}
		parent := dirFor(normalizeDir(relDir))
		d := &dirNode{fs: f, children: map[string]fs.Node{}}
		parent.children[path.Base(relDir)] = d
		dirs[relDir] = d
		return d
	}

	for _, node := range f.manifest.Tree {
		rel := strings.TrimSuffix(node.RelPath, "/")
		if node.IsDir {
			dirFor(rel)
			continue
		}

		parent := dirFor(normalizeDir(rel))
		parent.children[path.Base(rel)] = &fileNode{fs: f, rng: node.Range}
	}

	return map[string]fs.Node{"": root}
}
