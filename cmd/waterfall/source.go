package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/waterfall"
)

// fileSource is the chunked.RangeLazyOpen over a single plaintext file: a
// section reader per requested range, safe for concurrent workers since
// os.File.ReadAt has no shared cursor.
type fileSource struct {
	f *os.File
}

func (s *fileSource) OpenRange(r chunked.ByteRange) (io.Reader, error) {
	return io.NewSectionReader(s.f, r.Lo, r.Len()), nil
}

// treeLeaf adapts one tree node's open file into a chunked.Leaf over the
// node's slice of the tree's shared plaintext stream.
type treeLeaf struct {
	rng chunked.ByteRange
	f   *os.File
}

func (l *treeLeaf) Range() chunked.ByteRange { return l.rng }

func (l *treeLeaf) OpenRange(r chunked.ByteRange) (io.Reader, error) {
	local := chunked.ByteRange{Lo: r.Lo - l.rng.Lo, Hi: r.Hi - l.rng.Lo}
	return io.NewSectionReader(l.f, local.Lo, local.Len()), nil
}

// treeSource concatenates every regular file beneath a directory into one
// addressable plaintext stream, in the order BuildTree/ApplyFileRanges
// assigned ranges.
type treeSource struct {
	leaves []chunked.Leaf
	files  []*os.File
}

func (s *treeSource) OpenRange(r chunked.ByteRange) (io.Reader, error) {
	return chunked.NewConcatenator(s.leaves, r), nil
}

func (s *treeSource) Close() {
	for _, f := range s.files {
		f.Close()
	}
}

// openTreeSource walks root, opens every regular file beneath it, and
// returns the resulting tree nodes (with ranges assigned), the total
// stream size, and a RangeLazyOpen over the concatenation.
func openTreeSource(root string, captureXattrs bool) ([]waterfall.TreeNode, int64, *treeSource, error) {
	nodes, err := waterfall.BuildTree(root, captureXattrs)
	if err != nil {
		return nil, 0, nil, err
	}

	files := make(map[string]*os.File)
	size, err := waterfall.ApplyFileRanges(nodes, func(relPath string) (int64, error) {
		f, err := os.Open(filepath.Join(root, filepath.FromSlash(relPath)))
		if err != nil {
			return 0, errors.Wrap(err, "open tree file")
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, errors.Wrap(err, "stat tree file")
		}
		files[relPath] = f
		return info.Size(), nil
	})
	if err != nil {
		for _, f := range files {
			f.Close()
		}
		return nil, 0, nil, err
	}

	src := &treeSource{}
	for _, n := range nodes {
		if n.IsDir {
			continue
		}
		f := files[n.RelPath]
		src.leaves = append(src.leaves, &treeLeaf{rng: n.Range, f: f})
		src.files = append(src.files, f)
	}

	return nodes, size, src, nil
}
