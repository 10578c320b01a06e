package waterfall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/rtest"
)

func TestBuildTreeWalksFilesAndDirs(t *testing.T) {
	root := rtest.TempDir(t)

	rtest.OK(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	rtest.OK(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aaa"), 0644))
	rtest.OK(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bb"), 0644))

	nodes, err := BuildTree(root, false)
	rtest.OK(t, err)

	byPath := make(map[string]TreeNode)
	for _, n := range nodes {
		byPath[n.RelPath] = n
	}

	a, ok := byPath["a.txt"]
	rtest.Assert(t, ok, "expected a.txt in tree")
	rtest.Assert(t, !a.IsDir, "a.txt should not be a directory")

	sub, ok := byPath["sub"]
	rtest.Assert(t, ok, "expected sub in tree")
	rtest.Assert(t, sub.IsDir, "sub should be a directory")

	b, ok := byPath[filepath.ToSlash(filepath.Join("sub", "b.txt"))]
	rtest.Assert(t, ok, "expected sub/b.txt in tree")
	rtest.Assert(t, !b.IsDir, "sub/b.txt should not be a directory")
}

func TestApplyFileRangesAssignsContiguousOffsets(t *testing.T) {
	nodes := []TreeNode{
		{RelPath: "dir", IsDir: true},
		{RelPath: "a.txt"},
		{RelPath: "b.txt"},
	}

	sizes := map[string]int64{"a.txt": 10, "b.txt": 25}
	total, err := ApplyFileRanges(nodes, func(rel string) (int64, error) { return sizes[rel], nil })
	rtest.OK(t, err)

	rtest.Equals(t, int64(35), total)
	rtest.Equals(t, chunked.ByteRange{Lo: 0, Hi: 0}, nodes[0].Range)
	rtest.Equals(t, chunked.ByteRange{Lo: 0, Hi: 10}, nodes[1].Range)
	rtest.Equals(t, chunked.ByteRange{Lo: 10, Hi: 35}, nodes[2].Range)
}
