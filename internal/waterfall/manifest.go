// Package waterfall implements the manifest ("waterfall") and resume blob
// formats: the sidecar JSON document naming every container an upload
// produced, and the partial-manifest-plus-hash state an interrupted
// upload resumes from.
package waterfall

import (
	"encoding/json"
	"sort"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/container"
	"github.com/cascadefs/waterfall/internal/errors"
)

// Manifest is the on-disk sidecar naming every container a waterfall
// upload produced. Tree is nil for a single-file upload; when present, it
// replaces Filename as the description of what plaintext offsets mean.
type Manifest struct {
	Filename   string                `json:"filename"`
	Size       int64                 `json:"size"`
	Password   string                `json:"password"`
	Containers []container.Container `json:"containers"`
	Tree       []TreeNode            `json:"tree,omitempty"`
}

// SortContainers sorts Containers by bytes_range[0], as readers are
// required to before relying on contiguity.
func (m *Manifest) SortContainers() {
	sort.Slice(m.Containers, func(i, j int) bool {
		return m.Containers[i].Range.Lo < m.Containers[j].Range.Lo
	})
}

// Validate sorts Containers and checks that their bytes_range values
// partition [0, Size) with no gaps and no overlap.
func (m *Manifest) Validate() error {
	m.SortContainers()

	var cursor int64
	for _, c := range m.Containers {
		if c.Range.Lo != cursor {
			return errors.Errorf("waterfall: container gap or overlap at offset %d (container starts at %d)", cursor, c.Range.Lo)
		}
		cursor = c.Range.Hi
	}
	if cursor != m.Size {
		return errors.Errorf("waterfall: containers cover %d bytes, manifest size is %d", cursor, m.Size)
	}
	return nil
}

// Encode serializes the manifest as indented JSON.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal manifest")
	}
	return data, nil
}

// Decode parses a manifest. It does not call Validate; callers that need
// the partition invariant checked must call it explicitly.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal manifest")
	}
	return &m, nil
}

// Leaves returns the manifest's containers as chunked.Leaf values sorted
// by offset, ready for a chunked.Concatenator — opening is left to the
// caller, since opening a container requires a transport and the
// password-derived key, neither of which this package knows about.
func (m *Manifest) Leaves(open func(container.Container) chunked.Leaf) []chunked.Leaf {
	m.SortContainers()
	leaves := make([]chunked.Leaf, len(m.Containers))
	for i, c := range m.Containers {
		leaves[i] = open(c)
	}
	return leaves
}
