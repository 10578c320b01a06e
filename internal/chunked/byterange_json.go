package chunked

import (
	"encoding/json"

	"github.com/cascadefs/waterfall/internal/errors"
)

// MarshalJSON encodes a ByteRange as the two-element array [lo, hi] used
// throughout the manifest format.
func (r ByteRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{r.Lo, r.Hi})
}

// UnmarshalJSON decodes a ByteRange from a two-element [lo, hi] array.
func (r *ByteRange) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.Wrap(err, "unmarshal bytes_range")
	}
	r.Lo, r.Hi = pair[0], pair[1]
	return nil
}
