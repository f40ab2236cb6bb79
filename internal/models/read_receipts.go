package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// ReadReceiptsCount is the number of distinct readers of a post.
type ReadReceiptsCount struct {
	Count int `json:"count"`
}

// UnmarshalJSON decodes the count leniently. A missing, null, negative or
// non-numeric count decodes as 0. Counts beyond math.MaxInt clamp to it.
func (r *ReadReceiptsCount) UnmarshalJSON(data []byte) error {
	var raw struct {
		Count json.RawMessage `json:"count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Count = parseCount(raw.Count)
	return nil
}

func parseCount(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		switch {
		case n < 0:
			return 0
		case int64(int(n)) != n:
			return math.MaxInt
		}
		return int(n)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	}
	return int(f)
}

// PostReaders lists the users who have read a post. Readers may be a strict
// prefix of the full reader set, in which case Truncated is true.
type PostReaders struct {
	Count     int           `json:"count"`
	Readers   []UserProfile `json:"readers"`
	Truncated bool          `json:"truncated"`
}
