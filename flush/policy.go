package flush

import (
	"errors"
	"strconv"
	"strings"
)

var ErrUnknownPolicy = errors.New("unknown threshold policy")

// ThresholdPolicy maps a candidate rank and the sink's optimal batch size to
// the number of queued bytes a stream must exceed for the size trigger to
// fire. Implementations must not return a smaller threshold for a larger rank.
type ThresholdPolicy func(rank int, optimalBatchSizeBytes int64) int64

// ProportionalThreshold requires optimal*rank/(rank+1) bytes. Rank 0 accepts
// any non-empty stream and higher ranks approach the optimal batch size.
func ProportionalThreshold(rank int, optimalBatchSizeBytes int64) int64 {
	if rank <= 0 || optimalBatchSizeBytes <= 0 {
		return 0
	}
	return optimalBatchSizeBytes - optimalBatchSizeBytes/(int64(rank)+1)
}

// RankBytesThreshold uses the rank itself as the byte threshold.
func RankBytesThreshold(rank int, _ int64) int64 {
	if rank <= 0 {
		return 0
	}
	return int64(rank)
}

// FixedThreshold ignores rank and batch size.
func FixedThreshold(bytes int64) ThresholdPolicy {
	if bytes < 0 {
		bytes = 0
	}
	return func(int, int64) int64 {
		return bytes
	}
}

// ParsePolicy accepts "proportional", "rank" or "fixed:<bytes>".
func ParsePolicy(s string) (ThresholdPolicy, error) {
	switch s = strings.ToLower(s); {
	case s == "" || s == "proportional":
		return ProportionalThreshold, nil
	case s == "rank":
		return RankBytesThreshold, nil
	case strings.HasPrefix(s, "fixed:"):
		n, err := strconv.ParseInt(s[len("fixed:"):], 10, 64)
		if err != nil || n < 0 {
			return nil, ErrUnknownPolicy
		}
		return FixedThreshold(n), nil
	default:
		return nil, ErrUnknownPolicy
	}
}
