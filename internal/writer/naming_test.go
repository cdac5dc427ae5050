package writer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retailpulse/harvester/internal/pipeline"
)

func TestNamer_FirstSeenUsesRetailerDataset(t *testing.T) {
	t.Parallel()
	n := Namer{Retailer: "BigBox"}
	now := time.Date(2026, 8, 31, 3, 15, 0, 0, time.UTC)

	name := n.Name(pipeline.PartitionFirstSeen, now, "cafe01")
	require.True(t, strings.HasPrefix(name, "datasets/bigbox_daily_unseen/2026-08-31-1/cafe01-"), name)
	require.True(t, strings.HasSuffix(name, ".jsonl"))
}

func TestNamer_AlreadySeenUsesPricingPrefix(t *testing.T) {
	t.Parallel()
	n := Namer{Retailer: "BigBox"}
	now := time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC)

	name := n.Name(pipeline.PartitionAlreadySeen, now, "cafe01")
	require.True(t, strings.HasPrefix(name, "daily_pricing/2026-08-31-3/cafe01-"), name)
}

func TestNamer_ExplicitPrefixesWin(t *testing.T) {
	t.Parallel()
	n := Namer{Retailer: "BigBox", SeenPrefix: "seen/custom", UnseenPrefix: "unseen/custom"}
	now := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)

	require.True(t, strings.HasPrefix(n.Name(pipeline.PartitionFirstSeen, now, "h"), "unseen/custom/2026-08-31-4/"))
	require.True(t, strings.HasPrefix(n.Name(pipeline.PartitionAlreadySeen, now, "h"), "seen/custom/2026-08-31-4/"))
}

func TestNamer_NamesAreUnique(t *testing.T) {
	t.Parallel()
	n := Namer{Retailer: "BigBox"}
	now := time.Now()

	a := n.Name(pipeline.PartitionFirstSeen, now, "same")
	b := n.Name(pipeline.PartitionFirstSeen, now, "same")
	require.NotEqual(t, a, b)
}

func TestQuarterOfDay(t *testing.T) {
	t.Parallel()
	cases := []struct {
		hour int
		want string
	}{
		{0, "1"}, {5, "1"},
		{6, "2"}, {11, "2"},
		{12, "3"}, {17, "3"},
		{18, "4"}, {23, "4"},
	}
	for _, tc := range cases {
		now := time.Date(2026, 1, 2, tc.hour, 30, 0, 0, time.UTC)
		require.Equal(t, tc.want, quarterOfDay(now), "hour %d", tc.hour)
	}
}
