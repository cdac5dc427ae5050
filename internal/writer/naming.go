package writer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retailpulse/harvester/internal/pipeline"
)

// Namer builds sink object names in the production layout:
//
//	<prefix>/<YYYY-MM-DD>-<quarter>/<contentHash>-<uuid>.jsonl
//
// where quarter splits the UTC day into four 6-hour windows. First-seen
// records land under the retailer's daily-unseen dataset, already-seen
// records under the shared daily-pricing prefix.
type Namer struct {
	Retailer     string
	SeenPrefix   string
	UnseenPrefix string
}

// Name implements pipeline.NameFunc.
func (n Namer) Name(kind pipeline.PartitionKind, now time.Time, contentHash string) string {
	prefix := n.SeenPrefix
	if prefix == "" {
		prefix = "daily_pricing"
	}
	if kind == pipeline.PartitionFirstSeen {
		if n.UnseenPrefix != "" {
			prefix = n.UnseenPrefix
		} else {
			prefix = fmt.Sprintf("datasets/%s_daily_unseen", strings.ToLower(n.Retailer))
		}
	}
	folder := fmt.Sprintf("%s-%s", now.UTC().Format("2006-01-02"), quarterOfDay(now.UTC()))
	return fmt.Sprintf("%s/%s/%s-%s.jsonl", prefix, folder, contentHash, uuid.NewString())
}

// quarterOfDay maps the UTC hour onto one of four daily windows:
// 1: 00-05, 2: 06-11, 3: 12-17, 4: 18-23.
func quarterOfDay(now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 6:
		return "1"
	case hour < 12:
		return "2"
	case hour < 18:
		return "3"
	default:
		return "4"
	}
}
