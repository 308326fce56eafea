package analytics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// ContentType returns the MIME type of an export format.
func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Export writes snap to w in the given format.
func Export(w io.Writer, snap *model.AnalyticsSnapshot, format string) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, snap)
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	default:
		return apperr.Validation("unsupported export format %q", format)
	}
}

// writeCSV emits one row per metric as section,key,metric,value so the
// file stays flat enough for spreadsheets.
func writeCSV(w io.Writer, snap *model.AnalyticsSnapshot) error {
	cw := csv.NewWriter(w)
	row := func(section, key, metric string, value any) {
		_ = cw.Write([]string{section, key, metric, format(value)})
	}

	_ = cw.Write([]string{"section", "key", "metric", "value"})
	row("summary", "", "total_targets", snap.TotalTargets)
	row("summary", "", "contacted", snap.Contacted)
	row("summary", "", "converted", snap.Converted)
	row("summary", "", "total_sent", snap.TotalSent)
	row("summary", "", "total_delivered", snap.TotalDelivered)
	row("summary", "", "total_opened", snap.TotalOpened)
	row("summary", "", "total_replied", snap.TotalReplied)
	row("summary", "", "delivery_rate", snap.DeliveryRate)
	row("summary", "", "open_rate", snap.OpenRate)
	row("summary", "", "response_rate", snap.ResponseRate)
	row("summary", "", "conversion_rate", snap.ConversionRate)
	row("summary", "", "avg_messages_to_conversion", snap.AvgMessagesToConversion)

	channels := make([]string, 0, len(snap.ByChannel))
	for c := range snap.ByChannel {
		channels = append(channels, string(c))
	}
	sort.Strings(channels)
	for _, c := range channels {
		s := snap.ByChannel[model.Channel(c)]
		row("channel", c, "sent", s.Sent)
		row("channel", c, "delivered", s.Delivered)
		row("channel", c, "opened", s.Opened)
		row("channel", c, "replied", s.Replied)
		row("channel", c, "failed", s.Failed)
		row("channel", c, "bounced", s.Bounced)
		row("channel", c, "delivery_rate", s.Delivery)
		row("channel", c, "open_rate", s.Open)
		row("channel", c, "response_rate", s.Response)
		row("channel", c, "positive_rate", s.PositiveRate)
	}

	for _, label := range []model.SentimentLabel{model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative} {
		row("sentiment", string(label), "count", snap.SentimentDistribution[label])
	}

	for _, p := range snap.TimeSeries {
		row("daily", p.Date, "sent", p.Sent)
		row("daily", p.Date, "delivered", p.Delivered)
		row("daily", p.Date, "opened", p.Opened)
		row("daily", p.Date, "replied", p.Replied)
	}

	cw.Flush()
	return cw.Error()
}

func format(v any) string {
	switch v := v.(type) {
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', 4, 64)
	default:
		return fmt.Sprint(v)
	}
}
