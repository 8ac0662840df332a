package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
)

var eventHeaders = []string{"ID", "TYPE", "TIME", "STEP", "PROGRESS"}

func eventRows(events []domain.Event) [][]string {
	rows := make([][]string, len(events))
	for i, e := range events {
		step, _ := e.Payload["step_id"].(string)
		var progress string
		if e.Snapshot != nil {
			progress = strconv.Itoa(e.Snapshot.Progress) + "%"
		}
		rows[i] = []string{strconv.FormatInt(e.ID, 10), string(e.Type), formatTime(e.Timestamp), step, progress}
	}
	return rows
}

// parseKeyValues turns KEY=VALUE pairs into a data map
func parseKeyValues(pairs []string) (map[string]any, error) {
	data := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid data format %q, expected KEY=VALUE", kv)
		}
		data[key] = value
	}
	return data, nil
}

func cloneData(data map[string]any) map[string]any {
	out := maps.Clone(data)
	if out == nil {
		out = make(map[string]any)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.DateTime)
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
