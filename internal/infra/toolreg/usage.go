package toolreg

import (
	"sort"
	"sync"
	"time"

	"opsagent/internal/domain"
)

type usageLog struct {
	mu         sync.RWMutex
	records    []domain.ToolUsageRecord
	seq        uint64
	maxRecords int
}

func newUsageLog(maxRecords int) *usageLog {
	if maxRecords < 0 {
		maxRecords = 0
	}
	return &usageLog{maxRecords: maxRecords}
}

// append stamps the record with the next sequence number and stores it.
func (l *usageLog) append(record domain.ToolUsageRecord) domain.ToolUsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	record.Seq = l.seq
	l.records = append(l.records, record)
	if l.maxRecords > 0 && len(l.records) > l.maxRecords {
		trimmed := make([]domain.ToolUsageRecord, l.maxRecords)
		copy(trimmed, l.records[len(l.records)-l.maxRecords:])
		l.records = trimmed
	}
	return record
}

func (l *usageLog) snapshot() []domain.ToolUsageRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ToolUsageRecord, len(l.records))
	copy(out, l.records)
	return out
}

func summarize(records []domain.ToolUsageRecord, topN int) domain.UsageStats {
	if topN <= 0 {
		topN = domain.DefaultUsageTopN
	}
	stats := domain.UsageStats{
		TopTools:     []domain.ToolCount{},
		RecentErrors: []domain.ToolFailure{},
	}
	if len(records) == 0 {
		return stats
	}

	counts := make(map[string]int)
	var total time.Duration
	for _, record := range records {
		stats.Total++
		if record.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
		total += record.Duration
		counts[record.ToolName]++
	}
	stats.SuccessRate = float64(stats.Successes) / float64(stats.Total)
	stats.AvgDuration = total / time.Duration(stats.Total)

	registry := records[0].Registry
	for name, count := range counts {
		stats.TopTools = append(stats.TopTools, domain.ToolCount{Registry: registry, Name: name, Count: count})
	}
	SortToolCounts(stats.TopTools)
	if len(stats.TopTools) > topN {
		stats.TopTools = stats.TopTools[:topN]
	}

	for i := len(records) - 1; i >= 0 && len(stats.RecentErrors) < topN; i-- {
		record := records[i]
		if record.Success {
			continue
		}
		stats.RecentErrors = append(stats.RecentErrors, domain.ToolFailure{
			Registry:  record.Registry,
			ToolName:  record.ToolName,
			Error:     record.Error,
			Timestamp: record.Timestamp,
		})
	}
	return stats
}

// SortToolCounts orders by count descending, then registry and name.
func SortToolCounts(counts []domain.ToolCount) {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		if counts[i].Registry != counts[j].Registry {
			return counts[i].Registry < counts[j].Registry
		}
		return counts[i].Name < counts[j].Name
	})
}

// SortFailures orders newest first.
func SortFailures(failures []domain.ToolFailure) {
	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].Timestamp.After(failures[j].Timestamp)
	})
}

func filterRecords(records []domain.ToolUsageRecord, filter domain.UsageFilter) []domain.ToolUsageRecord {
	out := make([]domain.ToolUsageRecord, 0, len(records))
	for _, record := range records {
		if filter.ToolName != "" && record.ToolName != filter.ToolName {
			continue
		}
		if filter.Success != nil && record.Success != *filter.Success {
			continue
		}
		if !filter.Since.IsZero() && record.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, record)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}
