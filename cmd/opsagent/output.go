package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"opsagent/internal/domain"
	"opsagent/internal/infra/cloud"
)

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printAgentResult(w io.Writer, result domain.AgentResult, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, result)
	}
	fmt.Fprintln(w, result.Answer)
	fmt.Fprintf(w, "\noutcome=%s iterations=%d tool_calls=%d duration=%s\n",
		result.Outcome, result.Iterations, result.ToolCalls, result.Duration.Round(time.Millisecond))
	return nil
}

func printSyncResults(w io.Writer, results []cloud.SyncResult, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, results)
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s resources=%d billing=%d invalidated=%d\n",
			r.AccountID, r.Resources, r.BillingRecords, r.Invalidated)
	}
	return nil
}

func printStats(w io.Writer, stats domain.UsageStats, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "total=%d successes=%d failures=%d success_rate=%.2f avg=%s\n",
		stats.Total, stats.Successes, stats.Failures, stats.SuccessRate, stats.AvgDuration.Round(time.Microsecond))
	for _, top := range stats.TopTools {
		fmt.Fprintf(w, "  %s/%s %d\n", top.Registry, top.Name, top.Count)
	}
	for _, failure := range stats.RecentErrors {
		fmt.Fprintf(w, "  error %s %s/%s: %s\n", failure.Timestamp.Format(time.RFC3339), failure.Registry, failure.ToolName, failure.Error)
	}
	return nil
}

func printTools(w io.Writer, tools []domain.ToolDefinition, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, tools)
	}
	for _, tool := range tools {
		fmt.Fprintf(w, "%-16s %s\n", tool.Name, tool.Description)
	}
	return nil
}
