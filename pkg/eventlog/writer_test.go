package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAppendsJSONL(t *testing.T) {
	logDir := t.TempDir()

	writer, err := NewWriter(logDir, 24)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	events := []*Event{
		{CycleID: "c1", Type: EventDispatch, TaskID: "RS-101-01", AgentRole: "research_agent"},
		{CycleID: "c1", Type: EventGateDecision, TaskID: "RS-101-01", Decision: "APPROVE"},
	}
	for _, event := range events {
		require.NoError(t, writer.Write(event))
	}

	path := filepath.Join(logDir, "events-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	var read []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		read = append(read, event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, read, 2)
	assert.Equal(t, EventDispatch, read[0].Type)
	assert.Equal(t, "APPROVE", read[1].Decision)
	assert.False(t, read[0].Timestamp.IsZero(), "timestamp is stamped on write")
}

func TestBucketLabel(t *testing.T) {
	noon := time.Date(2026, 3, 14, 13, 40, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-14", bucketLabel(noon, 24))
	assert.Equal(t, "2026-03-14T08", bucketLabel(noon, 8))
	assert.Equal(t, "2026-03-14T12", bucketLabel(noon, 6))
	assert.Equal(t, "2026-03-14T13", bucketLabel(noon, 1))

	midnight := time.Date(2026, 3, 14, 0, 5, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-14T00", bucketLabel(midnight, 8))
}

func TestWriterSubDailyRotationFileName(t *testing.T) {
	logDir := t.TempDir()

	writer, err := NewWriter(logDir, 6)
	require.NoError(t, err)
	require.NoError(t, writer.Write(&Event{CycleID: "c1", Type: EventCycleStart}))
	require.NoError(t, writer.Close())

	label := bucketLabel(time.Now().UTC(), 6)
	_, err = os.Stat(filepath.Join(logDir, "events-"+label+".jsonl"))
	assert.NoError(t, err, "events land in the current interval's file")
}

func TestWriterAppendsAcrossReopens(t *testing.T) {
	logDir := t.TempDir()

	writer, err := NewWriter(logDir, 24)
	require.NoError(t, err)
	require.NoError(t, writer.Write(&Event{CycleID: "c1", Type: EventCycleStart}))
	require.NoError(t, writer.Close())

	writer, err = NewWriter(logDir, 24)
	require.NoError(t, err)
	require.NoError(t, writer.Write(&Event{CycleID: "c2", Type: EventCycleStart}))
	require.NoError(t, writer.Close())

	path := filepath.Join(logDir, "events-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines, "reopening must append, not truncate")
}
