package report

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/models"
)

var base = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func sampleRecords() []models.SessionRecord {
	return []models.SessionRecord{
		{Timestamp: base, Temperature: 20, Humidity: 40, Speed: 10, Remaining: 30},
		{Timestamp: base.Add(time.Second), Temperature: 24, Humidity: 50, Speed: 30, Remaining: 29},
		{Timestamp: base.Add(2 * time.Second), Temperature: 22, Humidity: 45, Speed: 20, Remaining: 28},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRecords())

	require.False(t, s.Empty())
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, base, s.Start)
	assert.Equal(t, base.Add(2*time.Second), s.End)
	require.Len(t, s.Metrics, 4)

	temp, ok := s.Metric(MetricTemperature)
	require.True(t, ok)
	assert.Equal(t, 20.0, temp.Min)
	assert.Equal(t, 24.0, temp.Max)
	assert.InDelta(t, 22.0, temp.Mean, 1e-9)

	speed, ok := s.Metric(MetricSpeed)
	require.True(t, ok)
	assert.Equal(t, 10.0, speed.Min)
	assert.Equal(t, 30.0, speed.Max)
	assert.InDelta(t, 20.0, speed.Mean, 1e-9)

	rem, _ := s.Metric(MetricRemaining)
	assert.Equal(t, 28.0, rem.Min)
	assert.Equal(t, 30.0, rem.Max)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.True(t, s.Empty())
	assert.Empty(t, s.Metrics)
	_, ok := s.Metric(MetricHumidity)
	assert.False(t, ok)
}

func TestRenderPDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPDF(&buf, sampleRecords(), base))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestRenderPDFEmptySession(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPDF(&buf, nil, base))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestRenderPDFManyRecords(t *testing.T) {
	records := make([]models.SessionRecord, 0, 120)
	for i := 0; i < 120; i++ {
		records = append(records, models.SessionRecord{
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Temperature: 20 + float64(i%7),
			Humidity:    40,
			Speed:       i % 100,
			Remaining:   120 - i,
		})
	}
	var buf bytes.Buffer
	require.NoError(t, RenderPDF(&buf, records, base))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestStoreRemovesAfterRetention(t *testing.T) {
	fake := clock.NewFake(base)
	store, err := NewStore(t.TempDir(), time.Minute, fake, nil)
	require.NoError(t, err)

	art, err := store.Write(sampleRecords(), base)
	require.NoError(t, err)
	assert.Equal(t, "aerospin_report_20260314_093000.pdf", art.Filename)
	assert.FileExists(t, art.Path)
	assert.Equal(t, 1, store.Pending())

	fake.Advance(59 * time.Second)
	assert.FileExists(t, art.Path, "deletion is scheduled, not immediate")

	fake.Advance(time.Second)
	assert.NoFileExists(t, art.Path)
	assert.Zero(t, store.Pending())
}

func TestStoreCloseRemovesPending(t *testing.T) {
	fake := clock.NewFake(base)
	store, err := NewStore(t.TempDir(), time.Hour, fake, nil)
	require.NoError(t, err)

	a, err := store.Write(sampleRecords(), base)
	require.NoError(t, err)
	b, err := store.Write(nil, base)
	require.NoError(t, err)
	assert.NotEqual(t, a.Path, b.Path)

	require.NoError(t, store.Close())
	_, err = os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err))
	assert.NoFileExists(t, b.Path)
	assert.Zero(t, fake.Pending())

	_, err = store.Write(nil, base)
	assert.Error(t, err)
}
