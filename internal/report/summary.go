// Package report turns the records of a completed session into summary
// statistics and a downloadable PDF.
package report

import (
	"time"

	"aerospin-backend/internal/models"
)

// NoDataMessage is the placeholder shown for a session without records
const NoDataMessage = "No data collected during this session"

// Metric names in report order
const (
	MetricTemperature = "Temperature (°C)"
	MetricHumidity    = "Humidity (%)"
	MetricSpeed       = "Speed (%)"
	MetricRemaining   = "Time Remaining (s)"
)

// MetricSummary holds the aggregate of one metric over a session
type MetricSummary struct {
	Metric string  `json:"metric"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
}

// Summary is the statistical overview of a session
type Summary struct {
	Count   int             `json:"count"`
	Start   time.Time       `json:"start"`
	End     time.Time       `json:"end"`
	Metrics []MetricSummary `json:"metrics"`
}

// Empty reports whether the session had no records
func (s Summary) Empty() bool { return s.Count == 0 }

// Metric returns the summary for name
func (s Summary) Metric(name string) (MetricSummary, bool) {
	for _, m := range s.Metrics {
		if m.Metric == name {
			return m, true
		}
	}
	return MetricSummary{}, false
}

// Summarize computes min/max/mean per metric over exactly the given records
func Summarize(records []models.SessionRecord) Summary {
	if len(records) == 0 {
		return Summary{}
	}

	series := seriesOf(records)
	out := Summary{
		Count: len(records),
		Start: records[0].Timestamp,
		End:   records[len(records)-1].Timestamp,
	}
	for _, s := range series {
		out.Metrics = append(out.Metrics, aggregate(s.name, s.values))
	}
	return out
}

type series struct {
	name   string
	values []float64
}

func seriesOf(records []models.SessionRecord) []series {
	temps := make([]float64, len(records))
	hums := make([]float64, len(records))
	speeds := make([]float64, len(records))
	rems := make([]float64, len(records))
	for i, r := range records {
		temps[i] = r.Temperature
		hums[i] = r.Humidity
		speeds[i] = float64(r.Speed)
		rems[i] = float64(r.Remaining)
	}
	return []series{
		{MetricTemperature, temps},
		{MetricHumidity, hums},
		{MetricSpeed, speeds},
		{MetricRemaining, rems},
	}
}

func aggregate(name string, values []float64) MetricSummary {
	m := MetricSummary{Metric: name, Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		if v < m.Min {
			m.Min = v
		}
		if v > m.Max {
			m.Max = v
		}
		sum += v
	}
	m.Mean = sum / float64(len(values))
	return m
}
