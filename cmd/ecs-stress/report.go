package main

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"text/template"
	"time"
)

type Report struct {
	Duration time.Duration
	Entities int
	Churn    int
	Systems  int

	TotalUpdates   int64
	TotalTime      time.Duration
	FinalEntities  int
	FrameTimes     FrameStats
	GCPauseMetrics bool
	MemStart       runtime.MemStats
	MemEnd         runtime.MemStats
}

// FrameStats summarizes per-frame update durations.
type FrameStats struct {
	Min, Max, Avg time.Duration
	P50, P99      time.Duration
	Samples       []time.Duration
}

// Finalize sorts the samples and fills in the summary fields.
func (s *FrameStats) Finalize() {
	if len(s.Samples) == 0 {
		return
	}
	sort.Slice(s.Samples, func(i, j int) bool { return s.Samples[i] < s.Samples[j] })

	s.Min = s.Samples[0]
	s.Max = s.Samples[len(s.Samples)-1]
	s.P50 = s.Samples[len(s.Samples)/2]
	s.P99 = s.Samples[len(s.Samples)*99/100]

	var total time.Duration
	for _, sample := range s.Samples {
		total += sample
	}
	s.Avg = total / time.Duration(len(s.Samples))
}

const reportTemplate = `Frame Engine Stress Report
==========================

Configuration
  run duration        {{.Duration}}
  initial entities    {{.Entities}}
  churn per frame     {{.Churn}}
  registered systems  {{.Systems}}

Frame loop
  updates             {{.TotalUpdates}}
  wall time           {{.TotalTime}}
  entities at exit    {{.FinalEntities}}
  frame time          avg {{.FrameTimes.Avg}}  p50 {{.FrameTimes.P50}}  p99 {{.FrameTimes.P99}}
                      min {{.FrameTimes.Min}}  max {{.FrameTimes.Max}}

Memory
  heap alloc          {{mb .MemStart.HeapAlloc}} -> {{mb .MemEnd.HeapAlloc}}
  cumulative alloc    {{mb .MemStart.TotalAlloc}} -> {{mb .MemEnd.TotalAlloc}} (+{{delta .MemEnd.TotalAlloc .MemStart.TotalAlloc}})
  sys                 {{mb .MemStart.Sys}} -> {{mb .MemEnd.Sys}}
  gc cycles           {{sub32 .MemEnd.NumGC .MemStart.NumGC}}
{{- if .GCPauseMetrics}}
  gc pause total      {{ns .MemEnd.PauseTotalNs}}
{{- end}}
`

func (r *Report) Generate(w io.Writer) error {
	fm := template.FuncMap{
		"mb":    func(v uint64) string { return fmt.Sprintf("%.2f MB", float64(v)/(1<<20)) },
		"delta": func(a, b uint64) string { return fmt.Sprintf("%.2f MB", float64(int64(a)-int64(b))/(1<<20)) },
		"sub32": func(a, b uint32) uint32 { return a - b },
		"ns":    func(v uint64) string { return time.Duration(v).String() },
	}

	tmpl, err := template.New("report").Funcs(fm).Parse(reportTemplate)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, r)
}
