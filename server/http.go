// server/http.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"encoding/json"
	"math"
	"net/http"
	"runtime"
	"text/template"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.coord.State()); err != nil {
		s.lg.Warnf("encode state: %v", err)
	}
}

func (s *Server) transmissionsHandler(w http.ResponseWriter, r *http.Request) {
	st := s.coord.State()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st.History); err != nil {
		s.lg.Warnf("encode transmissions: %v", err)
	}
}

///////////////////////////////////////////////////////////////////////////
// Status / statistics via HTTP...

type serverStats struct {
	Uptime           time.Duration
	AllocMemory      uint64
	TotalAllocMemory uint64
	SysMemory        uint64
	NumGC            uint32
	NumGoRoutines    int
	CPUUsage         int

	Connection string
	PlayingID  string
	QueueLen   int
	HistoryLen int
	Clients    int
}

var statsTemplate = template.Must(template.New("").Parse(`
<!DOCTYPE html>
<html>
<head>
<title>airband</title>
</head>
<style>
table {
  border-collapse: collapse;
  width: 100%;
}

th, td {
  border: 1px solid #dddddd;
  padding: 8px;
  text-align: left;
}

tr:nth-child(even) {
  background-color: #f2f2f2;
}
</style>
<body>
<h1>Server Status</h1>
<ul>
  <li>Uptime: {{.Uptime}}</li>
  <li>CPU usage: {{.CPUUsage}}%</li>
  <li>Allocated memory: {{.AllocMemory}} MB</li>
  <li>Total allocated memory: {{.TotalAllocMemory}} MB</li>
  <li>System memory: {{.SysMemory}} MB</li>
  <li>Garbage collection passes: {{.NumGC}}</li>
  <li>Running goroutines: {{.NumGoRoutines}}</li>
</ul>

<h1>Coordinator Status</h1>
<table>
  <tr>
  <th>Feed</th>
  <th>Playing</th>
  <th>Queued</th>
  <th>Recent</th>
  <th>Clients</th>
  </tr>
  <tr>
  <td>{{.Connection}}</td>
  <td><tt>{{.PlayingID}}</tt></td>
  <td>{{.QueueLen}}</td>
  <td>{{.HistoryLen}}</td>
  <td>{{.Clients}}</td>
  </tr>
</table>

</body>
</html>
`))

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usage, _ := cpu.Percent(time.Second, false)
	var cpuPct int
	if len(usage) > 0 {
		cpuPct = int(math.Round(usage[0]))
	}

	st := s.coord.State()

	stats := serverStats{
		Uptime:           time.Since(s.startTime).Round(time.Second),
		AllocMemory:      m.Alloc / (1024 * 1024),
		TotalAllocMemory: m.TotalAlloc / (1024 * 1024),
		SysMemory:        m.Sys / (1024 * 1024),
		NumGC:            m.NumGC,
		NumGoRoutines:    runtime.NumGoroutine(),
		CPUUsage:         cpuPct,

		Connection: st.Connection.State.String(),
		PlayingID:  st.PlayingID,
		QueueLen:   len(st.Queue),
		HistoryLen: len(st.History),
		Clients:    s.hub.clientCount(),
	}

	statsTemplate.Execute(w, stats)
}
