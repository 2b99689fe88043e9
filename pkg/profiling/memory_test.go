package profiling

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestNewMemoryMonitor(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{}, nil)
	if monitor.config.MaxSamples != DefaultMonitorConfig().MaxSamples {
		t.Errorf("MaxSamples = %d, want default", monitor.config.MaxSamples)
	}
	if monitor.config.SampleInterval != DefaultMonitorConfig().SampleInterval {
		t.Errorf("SampleInterval = %v, want default", monitor.config.SampleInterval)
	}
}

func TestMemoryMonitor_SampleHistoryIsBounded(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{MaxSamples: 3}, nil)
	for i := 0; i < 5; i++ {
		monitor.Sample()
	}

	samples := monitor.GetSamples()
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp.Before(samples[i-1].Timestamp) {
			t.Errorf("samples out of order at %d", i)
		}
	}

	stats := monitor.GetMemoryStats()
	if stats.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", stats.SampleCount)
	}
	if stats.PeakHeap < stats.Current.HeapAlloc {
		t.Errorf("PeakHeap %d below current heap %d", stats.PeakHeap, stats.Current.HeapAlloc)
	}
}

func TestMemoryMonitor_Alerts(t *testing.T) {
	tests := []struct {
		name   string
		config MonitorConfig
		want   string
	}{
		{name: "heap", config: MonitorConfig{HeapLimitBytes: 1}, want: AlertHeapSize},
		{name: "goroutines", config: MonitorConfig{GoroutineLimit: 1}, want: AlertGoroutineCount},
		{name: "disabled", config: MonitorConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewMemoryMonitor(tt.config, nil)
			var (
				mu  sync.Mutex
				got []string
			)
			monitor.AddAlertCallback(func(a Alert) {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, a.Type)
			})

			// the test binary itself runs more than one goroutine
			done := make(chan struct{})
			go func() { <-done }()
			defer close(done)

			monitor.Sample()

			mu.Lock()
			defer mu.Unlock()
			if tt.want == "" {
				if len(got) != 0 {
					t.Errorf("alerts = %v, want none", got)
				}
				return
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("alerts = %v, want [%s]", got, tt.want)
			}
			if monitor.GetMemoryStats().Alerts != 1 {
				t.Errorf("Alerts = %d, want 1", monitor.GetMemoryStats().Alerts)
			}
		})
	}
}

func TestMemoryMonitor_Handler(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{}, nil)
	monitor.Sample()
	srv := httptest.NewServer(monitor.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/memory/stats")
	if err != nil {
		t.Fatal(err)
	}
	var stats MemoryStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	resp.Body.Close()
	if stats.SampleCount != 1 || stats.Current.HeapAlloc == 0 {
		t.Errorf("stats = %+v", stats)
	}

	resp, err = http.Post(srv.URL+"/memory/gc", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST /memory/gc = %d", resp.StatusCode)
	}
	if n := len(monitor.GetSamples()); n != 2 {
		t.Errorf("samples after gc = %d, want 2", n)
	}

	resp, err = http.Get(srv.URL + "/debug/pprof/goroutine?debug=1")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "goroutine profile") {
		t.Errorf("goroutine profile = %d", resp.StatusCode)
	}
}

func TestMemoryMonitor_StartStop(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{
		Address:        "127.0.0.1:0",
		SampleInterval: 10 * time.Millisecond,
	}, nil)

	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp, err := http.Get("http://" + monitor.Addr().String() + "/memory/samples")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /memory/samples = %d", resp.StatusCode)
	}

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := monitor.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if n := len(monitor.GetSamples()); n < 2 {
		t.Errorf("samples = %d, want periodic samples", n)
	}
}
