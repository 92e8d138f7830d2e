package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"echofield.ai/internal/sim/field"
	"echofield.ai/internal/transport/observer"
	"echofield.ai/internal/transport/ws"
)

type muxConfig struct {
	Field        *field.Field
	Index        runtimeIndex
	TuningDigest string
	EnableAdmin  bool
	EnablePprof  bool
	Logger       *log.Logger
}

func newMux(cfg muxConfig) (*http.ServeMux, error) {
	f := cfg.Field
	logger := cfg.Logger

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeFieldMetrics(rw, f.ID(), f.Metrics())
		if cfg.Index != nil {
			writeIndexMetrics(rw, f.ID(), cfg.Index)
		}
	})

	if cfg.EnableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			resp := struct {
				FieldID string             `json:"field_id"`
				Step    uint64             `json:"step"`
				Metrics field.FieldMetrics `json:"metrics"`
			}{
				FieldID: f.ID(),
				Metrics: f.Metrics(),
			}
			resp.Step = resp.Metrics.Step
			writeJSONResponse(rw, http.StatusOK, resp)
		})
		mux.HandleFunc("/admin/v1/report", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			rep, err := f.Report(ctx2)
			if err != nil {
				writeJSONResponse(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			writeJSONResponse(rw, http.StatusOK, rep)
		})
		mux.HandleFunc("/admin/v1/site", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			p, err := parsePos(r.URL.Query().Get("pos"))
			if err != nil {
				writeJSONResponse(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			st, err := f.SiteStatus(ctx2, p)
			if err != nil {
				writeJSONResponse(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			writeJSONResponse(rw, http.StatusOK, struct {
				field.SiteStatus
				Privilege float64 `json:"privilege"`
			}{st, st.Privilege()})
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			step, err := f.RequestSnapshot(ctx2)
			if err != nil {
				writeJSONResponse(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "step": step, "error": err.Error()})
				return
			}
			writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "step": step})
		})

		obsSrv := observer.NewServer(f, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else if logger != nil {
		logger.Printf("admin endpoints disabled (EF_ENABLE_ADMIN_HTTP=false)")
	}
	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	wsSrv, err := ws.NewServer(f, logger)
	if err != nil {
		return nil, err
	}
	wsSrv.TuningDigest = cfg.TuningDigest
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	return mux, nil
}

func writeFieldMetrics(w io.Writer, id string, m field.FieldMetrics) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(w, "# HELP echofield_step Completed steps.\n")
	fmt.Fprintf(w, "# TYPE echofield_step gauge\n")
	fmt.Fprintf(w, "echofield_step{field=%q} %d\n", id, m.Step)

	fmt.Fprintf(w, "# HELP echofield_total_energy Total energy packets on the lattice.\n")
	fmt.Fprintf(w, "# TYPE echofield_total_energy gauge\n")
	fmt.Fprintf(w, "echofield_total_energy{field=%q} %d\n", id, m.TotalEnergy)

	fmt.Fprintf(w, "# HELP echofield_hierarchy Latest hierarchy entry.\n")
	fmt.Fprintf(w, "# TYPE echofield_hierarchy gauge\n")
	fmt.Fprintf(w, "echofield_hierarchy{field=%q,metric=%q} %.6f\n", id, "gini", m.Gini)
	fmt.Fprintf(w, "echofield_hierarchy{field=%q,metric=%q} %.6f\n", id, "top_10_share", m.Top10Share)
	fmt.Fprintf(w, "echofield_hierarchy{field=%q,metric=%q} %.6f\n", id, "max_privilege", m.MaxPrivilege)
	fmt.Fprintf(w, "echofield_hierarchy{field=%q,metric=%q} %d\n", id, "active_sites", m.ActiveSites)

	fmt.Fprintf(w, "# HELP echofield_echo_len Buffered echo snapshots.\n")
	fmt.Fprintf(w, "# TYPE echofield_echo_len gauge\n")
	fmt.Fprintf(w, "echofield_echo_len{field=%q} %d\n", id, m.EchoLen)

	fmt.Fprintf(w, "# HELP echofield_events Governance events recorded.\n")
	fmt.Fprintf(w, "# TYPE echofield_events gauge\n")
	fmt.Fprintf(w, "echofield_events{field=%q} %d\n", id, m.Events)

	fmt.Fprintf(w, "# HELP echofield_observers Connected observer sessions.\n")
	fmt.Fprintf(w, "# TYPE echofield_observers gauge\n")
	fmt.Fprintf(w, "echofield_observers{field=%q} %d\n", id, m.Observers)

	fmt.Fprintf(w, "# HELP echofield_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(w, "# TYPE echofield_queue_depth gauge\n")
	fmt.Fprintf(w, "echofield_queue_depth{field=%q,queue=%q} %d\n", id, "inject", m.QueueDepths.Inject)
	fmt.Fprintf(w, "echofield_queue_depth{field=%q,queue=%q} %d\n", id, "intervene", m.QueueDepths.Intervene)

	fmt.Fprintf(w, "# HELP echofield_step_ms Last step duration in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE echofield_step_ms gauge\n")
	fmt.Fprintf(w, "echofield_step_ms{field=%q} %.3f\n", id, m.StepMS)

	fmt.Fprintf(w, "# HELP echofield_stats_window Rolling window stats.\n")
	fmt.Fprintf(w, "# TYPE echofield_stats_window gauge\n")
	fmt.Fprintf(w, "echofield_stats_window{field=%q,metric=%q} %d\n", id, "redistributions", m.StatsWindow.Redistributions)
	fmt.Fprintf(w, "echofield_stats_window{field=%q,metric=%q} %d\n", id, "shared_energy", m.StatsWindow.SharedEnergy)
	fmt.Fprintf(w, "echofield_stats_window{field=%q,metric=%q} %d\n", id, "injected_energy", m.StatsWindow.InjectedEnergy)
	fmt.Fprintf(w, "echofield_stats_window{field=%q,metric=%q} %d\n", id, "interventions", m.StatsWindow.Interventions)

	fmt.Fprintf(w, "# HELP echofield_stats_window_steps Rolling window size in steps.\n")
	fmt.Fprintf(w, "# TYPE echofield_stats_window_steps gauge\n")
	fmt.Fprintf(w, "echofield_stats_window_steps{field=%q} %d\n", id, m.StatsWindowSteps)
}

func writeIndexMetrics(w io.Writer, id string, idx runtimeIndex) {
	s := idx.Stats()
	fmt.Fprintf(w, "# HELP echofield_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(w, "# TYPE echofield_index_queue_depth gauge\n")
	fmt.Fprintf(w, "echofield_index_queue_depth{field=%q} %d\n", id, s.QueueDepth)

	fmt.Fprintf(w, "# HELP echofield_index_dropped_total Rows dropped because the index queue was full.\n")
	fmt.Fprintf(w, "# TYPE echofield_index_dropped_total counter\n")
	fmt.Fprintf(w, "echofield_index_dropped_total{field=%q,kind=%q} %d\n", id, "step", s.DropStepTotal)
	fmt.Fprintf(w, "echofield_index_dropped_total{field=%q,kind=%q} %d\n", id, "event", s.DropEventTotal)
	fmt.Fprintf(w, "echofield_index_dropped_total{field=%q,kind=%q} %d\n", id, "snapshot", s.DropSnapshotTotal)
	fmt.Fprintf(w, "echofield_index_dropped_total{field=%q,kind=%q} %d\n", id, "epoch", s.DropEpochTotal)
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// parsePos reads "x,y,z".
func parsePos(s string) (field.Pos, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return field.Pos{}, fmt.Errorf("pos must be x,y,z (got %q)", s)
	}
	var p field.Pos
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return field.Pos{}, fmt.Errorf("pos[%d]: %w", i, err)
		}
		p[i] = n
	}
	return p, nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
