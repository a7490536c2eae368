package tui

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samaelod/reflow/audit"
	"github.com/samaelod/reflow/config"
	"github.com/samaelod/reflow/engine"
	"github.com/samaelod/reflow/flow"
	"github.com/samaelod/reflow/lua"
	"github.com/samaelod/reflow/netif"
	"github.com/samaelod/reflow/pcapreader"
	"github.com/samaelod/reflow/types"
)

// session is a reconstructed capture together with the session file that
// drives its replay.
type session struct {
	path    string
	capture string
	script  *lua.Script
	rec     *flow.Reconstructor
	stats   flow.Stats
}

func (s *session) Close() {
	if s != nil {
		s.script.Close()
	}
}

// loadSource opens a capture or a session file. A capture gets a generated
// session selecting all of its flows, saved under the recent directory.
func loadSource(cfg *config.Config, source sourceType, path string) (*session, error) {
	capture := path
	var sc *lua.Script

	if source == sourceLua {
		var err error
		sc, err = lua.Load(path)
		if err != nil {
			return nil, err
		}
		capture = sc.Session.Capture
		if capture == "" {
			sc.Close()
			return nil, &types.SetupError{Op: "load session", Path: path, Err: fmt.Errorf("session has no capture")}
		}
	} else if abs, err := filepath.Abs(path); err == nil {
		capture = abs
	}

	pkts, err := pcapreader.ReadPCAP(capture)
	if err != nil {
		sc.Close()
		return nil, err
	}
	rec := flow.NewReconstructor()
	stats := rec.Load(pkts)

	if sc == nil {
		s := lua.NewSession(capture, allKeys(rec.Store()))
		applyConfig(s, cfg)
		newPath, err := lua.SaveTo(cfg.RecentDir, s, capture)
		if err != nil {
			return nil, err
		}
		if sc, err = lua.Load(newPath); err != nil {
			return nil, err
		}
		path = newPath
	}

	return &session{path: path, capture: capture, script: sc, rec: rec, stats: stats}, nil
}

// saveSelection writes keys as a new session based on cur and loads it.
// Triggers do not carry over.
func saveSelection(cfg *config.Config, cur *session, keys []types.FlowKey) (*session, error) {
	s := lua.NewSession(cur.capture, keys)
	s.Globals = cur.script.Session.Globals
	s.Network = cur.script.Session.Network

	newPath, err := lua.SaveTo(cfg.RecentDir, s, cur.capture)
	if err != nil {
		return nil, err
	}
	sc, err := lua.Load(newPath)
	if err != nil {
		return nil, err
	}
	return &session{path: newPath, capture: cur.capture, script: sc, rec: cur.rec, stats: cur.stats}, nil
}

func applyConfig(s *types.Session, cfg *config.Config) {
	s.Globals.Delay = cfg.DelayMs
	if cfg.VerifyTimeoutMs > 0 {
		s.Globals.VerifyTimeout = cfg.VerifyTimeoutMs
	}
	s.Network.ClientIface = cfg.ClientIface
	s.Network.ServerIface = cfg.ServerIface
}

// allKeys returns every flow key, grouped by protocol and ordered by first
// capture sequence within each protocol.
func allKeys(st *flow.Store) []types.FlowKey {
	var keys []types.FlowKey
	for _, p := range types.Protocols {
		keys = append(keys, st.Keys(p)...)
	}
	return keys
}

func summarize(st flow.Stats) string {
	var parts []string
	for _, p := range types.Protocols {
		parts = append(parts, fmt.Sprintf("%s=%d", p, st.Buckets[p]))
	}
	return fmt.Sprintf("Loaded %d packets (%s): %d flows, %d flowless",
		st.Packets, strings.Join(parts, " "), st.Flows, st.Flowless)
}

// openInterfaces opens the replay interfaces named by the session, falling
// back to the application config.
func openInterfaces(cfg *config.Config, n types.Network) (client, server netif.Interface, err error) {
	clientName, serverName := n.ClientIface, n.ServerIface
	if clientName == "" {
		clientName = cfg.ClientIface
	}
	if serverName == "" {
		serverName = cfg.ServerIface
	}
	if clientName == "" || serverName == "" {
		return nil, nil, &types.SetupError{Op: "open interface", Err: fmt.Errorf("client and server interfaces must be configured")}
	}

	client, err = netif.Open(clientName, cfg.SnapLen)
	if err != nil {
		return nil, nil, err
	}
	server, err = netif.Open(serverName, cfg.SnapLen)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, server, nil
}

// runReplay opens the interfaces, replays keys and records the run in the
// audit database.
func runReplay(cfg *config.Config, e *engine.Engine, s *session, keys []types.FlowKey) (engine.Result, error) {
	opts, err := engine.OptionsFromSession(s.script.Session)
	if err != nil {
		return engine.Result{}, &types.SetupError{Op: "replay", Path: s.path, Err: err}
	}
	opts.Triggers = s.script.EngineTriggers()

	client, server, err := openInterfaces(cfg, s.script.Session.Network)
	if err != nil {
		return engine.Result{}, err
	}
	defer client.Close()
	defer server.Close()
	e.Client, e.Server = client, server

	started := time.Now()
	res, err := e.Replay(context.Background(), keys, opts)
	if err != nil {
		return res, err
	}
	withAudit(cfg, func(ctx context.Context, st *audit.Store) error {
		_, err := st.RecordReplay(ctx, started, keys, res)
		return err
	})
	return res, nil
}

// withAudit runs fn against the audit database. Failures are logged only.
func withAudit(cfg *config.Config, fn func(context.Context, *audit.Store) error) {
	if cfg.AuditDB == "" {
		return
	}
	st, err := audit.Open(cfg.AuditDB)
	if err != nil {
		log.Printf("Audit database unavailable: %v", err)
		return
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx, st); err != nil {
		log.Printf("Audit write failed: %v", err)
	}
}

func setupSessionLog(dir, loadedFilePath string) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Failed to create logs directory: %v", err)
		return
	}

	f, err := os.OpenFile(filepath.Join(dir, "session.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		return
	}

	log.SetOutput(f)
	log.Printf("Session started with file: %s", loadedFilePath)
}

func engineLogPath(dir, sessionPath string) string {
	if dir == "" {
		dir = "logs"
	}
	base := filepath.Base(sessionPath)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".log")
}
