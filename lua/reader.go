// Package lua reads and writes replay session files and runs the triggers
// they define.
package lua

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/reflow/engine"
	"github.com/samaelod/reflow/types"
)

// Script is an evaluated session file. The Lua state stays open while the
// triggers are in use; call Close when the replay is done.
type Script struct {
	Path     string
	Session  *types.Session
	Triggers []*Trigger

	L  *lua.LState
	mu sync.Mutex
}

// Load evaluates a session file. The file must return a table.
func Load(path string) (*Script, error) {
	L := lua.NewState()

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, &types.SetupError{Op: "load session", Path: path, Err: err}
	}

	table, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		L.Close()
		return nil, &types.SetupError{Op: "load session", Path: path, Err: fmt.Errorf("lua file did not return a table")}
	}

	var s types.Session
	if err := gluamapper.Map(table, &s); err != nil {
		L.Close()
		return nil, &types.SetupError{Op: "load session", Path: path, Err: err}
	}
	if s.Capture != "" && !filepath.IsAbs(s.Capture) {
		s.Capture = filepath.Join(filepath.Dir(path), s.Capture)
	}
	if err := ValidateSession(&s); err != nil {
		L.Close()
		return nil, &types.SetupError{Op: "load session", Path: path, Err: fmt.Errorf("invalid session: %w", err)}
	}

	sc := &Script{Path: path, Session: &s, L: L}
	triggers, err := sc.readTriggers(table.RawGetString("triggers"))
	if err != nil {
		L.Close()
		return nil, &types.SetupError{Op: "load session", Path: path, Err: err}
	}
	sc.Triggers = triggers
	return sc, nil
}

// ReadSession loads only the session description of a file.
func ReadSession(path string) (*types.Session, error) {
	sc, err := Load(path)
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	return sc.Session, nil
}

func (s *Script) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.L == nil {
		return
	}
	s.L.Close()
	s.L = nil
}

// EngineTriggers returns the triggers in the form the engine consumes.
func (s *Script) EngineTriggers() []engine.Trigger {
	out := make([]engine.Trigger, 0, len(s.Triggers))
	for _, t := range s.Triggers {
		out = append(out, t)
	}
	return out
}

func ValidateSession(s *types.Session) error {
	if _, err := types.ParseVerifyMode(s.Globals.Verify); err != nil {
		return err
	}
	if s.Globals.Delay < 0 {
		return fmt.Errorf("globals.delay: %d is negative", s.Globals.Delay)
	}
	if s.Globals.Gateway < 0 {
		return fmt.Errorf("globals.gateway: %d is negative", s.Globals.Gateway)
	}
	if s.Network.VLANID < 0 || s.Network.VLANID > 4094 {
		return fmt.Errorf("network.vlan_id: %d out of range", s.Network.VLANID)
	}
	if _, err := s.Keys(); err != nil {
		return err
	}
	return nil
}
