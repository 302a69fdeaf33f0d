package als

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// Script computes lux with a user Lua function:
//
//	function lux(hour, minute, weekday)
//	  if hour >= 20 then return 5 end
//	  return 300
//	end
//
// weekday is 0 for Sunday. The script may call log.debug/info/warn/error
// with a message and an optional table of fields.
type Script struct {
	mu  sync.Mutex
	L   *lua.LState
	fn  *lua.LFunction
	now func() time.Time
}

// LoadScript reads and runs the script file, then looks up its lux function.
func LoadScript(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lux script: %w", err)
	}
	s, err := NewScript(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("Loaded lux script")
	return s, nil
}

// NewScript compiles src.
func NewScript(src string) (*Script, error) {
	L := lua.NewState()
	L.PreloadModule("log", scriptLogLoader)
	if err := L.DoString(`log = require("log")`); err != nil {
		L.Close()
		return nil, err
	}

	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("script error: %w", err)
	}

	fn, ok := L.GetGlobal("lux").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script does not define function lux(hour, minute, weekday)")
	}

	return &Script{L: L, fn: fn, now: time.Now}, nil
}

func (s *Script) Lux(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.L == nil {
		return 0, fmt.Errorf("lux script closed")
	}

	t := s.now()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	err := s.L.CallByParam(lua.P{Fn: s.fn, NRet: 1, Protect: true},
		lua.LNumber(t.Hour()), lua.LNumber(t.Minute()), lua.LNumber(t.Weekday()))
	if err != nil {
		return 0, fmt.Errorf("lux script failed: %w", err)
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("lux script returned %s, want number", ret.Type())
	}
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("lux script returned invalid value %v", v)
	}
	return v, nil
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.L != nil {
		s.L.Close()
		s.L = nil
	}
}

func scriptLogLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(scriptLog(log.Debug)))
	L.SetField(mod, "info", L.NewFunction(scriptLog(log.Info)))
	L.SetField(mod, "warn", L.NewFunction(scriptLog(log.Warn)))
	L.SetField(mod, "error", L.NewFunction(scriptLog(log.Error)))
	L.Push(mod)
	return 1
}

func scriptLog(level func() *zerolog.Event) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		event := level().Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(k, v lua.LValue) {
				event = event.Str(lua.LVAsString(k), v.String())
			})
		}
		event.Msg(msg)
		return 0
	}
}
