//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"ledstrip-bridge/internal/light"
)

const (
	maxHandlersPerScript = 100
	commandTimeout       = 30 * time.Second
)

// registerStripModule registers the `strip` global table in a Lua state.
func registerStripModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":       func(L *lua.LState) int { return stripOn(L, vm) },
		"turn_on":  func(L *lua.LState) int { return stripTurnOn(L, vm, e) },
		"turn_off": func(L *lua.LState) int { return stripTurnOff(L, vm, e) },
		"poll":     func(L *lua.LState) int { return stripPoll(L, vm, e) },
		"state":    func(L *lua.LState) int { return stripState(L, e) },
		"strips":   func(L *lua.LState) int { return stripList(L, e) },
		"after":    func(L *lua.LState) int { return stripAfter(L, vm, e) },
		"log": func(L *lua.LState) int {
			vm.log(e, "", L.CheckString(1))
			return 0
		},
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("strip", mod)
}

// strip.on(type, [filter], callback)
//
// filter is a table with an optional `strip` (host or name) key; "*" matches
// every event type.
func stripOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)

	h := luaEventHandler{eventType: eventType}
	switch v := L.Get(2).(type) {
	case *lua.LFunction:
		h.fn = v
	case *lua.LTable:
		for _, key := range []string{"strip", "host", "name"} {
			if f := v.RawGetString(key); f != lua.LNil {
				h.strip = f.String()
				break
			}
		}
		h.fn = L.CheckFunction(3)
	default:
		L.ArgError(2, "filter table or function expected")
		return 0
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
	return 0
}

// strip.turn_on(target, [opts]) -> ok, err
//
// opts: brightness, white (0-255), hue (0-360), saturation (0-100), effect,
// transition (seconds).
func stripTurnOn(L *lua.LState, vm *scriptVM, e *Engine) int {
	target := L.CheckString(1)
	in := intentFromTable(L.OptTable(2, nil))

	host, ok := e.hub.Resolve(target)
	if !ok {
		return pushResult(L, "unknown strip: "+target)
	}
	ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
	defer cancel()
	if _, err := e.hub.TurnOn(ctx, host, in); err != nil {
		e.logger.Warn("script turn_on failed", "target", target, "err", err)
		return pushResult(L, err.Error())
	}
	return pushResult(L, "")
}

// strip.turn_off(target) -> ok, err
func stripTurnOff(L *lua.LState, vm *scriptVM, e *Engine) int {
	target := L.CheckString(1)
	host, ok := e.hub.Resolve(target)
	if !ok {
		return pushResult(L, "unknown strip: "+target)
	}
	ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
	defer cancel()
	if _, err := e.hub.TurnOff(ctx, host); err != nil {
		e.logger.Warn("script turn_off failed", "target", target, "err", err)
		return pushResult(L, err.Error())
	}
	return pushResult(L, "")
}

// strip.poll(target) -> state table or nil, err
func stripPoll(L *lua.LState, vm *scriptVM, e *Engine) int {
	target := L.CheckString(1)
	host, ok := e.hub.Resolve(target)
	if !ok {
		L.Push(lua.LNil)
		L.Push(lua.LString("unknown strip: " + target))
		return 2
	}
	ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
	defer cancel()
	st, err := e.hub.Poll(ctx, host)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(stateTable(L, st))
	return 1
}

// strip.state(target) -> cached state table or nil
func stripState(L *lua.LState, e *Engine) int {
	st, ok := e.lookup(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(stateTable(L, st))
	return 1
}

// strip.strips() -> array of cached state tables
func stripList(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, st := range e.hub.States() {
		tbl.RawSetInt(i+1, stateTable(L, st))
	}
	L.Push(tbl)
	return 1
}

// strip.after(seconds, callback)
func stripAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// lookup resolves a host or display name to the strip's cached state.
func (e *Engine) lookup(target string) (light.State, bool) {
	if e.hub == nil {
		return light.State{}, false
	}
	host, ok := e.hub.Resolve(target)
	if !ok {
		return light.State{}, false
	}
	st, err := e.hub.State(host)
	return st, err == nil
}

func intentFromTable(opts *lua.LTable) light.Intent {
	var in light.Intent
	if opts == nil {
		return in
	}
	num := func(key string) (float64, bool) {
		n, ok := opts.RawGetString(key).(lua.LNumber)
		return float64(n), ok
	}
	if v, ok := num("brightness"); ok {
		b := int(v)
		in.Brightness = &b
	}
	if v, ok := num("white"); ok {
		w := int(v)
		in.White = &w
	}
	hue, hasHue := num("hue")
	sat, hasSat := num("saturation")
	if hasHue || hasSat {
		in.HS = &light.HueSat{Hue: hue, Saturation: sat}
	}
	if s, ok := opts.RawGetString("effect").(lua.LString); ok {
		in.Effect = string(s)
	}
	if v, ok := num("transition"); ok {
		d := time.Duration(v * float64(time.Second))
		in.Transition = &d
	}
	return in
}

func stateTable(L *lua.LState, st light.State) *lua.LTable {
	t := L.NewTable()
	fillState(L, t, st)
	return t
}

func fillState(L *lua.LState, t *lua.LTable, st light.State) {
	t.RawSetString("host", lua.LString(st.Host))
	t.RawSetString("name", lua.LString(st.Name))
	t.RawSetString("on", lua.LBool(st.On))
	t.RawSetString("brightness", lua.LNumber(st.Brightness))
	t.RawSetString("color_mode", lua.LString(st.ColorMode))
	t.RawSetString("hue", lua.LNumber(st.HS.Hue))
	t.RawSetString("saturation", lua.LNumber(st.HS.Saturation))
	t.RawSetString("available", lua.LBool(st.Available))
}

// pushResult pushes `true` or `false, msg` and returns the count.
func pushResult(L *lua.LState, errMsg string) int {
	if errMsg == "" {
		L.Push(lua.LTrue)
		return 1
	}
	L.Push(lua.LFalse)
	L.Push(lua.LString(errMsg))
	return 2
}
