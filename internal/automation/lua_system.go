//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerSystemModule registers the `system` global table in a Lua state.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("datetime", L.NewFunction(systemDatetime))
	mod.RawSetString("time_between", L.NewFunction(systemTimeBetween))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		vm.log(e, L.CheckString(1), L.CheckString(2))
		return 0
	}))

	L.SetGlobal("system", mod)
}

// system.datetime(component) returns one component of the current local time.
func systemDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	now := time.Now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(now.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// system.time_between(from, to) reports whether the current local time lies
// in [from, to). Bounds are hours (22) or "HH:MM" strings; from > to wraps
// past midnight.
func systemTimeBetween(L *lua.LState) int {
	from := minuteOfDay(L, 1)
	to := minuteOfDay(L, 2)
	now := time.Now()
	cur := now.Hour()*60 + now.Minute()

	var result bool
	if from <= to {
		result = cur >= from && cur < to
	} else {
		result = cur >= from || cur < to
	}

	L.Push(lua.LBool(result))
	return 1
}

func minuteOfDay(L *lua.LState, n int) int {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		return int(v) * 60
	case lua.LString:
		t, err := time.Parse("15:04", string(v))
		if err != nil {
			L.ArgError(n, "expected HH:MM")
			return 0
		}
		return t.Hour()*60 + t.Minute()
	default:
		L.ArgError(n, "hour or HH:MM expected")
		return 0
	}
}
