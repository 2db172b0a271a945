package vm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf16"
)

// Built-in external function ids.
const (
	ExternalStdin = iota + 1
	ExternalStdout
	ExternalConsoleSet
	ExternalConsoleClear
	ExternalSleep
	ExternalUTCTime
	ExternalLocalTime
	ExternalUTCDateDay
	ExternalLocalDateDay
	ExternalUTCDateYear
	ExternalLocalDateYear
	ExternalAtan2
)

func builtinExternals() []ExternalFunction {
	return []ExternalFunction{
		{ID: ExternalStdin, Name: "stdin", ReturnSize: 2, Func: externalStdin},
		{ID: ExternalStdout, Name: "stdout", ParametersSize: 2, Func: externalStdout},
		{ID: ExternalConsoleSet, Name: "console-set", ParametersSize: 8, Func: externalConsoleSet},
		{ID: ExternalConsoleClear, Name: "console-clear", Func: externalConsoleClear},
		{ID: ExternalSleep, Name: "sleep", ParametersSize: 4, Func: externalSleep},
		{ID: ExternalUTCTime, Name: "utc-time", ReturnSize: 4, Func: timeOfDay(time.UTC)},
		{ID: ExternalLocalTime, Name: "local-time", ReturnSize: 4, Func: timeOfDay(time.Local)},
		{ID: ExternalUTCDateDay, Name: "utc-date-day", ReturnSize: 4, Func: dayOfYear(time.UTC)},
		{ID: ExternalLocalDateDay, Name: "local-date-day", ReturnSize: 4, Func: dayOfYear(time.Local)},
		{ID: ExternalUTCDateYear, Name: "utc-date-year", ReturnSize: 4, Func: year(time.UTC)},
		{ID: ExternalLocalDateYear, Name: "local-date-year", ReturnSize: 4, Func: year(time.Local)},
		{ID: ExternalAtan2, Name: "atan2", ParametersSize: 8, ReturnSize: 4, Func: externalAtan2},
	}
}

func externalStdin(p *Processor, _, ret []byte) error {
	if len(p.input) == 0 {
		return ErrAwaitInput
	}
	binary.LittleEndian.PutUint16(ret, p.input[0])
	p.input = p.input[1:]
	return nil
}

func externalStdout(p *Processor, params, _ []byte) error {
	unit := binary.LittleEndian.Uint16(params)
	var r rune
	switch {
	case p.surrogate != 0:
		r = utf16.DecodeRune(rune(p.surrogate), rune(unit))
		p.surrogate = 0
	case utf16.IsSurrogate(rune(unit)) && unit < 0xDC00:
		p.surrogate = unit
		return nil
	default:
		r = rune(unit)
	}
	_, err := io.WriteString(p.output, string(r))
	return err
}

func externalConsoleSet(p *Processor, params, _ []byte) error {
	args := p.SplitParams(params, 4, 4)
	x := int32(binary.LittleEndian.Uint32(args[0]))
	y := int32(binary.LittleEndian.Uint32(args[1]))
	_, err := fmt.Fprintf(p.output, "\x1b[%d;%dH", y+1, x+1)
	return err
}

func externalConsoleClear(p *Processor, _, _ []byte) error {
	_, err := io.WriteString(p.output, "\x1b[2J\x1b[H")
	return err
}

func externalSleep(p *Processor, params, _ []byte) error {
	ms := int32(binary.LittleEndian.Uint32(params))
	if ms <= 0 {
		return nil
	}
	p.sleepUntil = p.clock.Now().Add(time.Duration(ms) * time.Millisecond)
	p.logger.Debug("sleep", "ms", ms)
	return nil
}

func timeOfDay(loc *time.Location) ExternalFunc {
	return func(p *Processor, _, ret []byte) error {
		t := p.clock.Now().In(loc)
		ms := ((t.Hour()*60+t.Minute())*60+t.Second())*1000 + t.Nanosecond()/int(time.Millisecond)
		binary.LittleEndian.PutUint32(ret, uint32(int32(ms)))
		return nil
	}
}

func dayOfYear(loc *time.Location) ExternalFunc {
	return func(p *Processor, _, ret []byte) error {
		binary.LittleEndian.PutUint32(ret, uint32(int32(p.clock.Now().In(loc).YearDay())))
		return nil
	}
}

func year(loc *time.Location) ExternalFunc {
	return func(p *Processor, _, ret []byte) error {
		binary.LittleEndian.PutUint32(ret, uint32(int32(p.clock.Now().In(loc).Year())))
		return nil
	}
}

func externalAtan2(p *Processor, params, ret []byte) error {
	args := p.SplitParams(params, 4, 4)
	y := math.Float32frombits(binary.LittleEndian.Uint32(args[0]))
	x := math.Float32frombits(binary.LittleEndian.Uint32(args[1]))
	binary.LittleEndian.PutUint32(ret, math.Float32bits(float32(math.Atan2(float64(y), float64(x)))))
	return nil
}
