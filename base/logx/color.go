// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logx

import (
	"image/color"
	"log/slog"

	"github.com/muesli/termenv"
)

// UseColor is whether to use color in log messages and terminal output.
// It is on by default; colors are only emitted when the output supports them.
var UseColor = true

// colorProfile is the termenv color profile of stderr.
var colorProfile termenv.Profile

func init() {
	InitColor()
}

// InitColor sets up the terminal environment for color output. It is
// called automatically at init; call it again after running a system
// command that may have reset the terminal mode.
func InitColor() {
	out := termenv.NewOutput(stderr)
	restore, err := termenv.EnableVirtualTerminalProcessing(out)
	if err != nil {
		slog.Warn("logx: error enabling virtual terminal processing for colored output", "err", err)
	}
	_ = restore // the terminal mode is left enabled until exit
	colorProfile = out.ColorProfile()
}

// Colors used for terminal output.
var (
	DebugClr   = color.RGBA{120, 120, 140, 255}
	InfoClr    = color.RGBA{70, 160, 230, 255}
	WarnClr    = color.RGBA{230, 170, 30, 255}
	ErrorClr   = color.RGBA{230, 60, 60, 255}
	SuccessClr = color.RGBA{60, 190, 90, 255}
	TitleClr   = color.RGBA{180, 110, 230, 255}
)

// ApplyColor applies the given color to the given string.
func ApplyColor(clr color.Color, str string) string {
	if !UseColor || colorProfile == termenv.Ascii {
		return str
	}
	return termenv.String(str).Foreground(colorProfile.FromColor(clr)).String()
}

// LevelColor applies the color associated with the given level to the string.
func LevelColor(level slog.Level, str string) string {
	switch {
	case level >= slog.LevelError:
		return ErrorColor(str)
	case level >= slog.LevelWarn:
		return WarnColor(str)
	case level >= slog.LevelInfo:
		return InfoColor(str)
	}
	return DebugColor(str)
}

func DebugColor(str string) string   { return ApplyColor(DebugClr, str) }
func InfoColor(str string) string    { return ApplyColor(InfoClr, str) }
func WarnColor(str string) string    { return ApplyColor(WarnClr, str) }
func ErrorColor(str string) string   { return ApplyColor(ErrorClr, str) }
func SuccessColor(str string) string { return ApplyColor(SuccessClr, str) }

// TitleColor applies the title color and bold to the string.
func TitleColor(str string) string {
	if !UseColor || colorProfile == termenv.Ascii {
		return str
	}
	return termenv.String(str).Foreground(colorProfile.FromColor(TitleClr)).Bold().String()
}
