// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package ux renders command-line output for AleutianInfer.
//
// A Printer writes to one stream in one of three modes: styled (colour and
// borders, for terminals), plain (the same layout without ANSI styling) and
// machine (tab-separated, for scripts).
package ux

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Aleutian palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles are the shared lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Bar     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Header  lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:   lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Bar:     lipgloss.NewStyle().Foreground(ColorTealBright),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Mode selects how a Printer formats output.
type Mode string

const (
	ModeStyled  Mode = "styled"
	ModePlain   Mode = "plain"
	ModeMachine Mode = "machine"
)

// ParseMode maps a flag value to a Mode. Unknown values select ModeStyled.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "p":
		return ModePlain
	case "machine", "quiet", "q":
		return ModeMachine
	}
	return ModeStyled
}

// Printer writes formatted output to w.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter returns a Printer for w in mode.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.mode != ModeStyled {
		return text
	}
	return s.Render(text)
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.style(Styles.Title, text))
}

// Field prints one "label: value" line.
func (p *Printer) Field(label string, value any) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "%s\t%v\n", label, value)
		return
	}
	fmt.Fprintf(p.w, "%s %v\n", p.style(Styles.Label, label+":"), value)
}

// Success prints a confirmation line.
func (p *Printer) Success(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "OK: %s\n", text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", p.style(Styles.Success, "✓"), text)
	}
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "WARN: %s\n", text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", p.style(Styles.Warning, "⚠"), p.style(Styles.Warning, text))
	}
}

// Box prints content under a title inside a rounded border. Machine mode
// prints one tab-separated line.
func (p *Printer) Box(title, content string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "%s\t%s\n", title, content)
		return
	}
	if p.mode != ModeStyled {
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// Table prints rows under headers. Machine mode prints tab-separated lines
// without the header row.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode == ModeMachine {
		for _, r := range rows {
			fmt.Fprintln(p.w, strings.Join(r, "\t"))
		}
		return
	}
	t := table.New().Headers(headers...).Rows(rows...)
	if p.mode == ModeStyled {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return Styles.Header
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
	} else {
		t = t.Border(lipgloss.NormalBorder()).
			StyleFunc(func(int, int) lipgloss.Style { return lipgloss.NewStyle().Padding(0, 1) })
	}
	fmt.Fprintln(p.w, t.Render())
}

// Bar is one row of a histogram.
type Bar struct {
	Label string
	Value float64
	Note  string
}

// Histogram prints bars scaled so the largest value spans width cells.
func (p *Printer) Histogram(bars []Bar, width int) {
	if p.mode == ModeMachine {
		for _, b := range bars {
			fmt.Fprintf(p.w, "%s\t%.6g\t%s\n", b.Label, b.Value, b.Note)
		}
		return
	}
	if width < 1 {
		width = 1
	}
	labelWidth, maxValue := 0, 0.0
	for _, b := range bars {
		labelWidth = max(labelWidth, lipgloss.Width(b.Label))
		maxValue = math.Max(maxValue, b.Value)
	}
	for _, b := range bars {
		cells := 0
		if maxValue > 0 {
			cells = int(math.Round(b.Value / maxValue * float64(width)))
		}
		label := b.Label + strings.Repeat(" ", labelWidth-lipgloss.Width(b.Label))
		bar := p.style(Styles.Bar, strings.Repeat("█", cells)) + strings.Repeat(" ", width-cells)
		line := fmt.Sprintf("%s │%s %.4f", p.style(Styles.Label, label), bar, b.Value)
		if b.Note != "" {
			line += " " + p.style(Styles.Muted, b.Note)
		}
		fmt.Fprintln(p.w, line)
	}
}

// ProgressBar renders current/total as a bar of width cells.
func (p *Printer) ProgressBar(current, total, width int) string {
	if p.mode == ModeMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := math.Min(1, float64(current)/float64(total))
	filled := int(pct * float64(width))
	return fmt.Sprintf("%s%s %3.0f%%",
		p.style(Styles.Success, strings.Repeat("█", filled)),
		p.style(Styles.Muted, strings.Repeat("░", width-filled)),
		pct*100)
}
