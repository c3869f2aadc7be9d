// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package ux renders command output for terminals and pipes.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette, deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Header    lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Header:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess  Icon = "✓"
	IconWarning  Icon = "⚠"
	IconError    Icon = "✗"
	IconPending  Icon = "○"
	IconProgress Icon = "◐"
	IconArrow    Icon = "→"
)

// Render returns the icon with its style.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning, IconProgress:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects how a Printer renders.
type Mode int

const (
	// ModeStyled uses colors, icons and boxes.
	ModeStyled Mode = iota

	// ModePlain uses icons without colors or boxes.
	ModePlain

	// ModeMachine prints tab separated records and suppresses decoration.
	ModeMachine
)

// DetectMode returns ModeStyled when w is a terminal and ModePlain
// otherwise.
func DetectMode(w io.Writer) Mode {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes formatted output to one writer.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

// Styled renders text with s in ModeStyled and returns it unchanged
// otherwise.
func (p *Printer) Styled(s lipgloss.Style, text string) string {
	if p.mode != ModeStyled {
		return text
	}
	return s.Render(text)
}

// Icon renders i according to the printer's mode.
func (p *Printer) Icon(i Icon) string {
	if p.mode != ModeStyled {
		return string(i)
	}
	return i.Render()
}

// Title prints a heading. Suppressed in ModeMachine.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.Styled(Styles.Title, text))
}

// Success prints a success line.
func (p *Printer) Success(text string) { p.line(IconSuccess, Styles.Success, "ok", text) }

// Warning prints a warning line.
func (p *Printer) Warning(text string) { p.line(IconWarning, Styles.Warning, "warning", text) }

// Error prints an error line.
func (p *Printer) Error(text string) { p.line(IconError, Styles.Error, "error", text) }

func (p *Printer) line(i Icon, s lipgloss.Style, tag, text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "%s\t%s\n", tag, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(i), p.Styled(s, text))
}

// KeyValue prints an aligned "key: value" pair.
func (p *Printer) KeyValue(key, value string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "%s\t%s\n", key, value)
		return
	}
	fmt.Fprintf(p.w, "  %s %s\n", p.Styled(Styles.Muted, fmt.Sprintf("%-12s", key+":")), value)
}

// Table prints rows under headers with padded columns. Cells may carry
// styling; widths are measured without escape sequences.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode == ModeMachine {
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}
	widths := make([]int, len(headers))
	for j, h := range headers {
		widths[j] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for j := range widths {
			if j < len(row) && lipgloss.Width(row[j]) > widths[j] {
				widths[j] = lipgloss.Width(row[j])
			}
		}
	}

	styled := make([]string, len(headers))
	for j, h := range headers {
		styled[j] = p.Styled(Styles.Header, h)
	}
	p.row(styled, widths)
	for _, row := range rows {
		p.row(row, widths)
	}
}

func (p *Printer) row(cells []string, widths []int) {
	var b strings.Builder
	b.WriteString("  ")
	for j, w := range widths {
		cell := ""
		if j < len(cells) {
			cell = cells[j]
		}
		b.WriteString(cell)
		if j < len(widths)-1 {
			b.WriteString(strings.Repeat(" ", w-lipgloss.Width(cell)+2))
		}
	}
	fmt.Fprintln(p.w, strings.TrimRight(b.String(), " "))
}

// Box prints text inside a rounded border in ModeStyled and as is
// otherwise.
func (p *Printer) Box(text string) {
	if p.mode == ModeStyled {
		fmt.Fprintln(p.w, Styles.Box.Render(text))
		return
	}
	fmt.Fprintln(p.w, text)
}

// ProgressBar renders done out of total as a fixed-width bar.
func (p *Printer) ProgressBar(done, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	if done > total {
		done = total
	}
	filled := done * width / total
	bar := strings.Repeat("█", filled)
	rest := strings.Repeat("░", width-filled)
	if p.mode == ModeStyled {
		bar = Styles.Success.Render(bar)
		rest = Styles.Muted.Render(rest)
	}
	return fmt.Sprintf("%s%s %d/%d", bar, rest, done, total)
}
