package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/Nitishvarma50/app-p2p/internal/transfer"
	"github.com/charmbracelet/lipgloss"
)

// Gradient ends for the progress bars.
const (
	ProgressStart = "#0ea5e9"
	ProgressEnd   = "#8b5cf6"
)

var (
	accent = lipgloss.Color(ProgressStart)
	green  = lipgloss.Color("#16a34a")
	amber  = lipgloss.Color("#f59e0b")
	red    = lipgloss.Color("#dc2626")
	grey   = lipgloss.Color("#71717a")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	SuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Bold(true).Foreground(red)
	WarningStyle = lipgloss.NewStyle().Foreground(amber)
	MutedStyle   = lipgloss.NewStyle().Foreground(grey)
	SpinnerStyle = lipgloss.NewStyle().Foreground(accent)

	// room box and file table
	CodeStyle    = lipgloss.NewStyle().Bold(true).Foreground(accent)
	RoomBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(green).Padding(1, 2)
	BorderStyle  = lipgloss.NewStyle().Foreground(accent)
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent).Align(lipgloss.Center)
	EvenRowStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("255"))
	OddRowStyle  = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
)

const (
	IconSend     = "📤"
	IconReceive  = "📥"
	IconSuccess  = "✅"
	IconError    = "❌"
	IconWarning  = "⚠️"
	IconInfo     = "ℹ️"
	IconRoom     = "🚪"
	IconCopy     = "📋"
	IconWeb      = "🌐"
	IconComplete = "🎉"
)

// kindMark returns the icon and style used for a toast of the given kind.
func kindMark(kind transfer.Kind) (string, lipgloss.Style) {
	switch kind {
	case transfer.KindSuccess:
		return IconSuccess, SuccessStyle
	case transfer.KindWarning:
		return IconWarning, WarningStyle
	case transfer.KindError:
		return IconError, ErrorStyle
	}
	return IconInfo, lipgloss.NewStyle()
}

func line(w io.Writer, kind transfer.Kind, msg string) {
	icon, style := kindMark(kind)
	if kind == transfer.KindSuccess {
		fmt.Fprintf(w, "%s %s\n", style.Render(icon), msg)
		return
	}
	fmt.Fprintf(w, "%s %s\n", style.Render(icon), style.Render(msg))
}

func PrintError(msg string)   { line(os.Stderr, transfer.KindError, msg) }
func PrintWarning(msg string) { line(os.Stdout, transfer.KindWarning, msg) }
func PrintSuccess(msg string) { line(os.Stdout, transfer.KindSuccess, msg) }
func PrintInfo(msg string)    { line(os.Stdout, transfer.KindInfo, msg) }
