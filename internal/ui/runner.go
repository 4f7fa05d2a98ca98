package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/transfer"
	"github.com/Nitishvarma50/app-p2p/internal/utils"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxToasts = 4

var _ transfer.Notifier = (*TransferUI)(nil)

// TransferUI is the live transfer view. It implements transfer.Notifier;
// the notifier methods only update shared state, and the view repaints on
// a ticker, so callers never wait on the terminal.
type TransferUI struct {
	program *tea.Program
	model   *liveModel
	wg      sync.WaitGroup
	once    sync.Once
}

type tickMsg time.Time

type liveItem struct {
	info    transfer.Info
	percent float64
	label   string
	result  transfer.Result
	done    bool
}

type toast struct {
	msg  string
	kind transfer.Kind
}

type liveModel struct {
	title  string
	onQuit func()

	bar     progress.Model
	spinner spinner.Model

	mu       sync.Mutex
	header   string
	status   string
	items    []*liveItem
	byID     map[string]*liveItem
	toasts   []toast
	quitting bool
}

// NewTransferUI creates the view. onQuit runs when the user presses q.
func NewTransferUI(title string, onQuit func()) *TransferUI {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &TransferUI{model: &liveModel{
		title:   title,
		onQuit:  onQuit,
		bar:     progress.New(progress.WithGradient(ProgressStart, ProgressEnd), progress.WithWidth(25), progress.WithoutPercentage()),
		spinner: s,
		byID:    make(map[string]*liveItem),
	}}
}

// Start runs the program in the background. Output stays inline.
func (ui *TransferUI) Start() {
	ui.program = tea.NewProgram(ui.model)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			PrintError(fmt.Sprintf("UI error: %v", err))
		}
	}()
}

// Stop renders a last frame and ends the program.
func (ui *TransferUI) Stop() {
	ui.once.Do(func() {
		if ui.program != nil {
			ui.program.Quit()
		}
		ui.wg.Wait()
	})
}

// SetHeader places a block, such as the room box, above the live view.
func (ui *TransferUI) SetHeader(header string) {
	ui.model.mu.Lock()
	ui.model.header = header
	ui.model.mu.Unlock()
}

// SetStatus replaces the status line.
func (ui *TransferUI) SetStatus(status string) {
	ui.model.mu.Lock()
	ui.model.status = status
	ui.model.mu.Unlock()
}

func (ui *TransferUI) ItemAdded(info transfer.Info) {
	m := ui.model
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[info.ID]; ok {
		return
	}
	it := &liveItem{info: info}
	m.items = append(m.items, it)
	m.byID[info.ID] = it
}

func (ui *TransferUI) Progress(fileID string, percent float64, label string) {
	m := ui.model
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.byID[fileID]
	if it == nil || it.done {
		return
	}
	it.percent = percent
	if label != "" {
		it.label = label
	}
}

func (ui *TransferUI) Toast(message string, kind transfer.Kind) {
	m := ui.model
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toasts = append(m.toasts, toast{message, kind})
	if len(m.toasts) > maxToasts {
		m.toasts = m.toasts[len(m.toasts)-maxToasts:]
	}
}

func (ui *TransferUI) ItemDone(info transfer.Info, result transfer.Result) {
	m := ui.model
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.byID[info.ID]
	if it == nil {
		it = &liveItem{}
		m.items = append(m.items, it)
		m.byID[info.ID] = it
	}
	it.info = info
	it.result = result
	it.done = true
	if result == transfer.ResultCompleted {
		it.percent = 100
	}
}

// View returns the current frame.
func (ui *TransferUI) View() string {
	return ui.model.View()
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *liveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m *liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.mu.Lock()
			m.quitting = true
			m.mu.Unlock()
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(25, msg.Width-60))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m *liveModel) View() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quitting {
		return ""
	}

	var b strings.Builder
	if m.header != "" {
		fmt.Fprintf(&b, "%s\n", m.header)
	}
	fmt.Fprintf(&b, "\n%s\n", TitleStyle.Render(m.title))
	if m.status != "" {
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), m.status)
	}
	b.WriteString("\n")

	if len(m.items) == 0 {
		b.WriteString(MutedStyle.Render("  No transfers yet") + "\n")
	}
	for _, it := range m.items {
		b.WriteString(m.itemLine(it))
		b.WriteString("\n")
	}

	if len(m.toasts) > 0 {
		b.WriteString("\n")
		for _, t := range m.toasts {
			b.WriteString(toastLine(t))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to leave the room"))
	return b.String()
}

func (m *liveModel) itemLine(it *liveItem) string {
	dirIcon := IconSend
	if it.info.Direction == transfer.Download {
		dirIcon = IconReceive
	}

	var (
		icon  string
		style lipgloss.Style
	)
	switch {
	case it.done && it.result == transfer.ResultCompleted:
		icon, style = IconSuccess, SuccessStyle
	case it.done:
		icon, style = IconError, ErrorStyle
	case it.percent > 0:
		icon, style = m.spinner.View(), lipgloss.NewStyle()
	default:
		icon, style = "○", MutedStyle
	}

	name := utils.TruncateString(it.info.Name, 22)
	line := fmt.Sprintf("  %s %s %s %s %5.1f%% %s",
		icon, dirIcon,
		style.Width(24).Render(name),
		m.bar.ViewAs(it.percent/100),
		it.percent,
		MutedStyle.Render(utils.FormatSize(int64(it.info.Size))),
	)

	switch {
	case it.done && it.result != transfer.ResultCompleted:
		line += " " + ErrorStyle.Render(string(it.result))
	case it.label != "":
		line += " " + MutedStyle.Render(it.label)
	}
	if rate := rateLine(it); rate != "" {
		line += " " + MutedStyle.Render(rate)
	}
	return line
}

// rateLine estimates speed and time left from the start time and progress.
func rateLine(it *liveItem) string {
	if it.done || it.percent <= 0 || it.percent >= 100 || it.info.Started.IsZero() {
		return ""
	}
	elapsed := time.Since(it.info.Started).Seconds()
	if elapsed <= 0 {
		return ""
	}
	size := float64(it.info.Size)
	moved := size * it.percent / 100
	speed := moved / elapsed
	if speed <= 0 {
		return ""
	}
	return fmt.Sprintf("%s, %s left", utils.FormatSpeed(speed), utils.FormatETA((size-moved)/speed))
}

func toastLine(t toast) string {
	icon, style := kindMark(t.kind)
	if t.kind == transfer.KindSuccess || t.kind == transfer.KindInfo {
		return style.Render(icon) + " " + t.msg
	}
	return style.Render(icon + " " + t.msg)
}
