package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/internal/scanner"
	"github.com/skalibog/moonshot/pkg/models"
)

// Стили UI
var (
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
)

const (
	maxLogs    = 50
	maxSignals = 20
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Dashboard терминальная панель сканера: последний цикл, сигналы, кандидаты, лог
type Dashboard struct {
	mu       sync.RWMutex
	report   *scanner.Report
	signals  []models.Signal
	logs     []string
	selected int
	width    int
	height   int

	config  config.UIConfig
	logFile string
	program *tea.Program
}

// Сообщения для обновления UI
type refreshMsg struct{}
type tickMsg time.Time

type bubbleModel struct {
	ui *Dashboard
}

// NewDashboard создает панель; logFile JSON-лог, хвост которого показывается внизу
func NewDashboard(cfg config.UIConfig, logFile string) *Dashboard {
	return &Dashboard{
		config:  cfg,
		logFile: logFile,
		logs:    []string{"Moonshot запущен. Ожидание первого цикла..."},
		width:   120,
		height:  40,
	}
}

// OnCycle принимает отчет сканера
func (ui *Dashboard) OnCycle(r scanner.Report) {
	ui.mu.Lock()
	ui.report = &r
	ui.signals = append(ui.signals, r.Signals...)
	if len(ui.signals) > maxSignals {
		ui.signals = ui.signals[len(ui.signals)-maxSignals:]
	}
	if ui.selected >= len(r.Candidates) {
		ui.selected = 0
	}
	program := ui.program
	ui.mu.Unlock()

	if program != nil {
		program.Send(refreshMsg{})
	}
}

// Run показывает панель до выхода пользователя или отмены контекста
func (ui *Dashboard) Run(ctx context.Context) error {
	p := tea.NewProgram(bubbleModel{ui: ui}, tea.WithAltScreen(), tea.WithContext(ctx))
	ui.mu.Lock()
	ui.program = p
	ui.mu.Unlock()

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (ui *Dashboard) refreshInterval() time.Duration {
	if ui.config.RefreshRate <= 0 {
		return time.Second
	}
	return time.Duration(ui.config.RefreshRate) * time.Millisecond
}

// loadLogs читает хвост JSON-лога
func (ui *Dashboard) loadLogs() error {
	if ui.logFile == "" {
		return nil
	}
	file, err := os.Open(ui.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	var logs []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		logs = append(logs, formatLogLine(sc.Text()))
		if len(logs) > maxLogs {
			logs = logs[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	if len(logs) > 0 {
		ui.mu.Lock()
		ui.logs = logs
		ui.mu.Unlock()
	}
	return nil
}

// formatLogLine превращает JSON-запись zap в строку "[15:04:05] [INFO] msg (k: v)"
func formatLogLine(line string) string {
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line
	}

	level, _ := entry["level"].(string)
	ts, _ := entry["ts"].(string)
	msg, _ := entry["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		if k != "level" && k != "ts" && k != "msg" && k != "caller" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s: %v)", k, entry[k])
	}
	return b.String()
}

func (ui *Dashboard) tick() tea.Cmd {
	return tea.Tick(ui.refreshInterval(), func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m bubbleModel) Init() tea.Cmd {
	return m.ui.tick()
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.ui.mu.Lock()
			m.ui.selected = max(0, m.ui.selected-1)
			m.ui.mu.Unlock()
		case "down":
			m.ui.mu.Lock()
			if m.ui.report != nil {
				m.ui.selected = min(max(0, len(m.ui.report.Candidates)-1), m.ui.selected+1)
			}
			m.ui.mu.Unlock()
		case "r":
			_ = m.ui.loadLogs()
		}

	case tea.WindowSizeMsg:
		m.ui.mu.Lock()
		m.ui.width = msg.Width
		m.ui.height = msg.Height
		m.ui.mu.Unlock()

	case tickMsg:
		_ = m.ui.loadLogs()
		return m, m.ui.tick()

	case refreshMsg:
	}

	return m, nil
}

func (m bubbleModel) View() string {
	m.ui.mu.RLock()
	defer m.ui.mu.RUnlock()

	title := titleStyle.Render("MOONSHOT - breakout/breakdown scanner")
	footer := footerStyle.Render("Клавиши: ↑/↓ - кандидаты, R - перезагрузить логи, Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			renderCycle(m.ui.report),
			renderSignals(m.ui.signals),
			renderCandidates(m.ui.report, m.ui.selected),
			renderLogs(m.ui.logs),
			footer,
		),
	)
}

func section(title, body string) string {
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render(title), body))
}

func renderCycle(r *scanner.Report) string {
	if r == nil {
		return section("ЦИКЛ", "  Ожидание данных...")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  Батч #%d [%d:%d] из %d | проверено %d | сделок открыто %d | %s\n",
		r.Batch, r.Start, r.End, r.Universe, r.Scanned, r.OpenTrades, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  Сигналы: %d | Пре-сигналы: %d | Автобаны: %d",
		len(r.Signals), len(r.PreSignals), len(r.AutoBans))

	buckets := make([]string, 0, len(r.Rejections))
	for bucket := range r.Rejections {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)
	for _, bucket := range buckets {
		reasons := r.Rejections[bucket]
		keys := make([]string, 0, len(reasons))
		for k := range reasons {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, reasons[k]))
		}
		fmt.Fprintf(&b, "\n  %s: %s", bucket, strings.Join(parts, " "))
	}
	return section("ЦИКЛ", b.String())
}

func sideStyle(side models.Side) lipgloss.Style {
	if side == models.Long {
		return lipgloss.NewStyle().Foreground(successColor).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(errorColor).Bold(true)
}

func renderSignals(signals []models.Signal) string {
	if len(signals) == 0 {
		return section("СИГНАЛЫ", "  Сигналов пока нет")
	}

	var b strings.Builder
	for i := len(signals) - 1; i >= 0; i-- {
		s := signals[i]
		mark := ""
		if s.Backscan {
			mark = " (backscan)"
		}
		fmt.Fprintf(&b, "  %s %s %s вход %g стоп %g x%g%s\n",
			s.Symbol, s.Timeframe, sideStyle(s.Side).Render(string(s.Side)), s.Entry, s.StopLoss, s.Leverage, mark)
	}
	return section("СИГНАЛЫ", strings.TrimRight(b.String(), "\n"))
}

func renderCandidates(r *scanner.Report, selected int) string {
	if r == nil || len(r.Candidates) == 0 {
		return section("КАНДИДАТЫ", "  Нет кандидатов рядом с триггером")
	}

	var b strings.Builder
	for i, c := range r.Candidates {
		line := fmt.Sprintf("  %-14s %-4s %s gap=%+.3f ATR %-8s RSI=%.1f EMA=%s VOL=%s BODY=%s",
			c.Symbol, c.TF, sideStyle(c.Side).Render(fmt.Sprintf("%-5s", c.Side)), c.Gap, c.Reason,
			c.RSI, okNo(c.EMA), okNo(c.Vol), okNo(c.Body))
		if i == selected {
			line = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render("> " + line[2:])
		}
		b.WriteString(line + "\n")
	}
	return section("КАНДИДАТЫ", strings.TrimRight(b.String(), "\n"))
}

func okNo(v bool) string {
	if v {
		return "OK"
	}
	return "NO"
}

func renderLogs(logs []string) string {
	var b strings.Builder
	start := 0
	if len(logs) > 10 {
		start = len(logs) - 10
	}
	for _, line := range logs[start:] {
		switch {
		case strings.Contains(line, "[ERROR]"):
			line = lipgloss.NewStyle().Foreground(errorColor).Render(line)
		case strings.Contains(line, "[WARN]"):
			line = lipgloss.NewStyle().Foreground(warningColor).Render(line)
		case strings.Contains(line, "[INFO]"):
			line = lipgloss.NewStyle().Foreground(successColor).Render(line)
		case strings.Contains(line, "[DEBUG]"):
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(line)
		}
		b.WriteString("  " + line + "\n")
	}
	return section("ЛОГИ", strings.TrimRight(b.String(), "\n"))
}
