package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davetcode/ztty/selectstoryui"
	"github.com/davetcode/ztty/zmachine"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

const teletypeColumns = 80

type textUpdateMessage string
type saveRequestMessage zmachine.Save
type restoreRequestMessage zmachine.Restore
type restartRequest bool
type runtimeErrorMessage zmachine.RuntimeError

type runningStoryState int

const (
	appRunning                   runningStoryState = iota
	appWaitingForInput           runningStoryState = iota
	appWaitingForSaveFilename    runningStoryState = iota
	appWaitingForRestoreFilename runningStoryState = iota
)

type runStoryModel struct {
	outputChannel      <-chan any
	sendChannel        chan<- string
	saveRestoreChannel chan<- zmachine.SaveRestoreResponse
	zMachine           *zmachine.ZMachine
	romBytes           []byte
	romFilePath        string
	outputText         string
	appState           runningStoryState
	inputBox           textinput.Model
	width              int
	height             int
	showScoreUpdates   bool
	scoreGame          bool
	lastScore          int16
	reprimeScore       bool
	runtimeError       string
}

func (m runStoryModel) Init() tea.Cmd {
	return tea.Batch(
		waitForInterpreter(m.outputChannel),
		runInterpreter(m.zMachine),
		tea.SetWindowTitle(filepath.Base(m.romFilePath)),
	)
}

func runInterpreter(z *zmachine.ZMachine) tea.Cmd {
	return func() tea.Msg {
		z.Run()

		return nil
	}
}

func (m runStoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			os.Exit(0)
		}

		if msg.Type != tea.KeyEnter {
			break
		}

		switch m.appState {
		case appWaitingForInput:
			line := m.inputBox.Value()
			m.inputBox.SetValue("")
			m.appState = appRunning
			m.outputText += line + "\n"
			m.sendChannel <- line

		case appWaitingForSaveFilename:
			filename := m.saveFilename(m.inputBox.Value())
			m.inputBox.SetValue("")
			m.appState = appRunning
			err := os.WriteFile(filename, m.zMachine.ExportSaveState(), 0644)
			m.saveRestoreChannel <- zmachine.SaveResponse{Success: err == nil}
			return m, waitForInterpreter(m.outputChannel)

		case appWaitingForRestoreFilename:
			filename := m.saveFilename(m.inputBox.Value())
			m.inputBox.SetValue("")
			m.appState = appRunning
			data, err := os.ReadFile(filename)
			if err != nil {
				m.saveRestoreChannel <- zmachine.RestoreResponse{Success: false}
			} else {
				m.saveRestoreChannel <- zmachine.RestoreResponse{Success: true, Data: data}
				m.reprimeScore = true
			}
			return m, waitForInterpreter(m.outputChannel)
		}

	case textUpdateMessage:
		m.outputText += string(msg)
		return m, waitForInterpreter(m.outputChannel)

	case zmachine.StateChangeRequest:
		if msg == zmachine.WaitForInput {
			m.watchScore()
			m.appState = appWaitingForInput
		}
		return m, waitForInterpreter(m.outputChannel)

	// The interpreter is blocked on the save/restore channel until the
	// filename prompt resolves, so no listener is re-armed here; the enter
	// handler arms the next one.
	case saveRequestMessage:
		m.appState = appWaitingForSaveFilename
		return m, nil

	case restoreRequestMessage:
		m.appState = appWaitingForRestoreFilename
		return m, nil

	case restartRequest:
		// Rebuild the machine from the original story bytes
		romBytes := make([]byte, len(m.romBytes))
		copy(romBytes, m.romBytes)

		outputChannel := make(chan any)
		inputChannel := make(chan string)
		saveRestoreChannel := make(chan zmachine.SaveRestoreResponse)
		m.zMachine = zmachine.LoadRom(romBytes, inputChannel, saveRestoreChannel, outputChannel)
		m.outputChannel = outputChannel
		m.sendChannel = inputChannel
		m.saveRestoreChannel = saveRestoreChannel
		m.appState = appRunning
		m.reprimeScore = true

		return m, tea.Batch(
			waitForInterpreter(m.outputChannel),
			runInterpreter(m.zMachine),
		)

	case runtimeErrorMessage:
		m.runtimeError = string(msg)
		return m, tea.Quit
	}

	if m.appState != appRunning {
		m.inputBox, cmd = m.inputBox.Update(msg)
	}

	return m, cmd
}

// watchScore is the score-delta watcher: between the game's output and the
// next prompt it splices an update message in front of the final '>'.
// Output that doesn't end at a bare prompt drops the message for the turn.
func (m *runStoryModel) watchScore() {
	if !m.showScoreUpdates || !m.scoreGame {
		return
	}

	score := int16(m.zMachine.GlobalVariable(17))

	if m.reprimeScore {
		m.reprimeScore = false
		m.lastScore = score
		return
	}

	delta := score - m.lastScore
	m.lastScore = score
	if delta == 0 {
		return
	}

	direction := "increased"
	if delta < 0 {
		direction = "decreased"
		delta = -delta
	}

	promptIx := strings.LastIndex(m.outputText, ">")
	if promptIx < 0 || promptIx != len(m.outputText)-1 {
		return
	}

	message := fmt.Sprintf("[Your score %s by %d points. Your current score is %d points.]\n\n", direction, delta, score)
	m.outputText = m.outputText[:promptIx] + message + m.outputText[promptIx:]
}

// saveFilename falls back to <story>.sav next to the story file when the
// player just presses enter at the filename prompt.
func (m runStoryModel) saveFilename(typed string) string {
	typed = strings.TrimSpace(typed)
	if typed != "" {
		return typed
	}

	base := m.romFilePath
	ext := filepath.Ext(base)
	if len(ext) >= 2 && (ext[1] == 'z' || ext[1] == 'Z' || strings.EqualFold(ext, ".dat")) {
		base = base[:len(base)-len(ext)]
	}
	return base + ".sav"
}

func (m runStoryModel) View() string {
	if m.runtimeError != "" {
		errorStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)
		return fmt.Sprintf("\n%s\n\n%s\n", errorStyle.Render("Z-Machine Error:"), m.runtimeError)
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	columns := teletypeColumns
	if m.width < columns {
		columns = m.width
	}

	// wordwrap breaks at word boundaries, wrap hard-splits anything longer
	// than a whole line
	body := wrap.String(wordwrap.String(m.outputText, columns), columns)

	switch m.appState {
	case appWaitingForSaveFilename:
		body += "\nSave to file: " + m.inputBox.View()
	case appWaitingForRestoreFilename:
		body += "\nRestore from file: " + m.inputBox.View()
	case appWaitingForInput:
		body += m.inputBox.View()
	}

	lines := strings.Split(body, "\n")
	if len(lines) > m.height {
		lines = lines[len(lines)-m.height:]
	}

	return strings.Join(lines, "\n")
}

func waitForInterpreter(sub <-chan any) tea.Cmd {
	return func() tea.Msg {
		msg := <-sub
		switch msg := msg.(type) {
		case string:
			return textUpdateMessage(msg)
		case zmachine.StateChangeRequest:
			return msg
		case zmachine.Save:
			return saveRequestMessage(msg)
		case zmachine.Restore:
			return restoreRequestMessage(msg)
		case zmachine.Quit:
			return tea.Quit()
		case zmachine.Restart:
			return restartRequest(true)
		case zmachine.RuntimeError:
			return runtimeErrorMessage(msg)
		default:
			return runtimeErrorMessage(zmachine.RuntimeError("Invalid message type sent from interpreter"))
		}
	}
}

func newApplicationModel(zMachine *zmachine.ZMachine, inputChannel chan<- string, saveRestoreChannel chan<- zmachine.SaveRestoreResponse, outputChannel <-chan any, romBytes []byte, romPath string, showScoreUpdates bool) tea.Model {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 60
	ti.Prompt = ""

	return runStoryModel{
		outputChannel:      outputChannel,
		sendChannel:        inputChannel,
		saveRestoreChannel: saveRestoreChannel,
		zMachine:           zMachine,
		romBytes:           romBytes,
		romFilePath:        romPath,
		appState:           appRunning,
		inputBox:           ti,
		showScoreUpdates:   showScoreUpdates,
		scoreGame:          !zMachine.Core.StatusBarTimeBased,
		reprimeScore:       true,
	}
}

func startStory(romBytes []byte, romPath string, showScoreUpdates bool) tea.Model {
	storyBytes := make([]byte, len(romBytes))
	copy(storyBytes, romBytes)

	outputChannel := make(chan any)
	inputChannel := make(chan string)
	saveRestoreChannel := make(chan zmachine.SaveRestoreResponse)
	zMachine := zmachine.LoadRom(storyBytes, inputChannel, saveRestoreChannel, outputChannel)

	return newApplicationModel(zMachine, inputChannel, saveRestoreChannel, outputChannel, romBytes, romPath, showScoreUpdates)
}

func main() {
	fs := flag.NewFlagSet("ztty", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	showScoreUpdates := fs.Bool("showScoreUpdates", false, "announce score changes between turns")
	browse := fs.Bool("browse", false, "browse and download stories from the if-archive")
	fs.Usage = func() {
		fmt.Println("Usage: ztty [-showScoreUpdates] <story-file>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(0)
	}

	var model tea.Model

	if *browse {
		model = selectstoryui.NewUIModel(func(romBytes []byte, romPath string) tea.Model {
			return startStory(romBytes, romPath, *showScoreUpdates)
		})
	} else {
		if fs.NArg() != 1 {
			fs.Usage()
			os.Exit(0)
		}

		romFilePath := fs.Arg(0)
		romBytes, err := os.ReadFile(romFilePath)
		if err != nil {
			fmt.Println("Error reading story file:", err)
			os.Exit(1)
		}
		if len(romBytes) < 0x40 || romBytes[0] != 3 {
			fmt.Println("Not a version 3 story file:", romFilePath)
			os.Exit(1)
		}

		model = startStory(romBytes, romFilePath, *showScoreUpdates)
	}

	tui := tea.NewProgram(model)

	if _, err := tui.Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}
