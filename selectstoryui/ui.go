package selectstoryui

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const url = "https://www.ifarchive.org/indexes/if-archive/games/zcode/"
const cacheDuration = 7 * 24 * time.Hour

var v3FilePattern = regexp.MustCompile(`\.z3$`)

var docStyle = lipgloss.NewStyle().Margin(1, 2)

type selectStoryState int

const (
	loadingStoryList selectStoryState = iota
	choosingStory    selectStoryState = iota
	downloadingStory selectStoryState = iota
)

type story struct {
	name        string
	url         string
	description string
}

func (s story) Title() string       { return s.name }
func (s story) Description() string { return s.description }
func (s story) FilterValue() string { return s.name + s.description }

type selectStoryModel struct {
	state             selectStoryState
	storyList         list.Model
	spinner           spinner.Model
	err               error
	createStoryModel  func([]byte, string) tea.Model
	selectedStoryName string
	cacheDir          string
}

type storiesFetchedMsg []list.Item
type storyDownloadedMsg []uint8

type errMsg struct{ error }

func (e errMsg) Error() string { return e.error.Error() }

// NewUIModel builds the story browser; createStoryModel is called with the
// downloaded story bytes and its cache path once the player picks one.
func NewUIModel(createStoryModel func([]byte, string) tea.Model) tea.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = "."
	}
	cacheDir = filepath.Join(cacheDir, "ztty")

	storyList := list.New(make([]list.Item, 0), list.NewDefaultDelegate(), 0, 0)
	storyList.Title = "Version 3 stories on the if-archive"

	return selectStoryModel{
		state:            loadingStoryList,
		storyList:        storyList,
		spinner:          s,
		createStoryModel: createStoryModel,
		cacheDir:         cacheDir,
	}
}

func (m selectStoryModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, fetchStoryIndex)
}

// fetchStoryIndex scrapes the archive index for .z3 entries.
func fetchStoryIndex() tea.Msg {
	c := &http.Client{Timeout: 30 * time.Second}
	res, err := c.Get(url)
	if err != nil {
		return errMsg{err}
	}
	defer res.Body.Close() // nolint:errcheck

	if res.StatusCode != 200 {
		return errMsg{fmt.Errorf("bad status code fetching index: %d", res.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return errMsg{err}
	}

	var items []list.Item

	doc.Find("dl dt").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Find("a").Attr("href")
		if !exists || !v3FilePattern.MatchString(href) {
			return
		}

		description := strings.TrimSpace(s.Next().Text())
		if ix := strings.IndexByte(description, '\n'); ix >= 0 {
			description = description[:ix]
		}

		items = append(items, story{
			name:        filepath.Base(href),
			url:         "https://www.ifarchive.org" + href,
			description: description,
		})
	})

	return storiesFetchedMsg(items)
}

// downloadStory fetches the story file, keeping a local copy so replays
// don't touch the network for a week.
func (m selectStoryModel) downloadStory(s story) tea.Cmd {
	return func() tea.Msg {
		cachePath := filepath.Join(m.cacheDir, s.name)

		if info, err := os.Stat(cachePath); err == nil && time.Since(info.ModTime()) < cacheDuration {
			data, err := os.ReadFile(cachePath)
			if err == nil {
				return storyDownloadedMsg(data)
			}
		}

		c := &http.Client{Timeout: 60 * time.Second}
		res, err := c.Get(s.url)
		if err != nil {
			return errMsg{err}
		}
		defer res.Body.Close() // nolint:errcheck

		if res.StatusCode != 200 {
			return errMsg{fmt.Errorf("bad status code downloading %s: %d", s.name, res.StatusCode)}
		}

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return errMsg{err}
		}

		if err := os.MkdirAll(m.cacheDir, 0755); err == nil {
			os.WriteFile(cachePath, data, 0644) // nolint:errcheck
		}

		return storyDownloadedMsg(data)
	}
}

func (m selectStoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.Type == tea.KeyEnter && m.state == choosingStory {
			if selected, ok := m.storyList.SelectedItem().(story); ok {
				m.state = downloadingStory
				m.selectedStoryName = selected.name
				return m, tea.Batch(m.spinner.Tick, m.downloadStory(selected))
			}
		}

	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.storyList.SetSize(msg.Width-h, msg.Height-v)

	case storiesFetchedMsg:
		m.state = choosingStory
		return m, m.storyList.SetItems(msg)

	case storyDownloadedMsg:
		if len(msg) < 0x40 || msg[0] != 3 {
			m.err = fmt.Errorf("%s is not a version 3 story file", m.selectedStoryName)
			return m, tea.Quit
		}

		storyModel := m.createStoryModel(msg, filepath.Join(m.cacheDir, m.selectedStoryName))
		return storyModel, storyModel.Init()

	case errMsg:
		m.err = msg
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.storyList, cmd = m.storyList.Update(msg)
	return m, cmd
}

func (m selectStoryModel) View() string {
	if m.err != nil {
		return docStyle.Render(fmt.Sprintf("Error: %v\n", m.err))
	}

	switch m.state {
	case loadingStoryList:
		return docStyle.Render(fmt.Sprintf("%s Fetching the story index...", m.spinner.View()))
	case downloadingStory:
		return docStyle.Render(fmt.Sprintf("%s Downloading %s...", m.spinner.View(), m.selectedStoryName))
	default:
		return docStyle.Render(m.storyList.View())
	}
}
