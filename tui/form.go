package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/c360studio/datafactory/challenge"
)

type formField int

const (
	fieldDomain formField = iota
	fieldCustomDomain
	fieldFunction
	fieldCustomFunction
	fieldDifficulty
	fieldStructure
	fieldSize
	fieldContext
	fieldCount
)

var fieldLabels = [fieldCount]string{
	"Domain", "Custom domain", "Function", "Custom function",
	"Difficulty", "Structure", "Dataset rows", "Context",
}

// settingsForm edits challenge.Settings. Pickers cycle with left/right;
// text fields use textinput.
type settingsForm struct {
	settings challenge.Settings
	focus    formField
	inputs   map[formField]*textinput.Model
}

func newSettingsForm(s challenge.Settings) *settingsForm {
	f := &settingsForm{inputs: make(map[formField]*textinput.Model)}
	for _, field := range []formField{fieldCustomDomain, fieldCustomFunction, fieldSize, fieldContext} {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 2000
		f.inputs[field] = &ti
	}
	f.inputs[fieldSize].CharLimit = 7
	f.inputs[fieldContext].Placeholder = "optional: leave empty for a generated brief"
	f.load(s)
	return f
}

// load replaces the form contents, e.g. after a reset. Domain and function
// stay unselected until the user picks them.
func (f *settingsForm) load(s challenge.Settings) {
	f.settings = s
	f.inputs[fieldCustomDomain].SetValue(s.CustomDomain)
	f.inputs[fieldCustomFunction].SetValue(s.CustomFunction)
	f.inputs[fieldSize].SetValue(strconv.Itoa(s.DatasetSize))
	f.inputs[fieldContext].SetValue(s.Context)
	f.setFocus(fieldDomain)
}

func (f *settingsForm) visible(field formField) bool {
	switch field {
	case fieldCustomDomain:
		return f.settings.Domain == challenge.OtherOption
	case fieldCustomFunction:
		return f.settings.Function == challenge.OtherOption
	default:
		return true
	}
}

func (f *settingsForm) setFocus(field formField) {
	f.focus = field
	for k, in := range f.inputs {
		if k == field {
			in.Focus()
		} else {
			in.Blur()
		}
	}
}

func (f *settingsForm) move(delta int) {
	next := f.focus
	for {
		next = formField((int(next) + delta + int(fieldCount)) % int(fieldCount))
		if f.visible(next) {
			break
		}
	}
	f.setFocus(next)
}

// update handles a key and reports whether the settings changed.
func (f *settingsForm) update(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch msg.String() {
	case "tab", "down":
		f.move(1)
		return false, nil
	case "shift+tab", "up":
		f.move(-1)
		return false, nil
	case "left", "right":
		delta := 1
		if msg.String() == "left" {
			delta = -1
		}
		if f.cycle(delta) {
			return true, nil
		}
	}

	in, ok := f.inputs[f.focus]
	if !ok {
		return false, nil
	}
	before := in.Value()
	updated, cmd := in.Update(msg)
	*in = updated
	if in.Value() == before {
		return false, cmd
	}
	f.applyText(f.focus, in.Value())
	return true, cmd
}

// cycle advances a picker field; text fields are left alone.
func (f *settingsForm) cycle(delta int) bool {
	s := &f.settings
	switch f.focus {
	case fieldDomain:
		s.Domain = step(challenge.Domains(), s.Domain, delta)
	case fieldFunction:
		s.Function = step(challenge.Functions(), s.Function, delta)
	case fieldDifficulty:
		tiers := make([]string, 0, 3)
		for _, d := range challenge.Difficulties() {
			tiers = append(tiers, d.String())
		}
		s.SetDifficulty(challenge.Difficulty(step(tiers, s.Difficulty.String(), delta)))
		f.inputs[fieldSize].SetValue(strconv.Itoa(s.DatasetSize))
	case fieldStructure:
		if s.DataStructure == challenge.StructureNormalized {
			s.DataStructure = challenge.StructureDenormalized
		} else {
			s.DataStructure = challenge.StructureNormalized
		}
	default:
		return false
	}
	return true
}

func (f *settingsForm) applyText(field formField, v string) {
	switch field {
	case fieldCustomDomain:
		f.settings.CustomDomain = v
	case fieldCustomFunction:
		f.settings.CustomFunction = v
	case fieldContext:
		f.settings.Context = v
	case fieldSize:
		// Partial input keeps the last valid size.
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			f.settings.DatasetSize = n
		}
	}
}

// step moves through options; from no selection it lands on the first
// (delta > 0) or last option.
func step(options []string, current string, delta int) string {
	idx := -1
	for i, o := range options {
		if o == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		if delta > 0 {
			return options[0]
		}
		return options[len(options)-1]
	}
	return options[(idx+delta+len(options))%len(options)]
}

func pickerValue(v string) string {
	if v == "" {
		return "‹ " + mutedStyle.Render("select") + " ›"
	}
	return "‹ " + v + " ›"
}

func (f *settingsForm) view() string {
	var b strings.Builder
	s := f.settings
	profile := s.Difficulty.Profile()
	values := [fieldCount]string{
		fieldDomain:     pickerValue(s.Domain),
		fieldFunction:   pickerValue(s.Function),
		fieldDifficulty: fmt.Sprintf("‹ %s › %s", s.Difficulty, mutedStyle.Render(fmt.Sprintf("%d tables · %d columns · %d questions", profile.Tables, profile.Columns, profile.Questions))),
		fieldStructure:  "‹ " + string(s.DataStructure) + " ›",
	}
	for field := formField(0); field < fieldCount; field++ {
		if !f.visible(field) {
			continue
		}
		label := labelStyle
		if field == f.focus {
			label = focusedLabel
		}
		value := values[field]
		if in, ok := f.inputs[field]; ok {
			value = in.View()
		}
		b.WriteString(label.Render(fieldLabels[field]) + " " + value + "\n")
	}
	return b.String()
}
