package popup

import (
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"
)

// TerminalView prints popup state with pterm.
type TerminalView struct {
	w  io.Writer
	mu sync.Mutex
}

// NewTerminalView writes to w.
func NewTerminalView(w io.Writer) *TerminalView {
	return &TerminalView{w: w}
}

func (v *TerminalView) print(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprint(v.w, s)
}

func (v *TerminalView) ShowError(msg string) {
	v.print(pterm.Warning.Sprintln(msg))
}

func (v *TerminalView) ShowProduct(title string, quantity int) {
	v.print(pterm.Bold.Sprint(title) + "\n")
	v.print(pterm.Info.Sprintfln("Quantity: %d", quantity))
}

func (v *TerminalView) SetQuantity(quantity int) {
	v.print(pterm.Info.Sprintfln("Quantity: %d", quantity))
}

func (v *TerminalView) SetButton(label string, enabled bool) {
	if enabled {
		v.print(pterm.Sprintln("[" + label + "]"))
		return
	}
	v.print(pterm.Sprintln(" " + label))
}

// ViewState is a snapshot of a RecordingView.
type ViewState struct {
	Error    string   `json:"error,omitempty"`
	Title    string   `json:"title,omitempty"`
	Quantity int      `json:"quantity,omitempty"`
	Shown    bool     `json:"shown"` // quantity control rendered
	Label    string   `json:"label,omitempty"`
	Enabled  bool     `json:"enabled"`
	Labels   []string `json:"labels,omitempty"` // every label set, in order
}

// RecordingView keeps the latest popup state in memory.
type RecordingView struct {
	mu sync.Mutex
	st ViewState
}

func (v *RecordingView) ShowError(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.st.Error = msg
	v.st.Shown = false
}

func (v *RecordingView) ShowProduct(title string, quantity int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.st.Error = ""
	v.st.Title = title
	v.st.Quantity = quantity
	v.st.Shown = true
}

func (v *RecordingView) SetQuantity(quantity int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.st.Quantity = quantity
}

func (v *RecordingView) SetButton(label string, enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.st.Label = label
	v.st.Enabled = enabled
	v.st.Labels = append(v.st.Labels, label)
}

// State returns a copy of the current state.
func (v *RecordingView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.st
	st.Labels = append([]string(nil), v.st.Labels...)
	return st
}

// MultiView forwards every update to each view in order.
func MultiView(views ...View) View { return multiView(views) }

type multiView []View

func (m multiView) ShowError(msg string) {
	for _, v := range m {
		v.ShowError(msg)
	}
}

func (m multiView) ShowProduct(title string, quantity int) {
	for _, v := range m {
		v.ShowProduct(title, quantity)
	}
}

func (m multiView) SetQuantity(quantity int) {
	for _, v := range m {
		v.SetQuantity(quantity)
	}
}

func (m multiView) SetButton(label string, enabled bool) {
	for _, v := range m {
		v.SetButton(label, enabled)
	}
}
