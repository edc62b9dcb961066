// SPDX-License-Identifier: MIT

// Package menu provides the interactive terminal menu for glimpsectl,
// built on charmbracelet/huh.
package menu

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
)

// Item is one selectable menu entry.
type Item struct {
	Key    string       // stable identifier, also the exit key check
	Label  string       // display label
	Action func() error // executed when selected
}

// Menu is a titled list of items displayed in a loop until the user exits.
type Menu struct {
	Title      string
	Items      []Item
	output     io.Writer
	accessible bool
}

// Option configures a Menu.
type Option func(*Menu)

// WithOutput sets the output writer (for testing).
func WithOutput(w io.Writer) Option {
	return func(m *Menu) { m.output = w }
}

// WithAccessible enables accessible mode for screen readers.
func WithAccessible(accessible bool) Option {
	return func(m *Menu) { m.accessible = accessible }
}

// New creates a menu.
func New(title string, opts ...Option) *Menu {
	m := &Menu{Title: title, output: os.Stdout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add appends an item.
func (m *Menu) Add(key, label string, action func() error) {
	m.Items = append(m.Items, Item{Key: key, Label: label, Action: action})
}

// Run displays the menu in a loop. It returns when the user picks "q",
// aborts with ctrl-c, or the form itself fails. An error from an action is
// printed to the menu's output and the loop continues.
func (m *Menu) Run() error {
	for {
		options := make([]huh.Option[string], 0, len(m.Items)+1)
		for _, item := range m.Items {
			options = append(options, huh.NewOption(item.Label, item.Key))
		}
		options = append(options, huh.NewOption("Quit", "q"))

		var choice string
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title(m.Title).
				Options(options...).
				Value(&choice),
		)).WithAccessible(m.accessible)

		if err := form.Run(); err != nil {
			if err == huh.ErrUserAborted {
				return nil
			}
			return err
		}
		if choice == "q" {
			return nil
		}

		for _, item := range m.Items {
			if item.Key == choice {
				if err := item.Action(); err != nil {
					fmt.Fprintf(m.output, "error: %v\n", err)
				}
				break
			}
		}
	}
}

// Select prompts the user to pick one of the given values.
func Select(title string, values []string, accessible bool) (string, error) {
	options := make([]huh.Option[string], 0, len(values))
	for _, v := range values {
		options = append(options, huh.NewOption(v, v))
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(options...).
			Value(&choice),
	)).WithAccessible(accessible)

	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

// Confirm asks a yes/no question.
func Confirm(prompt string, accessible bool) (bool, error) {
	var confirmed bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Value(&confirmed),
	)).WithAccessible(accessible)

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return false, nil
		}
		return false, err
	}
	return confirmed, nil
}
