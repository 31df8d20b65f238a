package model

import (
	"fmt"

	"github.com/formdeck/formdeck/fault"
)

// ValidateBlocks checks a template's block list against the block schema and
// fails on the first invalid block, naming the offending field. Block ids
// must be unique within the template; options-mode and option list must be
// present iff the block type is multiple-choice.
func ValidateBlocks(blocks []Block) error {
	seen := make(map[string]bool, len(blocks))
	for i, b := range blocks {
		field := func(name string) string {
			return fmt.Sprintf("blocks[%d].%s", i, name)
		}

		if b.ID == "" {
			return fault.NewValidation(field("id"), "block id is required")
		}
		if seen[b.ID] {
			return fault.NewValidation(field("id"), fmt.Sprintf("duplicate block id %q", b.ID))
		}
		seen[b.ID] = true

		if !b.Type.Recognized() {
			return fault.NewValidation(field("type"), fmt.Sprintf("unknown block type %q", b.Type))
		}
		if b.Question == "" {
			return fault.NewValidation(field("question"), "question text is required")
		}

		if b.Type == BlockMultipleChoice {
			if !b.OptionsMode.Recognized() {
				return fault.NewValidation(field("optionsMode"),
					fmt.Sprintf("multiple-choice block requires a valid options mode, got %q", b.OptionsMode))
			}
			if len(b.Options) == 0 {
				return fault.NewValidation(field("options"), "multiple-choice block requires a non-empty option list")
			}
			for j, opt := range b.Options {
				if opt == "" {
					return fault.NewValidation(fmt.Sprintf("blocks[%d].options[%d]", i, j), "option must not be empty")
				}
			}
		} else {
			if b.OptionsMode != "" {
				return fault.NewValidation(field("optionsMode"),
					fmt.Sprintf("options mode is only valid for multiple-choice blocks, not %q", b.Type))
			}
			if len(b.Options) != 0 {
				return fault.NewValidation(field("options"),
					fmt.Sprintf("option list is only valid for multiple-choice blocks, not %q", b.Type))
			}
		}
	}
	return nil
}
