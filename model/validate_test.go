package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formdeck/formdeck/fault"
)

func validBlocks() []Block {
	return []Block{
		{ID: "q1", Type: BlockShortText, Question: "Your name?", Required: true},
		{ID: "q2", Type: BlockParagraph, Question: "Tell us more", Description: "optional details"},
		{
			ID: "q3", Type: BlockMultipleChoice, Question: "Favourite colors?",
			OptionsMode: OptionsCheckbox, Options: []string{"red", "green", "blue"},
		},
	}
}

func TestValidateBlocks_Valid(t *testing.T) {
	require.NoError(t, ValidateBlocks(validBlocks()))
	require.NoError(t, ValidateBlocks(nil))
}

func TestValidateBlocks_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(blocks []Block)
		field  string
	}{
		{
			"missing id",
			func(blocks []Block) { blocks[0].ID = "" },
			"blocks[0].id",
		},
		{
			"duplicate id",
			func(blocks []Block) { blocks[1].ID = "q1" },
			"blocks[1].id",
		},
		{
			"unknown type",
			func(blocks []Block) { blocks[1].Type = "slider" },
			"blocks[1].type",
		},
		{
			"missing question",
			func(blocks []Block) { blocks[2].Question = "" },
			"blocks[2].question",
		},
		{
			"multiple-choice without mode",
			func(blocks []Block) { blocks[2].OptionsMode = "" },
			"blocks[2].optionsMode",
		},
		{
			"multiple-choice with unknown mode",
			func(blocks []Block) { blocks[2].OptionsMode = "slider" },
			"blocks[2].optionsMode",
		},
		{
			"multiple-choice without options",
			func(blocks []Block) { blocks[2].Options = nil },
			"blocks[2].options",
		},
		{
			"empty option",
			func(blocks []Block) { blocks[2].Options = []string{"red", ""} },
			"blocks[2].options[1]",
		},
		{
			"text block with mode",
			func(blocks []Block) { blocks[0].OptionsMode = OptionsRadio },
			"blocks[0].optionsMode",
		},
		{
			"text block with options",
			func(blocks []Block) { blocks[1].Options = []string{"yes"} },
			"blocks[1].options",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := validBlocks()
			tt.mutate(blocks)

			err := ValidateBlocks(blocks)
			require.Error(t, err)

			var f *fault.Fault
			require.ErrorAs(t, err, &f)
			assert.Equal(t, fault.Validation, f.Kind)
			assert.Equal(t, tt.field, f.Field)
		})
	}
}
