package model

import (
	"fmt"

	"github.com/formdeck/formdeck/fault"
)

// CheckAnswers validates a proposed answer list against a template's current
// block list: every required block must be covered by exactly one answer, no
// answer may reference a block id the template does not contain, and each
// value's shape must match its block type. On success it returns the answers
// in block order with question text and type echoed from the blocks.
//
// It runs at form creation and again at every form update, each time against
// the blocks as they are at that instant.
func CheckAnswers(blocks []Block, answers []Answer) ([]Answer, error) {
	byQuestion := make(map[string]Answer, len(answers))
	for _, a := range answers {
		block := findBlock(blocks, a.QuestionID)
		if block == nil {
			return nil, fault.NewUnmatchedAnswer(a.QuestionID)
		}
		if _, dup := byQuestion[a.QuestionID]; dup {
			return nil, fault.NewValidation(
				fmt.Sprintf("answers[%s]", a.QuestionID),
				"duplicate answer for question")
		}
		if err := checkShape(*block, a.Value); err != nil {
			return nil, err
		}
		byQuestion[a.QuestionID] = a
	}

	checked := make([]Answer, 0, len(byQuestion))
	for _, b := range blocks {
		a, answered := byQuestion[b.ID]
		if !answered {
			if b.Required {
				return nil, fault.NewMissingRequiredAnswer(b.ID, b.Question)
			}
			continue
		}
		a.Question = b.Question
		a.Type = b.Type
		checked = append(checked, a)
	}
	return checked, nil
}

func findBlock(blocks []Block, id string) *Block {
	for i := range blocks {
		if blocks[i].ID == id {
			return &blocks[i]
		}
	}
	return nil
}

func checkShape(b Block, v AnswerValue) error {
	field := fmt.Sprintf("answers[%s].answer", b.ID)

	switch b.Type {
	case BlockMultipleChoice:
		if !v.Multi {
			return fault.NewValidation(field, "multiple-choice answer must be a list of strings")
		}
		for _, choice := range v.Choices {
			if !contains(b.Options, choice) {
				return fault.NewValidation(field, fmt.Sprintf("%q is not one of the question's options", choice))
			}
		}
	default:
		if v.Multi {
			return fault.NewValidation(field, "answer must be a single string")
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
