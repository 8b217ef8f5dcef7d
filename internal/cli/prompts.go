package cli

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
)

// ConfirmExecution asks before anything is submitted to the broker.
// Defaults to No.
func ConfirmExecution(orders int) (bool, error) {
	var confirmed bool
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Submit %d order(s) to the broker?", orders),
		Default: false,
	}

	err := survey.AskOne(prompt, &confirmed)
	if err != nil {
		return false, err
	}

	return confirmed, nil
}
