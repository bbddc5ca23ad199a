package tools

import (
	"context"
	"fmt"

	"github.com/harun/arka/pkg/control"
)

// FinalAnswerName is the designated tool whose invocation signals successful
// completion of a run.
const FinalAnswerName = "final_answer"

// FinalAnswer returns the final-answer tool definition. Its output passes
// through verbatim as the run output.
func FinalAnswer() Definition {
	return Definition{
		Name:        FinalAnswerName,
		Description: "Provide the final answer to the task. Call this exactly once, when the task is solved.",
		Parameters: []Parameter{
			{
				Name:        "answer",
				Type:        "string",
				Description: "The final answer to return to the caller",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["answer"], nil
		},
	}
}

// UserInput returns a tool that asks the run's driver a question through the
// control channel. With no driver attached it falls back to the default value.
func UserInput(ch *control.Channel) Definition {
	return Definition{
		Name:        "user_input",
		Description: "Ask the user a clarifying question and wait for the answer.",
		Parameters: []Parameter{
			{
				Name:        "question",
				Type:        "string",
				Description: "The question to ask the user",
				Required:    true,
			},
			{
				Name:        "default",
				Type:        "string",
				Description: "Answer assumed when nobody is listening",
				Required:    false,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			question, _ := args["question"].(string)

			resp, err := ch.Request(ctx, control.Request{
				Kind:     control.KindUserInput,
				Prompt:   question,
				Default:  args["default"],
				Fallback: control.FallbackUseDefault,
			})
			if err != nil {
				return nil, err
			}
			if resp.Value == nil {
				return "", nil
			}
			return fmt.Sprintf("%v", resp.Value), nil
		},
	}
}

// Confirm returns a tool that asks the run's driver to approve an action.
// Unattended runs auto-approve.
func Confirm(ch *control.Channel) Definition {
	return Definition{
		Name:        "confirm",
		Description: "Ask the user to approve or reject a proposed action before taking it.",
		Parameters: []Parameter{
			{
				Name:        "action",
				Type:        "string",
				Description: "Description of the action requiring approval",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			action, _ := args["action"].(string)

			resp, err := ch.Request(ctx, control.Request{
				Kind:     control.KindConfirmation,
				Prompt:   action,
				Fallback: control.FallbackAutoApprove,
			})
			if err != nil {
				return nil, err
			}
			if !resp.Approved {
				return "rejected", nil
			}
			return "approved", nil
		},
	}
}
