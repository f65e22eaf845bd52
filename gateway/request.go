package gateway

import "fmt"

// Kind identifies which call site produced a request.
type Kind int

const (
	Generate Kind = iota
	Retry
	Deploy
	InlineComplete
	DropdownComplete
)

func (k Kind) String() string {
	switch k {
	case Generate:
		return "generate"
	case Retry:
		return "retry"
	case Deploy:
		return "deploy"
	case InlineComplete:
		return "inline"
	case DropdownComplete:
		return "dropdown"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := Generate; k <= DropdownComplete; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown request kind %q", s)
}

// Completion reports whether k is a low-latency completion kind.
func (k Kind) Completion() bool {
	return k == InlineComplete || k == DropdownComplete
}

// Metadata carries the panel selections that accompany a request.
type Metadata struct {
	Purpose      string
	ContractType string
	Lang         string
}

// Request is one inference request. It is built at trigger time and not
// modified afterwards.
type Request struct {
	Kind Kind
	// PromptOrCode is the prompt for every kind except Deploy, where it is
	// the artifact to deploy.
	PromptOrCode string
	Meta         Metadata
}

type promptMessage struct {
	Prompt string `json:"prompt"`
}

type deployMessage struct {
	Action       string `json:"action"`
	Code         string `json:"code"`
	ContractType string `json:"contract_type"`
	Lang         string `json:"lang"`
}

// message returns the single document written to the process's stdin.
func (r Request) message() any {
	if r.Kind == Deploy {
		return deployMessage{
			Action:       "deploy",
			Code:         r.PromptOrCode,
			ContractType: r.Meta.ContractType,
			Lang:         r.Meta.Lang,
		}
	}
	return promptMessage{Prompt: r.PromptOrCode}
}
