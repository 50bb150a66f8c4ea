package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrEmptyAnswer = errors.New("llm: empty answer")

type Question struct {
	Content string
	Files   []io.Reader
}

type Answer struct {
	Content     string
	InputToken  int
	OutputToken int
}

type Session interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

type Service interface {
	AskOnce(ctx context.Context, q Question) (Answer, error)
	BeginChat(ctx context.Context) (Session, error)
}

// ExtractJSON 从回答中取出 json 对象, 兼容 ```json 代码块包裹
func ExtractJSON(answer Answer, v any) error {
	content := strings.TrimSpace(answer.Content)
	if content == "" {
		return ErrEmptyAnswer
	}
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) < 3 {
			return fmt.Errorf("invalid answer format: %q", content)
		}
		content = strings.Join(lines[1:len(lines)-1], "\n")
	}
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no json object in answer: %q", content)
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), v); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return nil
}
