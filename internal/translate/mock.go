package translate

import (
	"context"
	"fmt"
)

type mockTranslator struct{}

// NewMock tags the text with the target code instead of translating it.
func NewMock() Translator {
	return mockTranslator{}
}

func (mockTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("[%s] %s", req.Target, req.Text)}, nil
}
