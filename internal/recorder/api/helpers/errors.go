package helpers

import (
	"fmt"

	"github.com/imroc/req/v3"
)

type reqCtxKey string

// ReqCtxSkipOnBeforeHook marks requests that must not run the bearer refresh hook
const ReqCtxSkipOnBeforeHook reqCtxKey = "skip-on-before-hook"

type ResponseError struct {
	Status string
	Body   []byte
	Code   int
}

// Error converts the response error to string, but does not print body!
func (e *ResponseError) Error() string {
	return fmt.Sprintf("code: %d status: %s", e.Code, e.Status)
}

func (e *ResponseError) Is(target error) bool {
	t, ok := target.(*ResponseError)
	return ok && (t.Code == 0 || t.Code == e.Code)
}

// ErrorFromResponse provides properly typed errors for further handling
func ErrorFromResponse(err error, resp *req.Response) error {
	// If an error was encountered, relay it unwrapped
	if err != nil {
		return err
	}

	if resp.IsSuccessState() {
		return nil
	}

	// Check if there was an underlying error
	if respErr, ok := resp.ErrorResult().(error); ok && respErr != nil {
		return respErr
	}

	return &ResponseError{
		Code:   resp.StatusCode,
		Status: resp.Status,
		Body:   resp.Bytes(),
	}
}
