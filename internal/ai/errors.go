package ai

import (
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
)

// ErrMissingAPIKey: ключ API не задан. Сессия не делает ни одного запроса, пока ключа нет.
var ErrMissingAPIKey = errors.New("openai api key is not set")

// Op: имя удалённой операции, используется в ошибках, логах и заглушке.
type Op string

const (
	OpCreateThread  Op = "create_thread"
	OpUploadFile    Op = "upload_file"
	OpCreateMessage Op = "create_message"
	OpListMessages  Op = "list_messages"
	OpCreateRun     Op = "create_run"
	OpGetRun        Op = "get_run"
)

// RemoteError: любой неуспешный ответ удалённого API, сбой транспорта или разбора ответа.
// StatusCode равен нулю, если HTTP-ответа не было.
type RemoteError struct {
	Op         Op
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// NewRemoteError оборачивает ошибку SDK, вытаскивая HTTP-статус, если он есть.
func NewRemoteError(op Op, err error) *RemoteError {
	re := &RemoteError{Op: op, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		re.StatusCode = apiErr.StatusCode
	}
	return re
}

// IsRemote сообщает, что err: ошибка удалённого API.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
