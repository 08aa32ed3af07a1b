package auth

import "fmt"

// エラーコード
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeStoreLookupFailed  = "STORE_LOOKUP_FAILED"
	CodeSessionUnavailable = "SESSION_UNAVAILABLE"
	CodeValidation         = "VALIDATION_ERROR"
	CodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	CodeCSRFInvalid        = "CSRF_INVALID"
)

// Error は利用者に表示するメッセージとコードを持つエラーです。
// Err には運用者向けの原因を保持し、画面には出しません。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is はコードが一致すれば同じエラーとみなします。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable はインフラ起因で再試行に意味があるかを返します。
func (e *Error) Retryable() bool {
	return e.Code == CodeStoreLookupFailed || e.Code == CodeSessionUnavailable
}

var (
	// ErrInvalidCredentials は未登録・未承認・パスワード不一致のいずれも区別せずに返します。
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "E-mail ou senha inválidos."}
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Message: "Sessão inválida ou expirada."}
	ErrStoreLookupFailed  = &Error{Code: CodeStoreLookupFailed, Message: "Não foi possível autenticar. Tente novamente em instantes."}
	ErrSessionUnavailable = &Error{Code: CodeSessionUnavailable, Message: "Não foi possível autenticar. Tente novamente em instantes."}
	ErrValidation         = &Error{Code: CodeValidation, Message: "Informe e-mail e senha."}
	ErrTooManyAttempts    = &Error{Code: CodeTooManyAttempts, Message: "Muitas tentativas de acesso. Aguarde alguns minutos e tente novamente."}
	ErrCSRFInvalid        = &Error{Code: CodeCSRFInvalid, Message: "O formulário expirou. Tente novamente."}
)

func wrapError(base *Error, cause error) *Error {
	return &Error{Code: base.Code, Message: base.Message, Err: cause}
}
