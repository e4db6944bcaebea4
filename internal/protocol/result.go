package protocol

// Result is the structured service-result type design note §9 asks for,
// collapsing the deep result-class hierarchies a naive port would otherwise
// grow into one tagged generic type. Every service method returns one of
// these; handlers translate it into a wire Envelope and nothing else crosses
// the session boundary as a raw error.
type Result[T any] struct {
	OK      bool
	ErrCode string
	Message string
	Data    T
}

// Ok builds a successful Result carrying data.
func Ok[T any](data T) Result[T] {
	return Result[T]{OK: true, Data: data}
}

// Fail builds a failed Result with an error code and message.
func Fail[T any](errCode, message string) Result[T] {
	return Result[T]{OK: false, ErrCode: errCode, Message: message}
}
