package global

import "PRelay/tools/errs"

// Msg is the envelope of the relay's plain HTTP endpoints.
type Msg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func Success(data any) *Msg {
	return &Msg{
		Code: 200,
		Data: data,
	}
}

// Fail maps err to its code, or UnavailableCode when it carries none.
func Fail(err error) *Msg {
	code := errs.Code(err)
	if code == 0 {
		code = errs.UnavailableCode
	}
	return &Msg{
		Code: code,
		Msg:  err.Error(),
	}
}
