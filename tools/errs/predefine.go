package errs

const (
	AuthErrorCode         = 1000
	InvalidTokenCode      = 1001
	MalformedResponseCode = 1002
	MalformedMessageCode  = 1003
	MissingTokenCode      = 1004

	LookupErrorCode = 2000
	BusErrorCode    = 3000
	ParseErrorCode  = 4000

	UnavailableCode = 5000
	PanicCode       = 5001
)

var (
	ErrAuth              = NewCodeError(AuthErrorCode, "AuthError")
	ErrInvalidToken      = NewCodeError(InvalidTokenCode, "InvalidToken")
	ErrMalformedResponse = NewCodeError(MalformedResponseCode, "MalformedResponse")
	ErrMalformedMessage  = NewCodeError(MalformedMessageCode, "MalformedMessage")
	ErrMissingToken      = NewCodeError(MissingTokenCode, "MissingToken")

	ErrLookup = NewCodeError(LookupErrorCode, "LookupError")
	ErrBus    = NewCodeError(BusErrorCode, "BusError")
	ErrParse  = NewCodeError(ParseErrorCode, "ParseError")

	ErrUnavailable = NewCodeError(UnavailableCode, "Unavailable")
)

func init() {
	_ = DefaultCodeRelation.Add(AuthErrorCode, InvalidTokenCode)
	_ = DefaultCodeRelation.Add(AuthErrorCode, MalformedResponseCode)
	_ = DefaultCodeRelation.Add(AuthErrorCode, MalformedMessageCode)
	_ = DefaultCodeRelation.Add(AuthErrorCode, MissingTokenCode)
}
