package mars

import (
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-stargate/pkg/stn"
)

// Task failure domains
var (
	ErrOSStatus     = errors.New("mars: OS status error")
	ErrURL          = errors.New("mars: URL error")
	ErrStreamSOCKS  = errors.New("mars: stream SOCKS error")
	ErrItemProvider = errors.New("mars: item provider error")
	ErrPOSIX        = errors.New("mars: POSIX error")
	ErrNetServices  = errors.New("mars: net services error")
	ErrGeneric      = errors.New("mars: error")

	ErrUnknownTask = errors.New("mars: unknown task")
)

// TaskError is the error a send finishes with when its task ended badly
type TaskError struct {
	Domain error
	Type   stn.ErrType
	Code   int
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%v (type=%s, code=%d)", e.Domain, e.Type, e.Code)
}

func (e *TaskError) Unwrap() error {
	return e.Domain
}

// TranslateError maps a task end to an error, nil for ErrTypeOK
func TranslateError(errType stn.ErrType, errCode int) error {
	var domain error
	switch errType {
	case stn.ErrTypeOK:
		return nil
	case stn.ErrTypeFalse, stn.ErrTypeDial:
		domain = ErrOSStatus
	case stn.ErrTypeDNS, stn.ErrTypeHTTP:
		domain = ErrURL
	case stn.ErrTypeSocket:
		domain = ErrStreamSOCKS
	case stn.ErrTypeNetMsgXP:
		domain = ErrItemProvider
	case stn.ErrTypeEnDecode:
		domain = ErrPOSIX
	case stn.ErrTypeServer:
		domain = ErrNetServices
	default:
		domain = ErrGeneric
	}
	return &TaskError{Domain: domain, Type: errType, Code: errCode}
}
