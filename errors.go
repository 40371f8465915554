package director

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Representation of errors at the API boundary. These are divided
// into a small number of categories, essentially distinguished by
// whose fault the error is: a transient problem with the director, or
// something that won't work until the operator changes what they are
// asking for.
type Error struct {
	Type Type
	// a stable, machine-matchable code for the failure
	Code Code
	// a message that can be printed out for the operator
	Help string `json:"help"`
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return e.Err.Error()
}

type Type string

const (
	// The operation looked fine on paper, but something went wrong
	Server Type = "server"
	// The thing you mentioned, whatever it is, just doesn't exist
	Missing Type = "missing"
	// The operation was well-formed, but asks for something that
	// can't happen at present
	User Type = "user"
)

// Codes for errors the API promises to keep stable.
type Code string

const (
	CodeUnknownDeployment  Code = "unknown_deployment"
	CodeInvalidInstance    Code = "invalid_instance"
	CodeCapacityExhausted  Code = "capacity_exhausted"
	CodeNetworkExhausted   Code = "network_exhausted"
	CodeDeploymentMismatch Code = "deployment_mismatch"
	CodeCrossDeployment    Code = "cross_deployment"
	CodeTaskNotFound       Code = "task_not_found"
	CodeInvalidUpload      Code = "invalid_upload"
	CodeInternal           Code = "internal"
)

func IsMissing(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == Missing
	}
	return false
}

func IsUser(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == User
	}
	return false
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Type string `json:"type"`
		Code string `json:"code"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Type: string(e.Type),
		Code: string(e.Code),
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Type string `json:"type"`
		Code string `json:"code"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Type = Type(jsonable.Type)
	e.Code = Code(jsonable.Code)
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}

func UnknownDeployment(name string) *Error {
	return &Error{
		Type: Missing,
		Code: CodeUnknownDeployment,
		Err:  fmt.Errorf("deployment %q not found", name),
		Help: fmt.Sprintf(`The deployment %q is not known to this director.

Check the name against the output of listing deployments; a deployment
only exists after its first successful deploy task.
`, name),
	}
}

func CoverAllError(err error) *Error {
	return &Error{
		Type: Server,
		Code: CodeInternal,
		Err:  err,
		Help: `Internal error: ` + err.Error() + `

We don't have a specific help message for the error above. The task
log for the operation will usually have more detail.
`,
	}
}
