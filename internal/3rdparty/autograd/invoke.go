package autograd

import (
	"context"
	"net/http"
	"strconv"

	"autograd/internal/result"

	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/httpf"
	"github.com/jfk9w-go/flu/logf"
	"github.com/pkg/errors"
)

// AutogradService procedures.
const (
	ServiceName = "autograd.v1.AutogradService"

	PingProcedure             = "/" + ServiceName + "/Ping"
	CreateUserProcedure       = "/" + ServiceName + "/CreateUser"
	FindAssignmentProcedure   = "/" + ServiceName + "/FindAssignment"
	FindSubmissionProcedure   = "/" + ServiceName + "/FindSubmission"
	CreateAssignmentProcedure = "/" + ServiceName + "/CreateAssignment"
	UpdateAssignmentProcedure = "/" + ServiceName + "/UpdateAssignment"
	DeleteAssignmentProcedure = "/" + ServiceName + "/DeleteAssignment"
	CreateSubmissionProcedure = "/" + ServiceName + "/CreateSubmission"
	UpdateSubmissionProcedure = "/" + ServiceName + "/UpdateSubmission"
	DeleteSubmissionProcedure = "/" + ServiceName + "/DeleteSubmission"
)

// Procedures lists all AutogradService procedures.
var Procedures = []string{
	PingProcedure,
	CreateUserProcedure,
	FindAssignmentProcedure,
	FindSubmissionProcedure,
	CreateAssignmentProcedure,
	UpdateAssignmentProcedure,
	DeleteAssignmentProcedure,
	CreateSubmissionProcedure,
	UpdateSubmissionProcedure,
	DeleteSubmissionProcedure,
}

const (
	connectProtocolVersionHeader = "Connect-Protocol-Version"
	connectProtocolVersion       = "1"
)

// connectError is the Connect protocol error envelope.
type connectError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Invoke performs a unary Connect call with JSON codec.
// Req and Res should be JSON-tagged messages of the procedure.
func Invoke[Req, Res any](ctx context.Context, rpc *RPC, procedure string, req Req) result.Result[Res, *Error] {
	r := result.MapErr(result.From[Res](ctx, func(ctx context.Context) (Res, error) {
		return invoke[Req, Res](ctx, rpc, procedure, req)
	}), asError)

	var err error
	if !r.IsOk() {
		err = r.Err()
	}

	logf.Get(rpc).Resultf(ctx, logf.Debug, logf.Warn, "invoke %s: %v", procedure, err)
	return r
}

func invoke[Req, Res any](ctx context.Context, rpc *RPC, procedure string, req Req) (Res, error) {
	var res Res
	if rpc.serviceURL == "" {
		return res, newError(RequestError, errors.New("service url is not set"))
	}

	err := rpc.newRequest(httpf.POST(rpc.serviceURL+procedure, flu.JSON(req))).
		Header(connectProtocolVersionHeader, connectProtocolVersion).
		Exchange(ctx, rpc).
		CatchFunc(catchTransport).
		HandleFunc(checkConnectStatus).
		HandleFunc(func(resp *http.Response) error {
			if err := flu.JSON(&res).DecodeFrom(resp.Body); err != nil {
				return &Error{
					Kind:       ParseError,
					StatusCode: resp.StatusCode,
					Message:    "Failed to parse " + procedure + " response: " + err.Error(),
					Cause:      err,
				}
			}

			return nil
		}).
		Error()

	return res, err
}

func checkConnectStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var envelope connectError
	if err := flu.JSON(&envelope).DecodeFrom(resp.Body); err != nil || envelope.Message == "" {
		envelope.Message = "Call failed with status " + strconv.Itoa(resp.StatusCode)
	}

	if envelope.Code == "" {
		envelope.Code = connectCode(resp.StatusCode)
	}

	return &Error{
		Kind:       CallError,
		StatusCode: resp.StatusCode,
		Code:       envelope.Code,
		Message:    envelope.Message,
	}
}

// connectCode maps HTTP status to Connect error code for responses without an error envelope.
func connectCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_argument"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusNotFound:
		return "unimplemented"
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "unavailable"
	default:
		return "unknown"
	}
}
