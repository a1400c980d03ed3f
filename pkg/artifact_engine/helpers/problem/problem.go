package problem

type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type ErrorDetail struct {
	In       string `json:"in"`
	Location string `json:"location"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

// APIError implements error + Problem Details (RFC 7807)
type APIError struct {
	Title  string        `json:"title"`
	Status int           `json:"status"`
	Errors []ErrorDetail `json:"errors,omitempty"`
}

func (e APIError) Error() string { return e.Title }

func NewBadRequest(location, detail string, params ...InvalidParam) APIError {
	return APIError{
		Title:  "Request validation failed",
		Status: 400,
		Errors: toErrorDetails(params, detail, "body", location, "bad_request"),
	}
}

func NewNotFound(location, detail string, params ...InvalidParam) APIError {
	return APIError{
		Title:  "Resource Not Found",
		Status: 404,
		Errors: toErrorDetails(params, detail, "path", location, "not_found"),
	}
}

func NewForbidden(location, detail string) APIError {
	return APIError{
		Title:  "Forbidden",
		Status: 403,
		Errors: toErrorDetails(nil, detail, "", location, "forbidden"),
	}
}

// NewConflict covers the lost finalize race and invalid state transitions.
func NewConflict(location, detail string) APIError {
	return APIError{
		Title:  "Conflict",
		Status: 409,
		Errors: toErrorDetails(nil, detail, "path", location, "conflict"),
	}
}

// NewGone is used when an upload credential has expired: the reservation is
// permanently unusable and the caller must begin a fresh upload.
func NewGone(location, detail string) APIError {
	return APIError{
		Title:  "Gone",
		Status: 410,
		Errors: toErrorDetails(nil, detail, "path", location, "gone"),
	}
}

// NewPreconditionFailed is used when a confirm arrives but no blob exists at
// the reserved key.
func NewPreconditionFailed(location, detail string) APIError {
	return APIError{
		Title:  "Precondition Failed",
		Status: 412,
		Errors: toErrorDetails(nil, detail, "path", location, "precondition_failed"),
	}
}

func NewServiceUnavailable(detail string) APIError {
	return APIError{
		Title:  "Service Unavailable",
		Status: 503,
		Errors: toErrorDetails(nil, detail, "", "", "service_unavailable"),
	}
}

func NewInternalServerError(detail string) APIError {
	return APIError{
		Title:  "Internal Server Error",
		Status: 500,
		Errors: toErrorDetails(nil, detail, "", "", "internal_error"),
	}
}

func toErrorDetails(params []InvalidParam, fallbackDetail, fallbackIn, fallbackLocation, fallbackCode string) []ErrorDetail {
	if len(params) == 0 {
		if fallbackDetail == "" {
			return nil
		}
		return []ErrorDetail{{
			In:       fallbackIn,
			Location: fallbackLocation,
			Code:     fallbackCode,
			Detail:   fallbackDetail,
		}}
	}
	out := make([]ErrorDetail, 0, len(params))
	for _, p := range params {
		out = append(out, ErrorDetail{
			In:       "body",
			Location: p.Name,
			Code:     p.Name,
			Detail:   p.Reason,
		})
	}
	return out
}
