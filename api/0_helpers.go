package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/pack"
)

type PrettyError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (p PrettyError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"error": struct {
			Message     string `json:"message"`
			Description string `json:"description"`
		}{
			p.Message,
			p.Description,
		},
	})
}

func (p PrettyError) MarshalTo(w io.Writer) error {
	return json.NewEncoder(w).Encode(p)
}

func PrettyErrorInterceptor(next box.H) box.H {
	return func(ctx context.Context) {

		next(ctx)

		err := box.GetError(ctx)
		if err == nil {
			return
		}
		w := box.GetResponse(ctx)

		if errors.Is(err, driver.ErrorClosed) {
			w.WriteHeader(http.StatusServiceUnavailable)
			PrettyError{
				Message:     err.Error(),
				Description: "service is shutting down",
			}.MarshalTo(w)
			return
		}

		if errors.Is(err, driver.ErrorNotSupported) {
			w.WriteHeader(http.StatusNotImplemented)
			PrettyError{
				Message:     err.Error(),
				Description: "the active engine does not implement this operation",
			}.MarshalTo(w)
			return
		}

		if errors.Is(err, pack.ErrorKeyTooLong) ||
			errors.Is(err, pack.ErrorValueTooLong) ||
			errors.Is(err, pack.ErrorRecordTooLong) {
			w.WriteHeader(http.StatusBadRequest)
			PrettyError{
				Message:     err.Error(),
				Description: "document exceeds storage limits",
			}.MarshalTo(w)
			return
		}

		if isMalformedJSON(err) {
			w.WriteHeader(http.StatusBadRequest)
			PrettyError{
				Message:     err.Error(),
				Description: "Malformed JSON",
			}.MarshalTo(w)
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
		PrettyError{
			Message:     err.Error(),
			Description: "Unexpected error",
		}.MarshalTo(w)
	}
}

func isMalformedJSON(err error) bool {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	return errors.As(err, &syntaxError) ||
		errors.As(err, &typeError) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
