package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// MaxBodyBytes caps request bodies at 2 MiB (spec.md §6: "sizes capped at 2 MiB").
const MaxBodyBytes = 2 << 20

// DecodeAndValidate decodes r.Body into dst (a pointer to a struct tagged
// with `validate` rules) and runs struct validation. On failure it writes a
// 400 invalid_request response itself and returns false; callers should
// return immediately when this returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		detail := "malformed JSON body"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			detail = "request body too large"
		}
		RespondError(w, http.StatusBadRequest, "invalid_request", detail)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}

	return true
}

// DecodeBody decodes like DecodeAndValidate but skips struct validation,
// for use when dst has no `validate` tags worth enforcing. Any decode
// failure is reported as "malformed JSON body".
func DecodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}

// DrainAndClose discards the remainder of the body so keep-alive
// connections can be reused even when handlers return early.
func DrainAndClose(r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}
