package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/hardware/gpio"
)

type errorResponse struct {
	Error string `json:"error"`
}

// respond encodes the data and ResponseError to JSON and responds with it and
// the http code. If the encoding fails, sets an InternalServerError.
func respond(w http.ResponseWriter, data interface{}, httpCode int) {
	var resp interface{}
	if v, ok := data.(error); ok {
		resp = errorResponse{Error: v.Error()}
	} else {
		resp = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)

	if resp != nil {
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// respondErr responds with err and the status code for its kind.
func respondErr(w http.ResponseWriter, err error) {
	respond(w, err, statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gpio.ValidationError{}):
		return http.StatusUnprocessableEntity
	case errors.Is(err, hardware.LifecycleError{}):
		return http.StatusConflict
	case errors.Is(err, gpio.HardwareAccessError{}):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
