package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/hardware/gpio"
	"github.com/gloworm-vision/motorbench/sequence"
	"github.com/gloworm-vision/motorbench/store"
)

type stateResponse struct {
	hardware.State
	Backend hardware.Backend `json:"backend"`
}

// driveRequest fields are pointers so a missing channel or direction is
// rejected instead of decoding to ChannelA or Coast. Speed defaults to 0.
type driveRequest struct {
	Channel   *hardware.ChannelID `json:"channel"`
	Direction *hardware.Direction `json:"direction"`
	Speed     *float64            `json:"speed"`
}

func (r driveRequest) validate() error {
	if r.Channel == nil {
		return gpio.Validationf("channel is required")
	}
	if r.Direction == nil {
		return gpio.Validationf("direction is required")
	}
	return nil
}

type updateHardwareResponse struct {
	Backend hardware.Backend `json:"backend"`
}

func (s *Server) currentState() stateResponse {
	var resp stateResponse
	s.drivers.View(func(d *hardware.Driver, backend hardware.Backend) {
		resp = stateResponse{State: d.State(), Backend: backend}
	})
	return resp
}

// command runs fn on the current driver and responds with the resulting state.
func (s *Server) command(res http.ResponseWriter, fn func(d *hardware.Driver) error) {
	var (
		err  error
		resp stateResponse
	)
	s.drivers.View(func(d *hardware.Driver, backend hardware.Backend) {
		err = fn(d)
		resp = stateResponse{State: d.State(), Backend: backend}
	})
	if err != nil {
		respondErr(res, err)
		return
	}

	respond(res, resp, http.StatusOK)
}

func (s *Server) getState(res http.ResponseWriter, req *http.Request) {
	respond(res, s.currentState(), http.StatusOK)
}

func (s *Server) enable(res http.ResponseWriter, req *http.Request) {
	s.command(res, (*hardware.Driver).Enable)
}

func (s *Server) disable(res http.ResponseWriter, req *http.Request) {
	s.sequences.Cancel()
	s.command(res, (*hardware.Driver).Disable)
}

func (s *Server) stopAll(res http.ResponseWriter, req *http.Request) {
	s.sequences.Cancel()
	s.command(res, (*hardware.Driver).StopAll)
}

func (s *Server) shutdown(res http.ResponseWriter, req *http.Request) {
	s.sequences.Cancel()
	s.command(res, (*hardware.Driver).Shutdown)
}

func (s *Server) drive(res http.ResponseWriter, req *http.Request) {
	var r driveRequest
	if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}
	if err := r.validate(); err != nil {
		respondErr(res, err)
		return
	}

	var speed float64
	if r.Speed != nil {
		speed = *r.Speed
	}
	s.command(res, func(d *hardware.Driver) error {
		return d.Drive(*r.Channel, *r.Direction, speed)
	})
}

func (s *Server) runSequence(res http.ResponseWriter, req *http.Request) {
	ctx, end, err := s.sequences.Begin(req.Context())
	if err != nil {
		respondErr(res, err)
		return
	}
	defer end()

	var (
		result  sequence.Result
		backend hardware.Backend
	)
	s.drivers.View(func(d *hardware.Driver, b hardware.Backend) {
		backend = b
		result = sequence.Run(ctx, d, s.Sequence)
	})

	run := store.RunOf(backend, result)
	id, err := s.Store.RecordRun(run)
	if err != nil {
		s.Logger.WithError(err).Error("unable to record sequence run")
	}
	run.ID = id

	switch {
	case errors.Is(result.Err, context.Canceled), errors.Is(result.Err, context.DeadlineExceeded):
		respondErr(res, hardware.Lifecyclef("sequence stopped after %d of %d steps: %w", result.Steps, result.Total, result.Err))
		return
	case result.Err != nil:
		respondErr(res, result.Err)
		return
	}

	respond(res, run, http.StatusOK)
}

func (s *Server) runs(res http.ResponseWriter, req *http.Request) {
	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respond(res, errors.New("limit must be a non-negative integer"), http.StatusUnprocessableEntity)
			return
		}
		limit = n
	}

	runs, err := s.Store.ListRuns(limit)
	if err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, runs, http.StatusOK)
}

func (s *Server) getHardware(res http.ResponseWriter, req *http.Request) {
	config, err := s.hardwareConfig()
	if err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, config, http.StatusOK)
}

func (s *Server) putHardware(res http.ResponseWriter, req *http.Request) {
	var config hardware.Config
	if err := json.NewDecoder(req.Body).Decode(&config); err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}

	if err := s.Store.PutHardwareConfig(config); err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, nil, http.StatusNoContent)
}

func (s *Server) updateHardware(res http.ResponseWriter, req *http.Request) {
	s.sequences.Cancel()

	config, err := s.hardwareConfig()
	if err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		respond(res, gpio.Configurationf("stored hardware config: %w", err), http.StatusInternalServerError)
		return
	}

	backend, err := s.drivers.Replace(func() (*hardware.Driver, hardware.Backend, error) {
		return s.OpenDriver(config, s.Logger)
	})
	if err != nil && backend == "" {
		respondErr(res, err)
		return
	}
	if err != nil {
		s.Logger.WithError(err).Warn("hardware replaced with errors")
	}

	s.Logger.WithField("backend", backend).Info("hardware updated")
	respond(res, updateHardwareResponse{Backend: backend}, http.StatusOK)
}
