// Package sequence runs the bench's automated motor test: each channel
// forward and reverse on its own, then both together and both turns.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/sirupsen/logrus"
)

// Driver is the part of a motor driver the sequence uses.
type Driver interface {
	Enable() error
	Drive(id hardware.ChannelID, dir hardware.Direction, speed float64) error
	StopAll() error
}

type Options struct {
	Step      time.Duration // how long each motion is held
	Pause     time.Duration // how long each stop is held
	Speed     float64       // single-channel duty cycle
	BothSpeed float64       // duty cycle when both channels run

	Logger logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.Step <= 0 {
		o.Step = 2 * time.Second
	}
	if o.Pause <= 0 {
		o.Pause = time.Second
	}
	if o.Speed == 0 {
		o.Speed = 30
	}
	if o.BothSpeed == 0 {
		o.BothSpeed = 40
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		o.Logger = l
	}
	return o
}

// Result summarizes one run.
type Result struct {
	Started   time.Time
	Finished  time.Time
	Steps     int // steps fully executed
	Total     int
	Completed bool
	Err       error
}

type move struct {
	id    hardware.ChannelID
	dir   hardware.Direction
	speed float64
}

type step struct {
	name  string
	moves []move
	hold  time.Duration
}

func plan(o Options) []step {
	a, b := hardware.ChannelA, hardware.ChannelB
	fwd, rev, brake := hardware.Forward, hardware.Reverse, hardware.Brake

	return []step{
		{"motor A forward", []move{{a, fwd, o.Speed}}, o.Step},
		{"motor A stop", []move{{a, brake, 0}}, o.Pause},
		{"motor A reverse", []move{{a, rev, o.Speed}}, o.Step},
		{"motor A stop", []move{{a, brake, 0}}, o.Pause},
		{"motor B forward", []move{{b, fwd, o.Speed}}, o.Step},
		{"motor B stop", []move{{b, brake, 0}}, o.Pause},
		{"motor B reverse", []move{{b, rev, o.Speed}}, o.Step},
		{"motor B stop", []move{{b, brake, 0}}, o.Pause},
		{"both forward", []move{{a, fwd, o.BothSpeed}, {b, fwd, o.BothSpeed}}, o.Step},
		{"both reverse", []move{{a, rev, o.BothSpeed}, {b, rev, o.BothSpeed}}, o.Step},
		{"turn left", []move{{a, rev, o.BothSpeed}, {b, fwd, o.BothSpeed}}, o.Step},
		{"turn right", []move{{a, fwd, o.BothSpeed}, {b, rev, o.BothSpeed}}, o.Step},
	}
}

// Run drives d through the test sequence. Cancelling ctx stops both motors
// and ends the run with ctx.Err(). Run does not shut the driver down.
func Run(ctx context.Context, d Driver, opts Options) Result {
	opts = opts.withDefaults()
	steps := plan(opts)

	res := Result{Started: time.Now(), Total: len(steps) + 1}
	finish := func(err error) Result {
		res.Finished = time.Now()
		res.Err = err
		res.Completed = err == nil
		return res
	}

	if err := d.Enable(); err != nil {
		return finish(fmt.Errorf("enable: %w", err))
	}

	for _, s := range steps {
		log := opts.Logger.WithField("step", s.name)
		log.Info("sequence step")

		for _, m := range s.moves {
			if err := d.Drive(m.id, m.dir, m.speed); err != nil {
				return finish(fmt.Errorf("%s: %w", s.name, err))
			}
		}

		if err := wait(ctx, s.hold); err != nil {
			log.Warn("sequence interrupted")
			if stopErr := d.StopAll(); stopErr != nil {
				log.WithError(stopErr).Error("unable to stop motors after interrupt")
			}
			return finish(err)
		}
		res.Steps++
	}

	if err := d.StopAll(); err != nil {
		return finish(fmt.Errorf("stop all: %w", err))
	}
	res.Steps++
	opts.Logger.Info("sequence complete")

	return finish(nil)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
