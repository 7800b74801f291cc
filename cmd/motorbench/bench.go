package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/sequence"
	"github.com/gloworm-vision/motorbench/store"
	"github.com/sirupsen/logrus"
)

const shortcutSpeed = 50

type bench struct {
	driver   *hardware.Driver
	backend  hardware.Backend
	pins     hardware.PinAssignment
	store    store.Store
	sequence sequence.Options
	logger   *logrus.Logger
}

// runSequence runs the automated test and records it.
func (b *bench) runSequence(ctx context.Context) error {
	pins := b.pins
	b.logger.WithFields(logrus.Fields{
		"backend": b.backend,
		"motorA":  fmt.Sprintf("AIN1=%d AIN2=%d PWMA=%d", pins.AIN1, pins.AIN2, pins.PWMA),
		"motorB":  fmt.Sprintf("BIN1=%d BIN2=%d PWMB=%d", pins.BIN1, pins.BIN2, pins.PWMB),
		"standby": pins.STBY,
	}).Info("starting motor test sequence")

	res := sequence.Run(ctx, b.driver, b.sequence)

	if _, err := b.store.RecordRun(store.RunOf(b.backend, res)); err != nil {
		b.logger.WithError(err).Error("unable to record run")
	}

	if res.Err != nil {
		return fmt.Errorf("sequence stopped after %d of %d steps: %w", res.Steps, res.Total, res.Err)
	}
	b.logger.Infof("sequence completed in %s", res.Finished.Sub(res.Started).Round(time.Millisecond))
	return nil
}

func (b *bench) shell(ctx context.Context) error {
	shell := ishell.New()
	shell.Println("TB6612FNG motor bench")
	shell.Printf("backend: %s\n", b.backend)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shell.Stop()
		case <-done:
		}
	}()

	b.register(ctx, shell)

	shell.Run()
	shell.Close()
	return nil
}

// register adds the bench commands to shell. Ctrl-C and q leave the shell.
func (b *bench) register(ctx context.Context, shell *ishell.Shell) {
	shell.Interrupt(func(c *ishell.Context, count int, input string) {
		c.Stop()
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "q",
		Help: "exit the program",
		Func: func(c *ishell.Context) { c.Stop() },
	})

	shortcuts := []struct {
		name string
		help string
		id   hardware.ChannelID
		dir  hardware.Direction
	}{
		{"af", "motor A forward [speed]", hardware.ChannelA, hardware.Forward},
		{"ab", "motor A backward [speed]", hardware.ChannelA, hardware.Reverse},
		{"as", "motor A stop", hardware.ChannelA, hardware.Brake},
		{"bf", "motor B forward [speed]", hardware.ChannelB, hardware.Forward},
		{"bb", "motor B backward [speed]", hardware.ChannelB, hardware.Reverse},
		{"bs", "motor B stop", hardware.ChannelB, hardware.Brake},
	}
	for _, s := range shortcuts {
		s := s
		shell.AddCmd(&ishell.Cmd{
			Name: s.name,
			Help: s.help,
			Func: func(c *ishell.Context) {
				speed := 0.0
				if s.dir != hardware.Brake {
					var err error
					if speed, err = speedArg(c.Args, 0); err != nil {
						c.Err(err)
						return
					}
				}
				b.drive(c, s.id, s.dir, speed)
			},
		})
	}

	shell.AddCmd(&ishell.Cmd{
		Name: "drive",
		Help: "drive <a|b> <forward|reverse|brake|coast> <speed>",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Println("usage: drive <a|b> <direction> [speed]")
				return
			}
			id, err := hardware.ParseChannel(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			dir, err := hardware.ParseDirection(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			speed, err := speedArg(c.Args, 2)
			if err != nil {
				c.Err(err)
				return
			}
			b.drive(c, id, dir, speed)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "stop both motors",
		Func: func(c *ishell.Context) {
			if err := b.driver.StopAll(); err != nil {
				c.Err(err)
				return
			}
			c.Println("all motors stopped")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "enable",
		Help: "take the driver out of standby",
		Func: func(c *ishell.Context) {
			if err := b.driver.Enable(); err != nil {
				c.Err(err)
				return
			}
			c.Println("motor driver enabled")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "disable",
		Help: "put the driver in standby",
		Func: func(c *ishell.Context) {
			if err := b.driver.Disable(); err != nil {
				c.Err(err)
				return
			}
			c.Println("motor driver in standby")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "show driver state",
		Func: func(c *ishell.Context) {
			c.Println(formatState(b.driver.State()))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "run",
		Help: "run the automated test sequence",
		Func: func(c *ishell.Context) {
			if err := b.runSequence(ctx); err != nil {
				c.Err(err)
			}
		},
	})
}

func (b *bench) drive(c *ishell.Context, id hardware.ChannelID, dir hardware.Direction, speed float64) {
	if err := b.driver.Drive(id, dir, speed); err != nil {
		c.Err(err)
		return
	}
	if dir == hardware.Brake || dir == hardware.Coast {
		c.Printf("motor %s: stopped (%s)\n", id, dir)
		return
	}
	c.Printf("motor %s: %s at %g%% speed\n", id, dir, speed)
}

// speedArg parses args[i] as a speed, defaulting to shortcutSpeed when absent.
func speedArg(args []string, i int) (float64, error) {
	if len(args) <= i {
		return shortcutSpeed, nil
	}
	speed, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid speed %q", args[i])
	}
	return speed, hardware.ValidateSpeed(speed)
}

func formatState(s hardware.State) string {
	var sb strings.Builder
	switch {
	case s.Terminated:
		sb.WriteString("shut down")
	case s.Enabled:
		sb.WriteString("enabled")
	default:
		sb.WriteString("standby")
	}
	fmt.Fprintf(&sb, "  A: %s %g%%  B: %s %g%%", s.A.Direction, s.A.Speed, s.B.Direction, s.B.Speed)
	return sb.String()
}
