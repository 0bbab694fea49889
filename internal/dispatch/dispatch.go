// Package dispatch delivers a selected format to the user through an ordered
// chain of strategies, stopping at the first that succeeds.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/client"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// ErrNotApplicable is returned by a strategy that cannot run for a request
var ErrNotApplicable = errors.New("strategy not applicable")

// Request is one user-triggered download
type Request struct {
	ID     string
	URL    string
	Format models.MediaFormat

	// Container is the requested output container, e.g. mp4 or mp3
	Container string
	Quality   string
	Title     string

	// Previous is the error of the last strategy that ran
	Previous error
}

// Delivery describes how the media reached the user
type Delivery struct {
	Strategy     string
	Path         string
	Bytes        int64
	URL          string
	Muxed        bool
	VideoQuality string
	AudioQuality string
}

// Strategy is one way of getting media to the user
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req Request) (*Delivery, error)
}

// Failure is the final outcome of a download no strategy could deliver
type Failure struct {
	Message      string
	Suggestion   string
	Manual       bool
	Instructions []string
	Err          error
}

func (f *Failure) Error() string {
	if f.Suggestion == "" {
		return f.Message
	}
	return f.Message + " (" + f.Suggestion + ")"
}

func (f *Failure) Unwrap() error { return f.Err }

// Dispatcher runs strategies strictly in order. A strategy is only attempted
// after every earlier one failed or was not applicable.
type Dispatcher struct {
	strategies []Strategy
	presenter  Presenter
	logger     *logging.Logger
}

// NewDispatcher creates a dispatcher over the given strategies
func NewDispatcher(strategies []Strategy, presenter Presenter, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{
		strategies: strategies,
		presenter:  presenter,
		logger:     logger,
	}
}

// Strategies returns the strategy names in order
func (d *Dispatcher) Strategies() []string {
	names := make([]string, len(d.strategies))
	for i, s := range d.strategies {
		names[i] = s.Name()
	}
	return names
}

// Dispatch delivers req. A manual-download response stops the chain and
// shows the server's instructions instead.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Delivery, error) {
	var last error
	for _, s := range d.strategies {
		req.Previous = last
		delivery, err := s.Attempt(ctx, req)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		d.logger.LogStrategyAttempt(req.ID, s.Name(), err)

		if err == nil {
			delivery.Strategy = s.Name()
			return delivery, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if apiErr, ok := client.AsAPIError(err); ok && apiErr.Manual() {
			d.presenter.ShowManualInstructions(apiErr.Message, apiErr.Instructions)
			return nil, &Failure{
				Message:      apiErr.Message,
				Suggestion:   apiErr.Suggestion,
				Manual:       true,
				Instructions: apiErr.Instructions,
				Err:          err,
			}
		}
		last = err
	}

	failure := newFailure(last)
	d.presenter.Notify(Notice{Level: LevelError, Message: failure.Error()})
	return nil, failure
}

func newFailure(err error) *Failure {
	if err == nil {
		return &Failure{
			Message:    "No delivery method is available for this format",
			Suggestion: client.SuggestionLowerQuality,
		}
	}
	if apiErr, ok := client.AsAPIError(err); ok {
		msg := apiErr.Message
		if msg == "" {
			msg = "Download failed"
		}
		return &Failure{Message: msg, Suggestion: apiErr.Suggestion, Err: err}
	}
	return &Failure{
		Message:    fmt.Sprintf("Download failed: %v", err),
		Suggestion: client.SuggestionLowerQuality,
		Err:        err,
	}
}
