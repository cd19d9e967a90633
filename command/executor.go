package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// DefaultDelay is how long the server is given to settle after the first
// reset call and after the final instruction.
const DefaultDelay = 200 * time.Millisecond

// RequestFailedError is returned when the media server answers a call with
// a non-success status.
type RequestFailedError struct {
	Step   string // e.g. "turning repeat off", "sending instruction"
	Status int
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("unexpected response while %s: %d", e.Step, e.Status)
}

type resetStep struct {
	path string
	step string
}

var resetSequence = []resetStep{
	{"repeat/off", "turning repeat off"},
	{"shuffle/off", "turning shuffle off"},
	{"crossfade/off", "turning crossfade off"},
	{"clearqueue", "clearing queue"},
}

// Config holds Executor settings.
type Config struct {
	Settings    *Settings
	Client      *http.Client  // nil uses a client without timeout
	ResetDelay  time.Duration // pause after the first reset call
	SettleDelay time.Duration // pause after the final instruction
	Logger      *log.Logger   // nil uses the standard logger
}

// Executor turns tag text into media-server HTTP calls.
type Executor struct {
	mu          sync.Mutex
	settings    *Settings
	client      *http.Client
	resetDelay  time.Duration
	settleDelay time.Duration
	log         *log.Logger
}

// NewExecutor creates an Executor. Settings is required.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("executor: settings required")
	}
	e := &Executor{
		settings:    cfg.Settings,
		client:      cfg.Client,
		resetDelay:  cfg.ResetDelay,
		settleDelay: cfg.SettleDelay,
		log:         cfg.Logger,
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.log == nil {
		e.log = log.Default()
	}
	return e, nil
}

// Settings returns the settings the executor reads on every call.
func (e *Executor) Settings() *Settings {
	return e.settings
}

type phase int

const (
	phaseResetting phase = iota
	phasePlaying
	phaseDone
)

// Dispatch classifies text and performs the calls it asks for. Room changes
// and unrecognized text never touch the network. Any non-success response
// aborts the dispatch with a *RequestFailedError; no play call follows a
// partial reset.
//
// Concurrent calls are serialized.
func (e *Executor) Dispatch(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	in := Classify(text)
	switch in.Kind {
	case RoomChange:
		if !e.settings.SetRoom(in.Path) {
			e.log.Printf("Ignoring room change to an empty room, staying in %s", e.settings.Room())
			return nil
		}
		e.log.Printf("room changed to %s", in.Path)
		return nil
	case Unrecognized:
		e.log.Printf("Service type not recognised. Text should begin %s.", SupportedPrefixes)
		return nil
	}

	e.log.Printf("Detected '%s' service request", in.Kind)

	p := phaseResetting
	if in.Kind == Command {
		p = phasePlaying
	}
	for p != phaseDone {
		switch p {
		case phaseResetting:
			if err := e.reset(ctx); err != nil {
				return err
			}
			p = phasePlaying
		case phasePlaying:
			if err := e.play(ctx, in); err != nil {
				return err
			}
			p = phaseDone
		}
	}

	// Let the server finish switching queues before the next dispatch.
	return sleep(ctx, e.settleDelay)
}

func (e *Executor) reset(ctx context.Context) error {
	e.log.Println("Resetting queue (clear, turn off repeat, shuffle, crossfade)")
	for i, s := range resetSequence {
		if _, err := e.get(ctx, BuildURL(e.settings, s.path, Command), s.step); err != nil {
			return err
		}
		if i == 0 {
			if err := sleep(ctx, e.resetDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) play(ctx context.Context, in Instruction) error {
	u := BuildURL(e.settings, in.Path, in.Kind)
	e.log.Printf("Fetching URL via HTTP api: %s", u)

	body, err := e.get(ctx, u, "sending instruction")
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		e.log.Println("media server reports: (empty response)")
		return nil
	}
	var reply any
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("decode response from %s: %w", u, err)
	}
	e.log.Printf("media server reports: %v", reply)
	return nil
}

func (e *Executor) get(ctx context.Context, u, step string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request while %s: %w", step, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request while %s: %w", step, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &RequestFailedError{Step: step, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response while %s: %w", step, err)
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
