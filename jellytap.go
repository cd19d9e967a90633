package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"jellytap/button"
	"jellytap/command"
	"jellytap/indicator"
	"jellytap/mqtt"
	"jellytap/ndef"
	"jellytap/reader"
	"jellytap/rotary"
	"jellytap/session"
	"jellytap/video"
)

var myBuild string

var errUnrecognized = errors.New("service type not recognised")

// App holds the application state and dependencies.
type App struct {
	cfg       *Config
	exec      *command.Executor
	sessions  *session.Manager
	source    reader.Source
	mqtt      *mqtt.Client
	indicator indicator.Indicator
	display   *video.Video
	rotary    *rotary.Rotary
	buttons   *button.Buttons
	hold      time.Duration

	// Taps that do not come from a reader: MQTT, knob, buttons.
	controls chan string

	mu        sync.Mutex
	holdTimer *time.Timer
}

func main() {
	fmt.Printf("jellytap build %s\n", myBuild)

	cfgfile := flag.String("cfg", "jellytap.yml", "Config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgfile)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	if lj := setupLogging(cfg.Log); lj != nil {
		defer lj.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:      cfg,
		hold:     cfg.Hold(),
		controls: make(chan string, 16),
	}

	settings, err := command.NewSettings(cfg.APIBase, cfg.Room)
	if err != nil {
		log.Fatalf("Init settings: %v", err)
	}
	app.exec, err = command.NewExecutor(command.Config{
		Settings:    settings,
		ResetDelay:  cfg.ResetDelay(),
		SettleDelay: cfg.SettleDelay(),
	})
	if err != nil {
		log.Fatalf("Init executor: %v", err)
	}
	log.Printf("Media server %s, room %s", cfg.APIBase, cfg.Room)

	// Initialize indicator (LEDs, neopixels, screen)
	app.indicator, err = indicator.New(cfg.Indicator)
	if err != nil {
		log.Fatalf("Init indicator: %v", err)
	}
	if v, ok := app.indicator.(interface{ Video() *video.Video }); ok {
		app.display = v.Video()
	}
	app.indicator.ConnectionLost() // Start with connection lost state

	app.rotary, err = rotary.New(cfg.Rotary, rotary.Handlers{
		OnTurn:  app.onTurn,
		OnPress: app.onPress,
	})
	if err != nil {
		log.Fatalf("Init rotary: %v", err)
	}
	if app.rotary != nil {
		log.Printf("Rotary encoder initialized (CLK=%d, DT=%d, BTN=%d)",
			cfg.Rotary.CLKPin, cfg.Rotary.DTPin, cfg.Rotary.ButtonPin)
	}

	app.buttons, err = button.New(cfg.Buttons, app.enqueue)
	if err != nil {
		log.Fatalf("Init buttons: %v", err)
	}

	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{
		OnConnect:    app.onMQTTConnect,
		OnDisconnect: app.onMQTTDisconnect,
		OnTap:        app.enqueue,
	})
	if err != nil {
		log.Fatalf("Init MQTT: %v", err)
	}

	app.source, err = reader.New(cfg.Reader)
	if err != nil {
		log.Fatalf("Init reader: %v", err)
	}
	app.sessions = session.New(app, ndef.Decoder{}, nil)

	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.Printf("MQTT connect: %v", err)
		}
	}()
	app.sessions.Attach(ctx, app.source)
	go app.controlLoop(ctx)
	go app.pingSender(ctx)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	cancel()

	app.mqtt.Disconnect()
	app.source.Close()
	app.sessions.Wait()
	app.stopHold()
	app.indicator.Shutdown()
	app.indicator.Release()
	if app.rotary != nil {
		app.rotary.Release()
	}
	if app.buttons != nil {
		app.buttons.Release()
	}

	fmt.Println("Shutdown complete")
}

// setupLogging tees the standard logger into a rotating file when one is
// configured.
func setupLogging(cfg LogConfig) io.Closer {
	if cfg.File == "" {
		return nil
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, lj))
	log.Printf("Logging to %s", cfg.File)
	return lj
}

// Dispatch runs one tag instruction and reports it on the indicator and
// over MQTT. Readers, the control queue and tests all come through here.
func (app *App) Dispatch(ctx context.Context, text string) error {
	in := command.Classify(text)
	info := &indicator.TapInfo{
		Text:    text,
		Service: in.Kind.String(),
		Room:    app.exec.Settings().Room(),
	}

	app.stopHold()
	app.indicator.Working(info)

	err := app.exec.Dispatch(ctx, text)
	switch {
	case err != nil:
		info.Err = err
	case in.Kind == command.Unrecognized:
		info.Err = errUnrecognized
	}
	info.Room = app.exec.Settings().Room()

	status := mqtt.Status{Text: text, Service: info.Service, OK: info.Err == nil}
	if info.Err != nil {
		status.Error = info.Err.Error()
		app.indicator.Failed(info)
	} else {
		app.indicator.Playing(info)
	}
	app.mqtt.PublishStatus(status)
	app.startHold()
	return err
}

// startHold puts the indicator back to Idle once the hold time is up.
func (app *App) startHold() {
	if app.hold <= 0 {
		return
	}
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.holdTimer != nil {
		app.holdTimer.Stop()
	}
	app.holdTimer = time.AfterFunc(app.hold, app.indicator.Idle)
}

func (app *App) stopHold() {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.holdTimer != nil {
		app.holdTimer.Stop()
		app.holdTimer = nil
	}
}

// enqueue hands a tap from MQTT, the knob or a button to the control loop.
func (app *App) enqueue(text string) {
	select {
	case app.controls <- text:
	default:
		log.Printf("Control queue full, dropping %q", text)
	}
}

func (app *App) controlLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-app.controls:
			if err := app.Dispatch(ctx, text); err != nil {
				log.Printf("Control %q: %v", text, err)
			}
		}
	}
}

func (app *App) onTurn(delta int) {
	step := app.cfg.Controls.VolumeUp
	if delta < 0 {
		step = app.cfg.Controls.VolumeDown
	}
	if app.display != nil {
		app.display.DisplayVolume(step)
	}
	app.enqueue("command:" + step)
}

func (app *App) onPress() {
	app.enqueue("command:" + app.cfg.Controls.Press)
}

func (app *App) onMQTTConnect() {
	if c, ok := app.indicator.(interface{ SetConnected() }); ok {
		c.SetConnected()
	}
	app.indicator.Idle()
}

func (app *App) onMQTTDisconnect() {
	app.stopHold()
	app.indicator.ConnectionLost()
}

func (app *App) pingSender(ctx context.Context) {
	ticker := time.NewTicker(120 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.mqtt.Ping()
		}
	}
}
