/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	meshcall "github.com/tejzpr/meshcall-go-sdk"
	"github.com/tejzpr/meshcall-go-sdk/callsdk"
	"github.com/tejzpr/meshcall-go-sdk/calling"
	"github.com/tejzpr/meshcall-go-sdk/devrelay"
)

type app struct {
	settings *Settings
	logger   zerolog.Logger
	out      io.Writer
}

func (a *app) runRelay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	listen := fs.String("listen", a.settings.RelayListen, "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.settings.RelaySecret == "" {
		return errors.New("[devrelay] secret must be set")
	}

	cfg := devrelay.DefaultConfig()
	cfg.Addr = *listen
	cfg.Secret = []byte(a.settings.RelaySecret)
	cfg.TokenTTL = a.settings.RelayTokenTTL
	cfg.Logger = &a.logger

	srv, err := devrelay.New(cfg)
	if err != nil {
		return err
	}
	for _, id := range a.settings.ChatIDs() {
		srv.AddChat(id, a.settings.Chats[id]...)
		a.logger.Info().Str("chat_id", id).Strs("members", a.settings.Chats[id]).Msg("chat registered")
	}
	return srv.ListenAndServe(ctx)
}

func (a *app) runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "User id")
	name := fs.String("name", "", "Display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.settings.RelaySecret == "" {
		return errors.New("[devrelay] secret must be set")
	}
	token, err := devrelay.IssueToken([]byte(a.settings.RelaySecret), devrelay.DefaultConfig().Issuer, a.settings.RelayTokenTTL, *userID, *name)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, token)
	return nil
}

func (a *app) capturer() (calling.Capturer, error) {
	switch a.settings.MediaSource {
	case "devices":
		c := calling.NewDeviceCapturer()
		if !c.Supported(false) {
			return nil, errors.New("device capture is not available in this build")
		}
		return c, nil
	default:
		return calling.NewSyntheticCapturer(), nil
	}
}

func (a *app) connect(ctx context.Context) (*meshcall.MeshClient, error) {
	if a.settings.Token == "" {
		return nil, errors.New("a token is required ([server] token or MESHCALL_TOKEN)")
	}
	client, err := meshcall.NewClient(a.settings.Token, &callsdk.Config{
		BaseURL:        a.settings.BaseURL,
		RelayURL:       a.settings.RelayURL,
		Timeout:        a.settings.RelayTimeout,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		Logger:         &a.logger,
	})
	if err != nil {
		return nil, err
	}

	capturer, err := a.capturer()
	if err != nil {
		return nil, err
	}
	pion := calling.DefaultPionConfig()
	pion.LoopbackOnly = a.settings.Loopback
	client.ConfigureCalling(&calling.Config{
		Capturer:              capturer,
		PeerConnectionFactory: calling.NewPionFactory(pion),
		RingTimeout:           a.settings.RingTimeout,
		RelayTimeout:          a.settings.RelayTimeout,
		RestartTimeout:        a.settings.RestartTimeout,
		MaxICERestarts:        a.settings.MaxICERestarts,
		Notifier: calling.NotifierFunc(func(err *calling.CallError) {
			fmt.Fprintf(a.out, "! %s\n", err.Error())
		}),
		Logger: &a.logger,
	})

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func closeClient(client *meshcall.MeshClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Close(ctx)
}

func (a *app) runCall(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	video := fs.Bool("video", false, "Place a video call")
	duration := fs.Duration("duration", 0, "Leave after this long (0 waits for interrupt)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: meshcall call [-video] [-duration d] CHAT")
	}
	mediaType := calling.MediaTypeAudio
	if *video {
		mediaType = calling.MediaTypeVideo
	}

	client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer closeClient(client)

	cc := client.Calling()
	cc.Emitter.On(string(calling.ClientEventCallStarted), func(data interface{}) {
		a.watch(data.(*calling.Call))
	})

	call, err := cc.InitiateCall(ctx, fs.Arg(0), mediaType)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "calling %s as %s\n", call.ChatID(), call.LocalID())
	return a.wait(ctx, call, *duration)
}

func (a *app) runAnswer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("answer", flag.ContinueOnError)
	duration := fs.Duration("duration", 0, "Leave each call after this long (0 stays until it ends)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer closeClient(client)

	cc := client.Calling()
	cc.Emitter.On(string(calling.ClientEventAutoRejected), func(data interface{}) {
		fmt.Fprintln(a.out, "busy: rejected a second incoming call")
	})
	cc.Emitter.On(string(calling.ClientEventIncomingCall), func(data interface{}) {
		inc := data.(*calling.IncomingCall)
		fmt.Fprintf(a.out, "incoming %s call from %s in %s\n", inc.MediaType, inc.CallerName, inc.ChatID)
		a.watch(inc.Call())
		go func() {
			call, err := inc.Accept(ctx)
			if err != nil {
				return
			}
			_ = a.wait(ctx, call, *duration)
		}()
	})

	fmt.Fprintln(a.out, "waiting for calls, interrupt to quit")
	<-ctx.Done()
	return nil
}

// watch prints the call's lifecycle to the terminal.
func (a *app) watch(call *calling.Call) {
	call.Emitter.On(string(calling.CallEventStateChanged), func(data interface{}) {
		if sc, ok := data.(calling.StateChange); ok {
			fmt.Fprintf(a.out, "[%s] %s -> %s\n", call.ChatID(), sc.From, sc.To)
		}
	})
	call.Emitter.On(string(calling.CallEventParticipantsChanged), func(interface{}) {
		var names []string
		for _, p := range call.Participants() {
			flags := string(p.ConnectionState)
			if p.Muted {
				flags += ",muted"
			}
			if p.VideoOff {
				flags += ",video-off"
			}
			names = append(names, fmt.Sprintf("%s(%s)", p.Username, flags))
		}
		fmt.Fprintf(a.out, "[%s] participants: %s\n", call.ChatID(), strings.Join(names, " "))
	})
	call.Emitter.On(string(calling.CallEventRemoteTrack), func(data interface{}) {
		if rt, ok := data.(calling.RemoteTrack); ok {
			fmt.Fprintf(a.out, "[%s] receiving %s from %s\n", call.ChatID(), rt.Track.Kind(), rt.UserID)
		}
	})
}

// wait blocks until the call ends, ctx is canceled or duration elapses.
func (a *app) wait(ctx context.Context, call *calling.Call, duration time.Duration) error {
	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-call.Done():
		return nil
	case <-ctx.Done():
	case <-timeout:
	}
	leaveCtx, cancel := context.WithTimeout(context.Background(), a.settings.RelayTimeout)
	defer cancel()
	return call.Leave(leaveCtx)
}
