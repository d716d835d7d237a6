package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtspconn/internal/camera"
	"github.com/bilbercode/rtspconn/internal/discovery"
	"github.com/bilbercode/rtspconn/internal/rtsp/conn"
	"github.com/bilbercode/rtspconn/internal/server"
)

const (
	appName = "rtspconn"
	appDesc = "RTSP connection engine"

	relayBackoff    = 5 * time.Second
	relayInactivity = 10 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	app := cli.App(appName, appDesc)

	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Desc:   "logging level",
		EnvVar: "LOG_LEVEL",
		Value:  "info",
	})
	metricsAddr := app.String(cli.StringOpt{
		Name:   "metrics",
		Desc:   "address to serve prometheus metrics on, empty to disable",
		EnvVar: "METRICS_ADDR",
		Value:  ":9090",
	})
	requestTimeout := app.String(cli.StringOpt{
		Name:   "request-timeout",
		Desc:   "time to wait for a response, refreshed by 100 Continue",
		EnvVar: "REQUEST_TIMEOUT",
		Value:  conn.DefaultRequestTimeoutDuration.String(),
	})
	requestMaxTimeout := app.String(cli.StringOpt{
		Name:   "request-max-timeout",
		Desc:   "absolute limit on waiting for a response, 0 to disable",
		EnvVar: "REQUEST_MAX_TIMEOUT",
		Value:  conn.DefaultRequestMaxTimeoutDuration.String(),
	})
	continueWait := app.String(cli.StringOpt{
		Name:   "continue-wait",
		Desc:   "interval between 100 Continue responses while a request is serviced",
		EnvVar: "CONTINUE_WAIT",
		Value:  conn.DefaultContinueWaitDuration.String(),
	})
	decodeTimeout := app.String(cli.StringOpt{
		Name:   "decode-timeout",
		Desc:   "time allowed to finish decoding a started message",
		EnvVar: "DECODE_TIMEOUT",
		Value:  conn.DefaultDecodeTimeoutDuration.String(),
	})
	shutdownTimeout := app.String(cli.StringOpt{
		Name:   "shutdown-timeout",
		Desc:   "time allowed for in-flight work during graceful shutdown",
		EnvVar: "SHUTDOWN_TIMEOUT",
		Value:  conn.DefaultGracefulShutdownTimeoutDuration.String(),
	})
	bufferSize := app.Int(cli.IntOpt{
		Name:   "request-buffer",
		Desc:   "number of incoming requests buffered per connection",
		EnvVar: "REQUEST_BUFFER",
		Value:  conn.DefaultRequestBufferSize,
	})

	// options resolves the connection flags once a command runs
	options := func() []conn.ConfigOption {
		level, err := log.ParseLevel(*logLevel)
		if err != nil {
			log.WithError(err).Fatal("invalid log level")
		}
		log.SetLevel(level)

		opts := []conn.ConfigOption{
			conn.WithRequestBufferSize(*bufferSize),
			conn.WithLogger(log.StandardLogger()),
		}
		durations := []struct {
			name  string
			value string
			apply func(time.Duration) conn.ConfigOption
		}{
			{"request-timeout", *requestTimeout, conn.WithRequestTimeoutDuration},
			{"request-max-timeout", *requestMaxTimeout, conn.WithRequestMaxTimeoutDuration},
			{"continue-wait", *continueWait, conn.WithContinueWaitDuration},
			{"decode-timeout", *decodeTimeout, conn.WithDecodeTimeoutDuration},
			{"shutdown-timeout", *shutdownTimeout, conn.WithGracefulShutdownTimeoutDuration},
		}
		for _, d := range durations {
			value, err := time.ParseDuration(d.value)
			if err != nil {
				log.WithError(err).WithField("option", d.name).Fatal("invalid duration")
			}
			opts = append(opts, d.apply(value))
		}
		if _, err := conn.NewConfig(opts...); err != nil {
			log.WithError(err).Fatal("invalid connection configuration")
		}
		return opts
	}

	app.Command("serve", "serve registered streams over RTSP", func(cmd *cli.Cmd) {
		addr := cmd.String(cli.StringOpt{
			Name:   "listen",
			Desc:   "RTSP listen address",
			EnvVar: "LISTEN_ADDR",
			Value:  ":8554",
		})
		streams := cmd.Strings(cli.StringsOpt{
			Name:   "stream",
			Desc:   "name of a stream to register",
			EnvVar: "STREAMS",
			Value:  []string{},
		})
		relays := cmd.Strings(cli.StringsOpt{
			Name:   "relay",
			Desc:   "camera to relay as name=rtsp://camera/path",
			EnvVar: "RELAYS",
			Value:  []string{},
		})
		advertise := cmd.Bool(cli.BoolOpt{
			Name:   "advertise",
			Desc:   "announce streams on the local network over mDNS",
			EnvVar: "ADVERTISE",
			Value:  false,
		})
		keepalive := cmd.String(cli.StringOpt{
			Name:   "keepalive",
			Desc:   "interval between GET_PARAMETER keep-alives to relayed cameras",
			EnvVar: "KEEPALIVE",
			Value:  "30s",
		})

		cmd.Action = func() {
			opts := options()
			srv, err := server.NewServer(appName, opts...)
			if err != nil {
				log.WithError(err).Fatal("failed to create server")
			}
			names := append([]string(nil), *streams...)
			for _, name := range *streams {
				srv.RegisterStream(name, server.NewH264Media("trackID=0"))
			}

			interval, err := time.ParseDuration(*keepalive)
			if err != nil {
				log.WithError(err).WithField("option", "keepalive").Fatal("invalid duration")
			}
			cameras := camera.NewService(interval, relayInactivity, opts...)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var group run.Group
			addSignalActor(&group)
			addMetricsActor(&group, *metricsAddr)
			for _, entry := range *relays {
				name, uri, ok := strings.Cut(entry, "=")
				if !ok || name == "" || uri == "" {
					log.WithField("relay", entry).Fatal("relay must be name=url")
				}
				description, err := cameras.DescribeVideo(ctx, uri)
				if err != nil {
					log.WithError(err).WithField("relay", name).Fatal("failed to describe camera")
				}
				srv.RegisterStream(name, server.NewRelayMedia(description.Media, "trackID=0"))
				names = append(names, name)
				group.Add(func() error {
					return relay(ctx, srv, cameras, name, uri)
				}, func(error) {
					cancel()
				})
			}
			if *advertise {
				hostname, err := os.Hostname()
				if err != nil {
					hostname = appName
				}
				advertiser, err := discovery.NewAdvertiser(hostname, *addr, nil)
				if err != nil {
					log.WithError(err).Fatal("failed to create advertiser")
				}
				defer advertiser.Close()
				for _, name := range names {
					if err := advertiser.Advertise(name); err != nil {
						log.WithError(err).WithField("stream", name).Warn("failed to advertise stream")
					}
				}
			}
			group.Add(func() error {
				log.WithField("addr", *addr).Info("serving RTSP")
				return srv.Start(ctx, *addr)
			}, func(error) {
				cancel()
			})
			if err := group.Run(); err != nil {
				log.WithError(err).Info("stopped")
			}
		}
	})

	app.Command("probe", "describe and stream video from a camera", func(cmd *cli.Cmd) {
		cmd.Spec = "[--keepalive] [--inactivity] [--duration] URL"
		keepalive := cmd.String(cli.StringOpt{
			Name:   "keepalive",
			Desc:   "interval between GET_PARAMETER keep-alives",
			EnvVar: "KEEPALIVE",
			Value:  "30s",
		})
		inactivity := cmd.String(cli.StringOpt{
			Name:   "inactivity",
			Desc:   "abandon the stream after this long without media",
			EnvVar: "INACTIVITY",
			Value:  "10s",
		})
		duration := cmd.String(cli.StringOpt{
			Name:  "duration",
			Desc:  "stop streaming after this long, 0 to stream until interrupted",
			Value: "0",
		})
		uri := cmd.String(cli.StringArg{
			Name: "URL",
			Desc: "camera RTSP URL",
		})

		cmd.Action = func() {
			parse := func(name, value string) time.Duration {
				d, err := time.ParseDuration(value)
				if err != nil {
					log.WithError(err).WithField("option", name).Fatal("invalid duration")
				}
				return d
			}
			svc := camera.NewService(
				parse("keepalive", *keepalive),
				parse("inactivity", *inactivity),
				options()...,
			)
			limit := parse("duration", *duration)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var group run.Group
			addSignalActor(&group)
			addMetricsActor(&group, *metricsAddr)
			group.Add(func() error {
				description, err := svc.DescribeVideo(ctx, *uri)
				if err != nil {
					return fmt.Errorf("failed to describe camera: %w", err)
				}
				log.WithFields(log.Fields{
					"codec":      description.Codec.Name,
					"clock_rate": description.Codec.ClockRate,
					"base":       description.Base.String(),
				}).Info("camera described")

				streamCtx := ctx
				if limit > 0 {
					var stop context.CancelFunc
					streamCtx, stop = context.WithTimeout(ctx, limit)
					defer stop()
				}
				counter := &packetCounter{}
				err = svc.Stream(streamCtx, *uri, counter)
				log.WithFields(log.Fields{
					"rtp":  counter.rtp.Load(),
					"rtcp": counter.rtcp.Load(),
				}).Info("stream finished")
				return err
			}, func(error) {
				cancel()
			})
			if err := group.Run(); err != nil {
				log.WithError(err).Info("stopped")
			}
		}
	})

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("failed to execute application")
	}
}

// relay streams uri into the named stream until ctx is done, reconnecting
// whenever the camera drops. Each connection publishes as a new source so
// the previous one hands over at a frame boundary.
func relay(ctx context.Context, srv server.Server, cameras camera.Service, name, uri string) error {
	logger := log.WithField("relay", name)
	for {
		src, err := srv.Publish(name)
		if err != nil {
			return err
		}
		err = cameras.Stream(ctx, uri, src)
		src.Close()
		if ctx.Err() != nil {
			return nil
		}
		logger.WithError(err).Warnf("camera stream ended, reconnecting in %s", relayBackoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(relayBackoff):
		}
	}
}

func addSignalActor(group *run.Group) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	group.Add(func() error {
		if sig, ok := <-signals; ok {
			return fmt.Errorf("received %s signal", sig)
		}
		return nil
	}, func(error) {
		signal.Stop(signals)
		close(signals)
	})
}

func addMetricsActor(group *run.Group, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	group.Add(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// packetCounter counts the media a probe receives.
type packetCounter struct {
	rtp  atomic.Int64
	rtcp atomic.Int64
}

func (p *packetCounter) HandleRTP(packet *rtp.Packet) {
	if p.rtp.Add(1) == 1 {
		log.WithFields(log.Fields{
			"ssrc":         packet.SSRC,
			"payload_type": packet.PayloadType,
		}).Info("first RTP packet received")
	}
}

func (p *packetCounter) HandleRTCP(packets []rtcp.Packet) {
	p.rtcp.Add(int64(len(packets)))
}
